package main

import (
	"fmt"
	"os"

	"aurec/internal/format"
)

func writeResult(formatName string, payload any) error {
	return format.ByName(formatName).Write(os.Stdout, payload)
}

func writePlain(formatString string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, formatString, args...)
	return err
}
