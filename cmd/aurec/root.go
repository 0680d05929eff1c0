package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aurec/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		logLevel     string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "aurec",
		Short: "Aurec records audio offline-first and delivers it in resumable chunks",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "json", "output format (json, yaml)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newRecordCmd(cfg, &outputFormat),
		newQueueCmd(cfg, &outputFormat),
		newInfoCmd(cfg, &outputFormat),
		newReapCmd(cfg, &outputFormat),
		newConfigCmd(cfg),
	)

	return cmd
}
