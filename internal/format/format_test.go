package format

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	err := JSONFormatter{}.Write(&buf, map[string]string{"id": "sess-1"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `{"id":"sess-1"}` {
		t.Fatalf("output = %q", got)
	}
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	err := YAMLFormatter{}.Write(&buf, map[string]string{"id": "sess-1"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "id: sess-1" {
		t.Fatalf("output = %q", got)
	}
}

func TestByName(t *testing.T) {
	if _, ok := ByName("yaml").(YAMLFormatter); !ok {
		t.Fatal("yaml name did not resolve")
	}
	if _, ok := ByName("json").(JSONFormatter); !ok {
		t.Fatal("json name did not resolve")
	}
	if _, ok := ByName("bogus").(JSONFormatter); !ok {
		t.Fatal("unknown name did not fall back to JSON")
	}
}
