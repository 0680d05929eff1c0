package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeMetaYAMLKeepsOrder(t *testing.T) {
	fields, err := decodeMetaYAML([]byte("title: river song\nlanguage: pt\nregion: north\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("fields = %#v", fields)
	}
	for i, want := range []string{"title", "language", "region"} {
		if fields[i].Key != want {
			t.Fatalf("field %d = %s, want %s", i, fields[i].Key, want)
		}
	}
	if value, _ := fields.Get("title"); value != "river song" {
		t.Fatalf("title = %q", value)
	}
}

func TestDecodeMetaYAMLRejectsNonMapping(t *testing.T) {
	if _, err := decodeMetaYAML([]byte("- a\n- b\n")); err == nil {
		t.Fatal("sequence document accepted")
	}
	if _, err := decodeMetaYAML([]byte("nested:\n  key: value\n")); err == nil {
		t.Fatal("nested mapping accepted")
	}
}

func TestDecodeMetaYAMLEmpty(t *testing.T) {
	fields, err := decodeMetaYAML(nil)
	if err != nil || fields != nil {
		t.Fatalf("fields=%v err=%v", fields, err)
	}
}

func TestCollectFormFieldsFlagsWin(t *testing.T) {
	metaPath := filepath.Join(t.TempDir(), "meta.yaml")
	if err := os.WriteFile(metaPath, []byte("title: from file\nregion: north\n"), 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	fields, err := collectFormFields(metaPath, "from flag", "pt", true, "user-1", "rec-1")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	got := fields.Map()
	if got["title"] != "from flag" {
		t.Fatalf("title = %q, want flag value", got["title"])
	}
	if got["region"] != "north" || got["language"] != "pt" {
		t.Fatalf("fields = %#v", got)
	}
	if got["consent"] != "true" || got["owner_id"] != "user-1" || got["record_id"] != "rec-1" {
		t.Fatalf("fields = %#v", got)
	}
}

func TestCollectFormFieldsMissingMetaFile(t *testing.T) {
	if _, err := collectFormFields("/nonexistent/meta.yaml", "", "", false, "", ""); err == nil {
		t.Fatal("missing meta file accepted")
	}
}
