package queue

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"aurec/internal/models"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	fileStore, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}

	return map[string]Store{"sqlite": sqliteStore, "file": fileStore}
}

func testItem(id string, artifact []byte) *models.SubmissionItem {
	return &models.SubmissionItem{
		ID:       id,
		Artifact: artifact,
		FormFields: models.FormFields{
			{Key: "title", Value: "field recording"},
			{Key: "language", Value: "pt"},
		},
		MediaType: "audio/webm",
		FileName:  id + ".webm",
		CreatedAt: time.Now().UTC(),
	}
}

func TestRoundTrip(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item := testItem("sub-round-trip", []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0xff})

			if err := store.Upsert(ctx, item); err != nil {
				t.Fatalf("upsert: %v", err)
			}

			listed, err := store.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(listed) != 1 {
				t.Fatalf("expected 1 item, got %d", len(listed))
			}
			got := listed[0]
			if got.ID != item.ID {
				t.Fatalf("id = %s", got.ID)
			}
			if !bytes.Equal(got.Artifact, item.Artifact) {
				t.Fatalf("artifact round-trip mismatch: %x", got.Artifact)
			}
			if len(got.FormFields) != 2 || got.FormFields[0].Key != "title" || got.FormFields[1].Key != "language" {
				t.Fatalf("form fields lost order: %#v", got.FormFields)
			}

			if err := store.Remove(ctx, item.ID); err != nil {
				t.Fatalf("remove: %v", err)
			}
			listed, err = store.List(ctx)
			if err != nil {
				t.Fatalf("list after remove: %v", err)
			}
			if len(listed) != 0 {
				t.Fatalf("expected empty queue, got %d items", len(listed))
			}
			if err := store.Remove(ctx, item.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second remove = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestUpsertReplacesAndKeepsPosition(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := testItem("sub-aaa", []byte("first"))
			second := testItem("sub-bbb", []byte("second"))

			if err := store.Upsert(ctx, first); err != nil {
				t.Fatalf("upsert first: %v", err)
			}
			if err := store.Upsert(ctx, second); err != nil {
				t.Fatalf("upsert second: %v", err)
			}

			// Replace the first item with an advanced offset.
			first.UploadedOffset = 3
			if err := store.Upsert(ctx, first); err != nil {
				t.Fatalf("upsert replace: %v", err)
			}

			listed, err := store.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(listed) != 2 {
				t.Fatalf("expected 2 items, got %d", len(listed))
			}
			if listed[0].ID != "sub-aaa" || listed[1].ID != "sub-bbb" {
				t.Fatalf("replace changed insertion order: %s, %s", listed[0].ID, listed[1].ID)
			}
			if listed[0].UploadedOffset != 3 {
				t.Fatalf("offset = %d, want 3", listed[0].UploadedOffset)
			}
		})
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(context.Background(), "sub-missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get missing = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestUpsertRejectsInvalidItems(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bad := testItem("sub-bad", []byte("xyz"))
			bad.UploadedOffset = 99
			if err := store.Upsert(ctx, bad); err == nil {
				t.Fatal("expected error for offset beyond artifact length")
			}
			empty := testItem("sub-empty", nil)
			if err := store.Upsert(ctx, empty); err == nil {
				t.Fatal("expected error for empty artifact")
			}
		})
	}
}

func TestFileStoreEncodingIsByteExact(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	ctx := context.Background()

	// All byte values, forcing the text-safe encoding to carry binary.
	artifact := make([]byte, 512)
	for i := range artifact {
		artifact[i] = byte(i % 256)
	}
	item := testItem("sub-binary", artifact)
	if err := store.Upsert(ctx, item); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got.Artifact, artifact) {
		t.Fatal("fallback encoding did not reproduce artifact byte-for-byte")
	}
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	item := testItem("../escape", []byte("x"))
	if err := store.Upsert(context.Background(), item); err == nil {
		t.Fatal("expected error for filename-unsafe id")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(Options{Backend: "file", Dir: filepath.Join(dir, "q")})
	if err != nil {
		t.Fatalf("open file backend: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("expected FileStore, got %T", store)
	}

	store, err = Open(Options{Backend: "sqlite", DBPath: filepath.Join(dir, "queue.db")})
	if err != nil {
		t.Fatalf("open sqlite backend: %v", err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("expected SQLiteStore, got %T", store)
	}
	_ = store.Close()

	if _, err := Open(Options{Backend: "redis"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
