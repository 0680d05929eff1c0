package blobstore

import (
	"context"
	"io"
)

// PutResult describes one persisted blob payload.
type PutResult struct {
	SHA256    string
	SizeBytes int64
	BlobKey   string
}

// BlobStore is the byte-storage abstraction used by the finalization path.
// Ingest consumes a file already on local disk (a completed temp artifact)
// and moves it into permanent storage without copying when possible.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (PutResult, error)
	Ingest(ctx context.Context, path string) (PutResult, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
