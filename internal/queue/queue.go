// Package queue persists submissions that could not be delivered yet. Items
// survive process restarts and connectivity loss; they leave the queue only
// after the server acknowledges full receipt.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aurec/internal/models"
)

// ErrNotFound reports that no queued submission exists for the given id.
// It is distinct from storage failure: callers treat it as a clean miss.
var ErrNotFound = errors.New("submission not found")

// Store is the durable local queue contract. List returns items in
// insertion order, the order the drain loop must attempt them in.
type Store interface {
	Upsert(ctx context.Context, item *models.SubmissionItem) error
	List(ctx context.Context) ([]models.SubmissionItem, error)
	Get(ctx context.Context, id string) (*models.SubmissionItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// Options selects and locates the queue backend. The choice is made once
// when the queue is opened.
type Options struct {
	Backend string // "sqlite" or "file"
	DBPath  string // sqlite database path
	Dir     string // flat-file fallback directory
}

// Open creates the configured backend. An explicit "file" backend always
// uses the flat-file store; otherwise sqlite is preferred and the fallback
// is used only when the database cannot be opened.
func Open(opts Options) (Store, error) {
	backend := strings.TrimSpace(strings.ToLower(opts.Backend))
	switch backend {
	case "file":
		return OpenFileStore(opts.Dir)
	case "", "sqlite":
		store, err := OpenSQLite(opts.DBPath)
		if err == nil {
			return store, nil
		}
		if opts.Dir == "" {
			return nil, err
		}
		fallback, fbErr := OpenFileStore(opts.Dir)
		if fbErr != nil {
			return nil, fmt.Errorf("sqlite queue unavailable (%v) and file fallback failed: %w", err, fbErr)
		}
		return fallback, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", opts.Backend)
	}
}
