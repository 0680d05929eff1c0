package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aurec/internal/api"
)

// StaleArtifactReaper removes spooled upload sessions that stopped making
// progress. A session's age is judged by its part file's modification
// time, which advances on every accepted piece.
type StaleArtifactReaper struct {
	receiver *ChunkReceiver
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewStaleArtifactReaper creates a reaper over the receiver's spool.
func NewStaleArtifactReaper(receiver *ChunkReceiver, ttl, interval time.Duration, logger *slog.Logger) *StaleArtifactReaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleArtifactReaper{
		receiver: receiver,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With("component", "reaper"),
		now:      time.Now,
	}
}

// Sweep removes sessions whose last piece is older than the TTL and
// reports how many sessions were removed and kept.
func (r *StaleArtifactReaper) Sweep(ctx context.Context) (api.ReapResponse, error) {
	entries, err := os.ReadDir(r.receiver.Dir())
	if err != nil {
		return api.ReapResponse{}, err
	}

	cutoff := r.now().Add(-r.ttl)
	var resp api.ReapResponse
	for _, entry := range entries {
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}
		name := entry.Name()
		if !strings.HasSuffix(name, partSuffix) {
			continue
		}
		sessionID := strings.TrimSuffix(name, partSuffix)

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			resp.Kept++
			continue
		}

		if err := os.Remove(filepath.Join(r.receiver.Dir(), name)); err != nil {
			r.logger.Error("remove stale artifact", "session_id", sessionID, "error", err)
			resp.Kept++
			continue
		}
		_ = os.Remove(r.receiver.metaPath(sessionID))
		r.receiver.Forget(sessionID)
		resp.Removed++
		r.logger.Info("stale upload session reaped",
			"session_id", sessionID, "age", r.now().Sub(info.ModTime()).Round(time.Second))
	}
	return resp, nil
}

// Run sweeps on the configured interval until the context is canceled.
func (r *StaleArtifactReaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if resp, err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", "error", err)
			} else if resp.Removed > 0 {
				r.logger.Info("sweep complete", "removed", resp.Removed, "kept", resp.Kept)
			}
		}
	}
}
