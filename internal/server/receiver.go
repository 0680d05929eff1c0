package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Session ids are client-generated and appear in file names, so the shape
// is checked before any filesystem access.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

const (
	partSuffix = ".part"
	metaSuffix = ".meta"
)

// sessionMeta is persisted beside the part file after every accepted piece
// so a restarted server still answers offset queries correctly.
type sessionMeta struct {
	TotalSize int64 `json:"total_size"`
	Received  int64 `json:"received"`
}

// ChunkReceiver assembles upload sessions from offset-addressed pieces.
// Pieces land in a spool directory as <session>.part files; a piece is
// written at its declared offset, so redelivery of an already-held range
// is idempotent rather than corrupting.
type ChunkReceiver struct {
	dir         string
	maxPiece    int64
	maxArtifact int64
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionMeta
}

// NewChunkReceiver creates a receiver spooling into dir.
func NewChunkReceiver(dir string, maxPiece, maxArtifact int64, logger *slog.Logger) (*ChunkReceiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkReceiver{
		dir:         dir,
		maxPiece:    maxPiece,
		maxArtifact: maxArtifact,
		logger:      logger.With("component", "receiver"),
		sessions:    make(map[string]*sessionMeta),
	}, nil
}

// Dir returns the spool directory.
func (c *ChunkReceiver) Dir() string {
	return c.dir
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func (c *ChunkReceiver) partPath(sessionID string) string {
	return filepath.Join(c.dir, sessionID+partSuffix)
}

func (c *ChunkReceiver) metaPath(sessionID string) string {
	return filepath.Join(c.dir, sessionID+metaSuffix)
}

// WritePiece stores payload at the given offset of a session and returns
// the highest contiguous byte count now held. Offsets beyond the held
// range are rejected; ranges already held are acknowledged without a
// second write.
func (c *ChunkReceiver) WritePiece(sessionID string, offset, totalSize int64, payload []byte) (int64, error) {
	if !validSessionID(sessionID) {
		return 0, badRequestCode(fmt.Errorf("invalid session id"), ErrCodeInvalidSessionID)
	}
	if totalSize <= 0 {
		return 0, badRequest(fmt.Errorf("total_size must be positive"))
	}
	if c.maxArtifact > 0 && totalSize > c.maxArtifact {
		return 0, tooLarge(fmt.Errorf("artifact of %d bytes exceeds limit of %d", totalSize, c.maxArtifact))
	}
	if len(payload) == 0 {
		return 0, badRequest(fmt.Errorf("empty payload"))
	}
	if c.maxPiece > 0 && int64(len(payload)) > c.maxPiece {
		return 0, tooLarge(fmt.Errorf("piece of %d bytes exceeds limit of %d", len(payload), c.maxPiece))
	}
	if offset < 0 {
		return 0, badRequestCode(fmt.Errorf("negative offset"), ErrCodeInvalidOffset)
	}
	end := offset + int64(len(payload))
	if end > totalSize {
		return 0, badRequestCode(
			fmt.Errorf("piece [%d, %d) exceeds declared size %d", offset, end, totalSize),
			ErrCodeInvalidOffset)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.loadLocked(sessionID)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		meta = &sessionMeta{TotalSize: totalSize}
		c.sessions[sessionID] = meta
	}
	if meta.TotalSize != totalSize {
		return 0, conflictCode(
			fmt.Errorf("session %s declared %d bytes, piece claims %d", sessionID, meta.TotalSize, totalSize),
			ErrCodeConflict)
	}

	// Redelivered range: already contiguous, nothing to write.
	if end <= meta.Received {
		return meta.Received, nil
	}
	if offset > meta.Received {
		return 0, conflictCode(
			fmt.Errorf("offset %d leaves a gap, session holds %d bytes", offset, meta.Received),
			ErrCodeInvalidOffset)
	}

	f, err := os.OpenFile(c.partPath(sessionID), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, internalError(fmt.Errorf("open session file: %w", err))
	}
	if _, err := f.WriteAt(payload, offset); err != nil {
		_ = f.Close()
		return 0, internalError(fmt.Errorf("write piece at %d: %w", offset, err))
	}
	if err := f.Close(); err != nil {
		return 0, internalError(fmt.Errorf("close session file: %w", err))
	}

	meta.Received = end
	if err := c.persistLocked(sessionID, meta); err != nil {
		return 0, err
	}
	return meta.Received, nil
}

// Offset returns the highest contiguous byte count held for a session, or
// zero for a session the server has never seen.
func (c *ChunkReceiver) Offset(sessionID string) (int64, error) {
	if !validSessionID(sessionID) {
		return 0, badRequestCode(fmt.Errorf("invalid session id"), ErrCodeInvalidSessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.loadLocked(sessionID)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, nil
	}
	return meta.Received, nil
}

// Complete reports whether the session holds every declared byte, along
// with the path of the assembled file.
func (c *ChunkReceiver) Complete(sessionID string) (string, bool, error) {
	if !validSessionID(sessionID) {
		return "", false, badRequestCode(fmt.Errorf("invalid session id"), ErrCodeInvalidSessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.loadLocked(sessionID)
	if err != nil {
		return "", false, err
	}
	if meta == nil {
		return "", false, notFoundCode(fmt.Errorf("unknown session %s", sessionID), ErrCodeSessionNotFound)
	}
	return c.partPath(sessionID), meta.Received == meta.TotalSize, nil
}

// Discard removes a session's spooled state. The part file may already be
// gone when finalization consumed it.
func (c *ChunkReceiver) Discard(sessionID string) error {
	if !validSessionID(sessionID) {
		return badRequestCode(fmt.Errorf("invalid session id"), ErrCodeInvalidSessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, sessionID)
	if err := os.Remove(c.partPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Remove(c.metaPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Forget drops in-memory session state without touching files; the reaper
// calls this after removing stale spool files itself.
func (c *ChunkReceiver) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

func (c *ChunkReceiver) loadLocked(sessionID string) (*sessionMeta, error) {
	if meta, ok := c.sessions[sessionID]; ok {
		return meta, nil
	}

	data, err := os.ReadFile(c.metaPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, internalError(fmt.Errorf("read session meta: %w", err))
	}

	var meta sessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, internalError(fmt.Errorf("decode session meta: %w", err))
	}
	c.sessions[sessionID] = &meta
	return &meta, nil
}

func (c *ChunkReceiver) persistLocked(sessionID string, meta *sessionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return internalError(err)
	}
	tmp := c.metaPath(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return internalError(fmt.Errorf("write session meta: %w", err))
	}
	if err := os.Rename(tmp, c.metaPath(sessionID)); err != nil {
		return internalError(fmt.Errorf("commit session meta: %w", err))
	}
	return nil
}
