package hoststore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"aurec/internal/models"
)

const (
	busyTimeoutMS = 5000
	maxOpenConns  = 1
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  submission_id TEXT,
  status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS record_fields (
  record_id TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  UNIQUE(record_id, key),
  FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS attachments (
  id TEXT PRIMARY KEY,
  record_id TEXT,
  blob_key TEXT NOT NULL,
  sha256 TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  media_type TEXT NOT NULL,
  file_name TEXT,
  deleted INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS finalize_claims (
  session_id TEXT PRIMARY KEY,
  record_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_jobs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  record_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_record ON attachments(record_id) WHERE deleted = 0;
CREATE INDEX IF NOT EXISTS idx_fields_record ON record_fields(record_id);
`

// Store is the SQLite-backed host store.
type Store struct {
	db *sql.DB
}

// Open opens the host-store database and bootstraps the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("host store db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	db.SetMaxOpenConns(maxOpenConns)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) recordExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM records WHERE id = ? LIMIT 1", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) attachmentExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM attachments WHERE id = ? LIMIT 1", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateRecord creates a durable record and returns its id.
func (s *Store) CreateRecord(ctx context.Context, title, ownerID string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("record title is required")
	}
	id, err := generateID("rec", s.recordExists)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO records (id, title, owner_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, ownerID, string(models.RecordStatusPending), now, now)
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return id, nil
}

// GetRecord returns one record with its current attachment, if any.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*models.BackingRecord, error) {
	var (
		record    models.BackingRecord
		subID     sql.NullString
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, owner_id, submission_id, status, created_at, updated_at
FROM records WHERE id = ?`, recordID).
		Scan(&record.RecordID, &record.Title, &record.OwnerID, &subID, &record.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	record.SubmissionID = subID.String
	record.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	record.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	var attachmentID sql.NullString
	err = s.db.QueryRowContext(ctx, `
SELECT id FROM attachments WHERE record_id = ? AND deleted = 0 LIMIT 1`, recordID).Scan(&attachmentID)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	record.AttachmentID = attachmentID.String
	return &record, nil
}

// CreateAttachment registers stored media and returns its id.
func (s *Store) CreateAttachment(ctx context.Context, in AttachmentInput) (string, error) {
	if strings.TrimSpace(in.BlobKey) == "" {
		return "", fmt.Errorf("attachment blob key is required")
	}
	id, err := generateID("at", s.attachmentExists)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO attachments (id, blob_key, sha256, size_bytes, media_type, file_name, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.BlobKey, in.SHA256, in.SizeBytes, in.MediaType, in.FileName,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	return id, nil
}

// AttachToRecord links an attachment to a record. Fails when the record
// already owns a live attachment.
func (s *Store) AttachToRecord(ctx context.Context, attachmentID, recordID string) error {
	exists, err := s.recordExists(recordID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRecordNotFound
	}

	var current int
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM attachments WHERE record_id = ? AND deleted = 0`, recordID).Scan(&current)
	if err != nil {
		return err
	}
	if current > 0 {
		return ErrAttachmentExists
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE attachments SET record_id = ? WHERE id = ? AND deleted = 0`, recordID, attachmentID)
	if err != nil {
		return fmt.Errorf("attach %s to %s: %w", attachmentID, recordID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("attachment %s not found", attachmentID)
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE records SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.RecordStatusComplete), time.Now().UTC().Format(time.RFC3339Nano), recordID)
	return err
}

// SaveField persists one metadata field on a record.
func (s *Store) SaveField(ctx context.Context, recordID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("field key is required")
	}
	exists, err := s.recordExists(recordID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRecordNotFound
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO record_fields (record_id, key, value) VALUES (?, ?, ?)
ON CONFLICT(record_id, key) DO UPDATE SET value = excluded.value`,
		recordID, key, value)
	if err != nil {
		return fmt.Errorf("save field %s on %s: %w", key, recordID, err)
	}
	return nil
}

// ListFields returns a record's metadata fields keyed by field name.
func (s *Store) ListFields(ctx context.Context, recordID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT key, value FROM record_fields WHERE record_id = ?`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		fields[key] = value
	}
	return fields, rows.Err()
}

// SupersedeAttachment detaches the record's current attachment and returns
// it so the caller can release its stored bytes.
func (s *Store) SupersedeAttachment(ctx context.Context, recordID string) (*models.Attachment, error) {
	exists, err := s.recordExists(recordID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRecordNotFound
	}

	var (
		attachment models.Attachment
		fileName   sql.NullString
		createdAt  string
	)
	err = s.db.QueryRowContext(ctx, `
SELECT id, blob_key, sha256, size_bytes, media_type, file_name, created_at
FROM attachments WHERE record_id = ? AND deleted = 0 LIMIT 1`, recordID).
		Scan(&attachment.ID, &attachment.BlobKey, &attachment.SHA256, &attachment.SizeBytes,
			&attachment.MediaType, &fileName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	attachment.FileName = fileName.String
	attachment.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	_, err = s.db.ExecContext(ctx, `
UPDATE attachments SET deleted = 1, record_id = NULL WHERE id = ?`, attachment.ID)
	if err != nil {
		return nil, fmt.Errorf("supersede attachment %s: %w", attachment.ID, err)
	}
	attachment.Deleted = true
	return &attachment, nil
}

// RestoreAttachment reverses a supersede, re-linking the attachment to its
// record. Rollback use only.
func (s *Store) RestoreAttachment(ctx context.Context, attachmentID, recordID string) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE attachments SET deleted = 0, record_id = ? WHERE id = ?`, recordID, attachmentID)
	if err != nil {
		return fmt.Errorf("restore attachment %s: %w", attachmentID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("attachment %s not found", attachmentID)
	}
	return nil
}

// ClaimSession atomically claims a transfer session for finalization.
func (s *Store) ClaimSession(ctx context.Context, sessionID string) (string, bool, error) {
	result, err := s.db.ExecContext(ctx, `
INSERT INTO finalize_claims (session_id, created_at) VALUES (?, ?)
ON CONFLICT(session_id) DO NOTHING`,
		sessionID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", false, fmt.Errorf("claim session %s: %w", sessionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if affected == 1 {
		return "", true, nil
	}

	var recordID string
	err = s.db.QueryRowContext(ctx, `
SELECT record_id FROM finalize_claims WHERE session_id = ?`, sessionID).Scan(&recordID)
	if err != nil {
		return "", false, err
	}
	return recordID, false, nil
}

// PublishClaim records the finalized record id for a won claim.
func (s *Store) PublishClaim(ctx context.Context, sessionID, recordID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE finalize_claims SET record_id = ? WHERE session_id = ?`, recordID, sessionID)
	return err
}

// ReleaseClaim abandons a claim after a rollback.
func (s *Store) ReleaseClaim(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM finalize_claims WHERE session_id = ?`, sessionID)
	return err
}

// SetRecordSubmission stamps the originating submission on a record.
func (s *Store) SetRecordSubmission(ctx context.Context, recordID, submissionID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE records SET submission_id = ?, updated_at = ? WHERE id = ?`,
		submissionID, time.Now().UTC().Format(time.RFC3339Nano), recordID)
	return err
}

// DeleteRecord removes a record and its fields. Rollback use only.
func (s *Store) DeleteRecord(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, recordID)
	return err
}

// DeleteAttachment removes an attachment row. Rollback use only.
func (s *Store) DeleteAttachment(ctx context.Context, attachmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, attachmentID)
	return err
}

// EnqueueJob records a deferred post-processing request.
func (s *Store) EnqueueJob(ctx context.Context, recordID, kind, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pending_jobs (record_id, kind, attempts, last_error, created_at)
VALUES (?, ?, 1, ?, ?)`,
		recordID, kind, lastError, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("enqueue %s job for %s: %w", kind, recordID, err)
	}
	return nil
}

// ListPendingJobs returns deferred post-processing requests in insertion
// order.
func (s *Store) ListPendingJobs(ctx context.Context) ([]models.PendingJob, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, record_id, kind, attempts, COALESCE(last_error, ''), created_at
FROM pending_jobs ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.PendingJob{}
	for rows.Next() {
		var (
			job       models.PendingJob
			createdAt string
		)
		if err := rows.Scan(&job.ID, &job.RecordID, &job.Kind, &job.Attempts, &job.LastError, &createdAt); err != nil {
			return nil, err
		}
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
