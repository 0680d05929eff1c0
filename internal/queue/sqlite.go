package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"aurec/internal/models"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

const queueSchemaSQL = `
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  artifact BLOB NOT NULL,
  form_fields TEXT NOT NULL,
  uploaded_offset INTEGER NOT NULL DEFAULT 0,
  media_type TEXT NOT NULL,
  file_name TEXT,
  record_id TEXT,
  owner_id TEXT,
  created_at TEXT NOT NULL,
  last_attempt_at TEXT,
  seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_seq ON submissions(seq);
`

// SQLiteStore is the structured-record queue backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the queue database and bootstraps the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("queue db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if _, err := db.Exec(queueSchemaSQL); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert persists or replaces the item by id. A replace keeps the item's
// original queue position.
func (s *SQLiteStore) Upsert(ctx context.Context, item *models.SubmissionItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(item.FormFields)
	if err != nil {
		return fmt.Errorf("encode form fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO submissions (id, artifact, form_fields, uploaded_offset, media_type, file_name, record_id, owner_id, created_at, last_attempt_at, seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT MAX(seq) FROM submissions), 0) + 1)
ON CONFLICT(id) DO UPDATE SET
  artifact = excluded.artifact,
  form_fields = excluded.form_fields,
  uploaded_offset = excluded.uploaded_offset,
  media_type = excluded.media_type,
  file_name = excluded.file_name,
  record_id = excluded.record_id,
  owner_id = excluded.owner_id,
  last_attempt_at = excluded.last_attempt_at`,
		item.ID, item.Artifact, string(fieldsJSON), item.UploadedOffset,
		item.MediaType, item.FileName, item.RecordID, item.OwnerID,
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(item.LastAttemptAt))
	if err != nil {
		return fmt.Errorf("upsert submission %s: %w", item.ID, err)
	}
	return nil
}

// List returns all queued items in insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]models.SubmissionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, artifact, form_fields, uploaded_offset, media_type, file_name, record_id, owner_id, created_at, last_attempt_at
FROM submissions ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.SubmissionItem{}
	for rows.Next() {
		item, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Get returns one queued item by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.SubmissionItem, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, artifact, form_fields, uploaded_offset, media_type, file_name, record_id, owner_id, created_at, last_attempt_at
FROM submissions WHERE id = ?`, id)
	item, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return item, err
}

// Remove deletes one queued item. Removing an absent id reports ErrNotFound.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove submission %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.SubmissionItem, error) {
	var (
		item          models.SubmissionItem
		fieldsJSON    string
		fileName      sql.NullString
		recordID      sql.NullString
		ownerID       sql.NullString
		createdAt     string
		lastAttemptAt sql.NullString
	)
	err := row.Scan(&item.ID, &item.Artifact, &fieldsJSON, &item.UploadedOffset,
		&item.MediaType, &fileName, &recordID, &ownerID, &createdAt, &lastAttemptAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &item.FormFields); err != nil {
		return nil, fmt.Errorf("decode form fields for %s: %w", item.ID, err)
	}
	item.FileName = fileName.String
	item.RecordID = recordID.String
	item.OwnerID = ownerID.String
	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", item.ID, err)
	}
	if lastAttemptAt.Valid && lastAttemptAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode last_attempt_at for %s: %w", item.ID, err)
		}
		item.LastAttemptAt = &t
	}
	return &item, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
