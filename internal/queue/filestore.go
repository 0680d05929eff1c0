package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"aurec/internal/models"
)

// fileRecord is the on-disk shape of one queued submission. The artifact is
// base64-encoded so the document stays text-safe.
type fileRecord struct {
	ID             string            `json:"id"`
	ArtifactBase64 string            `json:"artifact_base64"`
	FormFields     models.FormFields `json:"form_fields"`
	UploadedOffset int64             `json:"uploaded_offset"`
	MediaType      string            `json:"media_type"`
	FileName       string            `json:"file_name,omitempty"`
	RecordID       string            `json:"record_id,omitempty"`
	OwnerID        string            `json:"owner_id,omitempty"`
	Seq            int64             `json:"seq"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAttemptAt  *time.Time        `json:"last_attempt_at,omitempty"`
}

var fileStoreIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// FileStore is the encoded flat-file fallback backend: one JSON document
// per queued submission, written atomically via tmp+rename.
type FileStore struct {
	dir string
}

// OpenFileStore creates a flat-file queue rooted at dir.
func OpenFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("queue directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: abs}, nil
}

// Close is a no-op for the flat-file backend.
func (f *FileStore) Close() error { return nil }

// Upsert persists or replaces the item by id. A replace keeps the item's
// original queue position.
func (f *FileStore) Upsert(ctx context.Context, item *models.SubmissionItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if !fileStoreIDPattern.MatchString(item.ID) {
		return fmt.Errorf("submission id %q is not filename-safe", item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	record := fileRecord{
		ID:             item.ID,
		ArtifactBase64: base64.StdEncoding.EncodeToString(item.Artifact),
		FormFields:     item.FormFields,
		UploadedOffset: item.UploadedOffset,
		MediaType:      item.MediaType,
		FileName:       item.FileName,
		RecordID:       item.RecordID,
		OwnerID:        item.OwnerID,
		CreatedAt:      item.CreatedAt,
		LastAttemptAt:  item.LastAttemptAt,
	}

	if existing, err := f.readRecord(item.ID); err == nil {
		record.Seq = existing.Seq
	} else if errors.Is(err, ErrNotFound) {
		seq, seqErr := f.nextSeq()
		if seqErr != nil {
			return seqErr
		}
		record.Seq = seq
	} else {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode submission %s: %w", item.ID, err)
	}

	path := f.recordPath(item.ID)
	tmp, err := os.CreateTemp(f.dir, ".upsert-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// List returns all queued items in insertion order.
func (f *FileStore) List(ctx context.Context) ([]models.SubmissionItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	records := []fileRecord{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		record, err := f.readRecord(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	items := make([]models.SubmissionItem, 0, len(records))
	for _, record := range records {
		item, err := record.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// Get returns one queued item by id.
func (f *FileStore) Get(ctx context.Context, id string) (*models.SubmissionItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record, err := f.readRecord(id)
	if err != nil {
		return nil, err
	}
	return record.toItem()
}

// Remove deletes one queued item. Removing an absent id reports ErrNotFound.
func (f *FileStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !fileStoreIDPattern.MatchString(id) {
		return ErrNotFound
	}
	err := os.Remove(f.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (f *FileStore) recordPath(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStore) readRecord(id string) (*fileRecord, error) {
	if !fileStoreIDPattern.MatchString(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(f.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record fileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode queued submission %s: %w", id, err)
	}
	return &record, nil
}

func (f *FileStore) nextSeq() (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		record, err := f.readRecord(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if record.Seq > max {
			max = record.Seq
		}
	}
	return max + 1, nil
}

func (r *fileRecord) toItem() (*models.SubmissionItem, error) {
	artifact, err := base64.StdEncoding.DecodeString(r.ArtifactBase64)
	if err != nil {
		return nil, fmt.Errorf("decode artifact for %s: %w", r.ID, err)
	}
	return &models.SubmissionItem{
		ID:             r.ID,
		Artifact:       artifact,
		FormFields:     r.FormFields,
		UploadedOffset: r.UploadedOffset,
		MediaType:      r.MediaType,
		FileName:       r.FileName,
		RecordID:       r.RecordID,
		OwnerID:        r.OwnerID,
		CreatedAt:      r.CreatedAt,
		LastAttemptAt:  r.LastAttemptAt,
	}, nil
}
