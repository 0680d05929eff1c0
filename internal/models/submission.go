package models

import (
	"fmt"
	"strings"
	"time"
)

// FormField is one key/value pair of submission metadata. Fields keep the
// order the client collected them in, so the type is a slice element rather
// than a map entry.
type FormField struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// FormFields is an ordered string-to-string mapping.
type FormFields []FormField

// Get returns the first value for key and whether it was present.
func (f FormFields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// Set replaces the first field with the given key, or appends a new one.
func (f FormFields) Set(key, value string) FormFields {
	for i := range f {
		if f[i].Key == key {
			f[i].Value = value
			return f
		}
	}
	return append(f, FormField{Key: key, Value: value})
}

// Map flattens the fields into an unordered map. Later duplicates win.
func (f FormFields) Map() map[string]string {
	out := make(map[string]string, len(f))
	for _, field := range f {
		out[field.Key] = field.Value
	}
	return out
}

// SubmissionItem is one captured recording waiting to be delivered. The id
// is client-generated and immutable; the item lives in the local queue until
// the server acknowledges full receipt and finalization.
type SubmissionItem struct {
	ID             string     `json:"id"`
	Artifact       []byte     `json:"artifact"`
	FormFields     FormFields `json:"form_fields"`
	UploadedOffset int64      `json:"uploaded_offset"`
	MediaType      string     `json:"media_type"`
	FileName       string     `json:"file_name"`
	RecordID       string     `json:"record_id,omitempty"`
	OwnerID        string     `json:"owner_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
}

// Validate checks structural invariants of the item.
func (s *SubmissionItem) Validate() error {
	if s == nil {
		return fmt.Errorf("submission item is required")
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("submission id is required")
	}
	if len(s.Artifact) == 0 {
		return fmt.Errorf("submission artifact is empty")
	}
	if s.UploadedOffset < 0 {
		return fmt.Errorf("uploaded offset %d is negative", s.UploadedOffset)
	}
	if s.UploadedOffset > int64(len(s.Artifact)) {
		return fmt.Errorf("uploaded offset %d exceeds artifact length %d", s.UploadedOffset, len(s.Artifact))
	}
	return nil
}

// Remaining returns the artifact bytes not yet acknowledged by the server.
func (s *SubmissionItem) Remaining() []byte {
	if s == nil || s.UploadedOffset >= int64(len(s.Artifact)) {
		return nil
	}
	return s.Artifact[s.UploadedOffset:]
}

// AdvanceOffset moves the acknowledged offset forward. Offsets only grow;
// a smaller or out-of-range value is an error rather than a silent clamp.
func (s *SubmissionItem) AdvanceOffset(by int64) error {
	if by < 0 {
		return fmt.Errorf("cannot advance offset by %d", by)
	}
	next := s.UploadedOffset + by
	if next > int64(len(s.Artifact)) {
		return fmt.Errorf("offset %d would exceed artifact length %d", next, len(s.Artifact))
	}
	s.UploadedOffset = next
	return nil
}

// Delivered reports whether every artifact byte has been acknowledged.
func (s *SubmissionItem) Delivered() bool {
	return s != nil && s.UploadedOffset == int64(len(s.Artifact))
}
