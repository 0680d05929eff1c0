package models

import "time"

// RecordStatus defines lifecycle states for a backing record.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusComplete   RecordStatus = "complete"
	RecordStatusSuperseded RecordStatus = "superseded"
)

// BackingRecord is the durable host-store entity that owns a finalized
// submission. A record holds at most one attachment at any instant; a
// resubmission replaces the attachment rather than adding a second one.
type BackingRecord struct {
	RecordID     string       `json:"record_id"`
	AttachmentID string       `json:"attachment_id,omitempty"`
	SubmissionID string       `json:"submission_id,omitempty"`
	Title        string       `json:"title"`
	OwnerID      string       `json:"owner_id"`
	Status       RecordStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Attachment is stored media linked to a backing record.
type Attachment struct {
	ID        string    `json:"id"`
	BlobKey   string    `json:"blob_key"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	MediaType string    `json:"media_type"`
	FileName  string    `json:"file_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// PendingJob is a deferred post-processing request recorded when immediate
// processing after finalize could not run.
type PendingJob struct {
	ID        int64     `json:"id"`
	RecordID  string    `json:"record_id"`
	Kind      string    `json:"kind"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
