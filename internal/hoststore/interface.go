// Package hoststore is the narrow capability surface of the host system
// that owns durable records. The upload pipeline only creates records,
// attaches stored media, and saves metadata fields; everything else about
// records belongs to the host.
package hoststore

import (
	"context"
	"errors"

	"aurec/internal/models"
)

// ErrRecordNotFound reports that no record exists for the given id.
var ErrRecordNotFound = errors.New("record not found")

// ErrAttachmentExists reports that the record already owns an attachment;
// callers must supersede before attaching again.
var ErrAttachmentExists = errors.New("record already has an attachment")

// AttachmentInput describes stored media to register as an attachment.
// The bytes themselves already live in the blob store.
type AttachmentInput struct {
	BlobKey   string
	SHA256    string
	SizeBytes int64
	MediaType string
	FileName  string
}

// HostStore is the capability interface the finalization path consumes.
type HostStore interface {
	// CreateRecord creates a durable record and returns its id.
	CreateRecord(ctx context.Context, title, ownerID string) (string, error)
	// GetRecord returns one record.
	GetRecord(ctx context.Context, recordID string) (*models.BackingRecord, error)
	// CreateAttachment registers stored media and returns its id.
	CreateAttachment(ctx context.Context, in AttachmentInput) (string, error)
	// AttachToRecord links an attachment to a record. A record owns at
	// most one attachment at any instant.
	AttachToRecord(ctx context.Context, attachmentID, recordID string) error
	// SaveField persists one metadata field on a record.
	SaveField(ctx context.Context, recordID, key, value string) error
	// SetRecordSubmission stamps the originating submission on a record.
	SetRecordSubmission(ctx context.Context, recordID, submissionID string) error
	// SupersedeAttachment detaches the record's current attachment and
	// returns it so the caller can release its stored bytes. Returns nil
	// when the record has no attachment.
	SupersedeAttachment(ctx context.Context, recordID string) (*models.Attachment, error)
	// RestoreAttachment reverses a supersede: the attachment is undeleted
	// and linked back to the record. Used when a resubmission fails after
	// the prior attachment was already detached.
	RestoreAttachment(ctx context.Context, attachmentID, recordID string) error

	// ClaimSession atomically claims a transfer session for finalization.
	// Exactly one caller wins; losers receive the winner's record id once
	// it is published.
	ClaimSession(ctx context.Context, sessionID string) (recordID string, won bool, err error)
	// PublishClaim records the finalized record id for a won claim.
	PublishClaim(ctx context.Context, sessionID, recordID string) error
	// ReleaseClaim abandons a won claim after a rollback so a retry can
	// claim again.
	ReleaseClaim(ctx context.Context, sessionID string) error

	// DeleteRecord removes a record and its fields; used only for
	// rollback of a half-finalized submission.
	DeleteRecord(ctx context.Context, recordID string) error
	// DeleteAttachment removes an attachment row; used only for rollback.
	DeleteAttachment(ctx context.Context, attachmentID string) error

	// EnqueueJob records a deferred post-processing request.
	EnqueueJob(ctx context.Context, recordID, kind, lastError string) error
	// ListPendingJobs returns deferred post-processing requests in
	// insertion order.
	ListPendingJobs(ctx context.Context) ([]models.PendingJob, error)
}
