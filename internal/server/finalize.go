package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"aurec/internal/blobstore"
	"aurec/internal/hoststore"
	"aurec/internal/models"
)

const sniffLen = 512

// MetadataMapper rewrites submission form fields before they are saved on
// the record. The default keeps every field as submitted.
type MetadataMapper func(models.FormFields) models.FormFields

// PostProcessor runs after a record is finalized, typically to kick off
// waveform or transcription work. A failure here never unwinds the
// finalized record; the request is queued as a pending job instead.
type PostProcessor interface {
	Process(ctx context.Context, recordID, blobKey string) error
}

// FinalizeInput describes one completed upload ready to become a record.
type FinalizeInput struct {
	SessionID  string
	TempPath   string
	MediaType  string
	FileName   string
	RecordID   string
	OwnerID    string
	FormFields models.FormFields
}

// FinalizeResult reports the durable outcome of a finalized upload.
type FinalizeResult struct {
	RecordID     string
	AttachmentID string
	BlobKey      string
}

// FinalizationService turns an assembled temp artifact into a durable
// record with an attachment. The pipeline is validate, migrate bytes into
// the blob store, then create or supersede the record; every durable step
// after a won claim is rolled back if a later one fails.
type FinalizationService struct {
	host          hoststore.HostStore
	blobs         blobstore.BlobStore
	allowedTypes  []string
	maxBytes      int64
	mapper        MetadataMapper
	postProcessor PostProcessor
	logger        *slog.Logger
}

// NewFinalizationService wires the finalize pipeline.
func NewFinalizationService(host hoststore.HostStore, blobs blobstore.BlobStore, allowedTypes []string, maxBytes int64, logger *slog.Logger) *FinalizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FinalizationService{
		host:         host,
		blobs:        blobs,
		allowedTypes: allowedTypes,
		maxBytes:     maxBytes,
		logger:       logger.With("component", "finalize"),
	}
}

// SetMetadataMapper installs a field rewriter.
func (f *FinalizationService) SetMetadataMapper(mapper MetadataMapper) {
	f.mapper = mapper
}

// SetPostProcessor installs a post-finalize hook.
func (f *FinalizationService) SetPostProcessor(p PostProcessor) {
	f.postProcessor = p
}

// Finalize validates the assembled artifact and promotes it to a record.
// Finalization is idempotent per session: the first caller wins an atomic
// claim and does the work, repeats get the already-finalized record back.
func (f *FinalizationService) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, badRequestCode(fmt.Errorf("session id is required"), ErrCodeMissingRequired)
	}

	mediaType, size, err := f.validateArtifact(in)
	if err != nil {
		return nil, err
	}

	claimedRecord, won, err := f.host.ClaimSession(ctx, in.SessionID)
	if err != nil {
		return nil, storeFailure(fmt.Errorf("claim session: %w", err))
	}
	if !won {
		if claimedRecord == "" {
			return nil, conflictCode(
				fmt.Errorf("finalization of session %s already in progress", in.SessionID),
				ErrCodeFinalizeInProgress)
		}
		record, err := f.host.GetRecord(ctx, claimedRecord)
		if err != nil {
			return nil, storeFailure(fmt.Errorf("load finalized record: %w", err))
		}
		f.logger.Info("session already finalized", "session_id", in.SessionID, "record_id", record.RecordID)
		return &FinalizeResult{RecordID: record.RecordID, AttachmentID: record.AttachmentID}, nil
	}

	result, err := f.finalizeClaimed(ctx, in, mediaType, size)
	if err != nil {
		if releaseErr := f.host.ReleaseClaim(ctx, in.SessionID); releaseErr != nil {
			f.logger.Error("release claim after failed finalize",
				"session_id", in.SessionID, "error", releaseErr)
		}
		return nil, err
	}

	if err := f.host.PublishClaim(ctx, in.SessionID, result.RecordID); err != nil {
		f.logger.Error("publish claim", "session_id", in.SessionID, "error", err)
	}

	f.runPostProcess(ctx, result)
	return result, nil
}

// validateArtifact checks everything checkable before any durable action:
// the file exists, fits the ceiling, and carries an allowed media type.
func (f *FinalizationService) validateArtifact(in FinalizeInput) (string, int64, error) {
	info, err := os.Stat(in.TempPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", 0, notFoundCode(fmt.Errorf("no artifact for session %s", in.SessionID), ErrCodeSessionNotFound)
	}
	if err != nil {
		return "", 0, internalError(fmt.Errorf("stat artifact: %w", err))
	}
	if info.Size() == 0 {
		return "", 0, badRequest(fmt.Errorf("artifact for session %s is empty", in.SessionID))
	}
	if f.maxBytes > 0 && info.Size() > f.maxBytes {
		return "", 0, tooLarge(fmt.Errorf("artifact of %d bytes exceeds limit of %d", info.Size(), f.maxBytes))
	}

	mediaType := strings.TrimSpace(in.MediaType)
	if mediaType == "" {
		mediaType, err = sniffMediaType(in.TempPath)
		if err != nil {
			return "", 0, internalError(err)
		}
	}
	if !f.mediaTypeAllowed(mediaType) {
		return "", 0, badRequestCode(
			fmt.Errorf("media type %q is not accepted", mediaType), ErrCodeInvalidMediaType)
	}
	return mediaType, info.Size(), nil
}

func (f *FinalizationService) mediaTypeAllowed(mediaType string) bool {
	if len(f.allowedTypes) == 0 {
		return true
	}
	mediaType = strings.ToLower(mediaType)
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	for _, allowed := range f.allowedTypes {
		if mediaType == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func sniffMediaType(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read artifact head: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}

// finalizeClaimed does the durable work once the claim is won. Steps run
// in order: migrate bytes, resolve the target record, attach, save
// metadata. A failure unwinds every step already done.
func (f *FinalizationService) finalizeClaimed(ctx context.Context, in FinalizeInput, mediaType string, size int64) (*FinalizeResult, error) {
	put, err := f.blobs.Ingest(ctx, in.TempPath)
	if err != nil {
		return nil, makeAPIError(http.StatusInternalServerError, "internal", ErrCodeBlobFailure,
			fmt.Errorf("migrate artifact: %w", err))
	}

	var (
		recordID      string
		createdRecord bool
		superseded    *models.Attachment
	)
	if in.RecordID != "" {
		record, err := f.host.GetRecord(ctx, in.RecordID)
		if errors.Is(err, hoststore.ErrRecordNotFound) {
			f.rollbackBlob(ctx, put.BlobKey)
			return nil, notFoundCode(fmt.Errorf("record %s not found", in.RecordID), ErrCodeRecordNotFound)
		}
		if err != nil {
			f.rollbackBlob(ctx, put.BlobKey)
			return nil, storeFailure(err)
		}
		if in.OwnerID != "" && record.OwnerID != in.OwnerID {
			f.rollbackBlob(ctx, put.BlobKey)
			return nil, makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden,
				fmt.Errorf("record %s belongs to another owner", in.RecordID))
		}
		recordID = record.RecordID
		superseded, err = f.host.SupersedeAttachment(ctx, recordID)
		if err != nil {
			f.rollbackBlob(ctx, put.BlobKey)
			return nil, storeFailure(fmt.Errorf("supersede attachment: %w", err))
		}
	} else {
		recordID, err = f.host.CreateRecord(ctx, recordTitle(in), in.OwnerID)
		if err != nil {
			f.rollbackBlob(ctx, put.BlobKey)
			return nil, storeFailure(fmt.Errorf("create record: %w", err))
		}
		createdRecord = true
	}

	rollback := func() {
		f.rollbackBlob(ctx, put.BlobKey)
		if createdRecord {
			if err := f.host.DeleteRecord(ctx, recordID); err != nil {
				f.logger.Error("rollback record", "record_id", recordID, "error", err)
			}
		}
		// A failed resubmission must not leave the record without the
		// attachment it had before.
		if superseded != nil {
			if err := f.host.RestoreAttachment(ctx, superseded.ID, recordID); err != nil {
				f.logger.Error("restore superseded attachment",
					"attachment_id", superseded.ID, "record_id", recordID, "error", err)
			}
		}
	}

	attachmentID, err := f.host.CreateAttachment(ctx, hoststore.AttachmentInput{
		BlobKey:   put.BlobKey,
		SHA256:    put.SHA256,
		SizeBytes: size,
		MediaType: mediaType,
		FileName:  in.FileName,
	})
	if err != nil {
		rollback()
		return nil, storeFailure(fmt.Errorf("create attachment: %w", err))
	}
	if err := f.host.AttachToRecord(ctx, attachmentID, recordID); err != nil {
		if delErr := f.host.DeleteAttachment(ctx, attachmentID); delErr != nil {
			f.logger.Error("rollback attachment", "attachment_id", attachmentID, "error", delErr)
		}
		rollback()
		return nil, storeFailure(fmt.Errorf("attach to record: %w", err))
	}

	if err := f.saveMetadata(ctx, recordID, in); err != nil {
		if delErr := f.host.DeleteAttachment(ctx, attachmentID); delErr != nil {
			f.logger.Error("rollback attachment", "attachment_id", attachmentID, "error", delErr)
		}
		rollback()
		return nil, err
	}

	// The old attachment's bytes are released only after the replacement
	// is fully durable.
	if superseded != nil && superseded.BlobKey != put.BlobKey {
		if err := f.blobs.Delete(ctx, superseded.BlobKey); err != nil {
			f.logger.Warn("delete superseded blob", "blob_key", superseded.BlobKey, "error", err)
		}
	}

	f.logger.Info("upload finalized",
		"session_id", in.SessionID, "record_id", recordID,
		"attachment_id", attachmentID, "size_bytes", size, "media_type", mediaType)
	return &FinalizeResult{RecordID: recordID, AttachmentID: attachmentID, BlobKey: put.BlobKey}, nil
}

func (f *FinalizationService) saveMetadata(ctx context.Context, recordID string, in FinalizeInput) error {
	if err := f.host.SetRecordSubmission(ctx, recordID, in.SessionID); err != nil {
		return storeFailure(fmt.Errorf("stamp submission: %w", err))
	}

	fields := in.FormFields
	if f.mapper != nil {
		fields = f.mapper(fields)
	}
	for _, field := range fields {
		if strings.TrimSpace(field.Key) == "" {
			continue
		}
		if err := f.host.SaveField(ctx, recordID, field.Key, field.Value); err != nil {
			return storeFailure(fmt.Errorf("save field %s: %w", field.Key, err))
		}
	}
	return nil
}

func (f *FinalizationService) rollbackBlob(ctx context.Context, key string) {
	if err := f.blobs.Delete(ctx, key); err != nil {
		f.logger.Error("rollback blob", "blob_key", key, "error", err)
	}
}

func (f *FinalizationService) runPostProcess(ctx context.Context, result *FinalizeResult) {
	if f.postProcessor == nil {
		return
	}

	if err := f.postProcessor.Process(ctx, result.RecordID, result.BlobKey); err != nil {
		f.logger.Warn("post-processing failed, queueing job",
			"record_id", result.RecordID, "error", err)
		if qErr := f.host.EnqueueJob(ctx, result.RecordID, "post_process", err.Error()); qErr != nil {
			f.logger.Error("queue pending job", "record_id", result.RecordID, "error", qErr)
		}
	}
}

func recordTitle(in FinalizeInput) string {
	if title, ok := in.FormFields.Get("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	if in.FileName != "" {
		return in.FileName
	}
	return "Recording " + in.SessionID
}
