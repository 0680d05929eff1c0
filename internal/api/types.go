// Package api defines the wire contract between the aurec client and the
// upload server.
package api

import "aurec/internal/models"

// Multipart field and header names used by the chunk and single-shot
// endpoints.
const (
	FieldSessionID = "session_id"
	FieldOffset    = "offset"
	FieldTotalSize = "total_size"
	FieldIsLast    = "is_last"
	FieldPayload   = "payload"
	FieldFormJSON  = "form_fields"
	FieldMediaType = "media_type"
	FieldFileName  = "file_name"
	FieldRecordID  = "record_id"
	FieldOwnerID   = "owner_id"

	RelaySecretHeader = "X-Relay-Secret"
	AdminTokenHeader  = "X-Admin-Token"
)

// ChunkResponse acknowledges one received piece. Complete is set on the
// terminal piece after finalization succeeded; only then are RecordID and
// AttachmentID populated.
type ChunkResponse struct {
	SessionID     string `json:"session_id"`
	ReceivedBytes int64  `json:"received_bytes"`
	Complete      bool   `json:"complete"`
	RecordID      string `json:"record_id,omitempty"`
	AttachmentID  string `json:"attachment_id,omitempty"`
}

// OffsetResponse reports how many contiguous bytes the server holds for a
// session, letting a restarted client resume without resending.
type OffsetResponse struct {
	SessionID     string `json:"session_id"`
	ReceivedBytes int64  `json:"received_bytes"`
}

// RelayFinalizeRequest is the out-of-band "upload complete" notification a
// third-party transfer relay delivers instead of the inline chunk path.
type RelayFinalizeRequest struct {
	TempPath   string            `json:"temp_path"`
	SessionID  string            `json:"session_id"`
	MediaType  string            `json:"media_type,omitempty"`
	FileName   string            `json:"file_name,omitempty"`
	RecordID   string            `json:"record_id,omitempty"`
	OwnerID    string            `json:"owner_id,omitempty"`
	FormFields models.FormFields `json:"form_fields,omitempty"`
}

// InfoResponse describes the running server.
type InfoResponse struct {
	Version           string   `json:"version"`
	MaxArtifactBytes  int64    `json:"max_artifact_bytes"`
	MaxPieceBytes     int64    `json:"max_piece_bytes"`
	AllowedMediaTypes []string `json:"allowed_media_types"`
}

// ReapResponse reports one stale-artifact sweep.
type ReapResponse struct {
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
}

// ErrorBody is the JSON error envelope returned on failures.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}
