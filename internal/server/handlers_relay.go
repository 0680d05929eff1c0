package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"aurec/internal/api"
	"aurec/internal/auth"
)

// handleRelayFinalize accepts the out-of-band "upload complete" call from
// a transfer relay that moved the bytes itself. The relay authenticates
// with a pre-shared secret; comparison runs against a bcrypt hash so it
// is constant time and the plaintext never sits in config.
func (s *Server) handleRelayFinalize(w http.ResponseWriter, r *http.Request) {
	if s.opts.RelaySecretHash == "" {
		s.writeServiceError(w, r, makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden,
			fmt.Errorf("relay finalize is not configured")))
		return
	}

	if !auth.VerifySecret(s.opts.RelaySecretHash, r.Header.Get(api.RelaySecretHeader)) {
		s.writeServiceError(w, r, unauthorized(fmt.Errorf("invalid relay secret")))
		return
	}

	var req api.RelayFinalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, classifyDecodeJSONError(err))
		return
	}

	if !validSessionID(req.SessionID) {
		s.writeServiceError(w, r, badRequestCode(
			fmt.Errorf("invalid session id"), ErrCodeInvalidSessionID))
		return
	}
	tempPath, err := s.resolveRelayPath(req.TempPath)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result, err := s.finalizer.Finalize(r.Context(), FinalizeInput{
		SessionID:  req.SessionID,
		TempPath:   tempPath,
		MediaType:  req.MediaType,
		FileName:   req.FileName,
		RecordID:   req.RecordID,
		OwnerID:    req.OwnerID,
		FormFields: req.FormFields,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if err := s.receiver.Discard(req.SessionID); err != nil {
		s.log().Warn("discard relayed session", "session_id", req.SessionID, "error", err)
	}

	s.writeJSON(w, http.StatusOK, api.ChunkResponse{
		SessionID:    req.SessionID,
		Complete:     true,
		RecordID:     result.RecordID,
		AttachmentID: result.AttachmentID,
	})
}

// resolveRelayPath confines relay-supplied paths to the spool directory.
// A relative path is joined to the spool; an absolute path must already
// live inside it.
func (s *Server) resolveRelayPath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", badRequestCode(fmt.Errorf("temp_path is required"), ErrCodeMissingRequired)
	}

	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.receiver.Dir(), path)
	}
	path = filepath.Clean(path)

	dir, err := filepath.Abs(s.receiver.Dir())
	if err != nil {
		return "", internalError(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", badRequestCode(fmt.Errorf("invalid temp_path"), ErrCodeInvalidTempPath)
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", badRequestCode(
			fmt.Errorf("temp_path escapes the upload directory"), ErrCodeInvalidTempPath)
	}
	return abs, nil
}
