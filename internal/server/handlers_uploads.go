package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aurec/internal/api"
	"aurec/internal/models"
)

// Multipart bodies spill to disk past this.
const multipartMemoryLimit = 8 << 20

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(rateLimitKey(r), time.Now()) {
		s.writeErrorReq(w, r, http.StatusTooManyRequests,
			makeAPIError(http.StatusTooManyRequests, "resource_exhausted", ErrCodeResourceExhausted,
				fmt.Errorf("upload rate limit exceeded")))
		return
	}

	piece, err := s.parsePiece(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	received, err := s.receiver.WritePiece(piece.sessionID, piece.offset, piece.totalSize, piece.payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := api.ChunkResponse{SessionID: piece.sessionID, ReceivedBytes: received}
	if !piece.isLast {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	if received != piece.totalSize {
		s.writeServiceError(w, r, conflictCode(
			fmt.Errorf("terminal piece arrived with %d of %d bytes held", received, piece.totalSize),
			ErrCodeSessionIncomplete))
		return
	}

	result, err := s.finalizeSession(r, piece.sessionID, piece.meta)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp.Complete = true
	resp.RecordID = result.RecordID
	resp.AttachmentID = result.AttachmentID
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOffset(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	received, err := s.receiver.Offset(sessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.OffsetResponse{SessionID: sessionID, ReceivedBytes: received})
}

// handleSingleShot accepts a whole artifact in one request, for clients
// that cannot run the chunk protocol. It shares the receiver and the
// finalize pipeline with the chunk path.
func (s *Server) handleSingleShot(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(rateLimitKey(r), time.Now()) {
		s.writeErrorReq(w, r, http.StatusTooManyRequests,
			makeAPIError(http.StatusTooManyRequests, "resource_exhausted", ErrCodeResourceExhausted,
				fmt.Errorf("upload rate limit exceeded")))
		return
	}

	if err := s.parseMultipart(w, r, s.opts.MaxArtifactBytes); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	sessionID := strings.TrimSpace(r.FormValue(api.FieldSessionID))
	if sessionID == "" {
		s.writeServiceError(w, r, badRequestCode(
			fmt.Errorf("%s is required", api.FieldSessionID), ErrCodeMissingRequired))
		return
	}

	payload, err := readPayload(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	meta, err := parseFinalizeFields(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if _, err := s.receiver.WritePiece(sessionID, 0, int64(len(payload)), payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result, err := s.finalizeSession(r, sessionID, meta)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, api.ChunkResponse{
		SessionID:     sessionID,
		ReceivedBytes: int64(len(payload)),
		Complete:      true,
		RecordID:      result.RecordID,
		AttachmentID:  result.AttachmentID,
	})
}

// finalizeMeta carries the metadata fields delivered with a terminal
// piece.
type finalizeMeta struct {
	mediaType  string
	fileName   string
	recordID   string
	ownerID    string
	formFields models.FormFields
}

func (s *Server) finalizeSession(r *http.Request, sessionID string, meta finalizeMeta) (*FinalizeResult, error) {
	tempPath, complete, err := s.receiver.Complete(sessionID)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, conflictCode(
			fmt.Errorf("session %s is not fully received", sessionID), ErrCodeSessionIncomplete)
	}

	result, err := s.finalizer.Finalize(r.Context(), FinalizeInput{
		SessionID:  sessionID,
		TempPath:   tempPath,
		MediaType:  meta.mediaType,
		FileName:   meta.fileName,
		RecordID:   meta.recordID,
		OwnerID:    meta.ownerID,
		FormFields: meta.formFields,
	})
	if err != nil {
		return nil, err
	}

	// The blob store consumed the part file; drop the session bookkeeping.
	if err := s.receiver.Discard(sessionID); err != nil {
		s.log().Warn("discard finalized session", "session_id", sessionID, "error", err)
	}
	return result, nil
}

// parsedPiece is one decoded chunk request.
type parsedPiece struct {
	sessionID string
	offset    int64
	totalSize int64
	isLast    bool
	payload   []byte
	meta      finalizeMeta
}

func (s *Server) parsePiece(w http.ResponseWriter, r *http.Request) (*parsedPiece, error) {
	if err := s.parseMultipart(w, r, s.opts.MaxPieceBytes); err != nil {
		return nil, err
	}

	piece := &parsedPiece{
		sessionID: strings.TrimSpace(r.FormValue(api.FieldSessionID)),
	}
	if piece.sessionID == "" {
		return nil, badRequestCode(fmt.Errorf("%s is required", api.FieldSessionID), ErrCodeMissingRequired)
	}

	var err error
	piece.offset, err = strconv.ParseInt(r.FormValue(api.FieldOffset), 10, 64)
	if err != nil {
		return nil, badRequestCode(fmt.Errorf("invalid %s", api.FieldOffset), ErrCodeInvalidOffset)
	}
	piece.totalSize, err = strconv.ParseInt(r.FormValue(api.FieldTotalSize), 10, 64)
	if err != nil {
		return nil, badRequestCode(fmt.Errorf("invalid %s", api.FieldTotalSize), ErrCodeInvalidArgument)
	}
	if raw := r.FormValue(api.FieldIsLast); raw != "" {
		piece.isLast, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, badRequestCode(fmt.Errorf("invalid %s", api.FieldIsLast), ErrCodeInvalidArgument)
		}
	}

	piece.payload, err = readPayload(r)
	if err != nil {
		return nil, err
	}

	if piece.isLast {
		piece.meta, err = parseFinalizeFields(r)
		if err != nil {
			return nil, err
		}
	}
	return piece, nil
}

// parseMultipart bounds the request body before parsing. The cap leaves
// headroom for multipart framing and metadata fields around the payload.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request, payloadLimit int64) error {
	if payloadLimit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, payloadLimit+defaultJSONMaxBody)
	}
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			return tooLarge(fmt.Errorf("request body too large"))
		}
		return badRequest(fmt.Errorf("invalid multipart body: %w", err))
	}
	return nil
}

func readPayload(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile(api.FieldPayload)
	if err != nil {
		return nil, badRequestCode(fmt.Errorf("%s part is required", api.FieldPayload), ErrCodeMissingRequired)
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return nil, internalError(fmt.Errorf("read payload: %w", err))
	}
	return payload, nil
}

func parseFinalizeFields(r *http.Request) (finalizeMeta, error) {
	meta := finalizeMeta{
		mediaType: strings.TrimSpace(r.FormValue(api.FieldMediaType)),
		fileName:  strings.TrimSpace(r.FormValue(api.FieldFileName)),
		recordID:  strings.TrimSpace(r.FormValue(api.FieldRecordID)),
		ownerID:   strings.TrimSpace(r.FormValue(api.FieldOwnerID)),
	}
	if raw := r.FormValue(api.FieldFormJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.formFields); err != nil {
			return meta, badRequestCode(fmt.Errorf("invalid %s: %w", api.FieldFormJSON, err), ErrCodeInvalidJSON)
		}
	}
	return meta, nil
}
