package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is a structured error returned by the HTTP API.
type APIError struct {
	Status    int
	Code      string
	ErrorCode int
	Message   string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Status > 0 {
		return fmt.Sprintf("api error: %d", e.Status)
	}
	return "api error"
}

// IsTooLarge reports a piece rejected for size: the retryable-by-splitting
// class.
func (e *APIError) IsTooLarge() bool {
	return e != nil && e.Status == http.StatusRequestEntityTooLarge
}

// IsRateLimited reports a rate-limit rejection: the retryable-by-backoff
// class.
func (e *APIError) IsRateLimited() bool {
	return e != nil && e.Status == http.StatusTooManyRequests
}

// DecodeError builds an APIError from a non-2xx response body.
func DecodeError(status int, body io.Reader) *APIError {
	apiErr := &APIError{Status: status}
	var parsed ErrorBody
	if err := json.NewDecoder(body).Decode(&parsed); err == nil {
		apiErr.Message = parsed.Error
		apiErr.Code = parsed.Code
		apiErr.ErrorCode = parsed.ErrorCode
	}
	return apiErr
}
