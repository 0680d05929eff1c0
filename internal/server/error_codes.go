package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument  = 1000
	ErrCodeInvalidJSON      = 1001
	ErrCodeRequestTooLarge  = 1002
	ErrCodeInvalidSessionID = 1003
	ErrCodeInvalidOffset    = 1004
	ErrCodeInvalidMediaType = 1005
	ErrCodeMissingRequired  = 1006
	ErrCodeInvalidTempPath  = 1007

	// Domain state (2xxx)
	ErrCodeSessionNotFound    = 2001
	ErrCodeRecordNotFound     = 2002
	ErrCodeSessionIncomplete  = 2003
	ErrCodeFinalizeInProgress = 2101
	ErrCodeConflict           = 2102

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003
	ErrCodePayloadTooLarge   = 3004

	// Internal/system (4xxx)
	ErrCodeInternal       = 4001
	ErrCodeStoreFailure   = 4002
	ErrCodeBlobFailure    = 4003
	ErrCodeFinalizeFailed = 4004
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeSessionNotFound
	case 409:
		return ErrCodeConflict
	case 413:
		return ErrCodePayloadTooLarge
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	default:
		return 0
	}
}
