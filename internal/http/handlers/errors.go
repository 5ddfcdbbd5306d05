package handlers

// Error codes carried in ErrorResponse.Code. Generic codes mirror their HTTP
// status; the rest name gateway-specific failures clients may branch on.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidAlert  = "invalid_alert"
	ErrCodeUpgradeFailed = "upgrade_failed"
	ErrCodeLookupFailed  = "lookup_failed"
	ErrCodeInProgress    = "in_progress"
)
