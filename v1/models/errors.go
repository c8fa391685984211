package models

// EngineError is a sentinel error kind raised by the engine's services.
// Services wrap these with fmt.Errorf("%w: ...") and handlers match them
// with errors.Is to pick the HTTP status.
type EngineError string

// Error implements the error interface.
func (e EngineError) Error() string { return string(e) }

const (
	// ErrValidation - malformed or out-of-vocabulary input (400)
	ErrValidation EngineError = "validation failed"
	// ErrNotFound - unknown entity (404)
	ErrNotFound EngineError = "not found"
	// ErrConflict - illegal state transition (409)
	ErrConflict EngineError = "conflict"
	// ErrForbidden - actor is not permitted to perform the operation (403)
	ErrForbidden EngineError = "forbidden"
	// ErrRateLimited - requester exceeded the open-request cap (429)
	ErrRateLimited EngineError = "rate limited"
	// ErrQuotaExhausted - access denial: quota fully consumed (403)
	ErrQuotaExhausted EngineError = "quota exhausted"
	// ErrOutOfWindow - access denial: outside the validity window (403)
	ErrOutOfWindow EngineError = "out of validity window"
	// ErrCategoryNotPermitted - access denial: category not allowed (403)
	ErrCategoryNotPermitted EngineError = "category not permitted"
)

// ErrorCode is a machine-readable API error code.
type ErrorCode string

const (
	ErrorCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeConflict         ErrorCode = "CONFLICT"
	ErrorCodeForbidden        ErrorCode = "FORBIDDEN"
	ErrorCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrorCodeAccessDenied     ErrorCode = "ACCESS_DENIED"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)
