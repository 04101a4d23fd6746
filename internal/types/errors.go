package types

import "fmt"

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// Components MUST use these constants instead of hardcoded strings.
const (
	// Provisioning
	ErrCodeResolutionFailed ErrorCode = "resolution_failed"

	// Message handling
	ErrCodeMalformedEvent ErrorCode = "malformed_event"
	ErrCodeConsumerFailed ErrorCode = "consumer_failed"

	// Upstream (SQS/SNS/CloudWatch)
	ErrCodeUpstreamTransient   ErrorCode = "upstream_transient"
	ErrCodeUpstreamUnreachable ErrorCode = "upstream_unreachable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamAckFailed   ErrorCode = "upstream_ack_failed"

	// Internal
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type used throughout the catcher.
// Components express failures as AppError to keep error formatting consistent
// and to support errors.Is/errors.As chains.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
