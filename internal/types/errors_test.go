package types

import (
	"errors"
	"fmt"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeMalformedEvent,
		Message: "envelope has no Message field",
	}

	expected := "malformed_event: envelope has no Message field"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorErrorFormat_WithCause(t *testing.T) {
	appErr := NewAppError(ErrCodeUpstreamAckFailed, "failed to delete message", errors.New("ReceiptHandleIsInvalid"))

	expected := "upstream_ack_failed: failed to delete message: ReceiptHandleIsInvalid"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset by peer")
	appErr := NewAppError(ErrCodeUpstreamTransient, "receive failed", underlying)

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() returned unexpected error: got %v, want %v", appErr.Unwrap(), underlying)
	}

	wrapped := fmt.Errorf("poll: %w", appErr)
	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find *AppError in chain")
	}
	if !errors.Is(wrapped, underlying) {
		t.Error("errors.Is should reach the underlying error")
	}
}

func TestAppErrorWithDetails(t *testing.T) {
	base := NewAppError(ErrCodeConsumerFailed, "consumer failed", nil)
	base.Details = map[string]any{"endpoint": "ems-1"}

	enriched := base.WithDetails(map[string]any{"message_id": "m-1"})

	if enriched == base {
		t.Fatal("WithDetails should return a copy")
	}
	if enriched.Details["endpoint"] != "ems-1" || enriched.Details["message_id"] != "m-1" {
		t.Errorf("unexpected details %v", enriched.Details)
	}
	if _, ok := base.Details["message_id"]; ok {
		t.Error("WithDetails must not mutate the original")
	}
}
