package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"eventcatcher/internal/types"
)

// ErrProviderUnreachable matches any *ProviderUnreachableError via errors.Is.
var ErrProviderUnreachable = errors.New("stream: provider unreachable")

// ResolutionError reports a failed queue or topic lookup/creation. It is
// returned from Run before polling starts and is never retried internally.
type ResolutionError struct {
	Op   string // SDK operation that failed, e.g. "CreateQueue"
	Name string // queue or topic name being resolved
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("stream: resolve %s (%s): %v", e.Name, e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Code returns the application error code.
func (e *ResolutionError) Code() types.ErrorCode { return types.ErrCodeResolutionFailed }

// MalformedEventError reports a message body that is not a double-encoded
// JSON notification. The message is skipped.
type MalformedEventError struct {
	MessageID string
	Reason    string
	Err       error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream: malformed event %q: %s: %v", e.MessageID, e.Reason, e.Err)
	}
	return fmt.Sprintf("stream: malformed event %q: %s", e.MessageID, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// Code returns the application error code.
func (e *MalformedEventError) Code() types.ErrorCode { return types.ErrCodeMalformedEvent }

// TransientProviderError wraps a fetch failure that the loop retries.
// It never leaves Run.
type TransientProviderError struct {
	Err error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("stream: transient provider error: %v", e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// Code returns the application error code.
func (e *TransientProviderError) Code() types.ErrorCode { return types.ErrCodeUpstreamTransient }

// ProviderUnreachableError is the terminal result of Run once polling has
// started: a fetch failed in a way not recognized as transient.
type ProviderUnreachableError struct {
	QueueURL string
	Err      error
}

func (e *ProviderUnreachableError) Error() string {
	return fmt.Sprintf("stream: provider unreachable (queue %s): %v", e.QueueURL, e.Err)
}

func (e *ProviderUnreachableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProviderUnreachable) hold.
func (e *ProviderUnreachableError) Is(target error) bool {
	return target == ErrProviderUnreachable
}

// Code returns the application error code.
func (e *ProviderUnreachableError) Code() types.ErrorCode { return types.ErrCodeUpstreamUnreachable }

// transientCodes are API error codes SQS returns for throttling and
// short-lived service faults.
var transientCodes = map[string]struct{}{
	"ThrottlingException":                       {},
	"Throttling":                                {},
	"RequestThrottled":                          {},
	"AWS.SimpleQueueService.RequestThrottled":   {},
	"KMS.ThrottlingException":                   {},
	"ServiceUnavailable":                        {},
	"AWS.SimpleQueueService.ServiceUnavailable": {},
	"InternalError":                             {},
	"InternalFailure":                           {},
	"RequestTimeout":                            {},
}

// IsTransient reports whether err carries a known throttling or transient
// service signature.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := transientCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	}

	return false
}

// isQueueNotFound reports whether a GetQueueUrl failure means the queue does
// not exist, as opposed to any other lookup failure.
func isQueueNotFound(err error) bool {
	var notFound *sqstypes.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
			return true
		}
	}
	return false
}

// classifyFetchError triages a ReceiveMessage failure. parent is the loop's
// context; a deadline on the per-fetch context alone counts as transient.
func classifyFetchError(parent context.Context, queueURL string, err error) error {
	if IsTransient(err) {
		return &TransientProviderError{Err: err}
	}
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &TransientProviderError{Err: err}
	}
	return &ProviderUnreachableError{QueueURL: queueURL, Err: err}
}
