// Package queue removes consumed AWS Config notifications from their SQS
// queues. Deletes go through a circuit breaker so a struggling SQS endpoint is
// not hammered once per message while the poll loop keeps running.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sony/gobreaker/v2"

	"eventcatcher/internal/stream"
	"eventcatcher/internal/types"
)

// SQSDeleter abstracts the SQS DeleteMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSDeleter interface {
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// BreakerSettings tunes the delete circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns the settings used by cmd entry points.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// SQSAcknowledger implements stream.Acknowledger by deleting the message.
//
// While the breaker is open, Ack fails fast with ErrCodeUpstreamRateLimited
// and the message stays on the queue; SQS redelivers it after the visibility
// timeout.
type SQSAcknowledger struct {
	client  SQSDeleter
	breaker *gobreaker.CircuitBreaker[*sqs.DeleteMessageOutput]
	logger  types.Logger
}

var _ stream.Acknowledger = (*SQSAcknowledger)(nil)

// NewSQSAcknowledger creates an acknowledger whose breaker is named after the
// endpoint it serves.
func NewSQSAcknowledger(client SQSDeleter, endpoint string, settings BreakerSettings, logger types.Logger) *SQSAcknowledger {
	if logger == nil {
		logger = types.NewSlogAdapter(nil)
	}
	logger = logger.With("component", "sqs_acknowledger", "endpoint", endpoint)

	cb := gobreaker.NewCircuitBreaker[*sqs.DeleteMessageOutput](gobreaker.Settings{
		Name:        "sqs-delete-" + endpoint,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A cancelled delete says nothing about SQS health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &SQSAcknowledger{
		client:  client,
		breaker: cb,
		logger:  logger,
	}
}

// Ack deletes msg from the queue at queueURL.
func (a *SQSAcknowledger) Ack(ctx context.Context, queueURL string, msg stream.RawMessage) error {
	if msg.ReceiptHandle == "" {
		return types.NewAppError(
			types.ErrCodeUpstreamAckFailed,
			fmt.Sprintf("message %s has no receipt handle", msg.MessageID),
			nil,
		)
	}

	_, err := a.breaker.Execute(func() (*sqs.DeleteMessageOutput, error) {
		return a.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(queueURL),
			ReceiptHandle: aws.String(msg.ReceiptHandle),
		})
	})
	if err != nil {
		return a.mapError(msg, err)
	}

	a.logger.Debug("message acknowledged", "message_id", msg.MessageID)
	return nil
}

// State exposes the breaker state for health reporting.
func (a *SQSAcknowledger) State() gobreaker.State {
	return a.breaker.State()
}

func (a *SQSAcknowledger) mapError(msg stream.RawMessage, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; message left on queue",
			err,
		).WithDetails(map[string]any{"message_id": msg.MessageID})
	}

	if stream.IsTransient(err) {
		return types.NewAppError(
			types.ErrCodeUpstreamTransient,
			"transient failure deleting message",
			err,
		).WithDetails(map[string]any{"message_id": msg.MessageID})
	}

	return types.NewAppError(
		types.ErrCodeUpstreamAckFailed,
		"failed to delete message",
		err,
	).WithDetails(map[string]any{"message_id": msg.MessageID})
}
