package stream

import (
	"context"
	"slices"
	"strconv"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS long-poll limits. WaitTimeSeconds is capped at 20 and
// MaxNumberOfMessages at 10 by the service.
const (
	DefaultWaitTime    = 20 * time.Second
	DefaultMaxMessages = 10

	// DefaultRetryPause is the wait after a transient fetch failure.
	DefaultRetryPause = time.Second

	// fetchGrace is added to the long-poll wait to bound each ReceiveMessage
	// call with a context deadline.
	fetchGrace = 10 * time.Second
)

// Notification message types published by AWS Config.
const (
	MessageTypeItemChange          = "ConfigurationItemChangeNotification"
	MessageTypeOversizedItemChange = "OversizedConfigurationItemChangeNotification"
)

// Field names of a parsed Event.
const (
	FieldMessageID   = "messageId"
	FieldMessageType = "messageType"
	FieldEventType   = "eventType"
	FieldEventSource = "event_source"
	FieldTopicArn    = "topicArn"
	FieldNotifiedAt  = "notifiedAt"

	eventSourceConfig = "config"
)

// Config holds the per-endpoint settings for one Stream. Queue and topic names
// are supplied by the caller so several endpoints can run in one process.
type Config struct {
	// Endpoint names the managed provider connection in logs and metrics.
	Endpoint  string `validate:"required"`
	QueueName string `validate:"required,max=80"`
	TopicName string `validate:"required,max=256"`

	// WaitTime is the long-poll wait. SQS takes whole seconds, so it must be
	// at least one second; the fraction is dropped.
	WaitTime    time.Duration `validate:"gte=1s,lte=20s"`
	MaxMessages int32         `validate:"gte=0,lte=10"`

	// MessageTypes restricts delivery to the listed notification types.
	// Empty accepts every type.
	MessageTypes []string
}

// Accepts reports whether event passes the MessageTypes filter.
func (c Config) Accepts(event Event) bool {
	if len(c.MessageTypes) == 0 {
		return true
	}
	return slices.Contains(c.MessageTypes, event.MessageType())
}

// QueueHandle locates the resolved SQS queue.
type QueueHandle struct {
	URL string
	ARN string
}

// TopicHandle locates the resolved SNS topic.
type TopicHandle struct {
	ARN string
}

// RawMessage is a message as fetched from the queue, before parsing.
type RawMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
	Attributes    map[string]string
}

// SentAt returns when SQS accepted the message, from the SentTimestamp
// system attribute.
func (m RawMessage) SentAt() (time.Time, bool) {
	sent, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]
	if !ok {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(sent, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

// Event is a parsed notification. It always carries FieldMessageID set to the
// transport message ID.
type Event map[string]any

// MessageID returns the transport message ID of the event.
func (e Event) MessageID() string {
	id, _ := e[FieldMessageID].(string)
	return id
}

// MessageType returns the notification's messageType, or "".
func (e Event) MessageType() string {
	t, _ := e[FieldMessageType].(string)
	return t
}

// EventType returns the notification's eventType, or "".
func (e Event) EventType() string {
	t, _ := e[FieldEventType].(string)
	return t
}

// Consumer receives each successfully parsed event, in queue order. A non-nil
// error leaves the message on the queue for redelivery.
type Consumer func(ctx context.Context, event Event) error

// Acknowledger removes a consumed message from the queue.
type Acknowledger interface {
	Ack(ctx context.Context, queueURL string, msg RawMessage) error
}

// RejectReason says why a fetched message was not delivered.
type RejectReason string

const (
	RejectMalformed RejectReason = "malformed"
	RejectFiltered  RejectReason = "filtered"
	RejectConsumer  RejectReason = "consumer_failed"
)

// Metrics records poll loop telemetry. Record methods run inline with the
// loop and must not block. The loop calls Flush once per iteration, so an
// implementation that publishes remotely should buffer in Record and send in
// Flush under its own deadline.
type Metrics interface {
	RecordReceived(ctx context.Context, count int)
	RecordDelivered(ctx context.Context, eventType string)
	RecordRejected(ctx context.Context, reason RejectReason)
	RecordFetchFailure(ctx context.Context, transient bool)
	RecordQueueLag(ctx context.Context, lag time.Duration)
	Flush(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) RecordReceived(context.Context, int)           {}
func (noopMetrics) RecordDelivered(context.Context, string)       {}
func (noopMetrics) RecordRejected(context.Context, RejectReason)  {}
func (noopMetrics) RecordFetchFailure(context.Context, bool)      {}
func (noopMetrics) RecordQueueLag(context.Context, time.Duration) {}
func (noopMetrics) Flush(context.Context)                         {}
