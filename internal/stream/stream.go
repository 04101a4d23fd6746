// Package stream drains AWS Config change notifications from an SQS queue that
// is subscribed to an SNS topic.
//
// A Stream provisions its queue on first use (find, or create topic + queue +
// subscription), then long-polls the queue and hands each parsed notification
// to a Consumer in the order SQS returned it. Fetch failures are split into
// transient ones, which the loop rides out, and everything else, which ends
// Run with a *ProviderUnreachableError.
//
// Messages that cannot be parsed are acknowledged and counted. A body that
// fails to parse once fails every time, so redelivering it only delays the
// messages behind it.
//
// Delivery is at-least-once. Duplicates and reordering across batches are
// possible and are left for the consumer to tolerate.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-playground/validator/v10"

	"eventcatcher/internal/types"
)

// Stream is the poll loop for one managed endpoint. It owns its queue and
// topic handles; streams share no state with each other.
type Stream struct {
	cfg     Config
	sqs     SQSAPI
	sns     SNSAPI
	logger  types.Logger
	metrics Metrics
	acker   Acknowledger
	clock   types.Clock

	// beforePoll runs ahead of every fetch that does not follow a failed one.
	beforePoll func(ctx context.Context)
	retryPause time.Duration

	mu    sync.Mutex
	queue *QueueHandle

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures optional Stream collaborators.
type Option func(*Stream)

// WithLogger sets the logger. The default wraps slog.Default().
func WithLogger(logger types.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the telemetry sink.
func WithMetrics(m Metrics) Option {
	return func(s *Stream) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAcknowledger enables acknowledgment: a message is acknowledged only
// after the consumer returns nil for it.
func WithAcknowledger(a Acknowledger) Option {
	return func(s *Stream) {
		s.acker = a
	}
}

// WithBeforePoll registers a hook called before every batch fetch. Retries
// after a transient failure skip it, so a hook used as a liveness signal goes
// quiet while the queue keeps failing.
func WithBeforePoll(fn func(ctx context.Context)) Option {
	return func(s *Stream) {
		s.beforePoll = fn
	}
}

// WithRetryPause overrides DefaultRetryPause.
func WithRetryPause(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.retryPause = d
		}
	}
}

// WithClock overrides the clock used for queue lag.
func WithClock(c types.Clock) Option {
	return func(s *Stream) {
		if c != nil {
			s.clock = c
		}
	}
}

// New validates cfg and returns a Stream. Zero WaitTime and MaxMessages take
// DefaultWaitTime and DefaultMaxMessages. Any other WaitTime below one second
// is rejected, since SQS would receive it as zero and return at once.
func New(cfg Config, sqsClient SQSAPI, snsClient SNSAPI, opts ...Option) (*Stream, error) {
	if sqsClient == nil || snsClient == nil {
		return nil, errors.New("stream: SQS and SNS clients are required")
	}

	if cfg.WaitTime == 0 {
		cfg.WaitTime = DefaultWaitTime
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("stream: invalid config for endpoint %q: %w", cfg.Endpoint, err)
	}

	s := &Stream{
		cfg:     cfg,
		sqs:     sqsClient,
		sns:     snsClient,
		logger:  types.NewSlogAdapter(nil),
		metrics: noopMetrics{},
		clock:   types.RealClock{},
		stopCh:  make(chan struct{}),

		retryPause: DefaultRetryPause,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("endpoint", cfg.Endpoint, "queue_name", cfg.QueueName)
	return s, nil
}

// Stop asks Run to return after the batch in progress. It does not interrupt
// an in-flight fetch and is safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Run resolves the queue and then polls it until stopped. It returns:
//   - a *ResolutionError if the queue could not be found or provisioned;
//   - a *ProviderUnreachableError when a fetch fails in a non-transient way;
//   - nil after Stop or cancellation of ctx.
//
// consumer is called once per parsed event, sequentially, in queue order. Its
// context carries a message-scoped logger, see types.LoggerFromContext.
func (s *Stream) Run(ctx context.Context, consumer Consumer) error {
	if consumer == nil {
		return errors.New("stream: consumer is required")
	}

	queue, err := s.ResolveQueue(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	s.logger.Info("polling SQS queue",
		"queue_url", queue.URL,
		"wait_time", s.cfg.WaitTime.String(),
		"max_messages", s.cfg.MaxMessages,
	)

	// Metrics outlive cancellation so the last iteration is still published.
	flushCtx := context.WithoutCancel(ctx)
	failed := false

	for {
		if s.stopping(ctx) {
			s.logger.Info("stream stopped", "queue_url", queue.URL)
			return nil
		}

		if s.beforePoll != nil && !failed {
			s.beforePoll(ctx)
		}

		batch, err := s.fetch(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("stream cancelled", "queue_url", queue.URL)
				return nil
			}

			classified := classifyFetchError(ctx, queue.URL, err)
			var transient *TransientProviderError
			if errors.As(classified, &transient) {
				s.metrics.RecordFetchFailure(ctx, true)
				s.metrics.Flush(flushCtx)
				s.logger.Warn("transient SQS receive failure; retrying",
					"error", err.Error(),
					"pause", s.retryPause.String(),
				)
				failed = true
				if !s.pause(ctx) {
					s.logger.Info("stream stopped", "queue_url", queue.URL)
					return nil
				}
				continue
			}

			s.metrics.RecordFetchFailure(ctx, false)
			s.metrics.Flush(flushCtx)
			s.logger.Error("SQS receive failed; provider unreachable", "error", err.Error())
			return classified
		}
		failed = false

		if len(batch) == 0 {
			continue
		}

		s.metrics.RecordReceived(ctx, len(batch))
		for _, msg := range batch {
			s.handle(ctx, queue, msg, consumer)
		}
		s.metrics.Flush(flushCtx)
	}
}

// pause waits retryPause. It returns false if the stream was stopped or ctx
// cancelled meanwhile.
func (s *Stream) pause(ctx context.Context) bool {
	timer := time.NewTimer(s.retryPause)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) stopping(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// fetch performs one long-poll ReceiveMessage bounded by WaitTime plus a grace
// period.
func (s *Stream) fetch(ctx context.Context, queue QueueHandle) ([]RawMessage, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.WaitTime+fetchGrace)
	defer cancel()

	out, err := s.sqs.ReceiveMessage(fetchCtx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queue.URL),
		MaxNumberOfMessages: s.cfg.MaxMessages,
		WaitTimeSeconds:     int32(s.cfg.WaitTime / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, err
	}

	batch := make([]RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		batch = append(batch, RawMessage{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			Attributes:    m.Attributes,
		})
	}
	return batch, nil
}

// handle parses one message and delivers it. Malformed and filtered messages
// are acknowledged without delivery. A consumer failure leaves the message for
// redelivery. Nothing here stops the loop.
func (s *Stream) handle(ctx context.Context, queue QueueHandle, msg RawMessage, consumer Consumer) {
	logger := s.logger.With("message_id", msg.MessageID)
	logger.Debug("received SQS message")

	s.recordLag(ctx, msg)

	event, err := ParseEvent(msg)
	if err != nil {
		s.metrics.RecordRejected(ctx, RejectMalformed)
		logger.Warn("dropping malformed message", "error", err.Error())
		s.ack(ctx, queue, msg, logger)
		return
	}

	if !s.cfg.Accepts(event) {
		s.metrics.RecordRejected(ctx, RejectFiltered)
		logger.Debug("ignoring notification type", "message_type", event.MessageType())
		s.ack(ctx, queue, msg, logger)
		return
	}

	logger.Info("found SNS message",
		"message_type", event.MessageType(),
		"event_type", event.EventType(),
	)

	if err := consumer(types.WithLogger(ctx, logger), event); err != nil {
		s.metrics.RecordRejected(ctx, RejectConsumer)
		logger.Error("consumer failed; message left for redelivery", "error", err.Error())
		return
	}

	s.metrics.RecordDelivered(ctx, event.EventType())
	s.ack(ctx, queue, msg, logger)
}

func (s *Stream) ack(ctx context.Context, queue QueueHandle, msg RawMessage, logger types.Logger) {
	if s.acker == nil {
		return
	}
	if err := s.acker.Ack(ctx, queue.URL, msg); err != nil {
		logger.Warn("failed to acknowledge message", "error", err.Error())
	}
}

// recordLag reports the time since SQS accepted the message.
func (s *Stream) recordLag(ctx context.Context, msg RawMessage) {
	if sent, ok := msg.SentAt(); ok {
		s.metrics.RecordQueueLag(ctx, s.clock.Now().Sub(sent))
	}
}
