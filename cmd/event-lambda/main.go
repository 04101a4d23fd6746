// Package main is the Lambda entry point of the event catcher.
//
// An SQS event source mapping on the endpoint's queue invokes the function
// with batches of SNS-wrapped AWS Config notifications. Each record goes
// through the same parser and message-type filter as the long-running
// catcher, then to the consumer.
//
// Cold Start (main):
//  1. Load configuration (env > SSM).
//  2. Initialize structured logger.
//  3. Initialize CloudWatch metrics when enabled.
//  4. Register handler and call lambda.Start.
//
// The function reports partial batch failures: records the consumer rejected
// are returned in batchItemFailures so SQS redelivers them. Malformed and
// filtered records succeed and leave the queue, as they do in the catcher.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"eventcatcher/internal/catcher"
	"eventcatcher/internal/config"
	"eventcatcher/internal/stream"
	"eventcatcher/internal/telemetry"
	"eventcatcher/internal/types"
)

// Handler holds the dependencies for the Lambda handler.
type Handler struct {
	filter   stream.Config
	consumer stream.Consumer
	metrics  stream.Metrics
	clock    types.Clock
	logger   types.Logger
}

// NewHandler creates a Handler. A nil metrics sink disables telemetry.
func NewHandler(endpoint string, messageTypes []string, consumer stream.Consumer, metrics stream.Metrics, logger types.Logger) *Handler {
	if metrics == nil {
		metrics = discardMetrics{}
	}
	return &Handler{
		filter:   stream.Config{Endpoint: endpoint, MessageTypes: messageTypes},
		consumer: consumer,
		metrics:  metrics,
		clock:    types.RealClock{},
		logger:   logger.With("endpoint", endpoint),
	}
}

// Handle processes an SQS event. Records are delivered in batch order; a
// failing record does not stop the ones after it.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}
	if len(sqsEvent.Records) == 0 {
		return response, nil
	}

	h.metrics.RecordReceived(ctx, len(sqsEvent.Records))
	// The sandbox may freeze once Handle returns.
	defer h.metrics.Flush(ctx)

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			// Report partial failure so SQS retries only this message.
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	msg := stream.RawMessage{
		MessageID:     record.MessageId,
		ReceiptHandle: record.ReceiptHandle,
		Body:          record.Body,
		Attributes:    record.Attributes,
	}
	logger := h.logger.With("message_id", msg.MessageID)

	if sent, ok := msg.SentAt(); ok {
		h.metrics.RecordQueueLag(ctx, h.clock.Now().Sub(sent))
	}

	event, err := stream.ParseEvent(msg)
	if err != nil {
		h.metrics.RecordRejected(ctx, stream.RejectMalformed)
		logger.Warn("dropping malformed message", "error", err.Error())
		return nil
	}

	if !h.filter.Accepts(event) {
		h.metrics.RecordRejected(ctx, stream.RejectFiltered)
		logger.Debug("ignoring notification type", "message_type", event.MessageType())
		return nil
	}

	if err := h.consumer(types.WithLogger(ctx, logger), event); err != nil {
		h.metrics.RecordRejected(ctx, stream.RejectConsumer)
		return types.NewAppError(types.ErrCodeConsumerFailed, "consumer rejected event", err)
	}

	h.metrics.RecordDelivered(ctx, event.EventType())
	return nil
}

type discardMetrics struct{}

func (discardMetrics) RecordReceived(context.Context, int)                 {}
func (discardMetrics) RecordDelivered(context.Context, string)             {}
func (discardMetrics) RecordRejected(context.Context, stream.RejectReason) {}
func (discardMetrics) RecordFetchFailure(context.Context, bool)            {}
func (discardMetrics) RecordQueueLag(context.Context, time.Duration)       {}
func (discardMetrics) Flush(context.Context)                               {}

func main() {
	cfg, err := config.LoadLambdaConfig(config.NewSSMStore(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("event-lambda initializing (cold start)",
		"endpoint", cfg.Endpoint,
		"version", cfg.Build.Version,
	)
	typedLogger := types.NewSlogAdapter(logger)

	var metrics stream.Metrics
	if cfg.Observability.EnableMetrics {
		awsCfg, err := config.LoadAWS(context.Background(), cfg.AWS.Region, cfg.AWS.EndpointURL)
		if err != nil {
			logger.Error("failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		metrics = telemetry.NewCloudWatchMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Observability.MetricNamespace,
			cfg.Endpoint,
			typedLogger,
		)
	}

	handler := NewHandler(cfg.Endpoint, cfg.MessageTypes, catcher.LogEvent, metrics, typedLogger)
	lambda.Start(handler.Handle)
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
