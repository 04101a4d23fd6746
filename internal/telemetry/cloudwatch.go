// Package telemetry publishes poll loop metrics to AWS CloudWatch.
package telemetry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"eventcatcher/internal/stream"
	"eventcatcher/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements stream.Metrics for a single endpoint. Every
// datum carries the Endpoint dimension.
//
// Metrics emitted:
//   - MessagesReceived: per non-empty batch, value = batch size
//   - EventsDelivered: Dims {Endpoint, EventType}
//   - MalformedEvents, FilteredEvents, ConsumerFailures: per rejected message
//   - TransientProviderFailures, ProviderUnreachable: per failed fetch
//   - QueueLag: milliseconds since SQS accepted the message
//
// Record calls only buffer. Flush sends the buffer in as few PutMetricData
// requests as the service allows, each bounded by the publish timeout.
// Publishing failures are logged and the data dropped; they never reach the
// loop.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	endpoint  string
	timeout   time.Duration
	logger    types.Logger

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

const (
	// DefaultPublishTimeout bounds one Flush.
	DefaultPublishTimeout = 3 * time.Second

	// maxDatumsPerPut is the PutMetricData limit per request.
	maxDatumsPerPut = 1000
)

// Option configures CloudWatchMetrics.
type Option func(*CloudWatchMetrics)

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(m *CloudWatchMetrics) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// Compile-time assertion that CloudWatchMetrics implements stream.Metrics.
var _ stream.Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates metrics for endpoint. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace, endpoint string, logger types.Logger, opts ...Option) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = types.NewSlogAdapter(nil)
	}
	m := &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		endpoint:  endpoint,
		timeout:   DefaultPublishTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordReceived buffers MessagesReceived with the batch size.
func (m *CloudWatchMetrics) RecordReceived(_ context.Context, count int) {
	m.put(types.MetricMessagesReceived, float64(count), cwtypes.StandardUnitCount)
}

// RecordDelivered buffers EventsDelivered, dimensioned by event type when known.
func (m *CloudWatchMetrics) RecordDelivered(_ context.Context, eventType string) {
	var extra []cwtypes.Dimension
	if eventType != "" {
		extra = append(extra, cwtypes.Dimension{
			Name:  aws.String(types.DimEventType),
			Value: aws.String(eventType),
		})
	}
	m.put(types.MetricEventsDelivered, 1, cwtypes.StandardUnitCount, extra...)
}

// RecordRejected buffers the metric matching reason.
func (m *CloudWatchMetrics) RecordRejected(_ context.Context, reason stream.RejectReason) {
	switch reason {
	case stream.RejectMalformed:
		m.put(types.MetricMalformedEvents, 1, cwtypes.StandardUnitCount)
	case stream.RejectFiltered:
		m.put(types.MetricFilteredEvents, 1, cwtypes.StandardUnitCount)
	case stream.RejectConsumer:
		m.put(types.MetricConsumerFailures, 1, cwtypes.StandardUnitCount)
	default:
		m.logger.Warn("unknown reject reason", "reason", string(reason))
	}
}

// RecordFetchFailure buffers TransientProviderFailures or ProviderUnreachable.
func (m *CloudWatchMetrics) RecordFetchFailure(_ context.Context, transient bool) {
	name := types.MetricProviderUnreachable
	if transient {
		name = types.MetricTransientFailures
	}
	m.put(name, 1, cwtypes.StandardUnitCount)
}

// RecordQueueLag buffers QueueLag in milliseconds.
func (m *CloudWatchMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.put(types.MetricQueueLag, float64(lag.Milliseconds()), cwtypes.StandardUnitMilliseconds)
}

// Flush publishes everything recorded since the previous Flush. The
// request runs under its own deadline even when ctx has none.
func (m *CloudWatchMetrics) Flush(ctx context.Context) {
	m.mu.Lock()
	data := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(data) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	for chunk := range slices.Chunk(data, maxDatumsPerPut) {
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: chunk,
		})
		if err != nil {
			m.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"datums", len(chunk),
				"endpoint", m.endpoint,
			)
			return
		}
	}
}

func (m *CloudWatchMetrics) put(name string, value float64, unit cwtypes.StandardUnit, extra ...cwtypes.Dimension) {
	dims := append([]cwtypes.Dimension{{
		Name:  aws.String(types.DimEndpoint),
		Value: aws.String(m.endpoint),
	}}, extra...)

	datum := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dims,
	}

	m.mu.Lock()
	m.pending = append(m.pending, datum)
	m.mu.Unlock()
}
