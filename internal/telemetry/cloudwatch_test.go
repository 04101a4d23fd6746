package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"eventcatcher/internal/stream"
	"eventcatcher/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// mockLogger counts error logs.
type mockLogger struct {
	errors int
}

func (l *mockLogger) Debug(string, ...any)     {}
func (l *mockLogger) Info(string, ...any)      {}
func (l *mockLogger) Warn(string, ...any)      {}
func (l *mockLogger) Error(string, ...any)     { l.errors++ }
func (l *mockLogger) With(...any) types.Logger { return l }

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %s: expected %q, got %q", name, value, *d.Value)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}

func singleDatum(t *testing.T, cw *mockCloudWatchClient) cwtypes.MetricDatum {
	t.Helper()
	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	if len(cw.calls[0].MetricData) != 1 {
		t.Fatalf("expected 1 metric datum, got %d", len(cw.calls[0].MetricData))
	}
	return cw.calls[0].MetricData[0]
}

func TestCloudWatchMetrics_RecordReceived(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})

	metrics.RecordReceived(context.Background(), 7)
	metrics.Flush(context.Background())

	if *cw.calls[0].Namespace != types.MetricNamespace {
		t.Errorf("expected default namespace %q, got %q", types.MetricNamespace, *cw.calls[0].Namespace)
	}
	datum := singleDatum(t, cw)
	if *datum.MetricName != types.MetricMessagesReceived {
		t.Errorf("expected metric %q, got %q", types.MetricMessagesReceived, *datum.MetricName)
	}
	if *datum.Value != 7 {
		t.Errorf("expected value 7, got %f", *datum.Value)
	}
	assertDimension(t, datum.Dimensions, types.DimEndpoint, "ems-1")
}

func TestCloudWatchMetrics_RecordDelivered(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "Custom/Catcher", "ems-1", &mockLogger{})

	metrics.RecordDelivered(context.Background(), "AWS_EC2_Instance_UPDATE")
	metrics.Flush(context.Background())

	if *cw.calls[0].Namespace != "Custom/Catcher" {
		t.Errorf("expected namespace Custom/Catcher, got %q", *cw.calls[0].Namespace)
	}
	datum := singleDatum(t, cw)
	assertDimension(t, datum.Dimensions, types.DimEndpoint, "ems-1")
	assertDimension(t, datum.Dimensions, types.DimEventType, "AWS_EC2_Instance_UPDATE")
}

func TestCloudWatchMetrics_RecordDelivered_NoEventType(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})

	metrics.RecordDelivered(context.Background(), "")
	metrics.Flush(context.Background())

	datum := singleDatum(t, cw)
	if len(datum.Dimensions) != 1 {
		t.Errorf("expected only the endpoint dimension, got %d", len(datum.Dimensions))
	}
}

func TestCloudWatchMetrics_RecordRejected(t *testing.T) {
	tests := []struct {
		reason stream.RejectReason
		want   string
	}{
		{stream.RejectMalformed, types.MetricMalformedEvents},
		{stream.RejectFiltered, types.MetricFilteredEvents},
		{stream.RejectConsumer, types.MetricConsumerFailures},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			cw := &mockCloudWatchClient{}
			metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})

			metrics.RecordRejected(context.Background(), tt.reason)
			metrics.Flush(context.Background())

			datum := singleDatum(t, cw)
			if *datum.MetricName != tt.want {
				t.Errorf("expected metric %q, got %q", tt.want, *datum.MetricName)
			}
		})
	}
}

func TestCloudWatchMetrics_RecordFetchFailure(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})

	metrics.RecordFetchFailure(context.Background(), true)
	metrics.RecordFetchFailure(context.Background(), false)
	metrics.Flush(context.Background())

	if len(cw.calls) != 1 || len(cw.calls[0].MetricData) != 2 {
		t.Fatalf("expected 1 call with 2 datums, got %d calls", len(cw.calls))
	}
	if got := *cw.calls[0].MetricData[0].MetricName; got != types.MetricTransientFailures {
		t.Errorf("expected %q, got %q", types.MetricTransientFailures, got)
	}
	if got := *cw.calls[0].MetricData[1].MetricName; got != types.MetricProviderUnreachable {
		t.Errorf("expected %q, got %q", types.MetricProviderUnreachable, got)
	}
}

func TestCloudWatchMetrics_RecordQueueLag(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})

	metrics.RecordQueueLag(context.Background(), 1500*time.Millisecond)
	metrics.Flush(context.Background())

	datum := singleDatum(t, cw)
	if *datum.Value != 1500 {
		t.Errorf("expected 1500ms, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("expected unit Milliseconds, got %s", datum.Unit)
	}
}

func TestCloudWatchMetrics_ErrorIsLogged(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("cloudwatch unavailable")}
	logger := &mockLogger{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", logger)

	metrics.RecordReceived(context.Background(), 1)
	metrics.Flush(context.Background())

	if logger.errors != 1 {
		t.Errorf("expected 1 error log, got %d", logger.errors)
	}

	// Dropped data is not retried on the next flush.
	metrics.Flush(context.Background())
	if len(cw.calls) != 1 {
		t.Errorf("expected 1 call, got %d", len(cw.calls))
	}
}

func TestCloudWatchMetrics_RecordBuffersUntilFlush(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})
	ctx := context.Background()

	metrics.RecordReceived(ctx, 10)
	for range 10 {
		metrics.RecordQueueLag(ctx, time.Second)
		metrics.RecordDelivered(ctx, "AWS_EC2_Instance_UPDATE")
	}

	if len(cw.calls) != 0 {
		t.Fatalf("expected no calls before Flush, got %d", len(cw.calls))
	}

	metrics.Flush(ctx)

	if len(cw.calls) != 1 {
		t.Fatalf("expected one PutMetricData call for the batch, got %d", len(cw.calls))
	}
	if got := len(cw.calls[0].MetricData); got != 21 {
		t.Errorf("expected 21 datums, got %d", got)
	}
	for _, d := range cw.calls[0].MetricData {
		if d.Timestamp == nil {
			t.Errorf("datum %s has no timestamp", *d.MetricName)
		}
	}
}

func TestCloudWatchMetrics_FlushEmpty(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})

	metrics.Flush(context.Background())

	if len(cw.calls) != 0 {
		t.Errorf("expected no calls, got %d", len(cw.calls))
	}
}

func TestCloudWatchMetrics_FlushSplitsAtServiceLimit(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", "ems-1", &mockLogger{})

	for range maxDatumsPerPut + 5 {
		metrics.RecordRejected(context.Background(), stream.RejectFiltered)
	}
	metrics.Flush(context.Background())

	if len(cw.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(cw.calls))
	}
	if len(cw.calls[0].MetricData) != maxDatumsPerPut || len(cw.calls[1].MetricData) != 5 {
		t.Errorf("chunk sizes = %d, %d; want %d, 5",
			len(cw.calls[0].MetricData), len(cw.calls[1].MetricData), maxDatumsPerPut)
	}
}

// blockingCloudWatchClient never answers; it returns when ctx ends.
type blockingCloudWatchClient struct{}

func (blockingCloudWatchClient) PutMetricData(ctx context.Context, _ *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCloudWatchMetrics_FlushBoundedWhenCloudWatchHangs(t *testing.T) {
	logger := &mockLogger{}
	metrics := NewCloudWatchMetrics(blockingCloudWatchClient{}, "", "ems-1", logger,
		WithPublishTimeout(50*time.Millisecond))

	metrics.RecordReceived(context.Background(), 1)

	done := make(chan struct{})
	go func() {
		// No deadline on the caller's context.
		metrics.Flush(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Flush did not return after the publish timeout")
	}
	if logger.errors != 1 {
		t.Errorf("expected 1 error log, got %d", logger.errors)
	}
}

func TestNewCloudWatchMetrics_Defaults(t *testing.T) {
	metrics := NewCloudWatchMetrics(&mockCloudWatchClient{}, "", "ems-1", nil, WithPublishTimeout(0))

	if metrics.timeout != DefaultPublishTimeout {
		t.Errorf("timeout = %v, want %v", metrics.timeout, DefaultPublishTimeout)
	}
	if metrics.namespace != types.MetricNamespace {
		t.Errorf("namespace = %q, want %q", metrics.namespace, types.MetricNamespace)
	}
}
