package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

const (
	testQueueName = "manageiq-awsconfig-queue-test"
	testTopicName = "AWSConfig_topic"
	testQueueURL  = "https://sqs.eu-central-1.amazonaws.com/995412904407/manageiq-awsconfig-queue-test"
	testQueueARN  = "arn:aws:sqs:eu-central-1:995412904407:manageiq-awsconfig-queue-test"
	testTopicARN  = "arn:aws:sns:eu-central-1:995412904407:AWSConfig_topic"
)

// callLog records provider operations across both mocks so tests can assert
// on ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, op)
}

func (l *callLog) ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) count(op string) int {
	n := 0
	for _, c := range l.ops() {
		if c == op {
			n++
		}
	}
	return n
}

// receiveResult is one scripted ReceiveMessage response.
type receiveResult struct {
	messages []sqstypes.Message
	err      error
}

// mockSQS is a scripted SQSAPI. When the receive script runs out it returns
// an unrecognized API error, which ends the poll loop.
type mockSQS struct {
	log *callLog

	queueExists    bool
	getQueueURLErr error
	createErr      error
	attrErr        error
	setAttrErr     error

	setAttrInputs []*sqs.SetQueueAttributesInput
	receiveInputs []*sqs.ReceiveMessageInput

	receive []receiveResult
	// onReceive runs at the start of each ReceiveMessage call with its index.
	onReceive func(ctx context.Context, call int)
}

func (m *mockSQS) GetQueueUrl(_ context.Context, params *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	m.log.add("GetQueueUrl")
	if m.getQueueURLErr != nil {
		return nil, m.getQueueURLErr
	}
	if !m.queueExists {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("The specified queue does not exist.")}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(testQueueURL)}, nil
}

func (m *mockSQS) CreateQueue(_ context.Context, params *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	m.log.add("CreateQueue")
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.queueExists = true
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(testQueueURL)}, nil
}

func (m *mockSQS) GetQueueAttributes(_ context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	m.log.add("GetQueueAttributes")
	if m.attrErr != nil {
		return nil, m.attrErr
	}
	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{"QueueArn": testQueueARN},
	}, nil
}

func (m *mockSQS) SetQueueAttributes(_ context.Context, params *sqs.SetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error) {
	m.log.add("SetQueueAttributes")
	m.setAttrInputs = append(m.setAttrInputs, params)
	if m.setAttrErr != nil {
		return nil, m.setAttrErr
	}
	return &sqs.SetQueueAttributesOutput{}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.log.add("ReceiveMessage")
	call := len(m.receiveInputs)
	m.receiveInputs = append(m.receiveInputs, params)

	if m.onReceive != nil {
		m.onReceive(ctx, call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if call >= len(m.receive) {
		return nil, &smithy.GenericAPIError{Code: "ServiceError", Message: "script exhausted"}
	}
	r := m.receive[call]
	if r.err != nil {
		return nil, r.err
	}
	return &sqs.ReceiveMessageOutput{Messages: r.messages}, nil
}

// mockSNS is a scripted SNSAPI. pages are returned in order by ListTopics.
type mockSNS struct {
	log *callLog

	pages           [][]string
	listErr         error
	createErr       error
	subscribeErr    error
	noSubscription  bool
	subscribeInputs []*sns.SubscribeInput
}

func (m *mockSNS) ListTopics(_ context.Context, params *sns.ListTopicsInput, _ ...func(*sns.Options)) (*sns.ListTopicsOutput, error) {
	m.log.add("ListTopics")
	if m.listErr != nil {
		return nil, m.listErr
	}

	page := 0
	if params.NextToken != nil {
		if err := json.Unmarshal([]byte(*params.NextToken), &page); err != nil {
			return nil, err
		}
	}

	out := &sns.ListTopicsOutput{}
	if page < len(m.pages) {
		for _, arn := range m.pages[page] {
			out.Topics = append(out.Topics, snstypes.Topic{TopicArn: aws.String(arn)})
		}
	}
	if page+1 < len(m.pages) {
		next, _ := json.Marshal(page + 1)
		out.NextToken = aws.String(string(next))
	}
	return out, nil
}

func (m *mockSNS) CreateTopic(_ context.Context, params *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	m.log.add("CreateTopic")
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &sns.CreateTopicOutput{
		TopicArn: aws.String("arn:aws:sns:eu-central-1:995412904407:" + aws.ToString(params.Name)),
	}, nil
}

func (m *mockSNS) Subscribe(_ context.Context, params *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	m.log.add("Subscribe")
	m.subscribeInputs = append(m.subscribeInputs, params)
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	if m.noSubscription {
		return &sns.SubscribeOutput{}, nil
	}
	return &sns.SubscribeOutput{
		SubscriptionArn: aws.String(aws.ToString(params.TopicArn) + ":0d2b4a8e-3c55-4f2b-a8a0-5e0f6c3b9a71"),
	}, nil
}

// mockAcker records acknowledged message IDs.
type mockAcker struct {
	mu    sync.Mutex
	acked []string
	err   error
}

func (a *mockAcker) Ack(_ context.Context, queueURL string, msg RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, msg.MessageID)
	return a.err
}

// recordingMetrics counts metric calls.
type recordingMetrics struct {
	mu         sync.Mutex
	received   int
	delivered  []string
	rejected   []RejectReason
	transient  int
	fatal      int
	lagSamples []time.Duration
	flushes    int
}

func (r *recordingMetrics) RecordReceived(_ context.Context, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received += count
}

func (r *recordingMetrics) RecordDelivered(_ context.Context, eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, eventType)
}

func (r *recordingMetrics) RecordRejected(_ context.Context, reason RejectReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
}

func (r *recordingMetrics) RecordFetchFailure(_ context.Context, transient bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if transient {
		r.transient++
	} else {
		r.fatal++
	}
}

func (r *recordingMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lagSamples = append(r.lagSamples, lag)
}

func (r *recordingMetrics) Flush(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

// --- Helpers ---

func testConfig() Config {
	return Config{
		Endpoint:  "ems-test",
		QueueName: testQueueName,
		TopicName: testTopicName,
		WaitTime:  time.Second,
	}
}

func newTestStream(t *testing.T, sqsMock *mockSQS, snsMock *mockSNS, opts ...Option) *Stream {
	t.Helper()
	opts = append([]Option{WithRetryPause(time.Millisecond)}, opts...)
	s, err := New(testConfig(), sqsMock, snsMock, opts...)
	if err != nil {
		t.Fatalf("New returned unexpected error: %v", err)
	}
	return s
}

// snsBody double-encodes payload the way SNS delivers it into SQS.
func snsBody(t *testing.T, payload map[string]any) string {
	t.Helper()
	inner, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	outer, err := json.Marshal(map[string]any{
		"Type":      "Notification",
		"MessageId": "sns-message-id",
		"TopicArn":  testTopicARN,
		"Message":   string(inner),
		"Timestamp": "2026-10-14T09:21:49.102Z",
	})
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	return string(outer)
}

func sqsMessage(id, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("receipt-" + id),
		Body:          aws.String(body),
	}
}

func changeNotification(t *testing.T, eventType string) string {
	t.Helper()
	return snsBody(t, map[string]any{
		"messageType": MessageTypeItemChange,
		"eventType":   eventType,
	})
}
