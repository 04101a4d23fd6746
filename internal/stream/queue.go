package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// ResolveQueue returns the configured SQS queue, creating it and binding it to
// the SNS topic when it does not exist yet. The handle is cached: later calls
// make no provider requests.
//
// An existing queue is returned as-is. Its topic subscription is not checked
// or repaired.
func (s *Stream) ResolveQueue(ctx context.Context) (QueueHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue != nil {
		return *s.queue, nil
	}

	out, err := s.sqs.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(s.cfg.QueueName),
	})

	var handle QueueHandle
	switch {
	case err == nil:
		handle.URL = aws.ToString(out.QueueUrl)
		if handle.ARN, err = s.queueARN(ctx, handle.URL); err != nil {
			return QueueHandle{}, err
		}
		s.logger.Info("found SQS queue", "queue_url", handle.URL)
	case isQueueNotFound(err):
		s.logger.Info("SQS queue does not exist; creating queue")
		if handle, err = s.createQueue(ctx); err != nil {
			return QueueHandle{}, err
		}
	default:
		return QueueHandle{}, &ResolutionError{Op: "GetQueueUrl", Name: s.cfg.QueueName, Err: err}
	}

	s.queue = &handle
	return handle, nil
}

// createQueue provisions the queue: resolve the topic, create the queue,
// allow the topic to deliver into it, then subscribe it.
func (s *Stream) createQueue(ctx context.Context) (QueueHandle, error) {
	topic, err := s.ResolveTopic(ctx)
	if err != nil {
		return QueueHandle{}, err
	}

	out, err := s.sqs.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(s.cfg.QueueName),
	})
	if err != nil {
		return QueueHandle{}, &ResolutionError{Op: "CreateQueue", Name: s.cfg.QueueName, Err: err}
	}

	handle := QueueHandle{URL: aws.ToString(out.QueueUrl)}
	if handle.ARN, err = s.queueARN(ctx, handle.URL); err != nil {
		return QueueHandle{}, err
	}

	if err := s.allowTopic(ctx, handle, topic); err != nil {
		return QueueHandle{}, err
	}

	if err := s.subscribe(ctx, handle, topic); err != nil {
		return QueueHandle{}, err
	}

	s.logger.Info("created SQS queue and subscribed it to SNS topic",
		"queue_url", handle.URL,
		"queue_arn", handle.ARN,
		"topic_arn", topic.ARN,
	)
	return handle, nil
}

func (s *Stream) queueARN(ctx context.Context, queueURL string) (string, error) {
	out, err := s.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", &ResolutionError{Op: "GetQueueAttributes", Name: s.cfg.QueueName, Err: err}
	}
	return out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)], nil
}

func (s *Stream) subscribe(ctx context.Context, queue QueueHandle, topic TopicHandle) error {
	s.logger.Info("subscribing SQS queue to SNS topic", "queue_url", queue.URL, "topic_arn", topic.ARN)

	out, err := s.sns.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(topic.ARN),
		Protocol:              aws.String("sqs"),
		Endpoint:              aws.String(queue.ARN),
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return &ResolutionError{Op: "Subscribe", Name: s.cfg.QueueName, Err: err}
	}
	if aws.ToString(out.SubscriptionArn) == "" {
		return &ResolutionError{
			Op:   "Subscribe",
			Name: s.cfg.QueueName,
			Err:  fmt.Errorf("no subscription ARN returned for %s", queue.ARN),
		}
	}
	return nil
}

// allowTopic sets a queue policy permitting the topic to send messages.
func (s *Stream) allowTopic(ctx context.Context, queue QueueHandle, topic TopicHandle) error {
	policy, err := queuePolicy(queue.ARN, topic.ARN)
	if err != nil {
		return &ResolutionError{Op: "SetQueueAttributes", Name: s.cfg.QueueName, Err: err}
	}

	_, err = s.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(queue.URL),
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNamePolicy): policy,
		},
	})
	if err != nil {
		return &ResolutionError{Op: "SetQueueAttributes", Name: s.cfg.QueueName, Err: err}
	}
	return nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	ID        string            `json:"Id"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string                       `json:"Sid"`
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition"`
}

// queuePolicy renders the SQS access policy for topic-to-queue delivery. The
// statement ID is derived from the queue ARN so re-applying it is stable.
func queuePolicy(queueARN, topicARN string) (string, error) {
	sid := strings.ReplaceAll(uuid.NewMD5(uuid.NameSpaceURL, []byte(queueARN)).String(), "-", "")

	doc := policyDocument{
		Version: "2012-10-17",
		ID:      queueARN + "/SQSDefaultPolicy",
		Statement: []policyStatement{{
			Sid:       sid,
			Effect:    "Allow",
			Principal: map[string]string{"Service": "sns.amazonaws.com"},
			Action:    "SQS:SendMessage",
			Resource:  queueARN,
			Condition: map[string]map[string]string{
				"ArnEquals": {"aws:SourceArn": topicARN},
			},
		}},
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal queue policy: %w", err)
	}
	return string(body), nil
}
