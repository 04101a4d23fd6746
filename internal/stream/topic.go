package stream

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// ResolveTopic returns the configured SNS topic, creating it when no existing
// topic carries that name. Existing topics are always listed first.
func (s *Stream) ResolveTopic(ctx context.Context) (TopicHandle, error) {
	arn, err := s.findTopic(ctx)
	if err != nil {
		return TopicHandle{}, err
	}
	if arn != "" {
		s.logger.Debug("found SNS topic", "topic_arn", arn)
		return TopicHandle{ARN: arn}, nil
	}

	out, err := s.sns.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(s.cfg.TopicName),
	})
	if err != nil {
		return TopicHandle{}, &ResolutionError{Op: "CreateTopic", Name: s.cfg.TopicName, Err: err}
	}

	arn = aws.ToString(out.TopicArn)
	s.logger.Info("created SNS topic", "topic_name", s.cfg.TopicName, "topic_arn", arn)
	return TopicHandle{ARN: arn}, nil
}

// findTopic pages through ListTopics and returns the ARN of the first topic
// whose name matches, or "" if there is none.
func (s *Stream) findTopic(ctx context.Context) (string, error) {
	var next *string
	for {
		out, err := s.sns.ListTopics(ctx, &sns.ListTopicsInput{NextToken: next})
		if err != nil {
			return "", &ResolutionError{Op: "ListTopics", Name: s.cfg.TopicName, Err: err}
		}

		for _, topic := range out.Topics {
			arn := aws.ToString(topic.TopicArn)
			if topicName(arn) == s.cfg.TopicName {
				return arn, nil
			}
		}

		if aws.ToString(out.NextToken) == "" {
			return "", nil
		}
		next = out.NextToken
	}
}

// topicName extracts the resource segment of arn:aws:sns:region:account:name.
func topicName(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 {
		return ""
	}
	return parts[5]
}
