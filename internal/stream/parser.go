package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// snsEnvelope is the outer SNS notification wrapping the AWS Config payload.
// Message is kept raw so a non-string value can be reported precisely.
type snsEnvelope struct {
	Type      string          `json:"Type"`
	MessageID string          `json:"MessageId"`
	TopicArn  string          `json:"TopicArn"`
	Message   json.RawMessage `json:"Message"`
	Timestamp string          `json:"Timestamp"`
}

// ParseEvent unwraps the SNS envelope of msg and decodes the inner
// notification into an Event. The event's messageId is always the SQS
// message ID, whatever the payload carried.
//
// For item-change notifications without an explicit eventType, the type is
// derived from the resource type and change type, e.g. AWS::EC2::Instance and
// UPDATE give AWS_EC2_Instance_UPDATE.
func ParseEvent(msg RawMessage) (Event, error) {
	var envelope snsEnvelope
	if err := json.Unmarshal([]byte(msg.Body), &envelope); err != nil {
		return nil, &MalformedEventError{MessageID: msg.MessageID, Reason: "invalid envelope JSON", Err: err}
	}

	if len(envelope.Message) == 0 || bytes.Equal(envelope.Message, []byte("null")) {
		return nil, &MalformedEventError{MessageID: msg.MessageID, Reason: "envelope has no Message field"}
	}

	var inner string
	if err := json.Unmarshal(envelope.Message, &inner); err != nil {
		return nil, &MalformedEventError{MessageID: msg.MessageID, Reason: "envelope Message is not a string", Err: err}
	}

	var event Event
	if err := json.Unmarshal([]byte(inner), &event); err != nil {
		return nil, &MalformedEventError{MessageID: msg.MessageID, Reason: "invalid notification JSON", Err: err}
	}
	if event == nil {
		return nil, &MalformedEventError{MessageID: msg.MessageID, Reason: "notification is null"}
	}

	event[FieldMessageID] = msg.MessageID
	event[FieldEventSource] = eventSourceConfig

	if event.EventType() == "" && event.MessageType() == MessageTypeItemChange {
		if eventType := deriveEventType(event); eventType != "" {
			event[FieldEventType] = eventType
		}
	}

	if _, ok := event[FieldTopicArn]; !ok && envelope.TopicArn != "" {
		event[FieldTopicArn] = envelope.TopicArn
	}
	if _, ok := event[FieldNotifiedAt]; !ok && envelope.Timestamp != "" {
		event[FieldNotifiedAt] = envelope.Timestamp
	}

	return event, nil
}

func deriveEventType(event Event) string {
	item, _ := event["configurationItem"].(map[string]any)
	diff, _ := event["configurationItemDiff"].(map[string]any)

	resourceType, _ := item["resourceType"].(string)
	changeType, _ := diff["changeType"].(string)
	if resourceType == "" || changeType == "" {
		return ""
	}

	return strings.ReplaceAll(resourceType+"_"+changeType, "::", "_")
}
