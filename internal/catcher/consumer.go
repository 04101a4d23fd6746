package catcher

import (
	"context"

	"eventcatcher/internal/stream"
	"eventcatcher/internal/types"
)

// LogEvent is a stream.Consumer that writes each change notification to the
// structured log. It uses the message-scoped logger from ctx when present.
func LogEvent(ctx context.Context, event stream.Event) error {
	logger := types.LoggerFromContext(ctx)
	if logger == nil {
		logger = types.NewSlogAdapter(nil)
	}

	args := []any{
		"message_type", event.MessageType(),
		"event_type", event.EventType(),
	}
	if item, ok := event["configurationItem"].(map[string]any); ok {
		args = append(args,
			"resource_type", item["resourceType"],
			"resource_id", item["resourceId"],
			"aws_region", item["awsRegion"],
		)
	}

	logger.Info("config event", args...)
	return nil
}
