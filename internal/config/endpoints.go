package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"eventcatcher/internal/stream"
)

// EndpointConfig identifies one managed provider connection. Each endpoint
// gets its own queue, named after its GUID.
type EndpointConfig struct {
	Name   string `json:"name" validate:"required"`
	GUID   string `json:"guid" validate:"required"`
	Region string `json:"region"`
}

// Endpoints decodes and validates CATCHER_ENDPOINTS_JSON. Endpoints without a
// region inherit AWS_REGION.
func (c *Config) Endpoints() ([]EndpointConfig, error) {
	var endpoints []EndpointConfig
	if err := json.Unmarshal([]byte(c.Catcher.EndpointsJSON), &endpoints); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "CATCHER_ENDPOINTS_JSON must be a JSON array of endpoints",
			Err:     err,
		}
	}
	if len(endpoints) == 0 {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "CATCHER_ENDPOINTS_JSON lists no endpoints",
		}
	}

	validate := validator.New()
	seen := make(map[string]struct{}, len(endpoints))
	for i := range endpoints {
		ep := &endpoints[i]
		if err := validate.Struct(ep); err != nil {
			return nil, &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("endpoint %d is invalid", i),
				Err:     err,
			}
		}

		parsed, err := uuid.Parse(ep.GUID)
		if err != nil {
			return nil, &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("endpoint %q has an invalid guid", ep.Name),
				Err:     err,
			}
		}
		ep.GUID = parsed.String()

		if _, dup := seen[ep.Name]; dup {
			return nil, &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("endpoint %q is listed twice", ep.Name),
			}
		}
		seen[ep.Name] = struct{}{}

		if ep.Region == "" {
			ep.Region = c.AWS.Region
		}
	}

	return endpoints, nil
}

// QueueName returns the per-endpoint queue name: <prefix>-<guid>.
func (c *Config) QueueName(ep EndpointConfig) string {
	return strings.TrimSuffix(c.Catcher.QueuePrefix, "-") + "-" + ep.GUID
}

// StreamConfig builds the stream settings for ep.
func (c *Config) StreamConfig(ep EndpointConfig) stream.Config {
	return stream.Config{
		Endpoint:     ep.Name,
		QueueName:    c.QueueName(ep),
		TopicName:    c.Catcher.TopicName,
		WaitTime:     c.Catcher.WaitTime,
		MaxMessages:  c.Catcher.MaxMessages,
		MessageTypes: c.Catcher.MessageTypes,
	}
}

// AckEnabled reports whether consumed messages are deleted from the queue.
func (c *Config) AckEnabled() bool {
	return c.Catcher.AckMode == "after_consume"
}
