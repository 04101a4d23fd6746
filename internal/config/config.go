// Package config defines the configuration of the event catcher. It is loaded
// once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format makes LoadConfig fail, and the
// entry points exit immediately (fail fast).
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"event-catcher"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	AWS           AWSConfig
	Catcher       CatcherConfig
	Health        HealthConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// AWSConfig holds regional configuration shared by all endpoints.
type AWSConfig struct {
	// Region is used for SSM and for endpoints that do not name their own.
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// CatcherConfig controls the event streams.
type CatcherConfig struct {
	// EndpointsJSON is a JSON array of EndpointConfig objects, e.g.
	// [{"name":"ems-1","guid":"0f5c...","region":"eu-central-1"}].
	EndpointsJSON string `envconfig:"CATCHER_ENDPOINTS_JSON" validate:"required,json"`

	QueuePrefix  string        `envconfig:"CATCHER_QUEUE_PREFIX" default:"manageiq-awsconfig-queue" validate:"required"`
	TopicName    string        `envconfig:"CATCHER_TOPIC_NAME" default:"AWSConfig_topic" validate:"required,max=256"`
	WaitTime     time.Duration `envconfig:"CATCHER_WAIT_TIME" default:"20s" validate:"gte=1s,lte=20s"`
	MaxMessages  int32         `envconfig:"CATCHER_MAX_MESSAGES" default:"10" validate:"gte=1,lte=10"`
	AckMode      string        `envconfig:"CATCHER_ACK_MODE" default:"after_consume" validate:"oneof=after_consume none"`

	// MessageTypes restricts delivery to the listed notification types.
	// Unset delivers every type.
	MessageTypes []string `envconfig:"CATCHER_MESSAGE_TYPES"`
}

// HealthConfig holds the operational HTTP server settings.
type HealthConfig struct {
	Port string `envconfig:"HEALTH_PORT" default:"8080"`
	// StaleAfter marks a stream unhealthy when it has not polled for this
	// long. It must exceed CATCHER_WAIT_TIME.
	StaleAfter time.Duration `envconfig:"HEALTH_STALE_AFTER" default:"2m" validate:"gt=0"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"EventCatcher"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo identifies the running binary. It is filled from -ldflags, not
// from the environment:
//
//	go build -ldflags "-X eventcatcher/internal/config.version=1.4.0 \
//	    -X eventcatcher/internal/config.commit=$(git rev-parse --short HEAD)" ./cmd/event-catcher
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func buildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// ConfigError is returned by the loaders. Type says which stage failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LambdaConfig is the configuration of the Lambda entry point. The event
// source mapping owns the queue, so no endpoint list or polling settings are
// needed.
type LambdaConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	AWS AWSConfig

	// Endpoint names the provider connection the mapped queue belongs to.
	Endpoint     string   `envconfig:"CATCHER_ENDPOINT" validate:"required"`
	MessageTypes []string `envconfig:"CATCHER_MESSAGE_TYPES"`

	Observability ObservabilityConfig

	Build BuildInfo
}
