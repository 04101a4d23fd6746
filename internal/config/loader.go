package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// ssmParamSuffix marks a pointer variable: CATCHER_ENDPOINTS_JSON_SSM_PARAM
	// names the SSM parameter holding CATCHER_ENDPOINTS_JSON.
	ssmParamSuffix = "_SSM_PARAM"

	// localEnv is the APP_ENV value that skips SSM.
	localEnv = "local"

	ssmTimeout = 30 * time.Second
)

// ssmBacked lists the variables that may be supplied through an SSM pointer.
// The endpoint list carries account layout, so deployments keep it in
// Parameter Store rather than in the task definition.
var ssmBacked = []string{
	"CATCHER_ENDPOINTS_JSON",
	"CATCHER_ENDPOINT",
	"CATCHER_QUEUE_PREFIX",
	"CATCHER_TOPIC_NAME",
}

// env is the process environment as seen by the SSM resolution step.
type env interface {
	Lookup(key string) (string, bool)
	Set(key, value string) error
}

type osEnv struct{}

func (osEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }
func (osEnv) Set(key, value string) error      { return os.Setenv(key, value) }

// LoadConfig loads the long-running catcher's configuration.
//
// Priority: OS environment, then .env in the working directory, then SSM
// pointers (skipped when APP_ENV=local). store may be nil when no pointer is
// set. Besides the struct tags, HEALTH_STALE_AFTER must exceed
// CATCHER_WAIT_TIME, otherwise every long poll would look stale.
func LoadConfig(store ParameterStore) (*Config, error) {
	return loadConfig(store, osEnv{})
}

func loadConfig(store ParameterStore, e env) (*Config, error) {
	var cfg Config
	if err := load(&cfg, store, e); err != nil {
		return nil, err
	}
	cfg.Build = buildInfo()

	if cfg.Health.StaleAfter <= cfg.Catcher.WaitTime {
		return nil, &ConfigError{
			Type: ErrValidation,
			Message: fmt.Sprintf("HEALTH_STALE_AFTER (%s) must exceed CATCHER_WAIT_TIME (%s)",
				cfg.Health.StaleAfter, cfg.Catcher.WaitTime),
		}
	}
	return &cfg, nil
}

// LoadLambdaConfig loads the Lambda entry point's configuration with the same
// priority chain as LoadConfig.
func LoadLambdaConfig(store ParameterStore) (*LambdaConfig, error) {
	var cfg LambdaConfig
	if err := load(&cfg, store, osEnv{}); err != nil {
		return nil, err
	}
	cfg.Build = buildInfo()
	return &cfg, nil
}

// load fills target from the environment and validates it. It also pins
// time.Local to UTC so log and metric timestamps agree across hosts.
func load(target any, store ParameterStore, e env) error {
	time.Local = time.UTC

	// Missing .env is fine; present values never override the OS environment.
	_ = godotenv.Load()

	if appEnv, _ := e.Lookup("APP_ENV"); appEnv != localEnv {
		if err := resolvePointers(store, e); err != nil {
			return err
		}
	}

	if err := envconfig.Process("", target); err != nil {
		return &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	if err := validator.New().Struct(target); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

// resolvePointers sets every unset ssmBacked variable that has a non-empty
// _SSM_PARAM pointer to the value of the named parameter, in one store call.
func resolvePointers(store ParameterStore, e env) error {
	pointers := make(map[string]string)
	for _, key := range ssmBacked {
		if _, set := e.Lookup(key); set {
			continue
		}
		if name, _ := e.Lookup(key + ssmParamSuffix); name != "" {
			pointers[key] = name
		}
	}
	if len(pointers) == 0 {
		return nil
	}

	keys := slices.Sorted(maps.Keys(pointers))
	if store == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("no parameter store to resolve %s", strings.Join(keys, ", ")),
		}
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, pointers[key])
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	values, err := store.Parameters(ctx, names)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %s", strings.Join(keys, ", ")),
			Err:     err,
		}
	}

	var missing []string
	for _, key := range keys {
		value, ok := values[pointers[key]]
		if !ok {
			missing = append(missing, key)
			continue
		}
		if err := e.Set(key, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set %s", key),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
