package types

import (
	"context"
	"testing"
)

// mockLogger implements the Logger interface for testing purposes.
type mockLogger struct {
	messages []string
}

func (m *mockLogger) Debug(msg string, args ...any) { m.messages = append(m.messages, "debug:"+msg) }
func (m *mockLogger) Info(msg string, args ...any)  { m.messages = append(m.messages, "info:"+msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.messages = append(m.messages, "error:"+msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.messages = append(m.messages, "warn:"+msg) }
func (m *mockLogger) With(args ...any) Logger       { return m }

func TestWithRequestID_GetRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc")
	if got := GetRequestID(ctx); got != "req-abc" {
		t.Errorf("got %q, want %q", got, "req-abc")
	}

	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("expected empty request ID on bare context, got %q", got)
	}
}

func TestWithLogger_LoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Error("expected nil logger on bare context")
	}

	logger := &mockLogger{}
	ctx := WithLogger(context.Background(), logger)

	got := LoggerFromContext(ctx)
	if got == nil {
		t.Fatal("expected logger, got nil")
	}
	got.Info("hello")
	if len(logger.messages) != 1 || logger.messages[0] != "info:hello" {
		t.Errorf("expected message routed to stored logger, got %v", logger.messages)
	}
}
