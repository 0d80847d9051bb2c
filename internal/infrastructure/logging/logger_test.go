package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		check  func(t *testing.T, buf *bytes.Buffer)
	}{
		{
			name: "text format",
			config: Config{
				Level:  LevelInfo,
				Format: FormatText,
			},
			check: func(t *testing.T, buf *bytes.Buffer) {
				if !strings.Contains(buf.String(), "level=INFO") {
					t.Error("expected text format with level=INFO")
				}
			},
		},
		{
			name: "json format",
			config: Config{
				Level:  LevelInfo,
				Format: FormatJSON,
			},
			check: func(t *testing.T, buf *bytes.Buffer) {
				var m map[string]interface{}
				if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
					t.Errorf("expected valid JSON output: %v", err)
				}
				if m["level"] != "INFO" {
					t.Errorf("expected level INFO, got %v", m["level"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.config.Output = buf

			logger := New(tt.config)
			logger.InfoContext(context.Background(), "test message")

			tt.check(t, buf)
		})
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     Level
		logMethod func(l *Logger)
		expected  bool
	}{
		{
			name:      "debug at debug level",
			level:     LevelDebug,
			logMethod: func(l *Logger) { l.DebugContext(context.Background(), "test") },
			expected:  true,
		},
		{
			name:      "debug at info level",
			level:     LevelInfo,
			logMethod: func(l *Logger) { l.DebugContext(context.Background(), "test") },
			expected:  false,
		},
		{
			name:      "info at info level",
			level:     LevelInfo,
			logMethod: func(l *Logger) { l.InfoContext(context.Background(), "test") },
			expected:  true,
		},
		{
			name:      "warn at error level",
			level:     LevelError,
			logMethod: func(l *Logger) { l.WarnContext(context.Background(), "test") },
			expected:  false,
		},
		{
			name:      "error at error level",
			level:     LevelError,
			logMethod: func(l *Logger) { l.ErrorContext(context.Background(), "test") },
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := New(Config{
				Level:  tt.level,
				Format: FormatText,
				Output: buf,
			})

			tt.logMethod(logger)

			hasOutput := buf.Len() > 0
			if hasOutput != tt.expected {
				t.Errorf("expected output=%v, got output=%v", tt.expected, hasOutput)
			}
		})
	}
}

func TestContextEnrichment(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{
		Level:  LevelDebug,
		Format: FormatJSON,
		Output: buf,
	})

	ctx := context.Background()
	ctx = WithCorrelationID(ctx, "corr-123")
	ctx = WithEntityType(ctx, "movies")
	ctx = WithQueryID(ctx, "q-movies")
	ctx = WithOperationID(ctx, "op-789")

	logger.InfoContext(ctx, "enriched log")

	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	expected := map[string]string{
		"correlation_id": "corr-123",
		"entity_type":    "movies",
		"query_id":       "q-movies",
		"operation_id":   "op-789",
	}

	for key, expectedVal := range expected {
		if m[key] != expectedVal {
			t.Errorf("expected %s=%s, got %v", key, expectedVal, m[key])
		}
	}
}

func TestWith(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: buf,
	})

	ctx := WithEntityType(context.Background(), "movies")
	logger.With("component", "engine").InfoContext(ctx, "with attributes")

	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if m["component"] != "engine" {
		t.Errorf("expected component=engine, got %v", m["component"])
	}
	if m["entity_type"] != "movies" {
		t.Errorf("expected entity_type=movies, got %v", m["entity_type"])
	}
}

func TestCorrelationIDExtraction(t *testing.T) {
	ctx := context.Background()

	// No correlation ID
	if id := CorrelationID(ctx); id != "" {
		t.Errorf("expected empty correlation ID, got %s", id)
	}

	// With correlation ID
	ctx = WithCorrelationID(ctx, "test-id")
	if id := CorrelationID(ctx); id != "test-id" {
		t.Errorf("expected correlation ID 'test-id', got %s", id)
	}
}

func TestDomainLogHelpers(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{
		Level:  LevelDebug,
		Format: FormatJSON,
		Output: buf,
	})

	ctx := context.Background()

	t.Run("LogPushStart", func(t *testing.T) {
		buf.Reset()
		LogPushStart(ctx, logger, []string{"movies"}, 3)

		var m map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}

		if m["msg"] != "push started" {
			t.Errorf("unexpected message: %v", m["msg"])
		}
		if m["pending_operations"] != float64(3) {
			t.Errorf("unexpected pending_operations: %v", m["pending_operations"])
		}
	})

	t.Run("LogPushComplete", func(t *testing.T) {
		buf.Reset()
		LogPushComplete(ctx, logger, 1, 2, 3, 0, 5*time.Second)

		var m map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}

		if m["duration_ms"] != float64(5000) {
			t.Errorf("unexpected duration_ms: %v", m["duration_ms"])
		}
		if m["deletions"] != float64(3) {
			t.Errorf("unexpected deletions: %v", m["deletions"])
		}
	})

	t.Run("LogOperationFailed without error", func(t *testing.T) {
		buf.Reset()
		LogOperationFailed(ctx, logger, "m1", 500, nil)

		var m map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}

		if m["status"] != float64(500) {
			t.Errorf("unexpected status: %v", m["status"])
		}
		if _, ok := m["error"]; ok {
			t.Error("error attribute should be omitted")
		}
	})

	t.Run("LogPageApplied", func(t *testing.T) {
		buf.Reset()
		LogPageApplied(ctx, logger, 2, 50, 1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

		var m map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}

		if m["rows"] != float64(50) {
			t.Errorf("unexpected rows: %v", m["rows"])
		}
		if m["delta_token"] != "2024-01-01T00:00:00Z" {
			t.Errorf("unexpected delta_token: %v", m["delta_token"])
		}
	})
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Error("expected non-nil default logger")
	}

	// Calling Default() again should return the same instance
	logger2 := Default()
	if logger != logger2 {
		t.Error("expected same logger instance from Default()")
	}
}
