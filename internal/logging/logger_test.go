package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:      LevelDebug,
		Output:     &buf,
		JSON:       true,
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}

	logger := New(cfg)
	if logger == nil {
		t.Fatal("New logger should not be nil")
	}

	t.Run("Levels", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug msg")
		if !strings.Contains(buf.String(), "debug msg") {
			t.Error("fast debug logging failed")
		}

		buf.Reset()
		logger.Info("info msg")
		if !strings.Contains(buf.String(), "info msg") {
			t.Error("fast info logging failed")
		}

		buf.Reset()
		logger.Warn("warn msg")
		if !strings.Contains(buf.String(), "warn msg") {
			t.Error("fast warn logging failed")
		}

		buf.Reset()
		logger.Error("error msg")
		if !strings.Contains(buf.String(), "error msg") {
			t.Error("fast error logging failed")
		}
	})

	t.Run("DynamicLevel", func(t *testing.T) {
		logger.SetLevel(LevelError)
		if logger.GetLevel() != LevelError {
			t.Error("SetLevel failed")
		}

		buf.Reset()
		logger.Info("should not appear")
		if buf.Len() > 0 {
			t.Error("Logged info message when level was Error")
		}

		logger.SetLevel(LevelDebug)
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		l := logger.WithComponent("test-comp")
		l.Info("msg")
		if !strings.Contains(buf.String(), "test-comp") {
			t.Error("WithComponent missing component field")
		}
	})

	t.Run("WithFields", func(t *testing.T) {
		buf.Reset()
		l := logger.WithFields(map[string]any{"foo": "bar"})
		l.Info("msg")
		if !strings.Contains(buf.String(), "foo") || !strings.Contains(buf.String(), "bar") {
			t.Error("WithFields missing fields")
		}
	})

	t.Run("Audit", func(t *testing.T) {
		buf.Reset()
		logger.Audit("login", "user:123", map[string]any{"ip": "1.2.3.4"})
		logStr := buf.String()
		if !strings.Contains(logStr, "AUDIT") {
			t.Error("Audit log missing AUDIT message")
		}
		if !strings.Contains(logStr, "user:123") {
			t.Error("Audit log missing resource")
		}
	})

	t.Run("Metric", func(t *testing.T) {
		buf.Reset()
		logger.Metric("cpu_usage", 12.5, map[string]string{"h": "h1"})
		logStr := buf.String()
		if !strings.Contains(logStr, "METRIC") {
			t.Error("Metric log missing METRIC message")
		}
		if !strings.Contains(logStr, "12.5") {
			t.Error("Metric log missing value")
		}
	})
}

func TestDefaultLogger(t *testing.T) {
	// Just cover the default logger functions to ensure no panics
	// We can't easily capture stdout/stderr without piping,
	// so we'll just execute them for coverage.

	// Ensure default is initialized
	l := Default()
	if l == nil {
		t.Fatal("Default logger is nil")
	}

	// Create a buffer logger and set it as default to capture output
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	newDefault := New(cfg)
	SetDefault(newDefault)

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
	Errorf("error %s", "formatted")
	Audit("test", "res", nil)

	WithComponent("comp").Info("comp msg")

	if buf.Len() == 0 {
		t.Error("Default logger captured no output")
	}
}

func TestJSONLogParsing(t *testing.T) {
	// Verify that our JSON structure is correct
	var buf bytes.Buffer
	cfg := Config{Level: LevelInfo, Output: &buf, JSON: true}
	l := New(cfg)

	l.Info("json test", "key", "value")

	var data map[string]any
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if data["msg"] != "json test" {
		t.Error("JSON msg field incorrect")
	}
	if data["key"] != "value" {
		t.Error("JSON extra field incorrect")
	}
	if data["level"] != "INFO" {
		t.Error("JSON level incorrect")
	}
}
