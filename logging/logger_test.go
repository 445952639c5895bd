package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{
		Level:  logrus.InfoLevel,
		Format: "text",
		Output: &buf,
	})

	logger.WithField("key", "value").Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected output to contain 'key=value', got: %s", output)
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{
		Level:  logrus.InfoLevel,
		Format: "json",
		Output: &buf,
	})

	logger.WithField("key", "value").Info("test message")

	output := buf.String()
	if !strings.Contains(output, `"msg":"test message"`) {
		t.Errorf("expected JSON output to contain the message, got: %s", output)
	}
	if !strings.Contains(output, `"key":"value"`) {
		t.Errorf("expected JSON output to contain the field, got: %s", output)
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{
		Level:  logrus.WarnLevel,
		Format: "text",
		Output: &buf,
	})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Errorf("expected debug/info to be filtered out, got: %s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("expected warn message to appear, got: %s", output)
	}
}

func TestSetDefaultAndDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: logrus.InfoLevel, Format: "text", Output: &buf})

	orig := Default()
	defer SetDefault(orig)

	SetDefault(logger)
	if Default() != logger {
		t.Fatal("expected Default() to return the logger set via SetDefault")
	}
}

func TestWithContainerOperationPIDPath(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: logrus.InfoLevel, Format: "json", Output: &buf})

	WithContainer(logger, "abc123").
		WithFields(logrus.Fields{}).
		Info("created")
	if !strings.Contains(buf.String(), `"container_id":"abc123"`) {
		t.Errorf("expected container_id field, got: %s", buf.String())
	}

	buf.Reset()
	WithOperation(logger, "start").Info("starting")
	if !strings.Contains(buf.String(), `"operation":"start"`) {
		t.Errorf("expected operation field, got: %s", buf.String())
	}

	buf.Reset()
	WithPID(logger, 42).Info("running")
	if !strings.Contains(buf.String(), `"pid":42`) {
		t.Errorf("expected pid field, got: %s", buf.String())
	}

	buf.Reset()
	WithPath(logger, "/run/ctrun/abc").Info("state saved")
	if !strings.Contains(buf.String(), `"path":"/run/ctrun/abc"`) {
		t.Errorf("expected path field, got: %s", buf.String())
	}
}

func TestContextWithLoggerAndFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: logrus.InfoLevel, Format: "text", Output: &buf})
	entry := WithOperation(logger, "kill")

	ctx := ContextWithLogger(context.Background(), entry)
	got := FromContext(ctx)
	if got != entry {
		t.Fatal("expected FromContext to return the attached entry")
	}

	empty := FromContext(context.Background())
	if empty == nil {
		t.Fatal("expected FromContext to fall back to the default logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
