package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn, FormatText)
	logger.SetOutput(&buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below warn leaked through: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn/error messages missing: %s", out)
	}
}

func TestJSONOutputWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatJSON)
	logger.SetOutput(&buf)

	logger.WithFields(map[string]interface{}{
		"provider": "stockx",
		"jobId":    "abc-123",
	}).Info("job dispatched")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Message != "job dispatched" {
		t.Errorf("message = %q", entry.Message)
	}
	if entry.Fields["provider"] != "stockx" {
		t.Errorf("provider field = %v", entry.Fields["provider"])
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(LevelInfo, FormatJSON)
	parent.SetOutput(&buf)

	child := parent.WithField("provider", "goat")
	if len(parent.fields) != 0 {
		t.Error("parent logger gained fields from child")
	}
	if child.fields["provider"] != "goat" {
		t.Error("child logger missing field")
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := NewLogger(LevelDebug, FormatText)
	ctx := WithLogger(context.Background(), logger)

	if got := FromContext(ctx); got != logger {
		t.Error("FromContext did not return the stored logger")
	}

	// Missing logger falls back to the global instance.
	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext returned nil for empty context")
	}
}

func TestParseHelpers(t *testing.T) {
	if ParseLogLevel("warning") != LevelWarn {
		t.Error("warning alias not parsed")
	}
	if ParseLogLevel("nonsense") != LevelInfo {
		t.Error("unknown level should default to info")
	}
	if ParseLogFormat("text") != FormatText {
		t.Error("text format not parsed")
	}
	if ParseLogFormat("xml") != FormatJSON {
		t.Error("unknown format should default to json")
	}
}
