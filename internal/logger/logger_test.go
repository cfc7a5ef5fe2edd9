package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "console"},
		{"info level", "info", "console"},
		{"warn level", "warn", "console"},
		{"error level", "error", "console"},
		{"json format", "info", "json"},
		{"uppercase level", "DEBUG", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, tt.format)
			if Log == nil {
				t.Error("expected Log to be initialized")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level, "console")
			if got := zerolog.GlobalLevel(); got != tt.expect {
				t.Errorf("level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
	Setup("info", "console")
}

func TestJSONOutputCarriesFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	SetOutput(&buf, "json")
	defer Setup("info", "console")

	Log.With("component", "generate").Warn("prompt truncated", "from", 3000, "to", 1548, "orphan")

	var event map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event); err != nil {
		t.Fatalf("output is not a single JSON event: %v (%q)", err, buf.String())
	}
	if event["level"] != "warn" {
		t.Errorf("expected level warn, got %v", event["level"])
	}
	if event["component"] != "generate" {
		t.Errorf("expected component field, got %v", event["component"])
	}
	if event["from"] != float64(3000) || event["to"] != float64(1548) {
		t.Errorf("unexpected fields: %v", event)
	}
	if _, ok := event["orphan"]; ok {
		t.Error("trailing key without value should be dropped")
	}
}

func TestErrorValuesAreStrings(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	defer Setup("info", "console")

	Log.Error("step failed", "error", errors.New("backend gone"))

	if !strings.Contains(buf.String(), `"error":"backend gone"`) {
		t.Errorf("expected error text in output, got %q", buf.String())
	}
}

func TestAddFieldsWithNonStringKey(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	defer Setup("info", "console")

	Log.Info("test non-string key", 123, "value")

	if !strings.Contains(buf.String(), `"123":"value"`) {
		t.Errorf("expected stringified key, got %q", buf.String())
	}
}
