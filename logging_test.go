package bootenv

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Log(LogEvent{
		Level:   LevelWarn,
		Op:      "load",
		Message: "bad CRC, using default environment",
		Backend: "mmc0",
		Slot:    "primary",
		Err:     errors.New("checksum mismatch"),
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "WARN" {
		t.Fatalf("expected WARN, got %v", entry["level"])
	}
	for key, want := range map[string]string{
		"component": "bootenv",
		"op":        "load",
		"backend":   "mmc0",
		"slot":      "primary",
		"error":     "checksum mismatch",
	} {
		if entry[key] != want {
			t.Fatalf("expected %s=%q, got %v", key, want, entry[key])
		}
	}
}

func TestZerologLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Log(LogEvent{
		Level:   LevelInfo,
		Op:      "save",
		Message: "Writing to redundant device",
		Backend: "mmc0",
		Slot:    "redundant",
		Fields:  map[string]any{"offset": 8192},
	})

	line := buf.String()
	for _, want := range []string{`"level":"info"`, `"op":"save"`, `"slot":"redundant"`, `"offset":8192`, `"component":"bootenv"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %s", want, line)
		}
	}
}

func TestLoggerOrNop(t *testing.T) {
	LoggerOrNop(nil).Log(LogEvent{Message: "dropped"})

	var got []LogEvent
	logger := LoggerOrNop(LoggerFunc(func(event LogEvent) { got = append(got, event) }))
	logger.Log(LogEvent{Message: "kept"})
	if len(got) != 1 || got[0].Message != "kept" {
		t.Fatalf("expected event forwarded, got %+v", got)
	}
}

func TestLogLevelString(t *testing.T) {
	if LevelWarn.String() != "warn" || LogLevel(42).String() != "unknown" {
		t.Fatalf("unexpected level names")
	}
}
