package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		fn       func(*slog.Logger)
		contains []string
		excludes []string
	}{
		{
			name:     "debug logs show in debug level",
			level:    "debug",
			fn:       func(l *slog.Logger) { l.Debug("debug message") },
			contains: []string{"debug message", `"level":"DEBUG"`},
		},
		{
			name:     "debug logs don't show in info level",
			level:    "info",
			fn:       func(l *slog.Logger) { l.Debug("debug message") },
			excludes: []string{"debug message"},
		},
		{
			name:     "warn logs show in info level",
			level:    "info",
			fn:       func(l *slog.Logger) { l.Warn("warn message") },
			contains: []string{"warn message", `"level":"WARN"`},
		},
		{
			name:     "info logs don't show in error level",
			level:    "error",
			fn:       func(l *slog.Logger) { l.Info("info message") },
			excludes: []string{"info message"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.fn(NewLoggerWithWriter(&buf, tt.level, "json"))

			out := buf.String()
			for _, s := range tt.contains {
				if !strings.Contains(out, s) {
					t.Errorf("expected output to contain %q, got %q", s, out)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(out, s) {
					t.Errorf("expected output not to contain %q, got %q", s, out)
				}
			}
		})
	}
}

func TestLogFormats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		NewLoggerWithWriter(&buf, "info", "json").Info("hello", "request_id", "abc")

		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
		}
		if entry["msg"] != "hello" || entry["request_id"] != "abc" {
			t.Errorf("unexpected entry %v", entry)
		}
	})

	for _, format := range []string{"text", "dev"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLoggerWithWriter(&buf, "info", format).Info("hello", "request_id", "abc")

			out := buf.String()
			if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "request_id=abc") {
				t.Errorf("expected text output, got %q", out)
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic and must accept every level.
	l := Discard()
	l.Debug("d")
	l.Error("e")
}
