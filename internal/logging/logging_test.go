package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger == nil {
		t.Fatal("Discard() returned nil")
	}

	// Should not panic when logging.
	logger.Info("test message")
	logger.Debug("debug message")

	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should report all levels disabled")
	}
}

func TestDefault(t *testing.T) {
	t.Run("nil returns discard", func(t *testing.T) {
		logger := Default(nil)
		if logger == nil {
			t.Fatal("Default(nil) returned nil")
		}
		if logger.Enabled(context.Background(), slog.LevelInfo) {
			t.Error("Default(nil) should return a discard logger")
		}
	})

	t.Run("non-nil returns same logger", func(t *testing.T) {
		var buf bytes.Buffer
		original := slog.New(slog.NewTextHandler(&buf, nil))
		result := Default(original)
		if result != original {
			t.Error("Default should return the same logger when non-nil")
		}
	})
}

func TestNewLevels(t *testing.T) {
	cases := []struct {
		name      string
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", "debug", true, true},
		{"info", "info", false, true},
		{"warn", "warn", false, false},
		{"error", "error", false, false},
		{"mixed case", "DeBuG", true, true},
		{"unknown falls back to info", "verbose", false, true},
		{"empty falls back to info", "", false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, tc.level, "text")

			got := logger.Enabled(context.Background(), slog.LevelDebug)
			if got != tc.wantDebug {
				t.Errorf("debug enabled: got %v, want %v", got, tc.wantDebug)
			}
			got = logger.Enabled(context.Background(), slog.LevelInfo)
			if got != tc.wantInfo {
				t.Errorf("info enabled: got %v, want %v", got, tc.wantInfo)
			}
		})
	}
}

func TestNewFormats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "info", "json")
		logger.Info("hello", "k", "v")
		out := buf.String()
		if !strings.HasPrefix(out, "{") {
			t.Errorf("json format should emit JSON objects, got: %s", out)
		}
		if !strings.Contains(out, `"k":"v"`) {
			t.Errorf("missing attribute in output: %s", out)
		}
	})

	t.Run("text default", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "info", "")
		logger.Info("hello", "k", "v")
		out := buf.String()
		if strings.HasPrefix(out, "{") {
			t.Errorf("default format should be text, got: %s", out)
		}
		if !strings.Contains(out, "k=v") {
			t.Errorf("missing attribute in output: %s", out)
		}
	})
}
