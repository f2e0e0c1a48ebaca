package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCrHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "info message",
			level:   slog.LevelInfo,
			message: "object created",
			want:    "2024-06-15T14:30:45Z\tINFO\top-1\tobject created\n",
		},
		{
			name:    "with record attrs",
			level:   slog.LevelWarn,
			message: "orphaned overrides",
			attrs:   []slog.Attr{slog.Int64("channel_set", 42), slog.Int("count", 2)},
			want:    "2024-06-15T14:30:45Z\tWARN\top-1\torphaned overrides\tchannel_set=42\tcount=2\n",
		},
		{
			name:    "below threshold",
			level:   slog.LevelDebug,
			message: "lock acquired",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &crHandler{w: &buf, opID: "op-1", level: slog.LevelInfo}

			if tt.want == "" {
				if h.Enabled(context.Background(), tt.level) {
					t.Errorf("Enabled(%v) = true, want false", tt.level)
				}
				return
			}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)
			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestCrHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &crHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}
	h2 := h.WithAttrs([]slog.Attr{slog.String("command", "delete")}).(*crHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	r := slog.NewRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "done", 0)
	r.AddAttrs(slog.String("key", "abc"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	got := buf.String()
	for _, want := range []string{"a=1", "command=delete", "key=abc"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %s", got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "op-7", "debug")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	adapter := (&slogAdapter{l: logger}).With("command", "import")
	adapter.Debug("scanned tree", "entries", 3)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	line := string(data)
	for _, want := range []string{"\tDEBUG\top-7\tscanned tree", "command=import", "entries=3"} {
		if !strings.Contains(line, want) {
			t.Errorf("log %q missing %q", line, want)
		}
	}

	if _, _, err := newLogger(dir, "op-8", "loud"); err == nil {
		t.Error("newLogger() with bad level error = nil")
	}
}
