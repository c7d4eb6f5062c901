package logging

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, production := range []bool{true, false} {
		t.Run(fmt.Sprintf("production=%v", production), func(t *testing.T) {
			logger, err := New(production, "warn")
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if logger.Core().Enabled(zapcore.InfoLevel) {
				t.Error("info should be disabled at warn level")
			}
			if !logger.Core().Enabled(zapcore.WarnLevel) {
				t.Error("warn should be enabled at warn level")
			}
		})
	}
}

func TestErrorHook(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	hook := ErrorHook(zap.New(core))

	hook(errors.New("clear blocklist: connection refused"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel || entries[0].Message != "gate error" {
		t.Errorf("unexpected entry: %v %q", entries[0].Level, entries[0].Message)
	}
	if got := entries[0].ContextMap()["error"]; got != "clear blocklist: connection refused" {
		t.Errorf("unexpected error field: %v", got)
	}
}

func TestBlockHook(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	hook := BlockHook(zap.New(core))

	hook("203.0.113.5", "honeypot access: /.env")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel || entry.Message != "client blocked" {
		t.Errorf("unexpected entry: %v %q", entry.Level, entry.Message)
	}
	fields := entry.ContextMap()
	if fields["client_id"] != "203.0.113.5" || fields["reason"] != "honeypot access: /.env" {
		t.Errorf("unexpected fields: %v", fields)
	}
}
