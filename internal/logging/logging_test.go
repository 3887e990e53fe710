package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}, "api"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewAppliesLevel(t *testing.T) {
	logger, err := New(Config{Level: "warn", Format: "console"}, "worker")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug disabled")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn enabled")
	}
}
