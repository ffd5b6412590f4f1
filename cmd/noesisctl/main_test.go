package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestFloatFlagOnlySetWhenChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Float64("coherence", 0, "")

	if got := floatFlag(cmd, "coherence"); got != nil {
		t.Fatalf("expected nil for unset flag, got %v", *got)
	}

	if err := cmd.Flags().Set("coherence", "0.85"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	got := floatFlag(cmd, "coherence")
	if got == nil || *got != 0.85 {
		t.Fatalf("expected 0.85, got %v", got)
	}
}

func TestNewLoggerLevelFallback(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")

	if level := newLogger(cmd).GetLevel().String(); level != "warn" {
		t.Fatalf("expected warn default, got %s", level)
	}

	if err := cmd.Flags().Set("log-level", "debug"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if level := newLogger(cmd).GetLevel().String(); level != "debug" {
		t.Fatalf("expected debug, got %s", level)
	}

	if err := cmd.Flags().Set("log-level", "nonsense"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if level := newLogger(cmd).GetLevel().String(); level != "warn" {
		t.Fatalf("expected warn fallback, got %s", level)
	}
}
