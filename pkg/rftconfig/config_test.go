package rftconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverrideLayersOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.yaml")
	contents := "initial_cwnd: 1024\nretransmit_timeout: 750ms\nlog_level: trace\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := LoadOverride(path, Default())
	if err != nil {
		t.Fatalf("LoadOverride: %v", err)
	}

	if cfg.InitialCwnd != 1024 {
		t.Fatalf("InitialCwnd: got %d, want 1024", cfg.InitialCwnd)
	}
	if cfg.RetransmitTimeout != 750*time.Millisecond {
		t.Fatalf("RetransmitTimeout: got %v, want 750ms", cfg.RetransmitTimeout)
	}
	if cfg.LogLevel != "trace" {
		t.Fatalf("LogLevel: got %q, want trace", cfg.LogLevel)
	}

	// Untouched fields fall through from the default baseline.
	if cfg.MaxCwnd != Default().MaxCwnd {
		t.Fatalf("MaxCwnd should be untouched: got %d, want %d", cfg.MaxCwnd, Default().MaxCwnd)
	}
	if cfg.SenderDeadPeer != Default().SenderDeadPeer {
		t.Fatalf("SenderDeadPeer should be untouched: got %v, want %v", cfg.SenderDeadPeer, Default().SenderDeadPeer)
	}
}

func TestLoadOverrideMissingFile(t *testing.T) {
	if _, err := LoadOverride(filepath.Join(t.TempDir(), "missing.yaml"), Default()); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
