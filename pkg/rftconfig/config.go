// Package rftconfig holds the tunable constants of the transfer
// protocol and an optional YAML override file, the way the reference
// codebase layers a parsed config.DrillConfig over compiled-in
// defaults.
package rftconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Tunables are the knobs both sender and receiver read at startup. The
// zero value is never used directly; Default() supplies the compiled-in
// baseline and LoadOverride layers a YAML file on top of it.
type Tunables struct {
	InitialCwnd       int
	MaxCwnd           int
	InitialSsthresh   int
	MinSsthresh       int
	RetransmitTimeout time.Duration
	SenderDeadPeer    time.Duration
	ReceiverDeadPeer  time.Duration
	LingerTimeout     time.Duration
	LogLevel          string
}

// Default returns the compiled-in baseline tunables.
func Default() Tunables {
	return Tunables{
		InitialCwnd:       512,
		MaxCwnd:           10240,
		InitialSsthresh:   5120,
		MinSsthresh:       1024,
		RetransmitTimeout: 500 * time.Millisecond,
		SenderDeadPeer:    100 * time.Second,
		ReceiverDeadPeer:  10 * time.Second,
		LingerTimeout:     2 * time.Second,
		LogLevel:          "warn",
	}
}

// rawOverride mirrors Tunables but with its durations spelled as
// time.ParseDuration strings ("500ms", "2s"), since the YAML library
// unmarshals scalars onto a field's underlying type and time.Duration's
// underlying type is int64 — a bare YAML "500ms" would fail to parse
// as one. Every field is a pointer so an absent key leaves the
// corresponding Tunables field untouched rather than zeroing it.
type rawOverride struct {
	InitialCwnd       *int    `yaml:"initial_cwnd"`
	MaxCwnd           *int    `yaml:"max_cwnd"`
	InitialSsthresh   *int    `yaml:"initial_ssthresh"`
	MinSsthresh       *int    `yaml:"min_ssthresh"`
	RetransmitTimeout *string `yaml:"retransmit_timeout"`
	SenderDeadPeer    *string `yaml:"sender_dead_peer_timeout"`
	ReceiverDeadPeer  *string `yaml:"receiver_dead_peer_timeout"`
	LingerTimeout     *string `yaml:"linger_timeout"`
	LogLevel          *string `yaml:"log_level"`
}

// LoadOverride reads a YAML file at path and layers any keys it sets on
// top of base, returning the merged result. A key absent from the file
// leaves base's corresponding value untouched.
func LoadOverride(path string, base Tunables) (Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("rftconfig: read %s: %w", path, err)
	}

	var raw rawOverride
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Tunables{}, fmt.Errorf("rftconfig: parse %s: %w", path, err)
	}

	cfg := base
	if raw.InitialCwnd != nil {
		cfg.InitialCwnd = *raw.InitialCwnd
	}
	if raw.MaxCwnd != nil {
		cfg.MaxCwnd = *raw.MaxCwnd
	}
	if raw.InitialSsthresh != nil {
		cfg.InitialSsthresh = *raw.InitialSsthresh
	}
	if raw.MinSsthresh != nil {
		cfg.MinSsthresh = *raw.MinSsthresh
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}

	durations := []struct {
		raw *string
		dst *time.Duration
	}{
		{raw.RetransmitTimeout, &cfg.RetransmitTimeout},
		{raw.SenderDeadPeer, &cfg.SenderDeadPeer},
		{raw.ReceiverDeadPeer, &cfg.ReceiverDeadPeer},
		{raw.LingerTimeout, &cfg.LingerTimeout},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return Tunables{}, fmt.Errorf("rftconfig: parse %s: %w", path, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}
