// Package rftlog formats the per-packet trace lines both endpoints emit.
// It wraps the standard library logger rather than replacing it, the way
// the reference codebase reaches for log.Printf/log.Fatalf directly
// instead of a third-party structured logger.
package rftlog

import (
	"log"
	"os"
)

// Level controls trace verbosity. Packet-level SEND/RECV lines are only
// emitted at LevelTrace; protocol warnings are emitted at LevelWarn and
// LevelTrace, and Fatalf always logs.
type Level int

const (
	LevelSilent Level = iota
	LevelWarn
	LevelTrace
)

// ParseLevel maps a config string onto a Level, defaulting to LevelWarn
// for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "silent":
		return LevelSilent
	case "trace":
		return LevelTrace
	case "warn", "":
		return LevelWarn
	default:
		return LevelWarn
	}
}

// Logger is a thin façade over *log.Logger with the packet-trace helpers
// the sender and receiver call on every send/receive/drop.
type Logger struct {
	level Level
	std   *log.Logger
}

// New builds a Logger writing to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{level: level, std: log.New(os.Stderr, "", log.LstdFlags)}
}

// Sent logs an outgoing packet at trace level.
func (l *Logger) Sent(kind string, seq, ack uint16) {
	if l.level < LevelTrace {
		return
	}
	l.std.Printf("SEND %s seq=%d ack=%d", kind, seq, ack)
}

// Received logs an incoming packet at trace level, flagging duplicates.
func (l *Logger) Received(kind string, seq, ack uint16, dup bool) {
	if l.level < LevelTrace {
		return
	}
	if dup {
		l.std.Printf("RECV %s seq=%d ack=%d [DUP]", kind, seq, ack)
		return
	}
	l.std.Printf("RECV %s seq=%d ack=%d", kind, seq, ack)
}

// Warnf logs a protocol-violation or drop warning; always emitted unless
// the logger is silenced.
func (l *Logger) Warnf(format string, args ...any) {
	if l.level < LevelWarn {
		return
	}
	l.std.Printf("WARN "+format, args...)
}

// Fatalf logs and terminates the process, mirroring the reference
// codebase's use of log.Fatalf for unrecoverable startup failures.
func (l *Logger) Fatalf(format string, args ...any) {
	l.std.Fatalf(format, args...)
}
