// Package models contains the data structures used throughout gocmdexec.
package models

import "time"

// LineEndingPolicy controls how newlines reach the transcript file.
type LineEndingPolicy string

const (
	// LineEndingsAuto strips LF for Telnet sessions and keeps it for SSH.
	LineEndingsAuto LineEndingPolicy = "auto"
	// LineEndingsKeep writes text exactly as received.
	LineEndingsKeep LineEndingPolicy = "keep"
	// LineEndingsStrip removes every LF before writing.
	LineEndingsStrip LineEndingPolicy = "strip"
)

// Resolve turns auto into a concrete policy for the given protocol.
func (p LineEndingPolicy) Resolve(proto Protocol) LineEndingPolicy {
	if p != LineEndingsAuto && p != "" {
		return p
	}
	if proto == ProtocolTelnet {
		return LineEndingsStrip
	}
	return LineEndingsKeep
}

// Settings holds the complete configuration for a run.
type Settings struct {
	LogDir      string
	DisableLog  bool
	LineEndings LineEndingPolicy
	Session     SessionSettings
	Logging     LoggingSettings
	WOL         *WOLConfig      // nil if not configured
	Telegram    *TelegramConfig // nil if not configured
}

// SessionSettings holds timing and protocol knobs for the session driver.
type SessionSettings struct {
	ConnectTimeout  time.Duration
	LoginTimeout    time.Duration
	IdleThreshold   time.Duration // silence before an idle flush is sent
	PollInterval    time.Duration // sleep between empty polls
	CommandTimeout  time.Duration // hard cap per command
	DrainWindow     time.Duration // how long trailing output is collected before close
	ConnectAttempts int
	Newline         string
	Encodings       []string // decoder fallback order
}

// LoggingSettings configures the optional rotating operational log file.
type LoggingSettings struct {
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}
