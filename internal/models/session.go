package models

import "time"

// CompletionReason explains why the completion engine stopped waiting.
type CompletionReason string

const (
	ReasonPrompt    CompletionReason = "prompt"    // a known prompt ended the output
	ReasonSecondary CompletionReason = "secondary" // password or inline query
	ReasonTimeout   CompletionReason = "timeout"   // hard per-command cap reached
	ReasonClosed    CompletionReason = "closed"    // transport reached end of stream
)

// CommandResult holds the outcome of one scripted command.
type CommandResult struct {
	Command  string
	Reason   CompletionReason
	Pages    int // pager keystrokes sent
	Flushes  int // idle newlines sent
	Duration time.Duration
}

// SessionResult holds the outcome of a full run against one target.
type SessionResult struct {
	Host       string
	Port       int
	Protocol   Protocol
	Prompt     string
	LogFile    string
	Attempts   int
	Commands   []CommandResult
	StartTime  time.Time
	Duration   time.Duration
	FailedStep string
	Error      error
}

// TimedOut counts commands abandoned at the hard timeout.
func (r *SessionResult) TimedOut() int {
	n := 0
	for _, c := range r.Commands {
		if c.Reason == ReasonTimeout {
			n++
		}
	}
	return n
}
