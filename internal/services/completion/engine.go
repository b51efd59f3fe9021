// Package completion decides, after each command is sent, when the remote
// shell is ready for the next one.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/rs/zerolog"
)

// State is a step of the per-command state machine.
type State int

const (
	StateSent State = iota
	StateAccumulating
	StatePaginated
	StateFallbackRetry
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateAccumulating:
		return "accumulating"
	case StatePaginated:
		return "paginated"
	case StateFallbackRetry:
		return "fallback_retry"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the part of a transport the engine drives.
type Conn interface {
	Send(text string) error
	Receive() (string, error)
	Closed() bool
}

// Sink receives every chunk of output exactly once.
type Sink interface {
	Write(text string) error
}

// Service defines the interface for waiting on command completion.
type Service interface {
	Await(ctx context.Context, conn Conn, sink Sink, prompts *models.PromptSet) (*Result, error)
}

// Config holds the engine timings.
type Config struct {
	IdleThreshold  time.Duration
	PollInterval   time.Duration
	CommandTimeout time.Duration // zero disables the hard cap
	Newline        string
	PagerKey       string
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		IdleThreshold:  2 * time.Second,
		PollInterval:   50 * time.Millisecond,
		CommandTimeout: 60 * time.Second,
		Newline:        "\n",
		PagerKey:       " ",
	}
}

// Result holds the outcome of one wait.
type Result struct {
	State    State
	Reason   models.CompletionReason
	Output   string
	Pages    int
	Flushes  int
	Duration time.Duration
}

// Impl implements the completion Service interface.
type Impl struct {
	cfg    Config
	clock  Clock
	logger zerolog.Logger
}

// New creates a new completion engine.
func New(logger zerolog.Logger, cfg Config) *Impl {
	return NewWithClock(logger, cfg, realClock{})
}

// NewWithClock creates a new completion engine with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, cfg Config, clock Clock) *Impl {
	def := DefaultConfig()
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = def.IdleThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Newline == "" {
		cfg.Newline = def.Newline
	}
	if cfg.PagerKey == "" {
		cfg.PagerKey = def.PagerKey
	}
	return &Impl{cfg: cfg, clock: clock, logger: logger}
}

// Await polls conn until the output ends in a prompt, a secondary prompt,
// the transport closes, or the command timeout passes. A nil prompt set
// falls back to a generic shell-prompt pattern.
func (e *Impl) Await(ctx context.Context, conn Conn, sink Sink, prompts *models.PromptSet) (*Result, error) {
	start := e.clock.Now()
	lastActivity := start
	res := &Result{State: StateSent}

	var out strings.Builder
	tail := ""

	finish := func(reason models.CompletionReason) *Result {
		res.State = StateDone
		res.Reason = reason
		res.Output = out.String()
		res.Duration = e.clock.Now().Sub(start)
		return res
	}

	for {
		if err := ctx.Err(); err != nil {
			finish(models.ReasonClosed)
			return res, err
		}

		chunk, err := conn.Receive()
		if err != nil {
			// Bytes read before the failure still belong in the transcript.
			if chunk != "" {
				if werr := sink.Write(chunk); werr != nil {
					finish(models.ReasonClosed)
					return res, fmt.Errorf("writing transcript: %w", werr)
				}
				out.WriteString(chunk)
			}
			e.logger.Warn().Err(err).Msg("read failed, treating as end of stream")
			return finish(models.ReasonClosed), nil
		}

		if chunk == "" {
			if conn.Closed() {
				e.logger.Debug().Msg("transport closed while waiting for prompt")
				return finish(models.ReasonClosed), nil
			}

			now := e.clock.Now()
			if e.cfg.CommandTimeout > 0 && now.Sub(start) >= e.cfg.CommandTimeout {
				e.logger.Error().
					Dur("timeout", e.cfg.CommandTimeout).
					Str("tail", cleanTail(tail)).
					Msg("command timed out waiting for prompt")
				return finish(models.ReasonTimeout), nil
			}

			if now.Sub(lastActivity) >= e.cfg.IdleThreshold {
				res.State = StateFallbackRetry
				res.Flushes++
				lastActivity = now
				e.logger.Debug().Int("flushes", res.Flushes).Msg("no output, sending idle flush")
				if err := conn.Send(e.cfg.Newline); err != nil {
					e.logger.Warn().Err(err).Msg("idle flush failed, treating as end of stream")
					return finish(models.ReasonClosed), nil
				}
			}

			e.clock.Sleep(e.cfg.PollInterval)
			continue
		}

		res.State = StateAccumulating
		lastActivity = e.clock.Now()
		if err := sink.Write(chunk); err != nil {
			finish(models.ReasonClosed)
			return res, fmt.Errorf("writing transcript: %w", err)
		}
		out.WriteString(chunk)
		tail = tailOf(tail, chunk)

		switch classify(tail, prompts) {
		case matchPrompt:
			return finish(models.ReasonPrompt), nil
		case matchSecondary:
			e.logger.Debug().Str("tail", cleanTail(tail)).Msg("secondary prompt, handing control to script")
			return finish(models.ReasonSecondary), nil
		case matchPager:
			res.State = StatePaginated
			res.Pages++
			tail = ""
			e.logger.Debug().Int("pages", res.Pages).Msg("pager marker, sending keystroke")
			if err := conn.Send(e.cfg.PagerKey); err != nil {
				e.logger.Warn().Err(err).Msg("pager keystroke failed, treating as end of stream")
				return finish(models.ReasonClosed), nil
			}
		}
	}
}
