// Package transcript mirrors session output to the console and to a log file
// named after the detected prompt.
package transcript

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/rs/zerolog"
)

// TimestampLayout is the timestamp part of a log filename.
const TimestampLayout = "20060102_150405"

// Config holds sink settings for one session.
type Config struct {
	Console     io.Writer
	LogDir      string
	Disabled    bool
	LineEndings models.LineEndingPolicy // keep or strip; auto is treated as keep
	Host        string
}

// Sink buffers output until the prompt is known, then writes it to the log
// file. Every write is echoed to the console.
type Sink struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	banner []string
	file   *os.File
	path   string
	opened bool
}

// New creates a new sink.
func New(logger zerolog.Logger, cfg Config) *Sink {
	return NewWithClock(logger, cfg, time.Now)
}

// NewWithClock creates a new sink with a custom time source (for testing).
func NewWithClock(logger zerolog.Logger, cfg Config, now func() time.Time) *Sink {
	if cfg.Console == nil {
		cfg.Console = io.Discard
	}
	return &Sink{cfg: cfg, logger: logger, now: now}
}

// Write echoes text to the console and records it in the banner buffer or
// the log file.
func (s *Sink) Write(text string) error {
	if text == "" {
		return nil
	}
	if _, err := io.WriteString(s.cfg.Console, text); err != nil {
		return fmt.Errorf("writing to console: %w", err)
	}
	if s.cfg.Disabled {
		return nil
	}
	if s.file == nil {
		if !s.opened {
			s.banner = append(s.banner, text)
		}
		return nil
	}
	return s.writeFile(text)
}

// Open creates the log file for the detected prompt and flushes the banner
// into it. Only the first call has an effect.
func (s *Sink) Open(prompts *models.PromptSet) (string, error) {
	if s.opened {
		return s.path, nil
	}
	s.opened = true
	if s.cfg.Disabled {
		return "", nil
	}

	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		s.banner = nil
		return "", fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(s.cfg.LogDir, FileName(prompts, s.cfg.Host, s.now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.banner = nil
		return "", fmt.Errorf("opening log file: %w", err)
	}
	s.file = f
	s.path = path

	s.logger.Debug().
		Str("path", path).
		Int("banner_chunks", len(s.banner)).
		Msg("log file opened")

	banner := s.banner
	s.banner = nil
	for _, chunk := range banner {
		if err := s.writeFile(chunk); err != nil {
			return path, err
		}
	}
	return path, nil
}

func (s *Sink) writeFile(text string) error {
	if s.cfg.LineEndings == models.LineEndingsStrip {
		text = strings.ReplaceAll(text, "\n", "")
	}
	if _, err := s.file.WriteString(text); err != nil {
		return fmt.Errorf("writing log file: %w", err)
	}
	return nil
}

// Opened reports whether Open has been called.
func (s *Sink) Opened() bool {
	return s.opened
}

// Path returns the log file path, empty until a file is open.
func (s *Sink) Path() string {
	return s.path
}

// Buffered returns the banner text still waiting for a log file.
func (s *Sink) Buffered() string {
	return strings.Join(s.banner, "")
}

// Close closes the log file. It is safe to call more than once.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	return nil
}

// FileName builds <prompt>_<host>_<timestamp>.log.
func FileName(prompts *models.PromptSet, host string, t time.Time) string {
	stem := prompts.FileStem()
	if stem == "" {
		stem = "unknown"
	}
	return fmt.Sprintf("%s_%s_%s.log", stem, models.SanitizeFileComponent(host), t.Format(TimestampLayout))
}
