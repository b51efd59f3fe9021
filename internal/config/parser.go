// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/gocmdexec/internal/charset"
	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/spf13/viper"
)

// DefaultLogDir is where transcripts go when nothing else is configured.
const DefaultLogDir = "./log/"

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Settings, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Settings, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// Defaults returns the settings used when no config file is given.
func Defaults() *models.Settings {
	return &models.Settings{
		LogDir:      DefaultLogDir,
		LineEndings: models.LineEndingsAuto,
		Session: models.SessionSettings{
			ConnectTimeout:  2 * time.Second,
			LoginTimeout:    4 * time.Second,
			IdleThreshold:   2 * time.Second,
			PollInterval:    50 * time.Millisecond,
			CommandTimeout:  60 * time.Second,
			DrainWindow:     500 * time.Millisecond,
			ConnectAttempts: 3,
			Newline:         "\n",
			Encodings:       append([]string(nil), charset.DefaultEncodings...),
		},
		Logging: models.LoggingSettings{
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Settings, error) {
	cfg := Defaults()

	if s := p.v.GetString("log_dir"); s != "" {
		cfg.LogDir = p.expandEnv(s)
	}
	cfg.DisableLog = p.v.GetBool("disable_log")
	if s := p.v.GetString("transcript.line_endings"); s != "" {
		cfg.LineEndings = models.LineEndingPolicy(strings.ToLower(s))
	}

	// Parse session timings; zero keeps the default.
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"session.connect_timeout", &cfg.Session.ConnectTimeout},
		{"session.login_timeout", &cfg.Session.LoginTimeout},
		{"session.idle_threshold", &cfg.Session.IdleThreshold},
		{"session.poll_interval", &cfg.Session.PollInterval},
		{"session.command_timeout", &cfg.Session.CommandTimeout},
		{"session.drain_window", &cfg.Session.DrainWindow},
	}
	for _, d := range durations {
		if p.v.IsSet(d.key) {
			*d.dst = p.v.GetDuration(d.key)
		}
	}
	if p.v.IsSet("session.connect_attempts") {
		cfg.Session.ConnectAttempts = p.v.GetInt("session.connect_attempts")
	}
	if s := p.v.GetString("session.newline"); s != "" {
		cfg.Session.Newline = s
	}
	if enc := p.v.GetStringSlice("session.encodings"); len(enc) > 0 {
		cfg.Session.Encodings = enc
	}

	// Parse optional operational log file.
	if p.v.IsSet("logging") {
		cfg.Logging.File = p.expandEnv(p.v.GetString("logging.file"))
		if p.v.IsSet("logging.max_size") {
			cfg.Logging.MaxSize = p.v.GetInt("logging.max_size")
		}
		if p.v.IsSet("logging.max_backups") {
			cfg.Logging.MaxBackups = p.v.GetInt("logging.max_backups")
		}
		if p.v.IsSet("logging.max_age") {
			cfg.Logging.MaxAge = p.v.GetInt("logging.max_age")
		}
		cfg.Logging.Compress = p.v.GetBool("logging.compress")
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			TargetAddr:    p.v.GetString("wol.target_addr"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration. Flags applied
// after loading go through it again.
func Validate(cfg *models.Settings) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	switch cfg.LineEndings {
	case models.LineEndingsAuto, models.LineEndingsKeep, models.LineEndingsStrip:
	default:
		return fmt.Errorf("transcript.line_endings must be one of: auto, keep, strip")
	}

	if !cfg.DisableLog && cfg.LogDir == "" {
		return fmt.Errorf("log_dir is required unless logging is disabled")
	}

	s := cfg.Session
	if s.ConnectTimeout <= 0 || s.LoginTimeout <= 0 || s.IdleThreshold <= 0 || s.PollInterval <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if s.CommandTimeout < 0 || s.DrainWindow < 0 {
		return fmt.Errorf("session.command_timeout and session.drain_window must not be negative")
	}
	if s.ConnectAttempts < 1 {
		return fmt.Errorf("session.connect_attempts must be at least 1")
	}
	if _, err := charset.New(s.Encodings...); err != nil {
		return fmt.Errorf("session.encodings: %w", err)
	}

	return nil
}
