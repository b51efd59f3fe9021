// Package runner drives one interactive session from connect to close.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/fgeck/gocmdexec/internal/services/completion"
	"github.com/fgeck/gocmdexec/internal/services/prompt"
	"github.com/fgeck/gocmdexec/internal/services/telegram"
	"github.com/fgeck/gocmdexec/internal/services/transcript"
	"github.com/fgeck/gocmdexec/internal/services/transport"
	"github.com/fgeck/gocmdexec/internal/services/wol"
	"github.com/rs/zerolog"
)

// Steps reported in SessionResult.FailedStep.
const (
	StepValidate   = "validate"
	StepWOL        = "wol"
	StepConnect    = "connect"
	StepLogin      = "login"
	StepTranscript = "transcript"
	StepCommand    = "command"
)

// Service defines the interface for the session runner.
type Service interface {
	Run(ctx context.Context, cfg models.Settings, spec models.ConnectionSpec, script models.CommandScript) (*models.SessionResult, error)
}

// EngineFactory builds the completion engine for a run's timings.
type EngineFactory func(cfg completion.Config) completion.Service

// TransportFactoryFunc builds the transport factory for a run's settings.
type TransportFactoryFunc func(cfg models.SessionSettings) transport.Factory

// Impl implements the runner Service interface.
type Impl struct {
	transports  TransportFactoryFunc
	engines     EngineFactory
	strategy    prompt.Strategy
	wolSvc      wol.Service
	telegramSvc telegram.Service
	console     io.Writer
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates a new runner writing the transcript to stdout.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		transports: func(cfg models.SessionSettings) transport.Factory {
			return &transport.DefaultFactory{
				Logger: logger,
				Options: transport.Options{
					Encodings:    cfg.Encodings,
					LoginTimeout: cfg.LoginTimeout,
				},
			}
		},
		engines: func(cfg completion.Config) completion.Service {
			return completion.New(logger, cfg)
		},
		strategy:    prompt.Default,
		wolSvc:      wol.New(logger),
		telegramSvc: telegram.New(logger),
		console:     os.Stdout,
		now:         time.Now,
		logger:      logger,
	}
}

// NewWithServices creates a new runner with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	transports TransportFactoryFunc,
	engines EngineFactory,
	wolSvc wol.Service,
	telegramSvc telegram.Service,
	console io.Writer,
	now func() time.Time,
) *Impl {
	return &Impl{
		transports:  transports,
		engines:     engines,
		strategy:    prompt.Default,
		wolSvc:      wolSvc,
		telegramSvc: telegramSvc,
		console:     console,
		now:         now,
		logger:      logger,
	}
}

// session is the state of one run.
type session struct {
	cfg     models.Settings
	conn    transport.Transport
	sink    *transcript.Sink
	prompts *models.PromptSet
	history strings.Builder // output seen while the prompt is unknown
}

// Write sends text to the transcript, keeping a copy for prompt detection
// while the prompt is unknown.
func (s *session) Write(text string) error {
	if s.prompts == nil {
		s.history.WriteString(text)
	}
	return s.sink.Write(text)
}

// Run executes the command script against the target. Handled failures
// (see models.IsHandled) are returned as errors and recorded in the result.
//
//nolint:gocognit,gocyclo // session workflow has multiple steps
func (s *Impl) Run(
	ctx context.Context,
	cfg models.Settings,
	spec models.ConnectionSpec,
	script models.CommandScript,
) (result *models.SessionResult, runErr error) {
	result = &models.SessionResult{
		Host:      spec.Host,
		Port:      spec.Port,
		Protocol:  spec.Protocol(),
		StartTime: s.now(),
	}
	var failedStep string
	cfg.Session = withDefaults(cfg.Session)

	s.logger.Info().
		Str("host", spec.Host).
		Int("port", spec.Port).
		Str("protocol", string(spec.Protocol())).
		Int("commands", script.Len()).
		Msg("starting session")

	defer func() {
		result.Duration = s.now().Sub(result.StartTime)
		if runErr != nil {
			result.FailedStep = failedStep
			result.Error = runErr
		}
		if cfg.Telegram != nil {
			s.sendNotification(ctx, cfg, result)
		}
	}()

	// Step 1: refuse incomplete specs before touching the network
	failedStep = StepValidate
	if err := spec.Validate(); err != nil {
		return result, err
	}

	// Step 2: Wake-on-LAN (if configured)
	if cfg.WOL != nil {
		failedStep = StepWOL
		if err := s.runWOL(ctx, *cfg.WOL, spec); err != nil {
			return result, err
		}
	}

	// Step 3: connect
	failedStep = StepConnect
	conn, attempts, err := s.connect(ctx, cfg.Session, spec)
	result.Attempts = attempts
	if err != nil {
		return result, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("closing transport")
		}
	}()

	sink := transcript.NewWithClock(s.logger, transcript.Config{
		Console:     s.console,
		LogDir:      cfg.LogDir,
		Disabled:    cfg.DisableLog,
		LineEndings: cfg.LineEndings.Resolve(spec.Protocol()),
		Host:        spec.Host,
	}, s.now)
	defer func() {
		if err := sink.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing log file")
		}
	}()

	sess := &session{cfg: cfg, conn: conn, sink: sink}

	// Step 4: in-band login (Telnet)
	if auth, ok := conn.(transport.Authenticator); ok {
		failedStep = StepLogin
		if err := auth.Login(ctx, spec, sess.Write); err != nil {
			return result, err
		}
	}

	// Step 5: detect the prompt from the banner
	failedStep = StepTranscript
	if err := s.detectPrompt(ctx, sess); err != nil {
		return result, err
	}
	if sess.prompts != nil {
		if err := s.openLog(sess, result); err != nil {
			return result, err
		}
	} else {
		s.logger.Warn().Msg("prompt not detected from banner, using generic prompt pattern")
	}

	// Step 6: commands
	failedStep = StepCommand
	engine := s.engines(completion.Config{
		IdleThreshold:  cfg.Session.IdleThreshold,
		PollInterval:   cfg.Session.PollInterval,
		CommandTimeout: cfg.Session.CommandTimeout,
		Newline:        cfg.Session.Newline,
	})

	for i, cmd := range script.Commands {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := s.drain(sess); err != nil {
			return result, err
		}

		s.logger.Debug().Int("index", i).Str("command", cmd).Msg("sending command")
		if err := conn.Send(cmd + cfg.Session.Newline); err != nil {
			return result, fmt.Errorf("sending %q: %w", cmd, err)
		}

		res, err := engine.Await(ctx, conn, sess, sess.prompts)
		if err != nil {
			return result, fmt.Errorf("awaiting %q: %w", cmd, err)
		}
		result.Commands = append(result.Commands, models.CommandResult{
			Command:  cmd,
			Reason:   res.Reason,
			Pages:    res.Pages,
			Flushes:  res.Flushes,
			Duration: res.Duration,
		})

		if res.Reason == models.ReasonTimeout {
			s.logger.Error().Str("command", cmd).Msg("no prompt before command timeout, continuing")
		}

		if sess.prompts == nil {
			if ps, ok := s.strategy(sess.history.String()); ok {
				sess.prompts = ps
				if err := s.openLog(sess, result); err != nil {
					return result, err
				}
			}
		}

		if res.Reason == models.ReasonClosed {
			s.logger.Warn().
				Int("sent", i+1).
				Int("remaining", script.Len()-i-1).
				Msg("remote closed the session")
			break
		}
	}

	// Step 7: trailing output
	if err := s.drainFor(ctx, sess, cfg.Session.DrainWindow); err != nil {
		return result, err
	}
	if !sink.Opened() {
		// Keep the transcript even though no prompt was ever seen.
		if err := s.openLog(sess, result); err != nil {
			return result, err
		}
	}

	failedStep = ""
	s.logger.Info().
		Str("prompt", result.Prompt).
		Str("log_file", result.LogFile).
		Int("commands", len(result.Commands)).
		Int("timed_out", result.TimedOut()).
		Dur("duration", s.now().Sub(result.StartTime)).
		Msg("session completed")

	return result, nil
}

func withDefaults(cfg models.SessionSettings) models.SessionSettings {
	def := completion.DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Newline == "" {
		cfg.Newline = def.Newline
	}
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	return cfg
}

func (s *Impl) connect(ctx context.Context, cfg models.SessionSettings, spec models.ConnectionSpec) (transport.Transport, int, error) {
	attempts := cfg.ConnectAttempts
	factory := s.transports(cfg)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		conn, err := factory.New(spec.Protocol())
		if err != nil {
			return nil, attempt - 1, fmt.Errorf("creating transport: %w", err)
		}

		s.logger.Debug().Int("attempt", attempt).Str("addr", spec.Address()).Msg("connecting")
		if err := conn.Connect(ctx, spec); err != nil {
			_ = conn.Close()
			if errors.Is(err, context.Canceled) {
				return nil, attempt, err
			}
			lastErr = err
			s.logger.Warn().Err(err).Int("attempt", attempt).Int("max", attempts).Msg("connection attempt failed")
			continue
		}

		s.logger.Info().Str("addr", spec.Address()).Int("attempt", attempt).Msg("connected")
		return conn, attempt, nil
	}

	return nil, attempts, &models.ConnectionError{Address: spec.Address(), Attempts: attempts, Err: lastErr}
}

// detectPrompt reads the banner until the output settles on a line that
// looks like a prompt, or the login timeout passes.
func (s *Impl) detectPrompt(ctx context.Context, sess *session) error {
	deadline := s.now().Add(sess.cfg.Session.LoginTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		text, err := sess.conn.Receive()
		if err != nil {
			s.logger.Warn().Err(err).Msg("read failed during prompt detection")
			if werr := sess.Write(text); werr != nil {
				return werr
			}
			if ps, ok := s.strategy(sess.history.String()); ok {
				sess.prompts = ps
			}
			return nil
		}
		if text != "" {
			if err := sess.Write(text); err != nil {
				return err
			}
			continue
		}

		// Only judge the banner once nothing more is pending.
		if ps, ok := s.strategy(sess.history.String()); ok {
			sess.prompts = ps
			return nil
		}
		if sess.conn.Closed() || !s.now().Before(deadline) {
			return nil
		}
		time.Sleep(sess.cfg.Session.PollInterval)
	}
}

func (s *Impl) openLog(sess *session, result *models.SessionResult) error {
	if sess.prompts != nil {
		result.Prompt = sess.prompts.Primary
		s.logger.Info().
			Str("prompt", sess.prompts.Primary).
			Strs("siblings", sess.prompts.Siblings).
			Msg("prompt detected")
	}
	path, err := sess.sink.Open(sess.prompts)
	if err != nil {
		return err
	}
	result.LogFile = path
	return nil
}

// drain records output that arrived after the last command completed.
func (s *Impl) drain(sess *session) error {
	text, err := sess.conn.Receive()
	if werr := sess.Write(text); werr != nil {
		return werr
	}
	if err != nil {
		s.logger.Debug().Err(err).Msg("drain read failed")
	}
	return nil
}

func (s *Impl) drainFor(ctx context.Context, sess *session, window time.Duration) error {
	deadline := s.now().Add(window)
	for !sess.conn.Closed() && s.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil //nolint:nilerr // cancellation after the last command is not a failure
		}
		text, err := sess.conn.Receive()
		if err != nil {
			return sess.Write(text)
		}
		if text == "" {
			time.Sleep(sess.cfg.Session.PollInterval)
			continue
		}
		if err := sess.Write(text); err != nil {
			return err
		}
	}
	return nil
}

func (s *Impl) runWOL(ctx context.Context, cfg models.WOLConfig, spec models.ConnectionSpec) error {
	if cfg.TargetAddr == "" {
		cfg.TargetAddr = spec.Address()
	}
	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("target", cfg.TargetAddr).
		Msg("sending Wake-on-LAN packet")

	result, err := s.wolSvc.Wake(ctx, cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady {
		return fmt.Errorf("target did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.Settings, result *models.SessionResult) {
	msg := models.TelegramMessage{
		Success:          result.Error == nil,
		Host:             result.Host,
		Protocol:         result.Protocol,
		Prompt:           result.Prompt,
		LogFile:          result.LogFile,
		StartTime:        result.StartTime,
		Duration:         result.Duration,
		CommandsSent:     len(result.Commands),
		CommandsTimedOut: result.TimedOut(),
	}
	for _, c := range result.Commands {
		msg.PagesFollowed += c.Pages
	}
	if result.Error != nil {
		msg.FailedStep = result.FailedStep
		msg.ErrorMessage = result.Error.Error()
	}

	res, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}
