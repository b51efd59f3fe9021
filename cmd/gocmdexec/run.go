package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/fgeck/gocmdexec/internal/script"
	"github.com/fgeck/gocmdexec/internal/services/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// sessionRunner is the part of the runner the CLI drives.
type sessionRunner interface {
	Run(ctx context.Context, cfg models.Settings, spec models.ConnectionSpec, script models.CommandScript) (*models.SessionResult, error)
}

// newRunner builds the session runner; tests replace it.
var newRunner = func(logger zerolog.Logger) sessionRunner {
	return runner.New(logger)
}

// runSession executes the command list given as the only argument. Only
// invocation errors (missing or unreadable file) end with a non-zero exit;
// once the session starts, every failure is reported and the run exits 0.
func runSession(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		log.Error().Str("file", path).Msg("command list not found")
		return fmt.Errorf("command list not found: %s", path)
	}

	spec, cmds, err := script.NewParser().LoadFile(path)
	if err != nil {
		if models.IsHandled(err) {
			log.Error().Err(err).Str("file", path).Msg("invalid command list")
			return nil
		}
		log.Error().Err(err).Str("file", path).Msg("failed to read command list")
		return err
	}
	spec.ConnectTimeout = settings.Session.ConnectTimeout

	log.Debug().
		Str("file", path).
		Str("host", spec.Host).
		Int("port", spec.Port).
		Int("commands", cmds.Len()).
		Msg("command list loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := newRunner(log.Logger).Run(ctx, *settings, spec, cmds)
	if err != nil {
		reportSessionFailure(result, err)
		return nil
	}

	if result.LogFile != "" {
		log.Info().Str("log_file", result.LogFile).Msg("transcript saved")
	}
	return nil
}

func reportSessionFailure(result *models.SessionResult, err error) {
	step := ""
	if result != nil {
		step = result.FailedStep
	}
	switch {
	case errors.Is(err, context.Canceled):
		log.Warn().Str("step", step).Msg("session interrupted")
	case models.IsHandled(err):
		log.Error().Err(err).Str("step", step).Msg("session failed")
	default:
		log.Error().Err(err).Str("step", step).Msg("session aborted")
	}
	if result != nil && result.LogFile != "" {
		log.Info().Str("log_file", result.LogFile).Msg("partial transcript saved")
	}
}
