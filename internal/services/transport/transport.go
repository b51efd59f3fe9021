// Package transport provides the Telnet and SSH connections a session is
// driven over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/gocmdexec/internal/charset"
	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/rs/zerolog"
)

// Transport is an interactive connection to a remote shell.
type Transport interface {
	Connect(ctx context.Context, spec models.ConnectionSpec) error
	Send(text string) error
	// Receive returns whatever output is pending, or "" if none. It never
	// blocks for longer than the read wait.
	Receive() (string, error)
	Closed() bool
	Close() error
}

// Authenticator is implemented by transports that log in in-band.
type Authenticator interface {
	Login(ctx context.Context, spec models.ConnectionSpec, echo func(string) error) error
}

// Options holds settings shared by both variants.
type Options struct {
	Encodings    []string
	LoginTimeout time.Duration
	ReadWait     time.Duration // how long Receive waits for pending bytes
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Encodings:    charset.DefaultEncodings,
		LoginTimeout: 4 * time.Second,
		ReadWait:     20 * time.Millisecond,
	}
}

// Factory creates a fresh transport for each connection attempt.
type Factory interface {
	New(proto models.Protocol) (Transport, error)
}

// DefaultFactory builds the real Telnet and SSH transports.
type DefaultFactory struct {
	Logger  zerolog.Logger
	Options Options
}

// New creates a transport for the protocol.
func (f *DefaultFactory) New(proto models.Protocol) (Transport, error) {
	opts := f.Options
	def := DefaultOptions()
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = def.LoginTimeout
	}
	if opts.ReadWait <= 0 {
		opts.ReadWait = def.ReadWait
	}
	decoder, err := charset.New(opts.Encodings...)
	if err != nil {
		return nil, fmt.Errorf("building decoder: %w", err)
	}

	switch proto {
	case models.ProtocolSSH:
		return NewSSH(f.Logger, opts, decoder), nil
	case models.ProtocolTelnet:
		return NewTelnet(f.Logger, opts, decoder), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", proto)
	}
}

// decode turns received bytes into text; undecodable bytes are dropped.
func decode(logger zerolog.Logger, d *charset.Decoder, b []byte) string {
	s, err := d.Decode(b)
	if err != nil {
		logger.Debug().Int("bytes", len(b)).Strs("encodings", d.Names()).Msg("dropping undecodable output")
		return ""
	}
	return s
}

func flush(logger zerolog.Logger, d *charset.Decoder) string {
	s, err := d.Flush()
	if err != nil {
		logger.Debug().Msg("dropping undecodable trailing output")
		return ""
	}
	return s
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
