package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/fgeck/gocmdexec/internal/charset"
	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/rs/zerolog"
	"github.com/ziutek/telnet"
)

const readBufferSize = 4096

// loginDelim ends the username and password prompts.
const loginDelim = ": "

var errLoginTimeout = errors.New("login timed out")

// shellPrompt marks the end of a successful login.
var shellPrompt = regexp.MustCompile(`[>#$%]\s*$`)

// TelnetConn wraps telnet.Conn for mocking.
type TelnetConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// TelnetDialer opens Telnet connections.
type TelnetDialer interface {
	Dial(addr string, timeout time.Duration) (TelnetConn, error)
}

// DefaultTelnetDialer dials over TCP.
type DefaultTelnetDialer struct{}

// Dial connects and enables LF to CRLF translation on writes.
func (d *DefaultTelnetDialer) Dial(addr string, timeout time.Duration) (TelnetConn, error) {
	conn, err := telnet.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	conn.SetUnixWriteMode(true)
	return conn, nil
}

// Telnet is the Telnet transport. Login happens in-band after Connect.
type Telnet struct {
	dialer  TelnetDialer
	logger  zerolog.Logger
	opts    Options
	decoder *charset.Decoder

	conn TelnetConn
	buf  []byte
	eof  bool
}

// NewTelnet creates a Telnet transport.
func NewTelnet(logger zerolog.Logger, opts Options, decoder *charset.Decoder) *Telnet {
	return NewTelnetWithDialer(logger, opts, decoder, &DefaultTelnetDialer{})
}

// NewTelnetWithDialer creates a Telnet transport with a custom dialer (for testing).
func NewTelnetWithDialer(logger zerolog.Logger, opts Options, decoder *charset.Decoder, dialer TelnetDialer) *Telnet {
	return &Telnet{
		dialer:  dialer,
		logger:  logger.With().Str("transport", "telnet").Logger(),
		opts:    opts,
		decoder: decoder,
		buf:     make([]byte, readBufferSize),
	}
}

// Connect dials the remote host.
func (t *Telnet) Connect(ctx context.Context, spec models.ConnectionSpec) error {
	addr := spec.Address()
	t.logger.Debug().Str("addr", addr).Dur("timeout", spec.ConnectTimeout).Msg("dialing")

	connChan := make(chan struct {
		conn TelnetConn
		err  error
	}, 1)

	go func() {
		conn, err := t.dialer.Dial(addr, spec.ConnectTimeout)
		connChan <- struct {
			conn TelnetConn
			err  error
		}{conn, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-connChan:
		if res.err != nil {
			return fmt.Errorf("failed to connect: %w", res.err)
		}
		t.conn = res.conn
	}
	return nil
}

// Login answers the username and password prompts and waits for a shell
// prompt. Without a username only the password exchange is attempted.
// Everything received is passed to echo; the credentials are not.
func (t *Telnet) Login(ctx context.Context, spec models.ConnectionSpec, echo func(string) error) error {
	if t.conn == nil {
		return &models.LoginError{Host: spec.Host, Err: errors.New("not connected")}
	}
	deadline := time.Now().Add(t.opts.LoginTimeout)
	fail := func(step string, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.LoginError{Host: spec.Host, Err: fmt.Errorf("%s: %w", step, err)}
	}
	hasDelim := func(s string) bool { return strings.Contains(s, loginDelim) }

	if spec.Username == "" {
		// Devices without a login step just print a banner.
		if err := t.waitFor(ctx, deadline, echo, hasDelim); err != nil && !errors.Is(err, errLoginTimeout) {
			return fail("reading banner", err)
		}
		if spec.Password == "" {
			return nil
		}
	} else {
		if err := t.waitFor(ctx, deadline, echo, hasDelim); err != nil {
			return fail("waiting for username prompt", err)
		}
		if err := t.Send(spec.Username + "\n"); err != nil {
			return fail("sending username", err)
		}
		if err := t.waitFor(ctx, deadline, echo, hasDelim); err != nil {
			return fail("waiting for password prompt", err)
		}
	}

	if err := t.Send(spec.Password + "\n"); err != nil {
		return fail("sending password", err)
	}
	if err := t.waitFor(ctx, deadline, echo, shellPrompt.MatchString); err != nil {
		return fail("waiting for shell prompt", err)
	}
	return nil
}

// waitFor reads until the text received during this call satisfies done,
// the deadline passes or the connection ends.
func (t *Telnet) waitFor(ctx context.Context, deadline time.Time, echo func(string) error, done func(string) bool) error {
	var seen strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return errLoginTimeout
		}
		text, err := t.Receive()
		if text != "" {
			if werr := echo(text); werr != nil {
				return werr
			}
			seen.WriteString(text)
		}
		if err != nil {
			return err
		}
		if done(seen.String()) {
			return nil
		}
		if t.eof {
			return io.ErrUnexpectedEOF
		}
	}
}

// Send writes text as is; newlines go out as CRLF.
func (t *Telnet) Send(text string) error {
	if t.conn == nil {
		return errors.New("not connected")
	}
	if _, err := t.conn.Write([]byte(text)); err != nil {
		return fmt.Errorf("telnet write: %w", err)
	}
	return nil
}

// Receive reads whatever arrives within the read wait.
func (t *Telnet) Receive() (string, error) {
	if t.conn == nil || t.eof {
		return "", nil
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(t.opts.ReadWait)); err != nil {
		return "", fmt.Errorf("telnet deadline: %w", err)
	}

	n, err := t.conn.Read(t.buf)
	var text string
	if n > 0 {
		text = decode(t.logger, t.decoder, t.buf[:n])
	}
	if err == nil || isTimeout(err) {
		return text, nil
	}

	t.eof = true
	text += flush(t.logger, t.decoder)
	if errors.Is(err, io.EOF) {
		t.logger.Debug().Msg("remote closed connection")
		return text, nil
	}
	return text, fmt.Errorf("telnet read: %w", err)
}

// Closed reports whether the remote side has gone away.
func (t *Telnet) Closed() bool {
	return t.eof
}

// Close releases the connection.
func (t *Telnet) Close() error {
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil
	t.eof = true
	return conn.Close()
}
