package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/fgeck/gocmdexec/internal/charset"
	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// terminalTypes are requested in order until the server accepts one.
var terminalTypes = []string{"vt100", "xterm", "ansi", "dumb"}

const (
	termWidth  = 200
	termHeight = 24
)

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	RequestPty(term string, h, w int, modes ssh.TerminalModes) error
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	Shell() error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

// SSH is the SSH transport: an interactive shell on a PTY.
type SSH struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
	opts          Options
	decoder       *charset.Decoder

	client  SSHClient
	session SSHSession
	stdin   io.WriteCloser
	output  chan []byte
	done    chan struct{}
	eof     bool
}

// NewSSH creates an SSH transport.
func NewSSH(logger zerolog.Logger, opts Options, decoder *charset.Decoder) *SSH {
	return NewSSHWithClientFactory(logger, opts, decoder, &DefaultClientFactory{})
}

// NewSSHWithClientFactory creates an SSH transport with a custom client factory (for testing).
func NewSSHWithClientFactory(logger zerolog.Logger, opts Options, decoder *charset.Decoder, factory ClientFactory) *SSH {
	return &SSH{
		clientFactory: factory,
		logger:        logger.With().Str("transport", "ssh").Logger(),
		opts:          opts,
		decoder:       decoder,
	}
}

func (s *SSH) buildConfig(spec models.ConnectionSpec) *ssh.ClientConfig {
	password := spec.Password
	return &ssh.ClientConfig{
		User: spec.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: s.acceptHostKey,
		Timeout:         spec.ConnectTimeout,
		// Network gear often only speaks older algorithms.
		Config: ssh.Config{
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
				"diffie-hellman-group1-sha1",
			},
			Ciphers: []string{
				"chacha20-poly1305@openssh.com",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		HostKeyAlgorithms: []string{
			"ssh-ed25519",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"rsa-sha2-512",
			"rsa-sha2-256",
			"ssh-rsa",
		},
	}
}

// acceptHostKey trusts any host key but leaves its fingerprint in the log.
func (s *SSH) acceptHostKey(hostname string, _ net.Addr, key ssh.PublicKey) error {
	s.logger.Warn().
		Str("host", hostname).
		Str("key_type", key.Type()).
		Str("fingerprint", ssh.FingerprintSHA256(key)).
		Msg("accepting unverified host key")
	return nil
}

// Connect authenticates and opens an interactive shell.
func (s *SSH) Connect(ctx context.Context, spec models.ConnectionSpec) error {
	addr := spec.Address()
	s.logger.Debug().Str("addr", addr).Str("user", spec.Username).Msg("dialing")

	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, s.buildConfig(spec))
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return fmt.Errorf("failed to connect: %w", res.err)
		}
		s.client = res.client
	}

	if err := s.openShell(); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

func (s *SSH) openShell() error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	s.session = session

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range terminalTypes {
		if ptyErr = session.RequestPty(term, termHeight, termWidth, modes); ptyErr == nil {
			s.logger.Debug().Str("term", term).Msg("pty allocated")
			break
		}
	}
	if ptyErr != nil {
		return fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	if s.stdin, err = session.StdinPipe(); err != nil {
		return fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	s.output = make(chan []byte, 256)
	s.done = make(chan struct{})
	go s.pump(stdout, s.output, s.done)
	return nil
}

// pump copies stdout into the output channel until the stream ends.
func (s *SSH) pump(stdout io.Reader, output chan<- []byte, done <-chan struct{}) {
	defer close(output)
	buf := make([]byte, readBufferSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case output <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("shell output ended")
			}
			return
		}
	}
}

// Send writes text to the shell's stdin.
func (s *SSH) Send(text string) error {
	if s.stdin == nil {
		return errors.New("not connected")
	}
	if _, err := io.WriteString(s.stdin, text); err != nil {
		return fmt.Errorf("ssh write: %w", err)
	}
	return nil
}

// Receive returns all output the pump has collected so far.
func (s *SSH) Receive() (string, error) {
	if s.output == nil || s.eof {
		return "", nil
	}
	var pending []byte
drain:
	for {
		select {
		case chunk, ok := <-s.output:
			if !ok {
				s.eof = true
				break drain
			}
			pending = append(pending, chunk...)
		default:
			break drain
		}
	}

	var text string
	if len(pending) > 0 {
		text = decode(s.logger, s.decoder, pending)
	}
	if s.eof {
		text += flush(s.logger, s.decoder)
	}
	return text, nil
}

// Closed reports whether the shell has exited.
func (s *SSH) Closed() bool {
	return s.eof
}

// Close tears down the shell and the connection.
func (s *SSH) Close() error {
	var errs []error
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.session != nil {
		if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
		s.session = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			errs = append(errs, err)
		}
		s.client = nil
	}
	return errors.Join(errs...)
}
