package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIPAddress means no host:port line precedes the commands.
	ErrMissingIPAddress = errors.New("no ip address in command list")
	// ErrMissingCredentials means an SSH target lacks username or password.
	ErrMissingCredentials = errors.New("missing credentials for ssh")
	// ErrInvalidPort means the port field is not a number in 1..65535.
	ErrInvalidPort = errors.New("invalid port")
)

// ConfigError reports a malformed or incomplete connection spec. It is fatal
// and never retried.
type ConfigError struct {
	Source string
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	}
	if e.Source != "" {
		msg = fmt.Sprintf("%s in %s", msg, e.Source)
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError reports that every connection attempt failed.
type ConnectionError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// LoginError reports that the login handshake did not reach a shell prompt.
type LoginError struct {
	Host string
	Err  error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed to %s: %v", e.Host, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// IsHandled reports whether err is one of the failures the CLI prints and
// exits 0 on.
func IsHandled(err error) bool {
	var cfgErr *ConfigError
	var connErr *ConnectionError
	var loginErr *LoginError
	return errors.As(err, &cfgErr) || errors.As(err, &connErr) || errors.As(err, &loginErr)
}
