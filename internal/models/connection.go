package models

import (
	"net"
	"strconv"
	"time"
)

// SSHPort is the port that selects the SSH transport.
const SSHPort = 22

// DefaultTelnetPort is used when the command list names no port.
const DefaultTelnetPort = 23

// Protocol identifies the transport variant.
type Protocol string

const (
	ProtocolTelnet Protocol = "telnet"
	ProtocolSSH    Protocol = "ssh"
)

// ConnectionSpec is the target encoded on the first line of a command list.
type ConnectionSpec struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Protocol derives the transport from the port.
func (c ConnectionSpec) Protocol() Protocol {
	if c.Port == SSHPort {
		return ProtocolSSH
	}
	return ProtocolTelnet
}

// Address returns host:port suitable for dialing.
func (c ConnectionSpec) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the invariants that must hold before connecting.
func (c ConnectionSpec) Validate() error {
	if c.Host == "" {
		return &ConfigError{Err: ErrMissingIPAddress}
	}
	if c.Protocol() == ProtocolSSH {
		if c.Username == "" {
			return &ConfigError{Field: "username", Err: ErrMissingCredentials}
		}
		if c.Password == "" {
			return &ConfigError{Field: "password", Err: ErrMissingCredentials}
		}
	}
	return nil
}
