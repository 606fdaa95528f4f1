// Package nodeapi serves the agent's reconciliation status over a local
// Unix domain socket.
package nodeapi

import (
	"errors"
	"time"
)

// Config holds the configuration for the local status API server.
// Config is passed as a constructor argument; this package does no config file I/O.
type Config struct {
	// SocketPath is the path to the Unix domain socket.
	// Default: /var/run/xerohost/agent.sock
	SocketPath string `yaml:"socket_path"`

	// SocketGroup owns the socket when it exists on the host. Members of
	// the group may query the agent without root.
	// Default: xerohost
	SocketGroup string `yaml:"socket_group"`

	// ShutdownTimeout is the maximum time to wait for a graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultSocketPath is the default Unix domain socket path.
const DefaultSocketPath = "/var/run/xerohost/agent.sock"

// DefaultSocketGroup is the default socket group.
const DefaultSocketGroup = "xerohost"

// DefaultShutdownTimeout is the default graceful shutdown timeout.
const DefaultShutdownTimeout = 5 * time.Second

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.SocketGroup == "" {
		c.SocketGroup = DefaultSocketGroup
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks that required fields are set and values are acceptable.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("nodeapi: config: SocketPath is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("nodeapi: config: ShutdownTimeout must be positive")
	}
	return nil
}
