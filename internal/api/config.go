package api

import (
	"errors"
	"time"
)

// Config holds the configuration for the ControlPlane client.
// Config is passed as a constructor argument; this package does no file I/O.
type Config struct {
	// BaseURL is the control plane base URL (required).
	// Example: "https://panel.xerohost.net"
	BaseURL string `yaml:"base_url"`

	// Token is the node's bearer token (required). It is fixed for the
	// lifetime of the client.
	Token string `yaml:"token"`

	// TLSInsecureSkipVerify disables TLS certificate verification.
	// WARNING: Only use for development/testing.
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify"`

	// ConnectTimeout is the maximum time to wait for a TCP connection.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout is the ceiling for a complete request/response cycle.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConnectTimeout is the default TCP connect timeout.
const DefaultConnectTimeout = 5 * time.Second

// DefaultRequestTimeout is the default HTTP request timeout.
const DefaultRequestTimeout = 10 * time.Second

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("api: config: BaseURL is required")
	}
	if c.Token == "" {
		return errors.New("api: config: Token is required")
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("api: config: timeouts must not be negative")
	}
	return nil
}
