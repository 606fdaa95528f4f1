// Package metrics exposes reconciliation counters in Prometheus format.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultListen is the default address of the /metrics listener.
const DefaultListen = "127.0.0.1:9108"

// DefaultShutdownTimeout is the default graceful shutdown timeout.
const DefaultShutdownTimeout = 5 * time.Second

// Config holds the configuration for the metrics listener.
type Config struct {
	// Enabled controls whether the /metrics listener is started.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Listen is the TCP address serving /metrics.
	// Default: 127.0.0.1:9108
	Listen string `yaml:"listen"`

	// ShutdownTimeout is the maximum time to wait for a graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("metrics: config: invalid Listen %q: %w", c.Listen, err)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("metrics: config: ShutdownTimeout must be positive")
	}
	return nil
}
