package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the configuration for the reconciliation loop.
// Config is passed as a constructor argument; this package does no file I/O.
type Config struct {
	// Interval is the time between reconciliation passes.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`
}

const (
	// DefaultInterval is the default reconciliation interval.
	DefaultInterval = 30 * time.Second
	// MinInterval is the shortest accepted reconciliation interval.
	MinInterval = time.Second
)

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return errors.New("reconcile: config: Interval must not be negative")
	}
	if c.Interval < MinInterval {
		return fmt.Errorf("reconcile: config: Interval must be at least %s", MinInterval)
	}
	return nil
}
