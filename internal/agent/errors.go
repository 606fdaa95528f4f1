package agent

import (
	"fmt"
	"strings"
)

// ConfigError reports missing or invalid startup configuration. The agent
// refuses to start while one is outstanding.
type ConfigError struct {
	// Missing names required keys that were not set anywhere.
	Missing []string
	// Key and Value identify a setting that could not be used.
	Key   string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return "agent: config: missing " + strings.Join(e.Missing, ", ")
	}
	if e.Key != "" {
		return fmt.Sprintf("agent: config: invalid %s %q: %v", e.Key, e.Value, e.Err)
	}
	return fmt.Sprintf("agent: config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
