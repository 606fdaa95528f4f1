//go:build !linux

package firewall

import (
	"errors"
	"log/slog"
)

// ErrUnsupportedPlatform is returned by NewBackend on non-Linux systems.
var ErrUnsupportedPlatform = errors.New("firewall: kernel backends require linux")

// NewBackend returns the kernel gateways selected by cfg.Backend.
func NewBackend(cfg Config, logger *slog.Logger) (SetGateway, RuleGateway, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return nil, nil, ErrUnsupportedPlatform
}
