//go:build linux

package firewall

import (
	"fmt"
	"log/slog"
)

// NewBackend returns the kernel gateways selected by cfg.Backend.
func NewBackend(cfg Config, logger *slog.Logger) (SetGateway, RuleGateway, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	switch cfg.Backend {
	case BackendNftables:
		gw, err := NewNftablesGateway(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return gw, gw, nil
	case BackendIpset:
		rules, err := NewIptablesGateway(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return NewIpsetGateway(logger), rules, nil
	}
	return nil, nil, fmt.Errorf("firewall: unsupported backend %q", cfg.Backend)
}
