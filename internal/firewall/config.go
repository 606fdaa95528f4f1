// Package firewall converges the node's kernel packet-filter state to the
// desired block lists: four named address sets and the forwarding-chain
// drop rules that reference them.
package firewall

import (
	"fmt"
	"time"
)

const (
	// BackendIpset drives hash:net ipsets over netlink and the filter/FORWARD
	// chain through iptables and ip6tables.
	BackendIpset = "ipset"

	// BackendNftables keeps the sets and drop rules in per-family nftables tables.
	BackendNftables = "nftables"
)

const (
	// DefaultChain is the iptables chain the drop rules are appended to.
	DefaultChain = "FORWARD"

	// DefaultTable is the nftables table name used by the nftables backend.
	DefaultTable = "xerohost"

	// DefaultCommandTimeout bounds the xtables lock wait of iptables invocations.
	DefaultCommandTimeout = 5 * time.Second
)

// Config holds the configuration for the kernel backend.
type Config struct {
	// Backend selects the kernel backend: "ipset" or "nftables".
	// Default: "ipset"
	Backend string `yaml:"backend"`

	// Chain is the iptables chain holding the drop rules (ipset backend).
	// Default: FORWARD
	Chain string `yaml:"chain"`

	// Table is the nftables table name (nftables backend).
	// Default: xerohost
	Table string `yaml:"table"`

	// CommandTimeout is passed to iptables as the xtables lock wait.
	// Default: 5s
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendIpset
	}
	if c.Chain == "" {
		c.Chain = DefaultChain
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendIpset, BackendNftables:
	default:
		return fmt.Errorf("firewall: config: invalid backend %q (must be %q or %q)", c.Backend, BackendIpset, BackendNftables)
	}
	if c.CommandTimeout < time.Second {
		return fmt.Errorf("firewall: config: CommandTimeout must be at least 1s")
	}
	return nil
}
