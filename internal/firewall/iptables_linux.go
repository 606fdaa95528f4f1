//go:build linux

package firewall

import (
	"fmt"
	"log/slog"

	"github.com/coreos/go-iptables/iptables"
)

// filterTable is the iptables table holding the forwarding chain.
const filterTable = "filter"

// chainRunner is the subset of *iptables.IPTables used by IptablesGateway.
type chainRunner interface {
	List(table, chain string) ([]string, error)
	Append(table, chain string, rulespec ...string) error
}

// IptablesGateway implements RuleGateway with iptables for IPv4 and
// ip6tables for IPv6.
type IptablesGateway struct {
	chain  string
	ipt    map[Family]chainRunner
	logger *slog.Logger
}

// NewIptablesGateway locates the iptables and ip6tables binaries. cfg must
// have defaults applied.
func NewIptablesGateway(cfg Config, logger *slog.Logger) (*IptablesGateway, error) {
	timeout := int(cfg.CommandTimeout.Seconds())
	v4, err := iptables.New(iptables.IPFamily(iptables.ProtocolIPv4), iptables.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("firewall: iptables: %w", err)
	}
	v6, err := iptables.New(iptables.IPFamily(iptables.ProtocolIPv6), iptables.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("firewall: ip6tables: %w", err)
	}
	return &IptablesGateway{
		chain:  cfg.Chain,
		ipt:    map[Family]chainRunner{FamilyV4: v4, FamilyV6: v6},
		logger: logger,
	}, nil
}

// ListRules lists the chain in -S form and parses every set-matching rule.
func (g *IptablesGateway) ListRules(family Family) ([]ChainRule, error) {
	ipt, ok := g.ipt[family]
	if !ok {
		return nil, &QueryError{Op: "list rules", Target: family.String(), Err: fmt.Errorf("unsupported family")}
	}
	lines, err := ipt.List(filterTable, g.chain)
	if err != nil {
		return nil, &QueryError{Op: "list rules", Target: family.String(), Err: err}
	}
	var rules []ChainRule
	for _, line := range lines {
		if r, ok := ParseIptablesRule(line); ok {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// AppendRule appends the rule to the end of the chain.
func (g *IptablesGateway) AppendRule(family Family, rule ChainRule) error {
	ipt, ok := g.ipt[family]
	if !ok {
		return &MutateError{Op: "append", Target: family.String(), Arg: rule.String(), Err: fmt.Errorf("unsupported family")}
	}
	if err := ipt.Append(filterTable, g.chain, rule.Spec()...); err != nil {
		return &MutateError{Op: "append", Target: family.String(), Arg: rule.String(), Err: err}
	}
	return nil
}
