package firewall

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/xerohost/xerohost-agent/internal/api"
)

// Desired maps every named set to its desired, normalized membership.
// All four sets are always present; a set with no rules maps to an empty slice.
type Desired map[NamedSet][]string

// Total returns the number of desired members across all sets.
func (d Desired) Total() int {
	n := 0
	for _, members := range d {
		n += len(members)
	}
	return n
}

// Partition splits a fetched rule list into the desired membership of each
// named set. globalRules only populate global sets and nodeRules only the
// per-node sets; the rule version selects the family. Entries that failed
// to decode, rules without an address, with an unparsable address, or whose address does not belong to
// the declared version are dropped and logged. Duplicates collapse.
func Partition(resp *api.RulesResponse, logger *slog.Logger) Desired {
	desired := make(Desired, len(setNames))
	for _, s := range AllSets() {
		desired[s] = []string{}
	}
	if resp == nil {
		return desired
	}

	seen := make(map[NamedSet]map[string]struct{}, len(setNames))
	add := func(scope Scope, rules []api.AccessRule) {
		for _, r := range rules {
			fam, member, err := classify(r)
			if err != nil {
				logger.Warn("dropping malformed rule",
					"component", "firewall",
					"scope", scope,
					"rule_id", r.ID,
					"error", err,
				)
				continue
			}
			set := NamedSet{Family: fam, Scope: scope}
			if seen[set] == nil {
				seen[set] = make(map[string]struct{})
			}
			if _, dup := seen[set][member]; dup {
				continue
			}
			seen[set][member] = struct{}{}
			desired[set] = append(desired[set], member)
		}
	}
	add(ScopeGlobal, resp.GlobalRules)
	add(ScopePerNode, resp.NodeRules)
	return desired
}

func classify(r api.AccessRule) (Family, string, error) {
	if r.Malformed != "" {
		return 0, "", fmt.Errorf("undecodable entry: %s", r.Malformed)
	}
	fam, ok := FamilyFromVersion(r.Version)
	if !ok {
		return 0, "", fmt.Errorf("unsupported version %d", r.Version)
	}
	addr := strings.TrimSpace(r.Address())
	if addr == "" {
		return 0, "", fmt.Errorf("neither ip nor cidr set")
	}
	prefix, err := ParseMember(addr)
	if err != nil {
		return 0, "", err
	}
	if familyOf(prefix.Addr()) != fam {
		return 0, "", fmt.Errorf("address %q is not IP%s", addr, fam)
	}
	return fam, FormatMember(prefix), nil
}

// ParseMember parses an address or CIDR into its masked prefix. A bare
// address becomes a full-length prefix; IPv4-mapped IPv6 addresses are
// unmapped.
func ParseMember(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid cidr %q: %w", s, err)
		}
		addr := p.Addr()
		bits := p.Bits()
		if addr.Is4In6() && bits >= 96 {
			addr, bits = addr.Unmap(), bits-96
		}
		return netip.PrefixFrom(addr.WithZone(""), bits).Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid ip %q: %w", s, err)
	}
	a = a.Unmap().WithZone("")
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// FormatMember renders a prefix the way the kernel lists set members: a
// full-length prefix is a bare address, anything else is CIDR notation.
func FormatMember(p netip.Prefix) string {
	if p.Bits() == p.Addr().BitLen() {
		return p.Addr().String()
	}
	return p.String()
}

// NormalizeMember returns the canonical form of an address or CIDR.
func NormalizeMember(s string) (string, error) {
	p, err := ParseMember(s)
	if err != nil {
		return "", err
	}
	return FormatMember(p), nil
}

func familyOf(a netip.Addr) Family {
	if a.Is4() {
		return FamilyV4
	}
	return FamilyV6
}
