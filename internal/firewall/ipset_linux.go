//go:build linux

package firewall

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// ipsetTypeName is the set type used for every block list. hash:net stores
// both single addresses and prefixes.
const ipsetTypeName = "hash:net"

// ipsetHandle is the subset of the netlink ipset API used by IpsetGateway.
type ipsetHandle interface {
	IpsetCreate(setname, typename string, options netlink.IpsetCreateOptions) error
	IpsetList(setname string) (*netlink.IPSetResult, error)
	IpsetAdd(setname string, entry *netlink.IPSetEntry) error
	IpsetDel(setname string, entry *netlink.IPSetEntry) error
}

// netlinkIpset forwards to the package-level netlink functions, which use
// the default handle in the current network namespace.
type netlinkIpset struct{}

func (netlinkIpset) IpsetCreate(setname, typename string, options netlink.IpsetCreateOptions) error {
	return netlink.IpsetCreate(setname, typename, options)
}

func (netlinkIpset) IpsetList(setname string) (*netlink.IPSetResult, error) {
	return netlink.IpsetList(setname)
}

func (netlinkIpset) IpsetAdd(setname string, entry *netlink.IPSetEntry) error {
	return netlink.IpsetAdd(setname, entry)
}

func (netlinkIpset) IpsetDel(setname string, entry *netlink.IPSetEntry) error {
	return netlink.IpsetDel(setname, entry)
}

// IpsetGateway implements SetGateway with hash:net ipsets over netlink.
type IpsetGateway struct {
	h      ipsetHandle
	logger *slog.Logger
}

// NewIpsetGateway returns an IpsetGateway using the host network namespace.
func NewIpsetGateway(logger *slog.Logger) *IpsetGateway {
	return &IpsetGateway{h: netlinkIpset{}, logger: logger}
}

// EnsureSet creates the ipset unless a set with that name already exists.
func (g *IpsetGateway) EnsureSet(name string, family Family) error {
	if _, err := g.h.IpsetList(name); err == nil {
		return nil
	}
	err := g.h.IpsetCreate(name, ipsetTypeName, netlink.IpsetCreateOptions{
		Family: ipsetFamily(family),
	})
	if err == nil {
		g.logger.Info("ipset created",
			"component", "firewall",
			"set", name,
			"family", family,
		)
		return nil
	}
	// Lost a race with another creator, or the set existed but could not be
	// listed the first time.
	if _, lerr := g.h.IpsetList(name); lerr == nil {
		return nil
	}
	return &MutateError{Op: "create", Target: name, Err: err}
}

// ListMembers returns the set's entries as normalized members.
func (g *IpsetGateway) ListMembers(name string) ([]string, error) {
	res, err := g.h.IpsetList(name)
	if err != nil {
		return nil, &QueryError{Op: "list members", Target: name, Err: ipsetErr(err)}
	}
	members := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		addr, ok := netip.AddrFromSlice(e.IP)
		if !ok {
			g.logger.Debug("skipping unparsable ipset entry",
				"component", "firewall",
				"set", name,
				"ip", e.IP.String(),
			)
			continue
		}
		addr = addr.Unmap()
		bits := int(e.CIDR)
		if bits == 0 || bits > addr.BitLen() {
			bits = addr.BitLen()
		}
		members = append(members, FormatMember(netip.PrefixFrom(addr, bits).Masked()))
	}
	return members, nil
}

// AddMember adds a member; an existing entry is replaced rather than
// reported as a conflict.
func (g *IpsetGateway) AddMember(name, member string) error {
	entry, err := ipsetEntry(member)
	if err != nil {
		return &MutateError{Op: "add", Target: name, Arg: member, Err: err}
	}
	entry.Replace = true
	if err := g.h.IpsetAdd(name, entry); err != nil {
		return &MutateError{Op: "add", Target: name, Arg: member, Err: ipsetErr(err)}
	}
	return nil
}

// DelMember removes a member.
func (g *IpsetGateway) DelMember(name, member string) error {
	entry, err := ipsetEntry(member)
	if err != nil {
		return &MutateError{Op: "del", Target: name, Arg: member, Err: err}
	}
	if err := g.h.IpsetDel(name, entry); err != nil {
		return &MutateError{Op: "del", Target: name, Arg: member, Err: ipsetErr(err)}
	}
	return nil
}

func ipsetEntry(member string) (*netlink.IPSetEntry, error) {
	p, err := ParseMember(member)
	if err != nil {
		return nil, err
	}
	return &netlink.IPSetEntry{
		IP:   net.IP(p.Addr().AsSlice()),
		CIDR: uint8(p.Bits()),
	}, nil
}

func ipsetFamily(f Family) uint8 {
	if f == FamilyV6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// ipsetErr maps the kernel's "no such set" errno onto ErrSetNotFound.
func ipsetErr(err error) error {
	if errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%w: %w", ErrSetNotFound, err)
	}
	return err
}
