//go:build linux

package firewall

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// nftChainName is the base chain holding the drop rules in each table.
const nftChainName = "forward"

// nftConn is the subset of *nftables.Conn used by NftablesGateway.
type nftConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	AddChain(c *nftables.Chain) *nftables.Chain
	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	GetSetByName(t *nftables.Table, name string) (*nftables.Set, error)
	GetSetElements(s *nftables.Set) ([]nftables.SetElement, error)
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)
	AddRule(r *nftables.Rule) *nftables.Rule
	Flush() error
}

// NftablesGateway implements both SetGateway and RuleGateway on nftables.
// Each family gets its own table ("ip <table>" and "ip6 <table>") holding
// interval sets with the block-list names and a forward base chain.
type NftablesGateway struct {
	conn   nftConn
	table  string
	logger *slog.Logger
}

// NewNftablesGateway opens a netlink connection to nftables. cfg must have
// defaults applied.
func NewNftablesGateway(cfg Config, logger *slog.Logger) (*NftablesGateway, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("firewall: nftables: %w", err)
	}
	return newNftablesGateway(conn, cfg.Table, logger), nil
}

func newNftablesGateway(conn nftConn, table string, logger *slog.Logger) *NftablesGateway {
	return &NftablesGateway{conn: conn, table: table, logger: logger}
}

func (g *NftablesGateway) tableFor(f Family) *nftables.Table {
	fam := nftables.TableFamilyIPv4
	if f == FamilyV6 {
		fam = nftables.TableFamilyIPv6
	}
	return &nftables.Table{Family: fam, Name: g.table}
}

func (g *NftablesGateway) chainFor(t *nftables.Table) *nftables.Chain {
	return &nftables.Chain{
		Name:     nftChainName,
		Table:    t,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
	}
}

// lookupSet resolves a block-list name to its kernel set.
func (g *NftablesGateway) lookupSet(name string) (*nftables.Set, Family, error) {
	ns, ok := SetByName(name)
	if !ok {
		return nil, 0, fmt.Errorf("unknown set %q", name)
	}
	s, err := g.conn.GetSetByName(g.tableFor(ns.Family), name)
	if err != nil {
		return nil, ns.Family, nftErr(err)
	}
	return s, ns.Family, nil
}

// EnsureSet adds the family table and the interval set. Both operations are
// no-ops when the objects already exist.
func (g *NftablesGateway) EnsureSet(name string, family Family) error {
	keyType := nftables.TypeIPAddr
	if family == FamilyV6 {
		keyType = nftables.TypeIP6Addr
	}
	table := g.conn.AddTable(g.tableFor(family))
	if err := g.conn.AddSet(&nftables.Set{
		Table:    table,
		Name:     name,
		KeyType:  keyType,
		Interval: true,
	}, nil); err != nil {
		return &MutateError{Op: "create", Target: name, Err: err}
	}
	if err := g.conn.Flush(); err != nil {
		return &MutateError{Op: "create", Target: name, Err: err}
	}
	g.logger.Debug("nftables set ensured",
		"component", "firewall",
		"table", table.Name,
		"set", name,
	)
	return nil
}

// ListMembers reads the set's interval elements back into prefixes.
func (g *NftablesGateway) ListMembers(name string) ([]string, error) {
	set, _, err := g.lookupSet(name)
	if err != nil {
		return nil, &QueryError{Op: "list members", Target: name, Err: err}
	}
	elems, err := g.conn.GetSetElements(set)
	if err != nil {
		return nil, &QueryError{Op: "list members", Target: name, Err: nftErr(err)}
	}
	var members []string
	for _, p := range intervalsToPrefixes(elems) {
		members = append(members, FormatMember(p))
	}
	return members, nil
}

// DisjointMembers reports that the interval sets reject overlapping
// elements; they are created without auto-merge.
func (g *NftablesGateway) DisjointMembers() bool { return true }

// AddMember inserts the member's interval.
func (g *NftablesGateway) AddMember(name, member string) error {
	return g.mutateMember("add", name, member)
}

// DelMember removes the member's interval.
func (g *NftablesGateway) DelMember(name, member string) error {
	return g.mutateMember("del", name, member)
}

func (g *NftablesGateway) mutateMember(op, name, member string) error {
	p, err := ParseMember(member)
	if err != nil {
		return &MutateError{Op: op, Target: name, Arg: member, Err: err}
	}
	set, fam, err := g.lookupSet(name)
	if err != nil {
		return &MutateError{Op: op, Target: name, Arg: member, Err: err}
	}
	if familyOf(p.Addr()) != fam {
		return &MutateError{Op: op, Target: name, Arg: member, Err: fmt.Errorf("address family mismatch")}
	}
	elems := prefixElements(p)
	if op == "add" {
		err = g.conn.SetAddElements(set, elems)
	} else {
		err = g.conn.SetDeleteElements(set, elems)
	}
	if err == nil {
		err = g.conn.Flush()
	}
	if err != nil {
		return &MutateError{Op: op, Target: name, Arg: member, Err: nftErr(err)}
	}
	return nil
}

// ListRules decodes the set-lookup rules of the family's forward chain.
func (g *NftablesGateway) ListRules(family Family) ([]ChainRule, error) {
	table := g.tableFor(family)
	rules, err := g.conn.GetRules(table, g.chainFor(table))
	if err != nil {
		return nil, &QueryError{Op: "list rules", Target: family.String(), Err: err}
	}
	var out []ChainRule
	for _, r := range rules {
		if cr, ok := decodeNftRule(family, r.Exprs); ok {
			out = append(out, cr)
		}
	}
	return out, nil
}

// AppendRule adds the rule at the end of the family's forward chain,
// creating the table and chain when needed.
func (g *NftablesGateway) AppendRule(family Family, rule ChainRule) error {
	fail := func(err error) error {
		return &MutateError{Op: "append", Target: family.String(), Arg: rule.String(), Err: err}
	}
	if len(rule.Extra) > 0 {
		return fail(fmt.Errorf("extra matchers are not supported"))
	}
	set, _, err := g.lookupSet(rule.Set)
	if err != nil {
		return fail(err)
	}
	exprs, err := encodeNftRule(family, rule, set)
	if err != nil {
		return fail(err)
	}
	table := g.conn.AddTable(g.tableFor(family))
	chain := g.conn.AddChain(g.chainFor(table))
	g.conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: exprs})
	if err := g.conn.Flush(); err != nil {
		return fail(err)
	}
	return nil
}

// addrField returns the network-header offset and length of the address
// matched in the given direction.
func addrField(family Family, dir Direction) (offset, length uint32, err error) {
	switch {
	case family == FamilyV4 && dir == DirSource:
		return 12, 4, nil
	case family == FamilyV4 && dir == DirDestination:
		return 16, 4, nil
	case family == FamilyV6 && dir == DirSource:
		return 8, 16, nil
	case family == FamilyV6 && dir == DirDestination:
		return 24, 16, nil
	}
	return 0, 0, fmt.Errorf("unsupported direction %q for %s", dir, family)
}

func encodeNftRule(family Family, rule ChainRule, set *nftables.Set) ([]expr.Any, error) {
	offset, length, err := addrField(family, rule.Direction)
	if err != nil {
		return nil, err
	}
	var verdict expr.VerdictKind
	switch rule.Verdict {
	case VerdictDrop:
		verdict = expr.VerdictDrop
	case VerdictAccept:
		verdict = expr.VerdictAccept
	default:
		return nil, fmt.Errorf("unsupported verdict %q", rule.Verdict)
	}
	return []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          length,
		},
		&expr.Lookup{
			SourceRegister: 1,
			SetName:        set.Name,
			SetID:          set.ID,
			Invert:         rule.Negated,
		},
		&expr.Counter{},
		&expr.Verdict{Kind: verdict},
	}, nil
}

// decodeNftRule recognizes payload+lookup+verdict rules. Counters are
// ignored; any other expression ends up in Extra.
func decodeNftRule(family Family, exprs []expr.Any) (ChainRule, bool) {
	var (
		rule    ChainRule
		payload *expr.Payload
		found   bool
	)
	for _, e := range exprs {
		switch v := e.(type) {
		case *expr.Payload:
			if payload != nil {
				rule.Extra = append(rule.Extra, describePayload(payload))
			}
			payload = v
		case *expr.Lookup:
			if found || payload == nil {
				rule.Extra = append(rule.Extra, "lookup @"+v.SetName)
				continue
			}
			dir, ok := directionAt(family, payload)
			if !ok {
				rule.Extra = append(rule.Extra, describePayload(payload))
			}
			rule.Set = v.SetName
			rule.Direction = dir
			rule.Negated = v.Invert
			payload = nil
			found = true
		case *expr.Counter:
		case *expr.Verdict:
			switch v.Kind {
			case expr.VerdictDrop:
				rule.Verdict = VerdictDrop
			case expr.VerdictAccept:
				rule.Verdict = VerdictAccept
			default:
				rule.Verdict = fmt.Sprintf("verdict(%d)", v.Kind)
			}
		default:
			rule.Extra = append(rule.Extra, fmt.Sprintf("%T", e))
		}
	}
	if payload != nil {
		rule.Extra = append(rule.Extra, describePayload(payload))
	}
	return rule, found
}

func directionAt(family Family, p *expr.Payload) (Direction, bool) {
	if p.Base != expr.PayloadBaseNetworkHeader {
		return "", false
	}
	for _, dir := range Directions {
		off, n, _ := addrField(family, dir)
		if p.Offset == off && p.Len == n {
			return dir, true
		}
	}
	return "", false
}

func describePayload(p *expr.Payload) string {
	return fmt.Sprintf("payload(base=%d,off=%d,len=%d)", p.Base, p.Offset, p.Len)
}

// prefixElements encodes a prefix as an interval: a start key and an end
// key one past the last address. A range reaching the top of the address
// space has no end key.
func prefixElements(p netip.Prefix) []nftables.SetElement {
	p = p.Masked()
	elems := []nftables.SetElement{{Key: p.Addr().AsSlice()}}
	if end := prefixLast(p).Next(); end.IsValid() {
		elems = append(elems, nftables.SetElement{Key: end.AsSlice(), IntervalEnd: true})
	}
	return elems
}

// intervalsToPrefixes rebuilds prefixes from interval set elements. The
// kernel returns elements in no useful order, so they are sorted by key
// first. Ranges that are not a single prefix split into several.
func intervalsToPrefixes(elems []nftables.SetElement) []netip.Prefix {
	sorted := slices.Clone(elems)
	slices.SortStableFunc(sorted, func(a, b nftables.SetElement) int {
		if c := bytes.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		// An interval end sorts before a start at the same key.
		switch {
		case a.IntervalEnd && !b.IntervalEnd:
			return -1
		case !a.IntervalEnd && b.IntervalEnd:
			return 1
		}
		return 0
	})

	var out []netip.Prefix
	for i := 0; i < len(sorted); i++ {
		e := sorted[i]
		if e.IntervalEnd {
			continue
		}
		start, ok := netip.AddrFromSlice(e.Key)
		if !ok {
			continue
		}
		last := maxAddr(start)
		if i+1 < len(sorted) && sorted[i+1].IntervalEnd {
			if end, ok := netip.AddrFromSlice(sorted[i+1].Key); ok {
				last = end.Prev()
			}
			i++
		}
		if !last.IsValid() || last.Less(start) {
			continue
		}
		out = append(out, rangeToPrefixes(start, last)...)
	}
	return out
}

// rangeToPrefixes returns the minimal list of prefixes covering
// [first, last].
func rangeToPrefixes(first, last netip.Addr) []netip.Prefix {
	var out []netip.Prefix
	for first.IsValid() && !last.Less(first) {
		p := netip.PrefixFrom(first, first.BitLen())
		for bits := 0; bits <= first.BitLen(); bits++ {
			c := netip.PrefixFrom(first, bits)
			if c.Masked().Addr() == first && !last.Less(prefixLast(c)) {
				p = c
				break
			}
		}
		out = append(out, p)
		first = prefixLast(p).Next()
	}
	return out
}

// prefixLast returns the highest address inside p.
func prefixLast(p netip.Prefix) netip.Addr {
	b := p.Masked().Addr().AsSlice()
	for i := p.Bits(); i < len(b)*8; i++ {
		b[i/8] |= 1 << (7 - uint(i%8))
	}
	a, _ := netip.AddrFromSlice(b)
	return a
}

func maxAddr(like netip.Addr) netip.Addr {
	return prefixLast(netip.PrefixFrom(like, 0))
}

// nftErr maps kernel errnos onto the gateway sentinels.
func nftErr(err error) error {
	switch {
	case errors.Is(err, unix.ENOENT):
		return fmt.Errorf("%w: %w", ErrSetNotFound, err)
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%w: %w", ErrMemberExists, err)
	}
	return err
}
