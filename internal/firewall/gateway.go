package firewall

import (
	"errors"
	"fmt"
	"slices"
)

// SetGateway abstracts the kernel's named address-set primitive.
type SetGateway interface {
	// EnsureSet creates the named set for the given family if it does not
	// already exist. An existing set is success.
	EnsureSet(name string, family Family) error
	// ListMembers returns the current members of the named set in
	// normalized form (see FormatMember).
	ListMembers(name string) ([]string, error)
	// AddMember adds a single member. Adding a present member is success
	// or returns an error matching ErrMemberExists.
	AddMember(name, member string) error
	// DelMember removes a single member.
	DelMember(name, member string) error
}

// DisjointSetGateway is implemented by set gateways whose sets cannot hold
// a prefix together with a prefix it contains.
type DisjointSetGateway interface {
	SetGateway
	DisjointMembers() bool
}

// RuleGateway abstracts the per-family forwarding chain.
type RuleGateway interface {
	// ListRules returns the set-matching rules of the family's chain, parsed.
	// Other rules are omitted; matchers beyond the set match land in Extra.
	ListRules(family Family) ([]ChainRule, error)
	// AppendRule appends a single rule at the end of the family's chain.
	AppendRule(family Family, rule ChainRule) error
}

var (
	// ErrSetNotFound is matched by gateway errors for a set that does not exist.
	ErrSetNotFound = errors.New("set does not exist")

	// ErrMemberExists is matched by gateway errors for a duplicate add.
	ErrMemberExists = errors.New("member already present")
)

// QueryError reports a failed listing of a set or a chain.
type QueryError struct {
	Op     string // "list members", "list rules"
	Target string // set name or family
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("firewall: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// MutateError reports a failed create, add, delete or append.
type MutateError struct {
	Op     string // "create", "add", "del", "append"
	Target string // set name or family
	Arg    string // member or rule
	Err    error
}

func (e *MutateError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("firewall: %s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("firewall: %s %s %s: %v", e.Op, e.Target, e.Arg, e.Err)
}

func (e *MutateError) Unwrap() error { return e.Err }

// Verdicts understood by the rule parser.
const (
	VerdictDrop   = "DROP"
	VerdictAccept = "ACCEPT"
)

// ChainRule is the typed form of one forwarding-chain rule that matches a
// named set. Presence checks compare these records field by field.
type ChainRule struct {
	Set       string
	Direction Direction
	Verdict   string
	// Negated is set when the set match is inverted ("! --match-set").
	Negated bool
	// Extra holds any matcher or option beyond the set match and verdict.
	// A rule with extras is narrower than a plain drop rule.
	Extra []string
}

// DropRule returns the required rule dropping packets whose address in the
// given direction is a member of set.
func DropRule(set NamedSet, dir Direction) ChainRule {
	return ChainRule{Set: set.Name(), Direction: dir, Verdict: VerdictDrop}
}

// Satisfies reports whether r enforces exactly what want requires.
func (r ChainRule) Satisfies(want ChainRule) bool {
	return r.Set == want.Set &&
		r.Direction == want.Direction &&
		r.Verdict == want.Verdict &&
		r.Negated == want.Negated &&
		len(r.Extra) == 0 && len(want.Extra) == 0
}

// Equal reports whether two rules are structurally identical.
func (r ChainRule) Equal(o ChainRule) bool {
	return r.Set == o.Set &&
		r.Direction == o.Direction &&
		r.Verdict == o.Verdict &&
		r.Negated == o.Negated &&
		slices.Equal(r.Extra, o.Extra)
}

// String renders the rule in iptables specification form.
func (r ChainRule) String() string {
	neg := ""
	if r.Negated {
		neg = "! "
	}
	return fmt.Sprintf("-m set %s--match-set %s %s -j %s", neg, r.Set, r.Direction, r.Verdict)
}
