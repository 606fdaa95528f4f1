package firewall

import "fmt"

// Family is an IP address family. Sets and chains are kept per family.
type Family int

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// Families lists the address families in reconciliation order.
var Families = []Family{FamilyV4, FamilyV6}

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// FamilyFromVersion maps a control-plane rule version (4 or 6) to a Family.
func FamilyFromVersion(version int) (Family, bool) {
	switch version {
	case 4:
		return FamilyV4, true
	case 6:
		return FamilyV6, true
	default:
		return 0, false
	}
}

// Scope says whether a rule applies to every node or to an explicit subset.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopePerNode Scope = "per_node"
)

// Scopes lists the scopes in reconciliation order.
var Scopes = []Scope{ScopeGlobal, ScopePerNode}

// Direction selects which packet address a drop rule matches against a set.
type Direction string

const (
	DirSource      Direction = "src"
	DirDestination Direction = "dst"
)

// Directions lists the match directions in the order rules are ensured.
var Directions = []Direction{DirSource, DirDestination}

// NamedSet identifies one of the four kernel address sets.
type NamedSet struct {
	Family Family
	Scope  Scope
}

var setNames = map[NamedSet]string{
	{FamilyV4, ScopeGlobal}:  "block_global_v4",
	{FamilyV4, ScopePerNode}: "block_node_v4",
	{FamilyV6, ScopeGlobal}:  "block_global_v6",
	{FamilyV6, ScopePerNode}: "block_node_v6",
}

// Name returns the fixed kernel name of the set.
func (s NamedSet) Name() string {
	if name, ok := setNames[s]; ok {
		return name
	}
	return fmt.Sprintf("block_%s_%s", s.Scope, s.Family)
}

func (s NamedSet) String() string { return s.Name() }

// AllSets returns the four named sets in reconciliation order:
// v4 before v6, global before per-node.
func AllSets() []NamedSet {
	sets := make([]NamedSet, 0, len(Families)*len(Scopes))
	for _, f := range Families {
		for _, sc := range Scopes {
			sets = append(sets, NamedSet{Family: f, Scope: sc})
		}
	}
	return sets
}

// SetByName returns the named set with the given kernel name.
func SetByName(name string) (NamedSet, bool) {
	for s, n := range setNames {
		if n == name {
			return s, true
		}
	}
	return NamedSet{}, false
}
