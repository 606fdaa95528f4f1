package firewall

import (
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
)

// MemberError records one failed add or delete.
type MemberError struct {
	Member string
	Op     string // "add" or "del"
	Err    error
}

// SetResult summarizes the reconciliation of one named set.
type SetResult struct {
	Set     NamedSet
	Desired int
	Added   []string
	Removed []string
	Failed  []MemberError
	// QueryFailed is set when the current membership could not be listed and
	// was treated as empty.
	QueryFailed bool
	// EnsureErr is the error from creating the set, if any.
	EnsureErr error
}

// OK reports whether every operation on the set succeeded.
func (r SetResult) OK() bool {
	return !r.QueryFailed && r.EnsureErr == nil && len(r.Failed) == 0
}

// Mutations returns the number of successful adds and deletes.
func (r SetResult) Mutations() int {
	return len(r.Added) + len(r.Removed)
}

// SetReconciler converges the membership of named sets to a desired list.
// It keeps no membership state between calls; only which sets have been
// created is remembered.
type SetReconciler struct {
	gw     SetGateway
	logger *slog.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewSetReconciler returns a SetReconciler driving the given gateway.
func NewSetReconciler(gw SetGateway, logger *slog.Logger) *SetReconciler {
	return &SetReconciler{
		gw:      gw,
		logger:  logger.With("component", "firewall"),
		ensured: make(map[string]bool),
	}
}

// EnsureSet creates the set unless it was already created by this process.
func (r *SetReconciler) EnsureSet(set NamedSet) error {
	name := set.Name()
	r.mu.Lock()
	done := r.ensured[name]
	r.mu.Unlock()
	if done {
		return nil
	}
	if err := r.gw.EnsureSet(name, set.Family); err != nil {
		r.logger.Error("ensure set failed", "set", name, "family", set.Family, "error", err)
		return err
	}
	r.mu.Lock()
	r.ensured[name] = true
	r.mu.Unlock()
	return nil
}

func (r *SetReconciler) forget(name string) {
	r.mu.Lock()
	delete(r.ensured, name)
	r.mu.Unlock()
}

// Reconcile brings the set's kernel membership to exactly desired. Members
// of desired must already be normalized. Adds run in desired order, then
// deletes in sorted order. Each mutation is independent; failures are
// logged and returned in the result without stopping the others.
//
// On gateways with disjoint members, desired prefixes covered by another
// desired prefix are left out and stale members go first, so a wider
// prefix never collides with a narrower one still in the kernel.
func (r *SetReconciler) Reconcile(set NamedSet, desired []string) SetResult {
	name := set.Name()
	disjoint := false
	if d, ok := r.gw.(DisjointSetGateway); ok && d.DisjointMembers() {
		disjoint = true
		if collapsed := collapseCovered(desired); len(collapsed) != len(desired) {
			r.logger.Debug("covered members collapsed",
				"set", name,
				"desired", len(desired),
				"kept", len(collapsed),
			)
			desired = collapsed
		}
	}
	res := SetResult{Set: set, Desired: len(desired)}

	if err := r.EnsureSet(set); err != nil {
		// Keep going: the set may exist despite the error, and the
		// per-member failures below are what get reported.
		res.EnsureErr = err
	}

	current, err := r.gw.ListMembers(name)
	if err != nil {
		r.logger.Warn("listing set members failed, treating as empty",
			"set", name,
			"error", err,
		)
		res.QueryFailed = true
		current = nil
		if errors.Is(err, ErrSetNotFound) {
			r.forget(name)
		}
	}

	have := make(map[string]struct{}, len(current))
	for _, m := range current {
		if n, err := NormalizeMember(m); err == nil {
			m = n
		}
		have[m] = struct{}{}
	}
	want := make(map[string]struct{}, len(desired))
	for _, m := range desired {
		want[m] = struct{}{}
	}

	var stale []string
	for m := range have {
		if _, ok := want[m]; !ok {
			stale = append(stale, m)
		}
	}
	slices.Sort(stale)

	if disjoint {
		r.removeStale(name, stale, &res)
		r.addMissing(name, desired, have, &res)
	} else {
		r.addMissing(name, desired, have, &res)
		r.removeStale(name, stale, &res)
	}

	if res.Mutations() > 0 {
		r.logger.Info("set reconciled",
			"set", name,
			"desired", res.Desired,
			"added", len(res.Added),
			"removed", len(res.Removed),
			"failed", len(res.Failed),
		)
	}
	return res
}

func (r *SetReconciler) addMissing(name string, desired []string, have map[string]struct{}, res *SetResult) {
	for _, m := range desired {
		if _, ok := have[m]; ok {
			continue
		}
		err := r.gw.AddMember(name, m)
		switch {
		case err == nil:
			res.Added = append(res.Added, m)
			have[m] = struct{}{}
		case errors.Is(err, ErrMemberExists):
			have[m] = struct{}{}
		default:
			r.logger.Error("set mutation failed", "set", name, "member", m, "op", "add", "error", err)
			res.Failed = append(res.Failed, MemberError{Member: m, Op: "add", Err: err})
			if errors.Is(err, ErrSetNotFound) {
				r.forget(name)
			}
		}
	}
}

func (r *SetReconciler) removeStale(name string, stale []string, res *SetResult) {
	for _, m := range stale {
		if err := r.gw.DelMember(name, m); err != nil {
			r.logger.Error("set mutation failed", "set", name, "member", m, "op", "del", "error", err)
			res.Failed = append(res.Failed, MemberError{Member: m, Op: "del", Err: err})
			continue
		}
		res.Removed = append(res.Removed, m)
	}
}

// collapseCovered drops every member contained in a shorter prefix that is
// also a member. Order is preserved. Unparsable members are kept.
func collapseCovered(members []string) []string {
	prefixes := make(map[netip.Prefix]struct{}, len(members))
	for _, m := range members {
		if p, err := ParseMember(m); err == nil {
			prefixes[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		p, err := ParseMember(m)
		if err != nil || !coveredBy(p, prefixes) {
			out = append(out, m)
		}
	}
	return out
}

func coveredBy(p netip.Prefix, prefixes map[netip.Prefix]struct{}) bool {
	for bits := 0; bits < p.Bits(); bits++ {
		if _, ok := prefixes[netip.PrefixFrom(p.Addr(), bits).Masked()]; ok {
			return true
		}
	}
	return false
}
