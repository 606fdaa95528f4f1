package firewall

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memGateway is an in-memory kernel implementing SetGateway and RuleGateway.
// Failures are injected per operation and key.
type memGateway struct {
	mu    sync.Mutex
	sets  map[string][]string
	chain map[Family][]ChainRule

	ensureCalls []string
	addCalls    []string // "set member"
	delCalls    []string
	appendCalls []ChainRule
	listRules   int

	ensureErr    map[string]error
	listErr      map[string]error
	addErr       map[string]error // keyed by member
	delErr       map[string]error
	listRulesErr map[Family]error
	appendErr    map[string]error // keyed by rule String()

	// strictAdd makes duplicate adds fail with ErrMemberExists.
	strictAdd bool
}

func newMemGateway() *memGateway {
	return &memGateway{
		sets:         make(map[string][]string),
		chain:        make(map[Family][]ChainRule),
		ensureErr:    make(map[string]error),
		listErr:      make(map[string]error),
		addErr:       make(map[string]error),
		delErr:       make(map[string]error),
		listRulesErr: make(map[Family]error),
		appendErr:    make(map[string]error),
	}
}

func (m *memGateway) EnsureSet(name string, _ Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls = append(m.ensureCalls, name)
	if err := m.ensureErr[name]; err != nil {
		return err
	}
	if _, ok := m.sets[name]; !ok {
		m.sets[name] = []string{}
	}
	return nil
}

func (m *memGateway) ListMembers(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.listErr[name]; err != nil {
		return nil, &QueryError{Op: "list members", Target: name, Err: err}
	}
	members, ok := m.sets[name]
	if !ok {
		return nil, &QueryError{Op: "list members", Target: name, Err: ErrSetNotFound}
	}
	return slices.Clone(members), nil
}

func (m *memGateway) AddMember(name, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls = append(m.addCalls, name+" "+member)
	if err := m.addErr[member]; err != nil {
		return &MutateError{Op: "add", Target: name, Arg: member, Err: err}
	}
	members, ok := m.sets[name]
	if !ok {
		return &MutateError{Op: "add", Target: name, Arg: member, Err: ErrSetNotFound}
	}
	if slices.Contains(members, member) {
		if m.strictAdd {
			return &MutateError{Op: "add", Target: name, Arg: member, Err: ErrMemberExists}
		}
		return nil
	}
	m.sets[name] = append(members, member)
	return nil
}

func (m *memGateway) DelMember(name, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delCalls = append(m.delCalls, name+" "+member)
	if err := m.delErr[member]; err != nil {
		return &MutateError{Op: "del", Target: name, Arg: member, Err: err}
	}
	members := m.sets[name]
	i := slices.Index(members, member)
	if i < 0 {
		return &MutateError{Op: "del", Target: name, Arg: member, Err: errors.New("not a member")}
	}
	m.sets[name] = slices.Delete(members, i, i+1)
	return nil
}

func (m *memGateway) ListRules(family Family) ([]ChainRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listRules++
	if err := m.listRulesErr[family]; err != nil {
		return nil, &QueryError{Op: "list rules", Target: family.String(), Err: err}
	}
	return slices.Clone(m.chain[family]), nil
}

func (m *memGateway) AppendRule(family Family, rule ChainRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls = append(m.appendCalls, rule)
	if err := m.appendErr[rule.String()]; err != nil {
		return &MutateError{Op: "append", Target: family.String(), Arg: rule.String(), Err: err}
	}
	m.chain[family] = append(m.chain[family], rule)
	return nil
}

func (m *memGateway) members(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.sets[name])
	slices.Sort(out)
	return out
}

func (m *memGateway) countRule(family Family, want ChainRule) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.chain[family] {
		if r.Equal(want) {
			n++
		}
	}
	return n
}

func (m *memGateway) resetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls, m.addCalls, m.delCalls, m.appendCalls = nil, nil, nil, nil
	m.listRules = 0
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

func errKernel(msg string) error {
	return fmt.Errorf("kernel: %s", msg)
}
