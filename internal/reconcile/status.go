package reconcile

import (
	"slices"
	"sync"
	"time"
)

// State is the loop state visible to status queries.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Outcome classifies a finished pass.
type Outcome string

const (
	// OutcomeOK means every kernel query and mutation succeeded.
	OutcomeOK Outcome = "ok"
	// OutcomePartial means the pass ran but at least one query or mutation failed.
	OutcomePartial Outcome = "partial"
	// OutcomeFetchFailed means the rules could not be fetched; the kernel was not touched.
	OutcomeFetchFailed Outcome = "fetch_failed"
	// OutcomePanic means the pass panicked and was recovered.
	OutcomePanic Outcome = "panic"
)

// Outcomes lists every pass outcome.
var Outcomes = []Outcome{OutcomeOK, OutcomePartial, OutcomeFetchFailed, OutcomePanic}

// SetReport is the per-set part of a PassReport.
type SetReport struct {
	Set         string `json:"set"`
	Family      string `json:"family"`
	Scope       string `json:"scope"`
	Desired     int    `json:"desired"`
	Added       int    `json:"added"`
	Removed     int    `json:"removed"`
	AddFailed   int    `json:"add_failed"`
	DelFailed   int    `json:"del_failed"`
	QueryFailed bool   `json:"query_failed,omitempty"`
	EnsureError string `json:"ensure_error,omitempty"`
}

// RuleRef names one required drop rule.
type RuleRef struct {
	Set       string `json:"set"`
	Direction string `json:"direction"`
}

// PassReport describes one finished reconciliation pass.
type PassReport struct {
	Outcome           Outcome       `json:"outcome"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration_ns"`
	Error             string        `json:"error,omitempty"`
	Sets              []SetReport   `json:"sets,omitempty"`
	RulesPresent      int           `json:"rules_present"`
	RulesAppended     []RuleRef     `json:"rules_appended,omitempty"`
	RulesFailed       []RuleRef     `json:"rules_failed,omitempty"`
	RuleQueryFailures int           `json:"rule_query_failures,omitempty"`
}

// Mutations returns the number of successful kernel changes in the pass.
func (p PassReport) Mutations() int {
	n := len(p.RulesAppended)
	for _, s := range p.Sets {
		n += s.Added + s.Removed
	}
	return n
}

func (p PassReport) clone() PassReport {
	p.Sets = slices.Clone(p.Sets)
	p.RulesAppended = slices.Clone(p.RulesAppended)
	p.RulesFailed = slices.Clone(p.RulesFailed)
	return p
}

// Status is a point-in-time view of the reconciliation loop.
type Status struct {
	NodeID      string             `json:"node_id"`
	State       State              `json:"state"`
	Interval    time.Duration      `json:"interval_ns"`
	Passes      uint64             `json:"passes"`
	Skipped     uint64             `json:"skipped"`
	Outcomes    map[Outcome]uint64 `json:"outcomes"`
	LastPass    *PassReport        `json:"last_pass,omitempty"`
	LastSuccess time.Time          `json:"last_success"`
	// LastApplied is the most recent pass that reached the kernel. It
	// survives later passes that fail before touching any set.
	LastApplied *PassReport `json:"last_applied,omitempty"`
}

// statusStore holds loop status. All access is protected by a sync.RWMutex
// so status queries can read while a pass writes.
type statusStore struct {
	mu          sync.RWMutex
	nodeID      string
	interval    time.Duration
	running     bool
	passes      uint64
	skipped     uint64
	outcomes    map[Outcome]uint64
	last        *PassReport
	lastApplied *PassReport
	lastSuccess time.Time
}

func newStatusStore(interval time.Duration) *statusStore {
	return &statusStore{interval: interval, outcomes: make(map[Outcome]uint64)}
}

func (s *statusStore) setNodeID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeID = id
}

func (s *statusStore) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *statusStore) end(report PassReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.passes++
	s.outcomes[report.Outcome]++
	r := report.clone()
	s.last = &r
	if len(report.Sets) > 0 {
		applied := report.clone()
		s.lastApplied = &applied
	}
	if report.Outcome == OutcomeOK {
		s.lastSuccess = report.StartedAt
	}
}

func (s *statusStore) skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

// Get returns a deep copy of the current status.
func (s *statusStore) Get() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		NodeID:      s.nodeID,
		State:       StateIdle,
		Interval:    s.interval,
		Passes:      s.passes,
		Skipped:     s.skipped,
		Outcomes:    make(map[Outcome]uint64, len(s.outcomes)),
		LastSuccess: s.lastSuccess,
	}
	if s.running {
		st.State = StateRunning
	}
	for k, v := range s.outcomes {
		st.Outcomes[k] = v
	}
	if s.last != nil {
		r := s.last.clone()
		st.LastPass = &r
	}
	if s.lastApplied != nil {
		r := s.lastApplied.clone()
		st.LastApplied = &r
	}
	return st
}
