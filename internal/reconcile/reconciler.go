// Package reconcile runs the periodic pass that fetches the node's block
// lists and converges the kernel sets and drop rules to them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xerohost/xerohost-agent/internal/api"
	"github.com/xerohost/xerohost-agent/internal/firewall"
)

// RuleFetcher retrieves the desired rules for a node.
type RuleFetcher interface {
	FetchRules(ctx context.Context, nodeID string) (*api.RulesResponse, error)
}

// SetSyncer converges named sets. *firewall.SetReconciler implements it.
type SetSyncer interface {
	EnsureSet(set firewall.NamedSet) error
	Reconcile(set firewall.NamedSet, desired []string) firewall.SetResult
}

// RuleSyncer ensures the drop rules exist. *firewall.RuleEnsurer implements it.
type RuleSyncer interface {
	EnsureRules() firewall.RuleResult
}

// Observer is notified about every finished and every skipped pass.
type Observer interface {
	PassCompleted(report PassReport)
	PassSkipped()
}

// ErrPassInFlight is returned by RunOnce while another pass is running.
var ErrPassInFlight = errors.New("reconcile: a pass is already running")

// Reconciler runs reconciliation passes on a fixed interval. At most one
// pass runs at a time; ticks and triggers arriving meanwhile are dropped.
type Reconciler struct {
	fetcher   RuleFetcher
	sets      SetSyncer
	rules     RuleSyncer
	cfg       Config
	logger    *slog.Logger
	observer  Observer
	status    *statusStore
	slot      *semaphore.Weighted
	triggerCh chan struct{}
	wg        sync.WaitGroup
}

// NewReconciler creates a new Reconciler with the given configuration.
// Config defaults are applied automatically.
func NewReconciler(fetcher RuleFetcher, sets SetSyncer, rules RuleSyncer, cfg Config, logger *slog.Logger) *Reconciler {
	cfg.ApplyDefaults()
	return &Reconciler{
		fetcher:   fetcher,
		sets:      sets,
		rules:     rules,
		cfg:       cfg,
		logger:    logger,
		status:    newStatusStore(cfg.Interval),
		slot:      semaphore.NewWeighted(1),
		triggerCh: make(chan struct{}, 1),
	}
}

// SetObserver registers an observer for pass results.
// SetObserver must be called before Run; it is not safe for concurrent use.
func (r *Reconciler) SetObserver(o Observer) {
	r.observer = o
}

// Status returns a snapshot of the loop status.
func (r *Reconciler) Status() Status {
	return r.status.Get()
}

// TriggerReconcile requests an immediate pass.
// Multiple rapid calls are coalesced into one extra pass.
func (r *Reconciler) TriggerReconcile() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
		// Already a trigger pending; coalesce.
	}
}

func (r *Reconciler) check(nodeID string) error {
	if r.fetcher == nil || r.sets == nil || r.rules == nil {
		return errors.New("reconcile: fetcher, set syncer and rule syncer are required")
	}
	if nodeID == "" {
		return errors.New("reconcile: nodeID is empty")
	}
	return nil
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled and
// the in-flight pass, if any, has finished. The first pass starts
// immediately; subsequent passes start every cfg.Interval or when
// TriggerReconcile is called.
func (r *Reconciler) Run(ctx context.Context, nodeID string) error {
	if err := r.check(nodeID); err != nil {
		return err
	}
	r.status.setNodeID(nodeID)

	r.logger.Info("reconciler started",
		"component", "reconcile",
		"node_id", nodeID,
		"interval", r.cfg.Interval,
	)

	// First pass starts immediately.
	r.startPass(ctx, nodeID, "startup")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("reconciler stopped",
				"component", "reconcile",
				"node_id", nodeID,
			)
			return ctx.Err()

		case <-ticker.C:
			r.startPass(ctx, nodeID, "tick")

		case <-r.triggerCh:
			r.startPass(ctx, nodeID, "trigger")
		}
	}
}

// RunOnce runs a single pass synchronously and returns its report. It
// returns ErrPassInFlight without doing anything if a pass is running.
func (r *Reconciler) RunOnce(ctx context.Context, nodeID string) (PassReport, error) {
	if err := r.check(nodeID); err != nil {
		return PassReport{}, err
	}
	if !r.slot.TryAcquire(1) {
		return PassReport{}, ErrPassInFlight
	}
	defer r.slot.Release(1)
	r.status.setNodeID(nodeID)
	return r.runPass(ctx, nodeID), nil
}

// startPass launches a pass in the background unless one is running.
func (r *Reconciler) startPass(ctx context.Context, nodeID, reason string) {
	if !r.slot.TryAcquire(1) {
		r.status.skip()
		if r.observer != nil {
			r.observer.PassSkipped()
		}
		r.logger.Warn("previous pass still running, skipping",
			"component", "reconcile",
			"node_id", nodeID,
			"reason", reason,
		)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.slot.Release(1)
		r.runPass(ctx, nodeID)
	}()
}

// runPass performs one pass: fetch → partition → sets → rules. Nothing in a
// pass terminates the process; panics are recovered and reported.
func (r *Reconciler) runPass(ctx context.Context, nodeID string) (report PassReport) {
	start := time.Now()
	r.status.begin()
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("reconciliation pass panicked",
				"component", "reconcile",
				"node_id", nodeID,
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()),
			)
			report = PassReport{Outcome: OutcomePanic, Error: fmt.Sprint(v)}
		}
		report.StartedAt = start
		report.Duration = time.Since(start)
		r.status.end(report)
		if r.observer != nil {
			r.observer.PassCompleted(report)
		}
	}()

	resp, err := r.fetcher.FetchRules(ctx, nodeID)
	if err != nil {
		// Don't log if the context was cancelled (graceful shutdown).
		if ctx.Err() == nil {
			r.logger.Warn("fetching rules failed, skipping pass",
				"component", "reconcile",
				"node_id", nodeID,
				"error", err,
			)
		}
		return PassReport{Outcome: OutcomeFetchFailed, Error: err.Error()}
	}

	desired := firewall.Partition(resp, r.logger)
	report = r.apply(desired)

	r.logger.Info("reconciliation pass completed",
		"component", "reconcile",
		"node_id", nodeID,
		"outcome", report.Outcome,
		"desired", desired.Total(),
		"mutations", report.Mutations(),
		"duration", time.Since(start),
	)
	return report
}

// apply converges the kernel to desired. Sets are reconciled one after
// another in fixed order, then the drop rules are ensured.
func (r *Reconciler) apply(desired firewall.Desired) PassReport {
	report := PassReport{Outcome: OutcomeOK}
	sets := firewall.AllSets()

	// Every set must exist before any rule can reference it. Failures are
	// logged by the syncer and surface again through Reconcile.
	for _, s := range sets {
		_ = r.sets.EnsureSet(s)
	}

	for _, s := range sets {
		res := r.sets.Reconcile(s, desired[s])
		report.Sets = append(report.Sets, setReport(res))
		if !res.OK() {
			report.Outcome = OutcomePartial
		}
	}

	rr := r.rules.EnsureRules()
	report.RulesPresent = rr.Present
	report.RuleQueryFailures = rr.QueryFailures
	for _, cr := range rr.Appended {
		report.RulesAppended = append(report.RulesAppended, RuleRef{Set: cr.Set, Direction: string(cr.Direction)})
	}
	for _, f := range rr.Failed {
		report.RulesFailed = append(report.RulesFailed, RuleRef{Set: f.Rule.Set, Direction: string(f.Rule.Direction)})
	}
	if !rr.OK() {
		report.Outcome = OutcomePartial
	}
	return report
}

func setReport(res firewall.SetResult) SetReport {
	sr := SetReport{
		Set:         res.Set.Name(),
		Family:      res.Set.Family.String(),
		Scope:       string(res.Set.Scope),
		Desired:     res.Desired,
		Added:       len(res.Added),
		Removed:     len(res.Removed),
		QueryFailed: res.QueryFailed,
	}
	if res.EnsureErr != nil {
		sr.EnsureError = res.EnsureErr.Error()
	}
	for _, f := range res.Failed {
		if f.Op == "del" {
			sr.DelFailed++
		} else {
			sr.AddFailed++
		}
	}
	return sr
}
