// Package agent assembles the reconciliation agent from its configuration
// and runs its long-lived services.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/xerohost/xerohost-agent/internal/api"
	"github.com/xerohost/xerohost-agent/internal/firewall"
	"github.com/xerohost/xerohost-agent/internal/metrics"
	"github.com/xerohost/xerohost-agent/internal/nodeapi"
	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

// Agent owns the reconciler and the local listeners around it.
type Agent struct {
	cfg        AgentConfig
	logger     *slog.Logger
	reconciler *reconcile.Reconciler
	recorder   *metrics.Recorder
	statusSrv  *nodeapi.Server
	metricsSrv *metrics.Server
}

// New builds an Agent talking to the control plane and the kernel backend
// selected in cfg. cfg must already have passed Validate.
func New(cfg AgentConfig, version string, logger *slog.Logger) (*Agent, error) {
	client, err := api.NewControlPlane(cfg.API, version, logger)
	if err != nil {
		return nil, fmt.Errorf("agent: create client: %w", err)
	}
	sets, rules, err := firewall.NewBackend(cfg.Firewall, logger)
	if err != nil {
		return nil, fmt.Errorf("agent: firewall backend: %w", err)
	}
	return NewWithGateways(cfg, client, sets, rules, logger), nil
}

// NewWithGateways builds an Agent from explicit dependencies.
func NewWithGateways(cfg AgentConfig, fetcher reconcile.RuleFetcher, sets firewall.SetGateway, rules firewall.RuleGateway, logger *slog.Logger) *Agent {
	cfg.ApplyDefaults()

	rec := reconcile.NewReconciler(
		fetcher,
		firewall.NewSetReconciler(sets, logger),
		firewall.NewRuleEnsurer(rules, logger),
		cfg.Reconcile,
		logger,
	)
	recorder := metrics.NewRecorder()
	rec.SetObserver(recorder)

	return &Agent{
		cfg:        cfg,
		logger:     logger,
		reconciler: rec,
		recorder:   recorder,
		statusSrv:  nodeapi.NewServer(cfg.NodeAPI, rec, logger),
		metricsSrv: metrics.NewServer(cfg.Metrics, recorder, logger),
	}
}

// Reconciler returns the agent's reconciler.
func (a *Agent) Reconciler() *reconcile.Reconciler {
	return a.reconciler
}

// Recorder returns the agent's metrics recorder.
func (a *Agent) Recorder() *metrics.Recorder {
	return a.recorder
}

// TriggerReconcile requests an immediate pass.
func (a *Agent) TriggerReconcile() {
	a.reconciler.TriggerReconcile()
}

// SyncOnce runs exactly one pass without starting any listener.
func (a *Agent) SyncOnce(ctx context.Context) (reconcile.PassReport, error) {
	return a.reconciler.RunOnce(ctx, a.cfg.NodeID)
}

// Run starts the reconciliation loop, the status socket and, when enabled,
// the metrics listener. It blocks until ctx is cancelled and every service
// has stopped. Listener failures are logged and do not stop reconciliation.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.reconciler.Run(gctx, a.cfg.NodeID)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if err := a.statusSrv.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("status API stopped", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.metricsSrv.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("metrics listener stopped", "error", err)
		}
		return nil
	})

	return g.Wait()
}
