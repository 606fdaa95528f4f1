package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

const namespace = "xerohost_agent"

// Recorder turns pass reports into Prometheus metrics. It implements
// reconcile.Observer.
type Recorder struct {
	registry *prometheus.Registry

	Passes        *prometheus.CounterVec
	Skipped       prometheus.Counter
	PassDuration  prometheus.Histogram
	SetMutations  *prometheus.CounterVec
	SetMembers    *prometheus.GaugeVec
	RuleAppends   *prometheus.CounterVec
	QueryErrors   *prometheus.CounterVec
	LastSuccessTS prometheus.Gauge
}

var _ reconcile.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder with its own registry, which also carries
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	r := &Recorder{registry: reg}
	r.Passes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passes_total",
		Help:      "Reconciliation passes by outcome",
	}, []string{"outcome"})
	r.Skipped = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pass_skipped_total",
		Help:      "Ticks dropped because a pass was still running",
	})
	r.PassDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pass_duration_seconds",
		Help:      "Duration of reconciliation passes",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	r.SetMutations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "set_mutations_total",
		Help:      "Set member adds and deletes by result",
	}, []string{"set", "op", "result"})
	r.SetMembers = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "set_members",
		Help:      "Desired members per set in the last applied pass",
	}, []string{"set"})
	r.RuleAppends = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_appends_total",
		Help:      "Drop rules appended to the forwarding chain by result",
	}, []string{"set", "direction", "result"})
	r.QueryErrors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kernel_query_errors_total",
		Help:      "Failed kernel listings by kind",
	}, []string{"kind"})
	r.LastSuccessTS = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last pass with outcome ok",
	})

	// Pre-create outcome series so absent outcomes export as zero.
	for _, o := range reconcile.Outcomes {
		r.Passes.WithLabelValues(string(o))
	}
	return r
}

// Registry returns the registry holding the agent's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler serving the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// PassCompleted records a finished pass.
func (r *Recorder) PassCompleted(p reconcile.PassReport) {
	r.Passes.WithLabelValues(string(p.Outcome)).Inc()
	r.PassDuration.Observe(p.Duration.Seconds())
	if p.Outcome == reconcile.OutcomeOK {
		r.LastSuccessTS.Set(float64(p.StartedAt.Unix()))
	}

	for _, s := range p.Sets {
		r.SetMembers.WithLabelValues(s.Set).Set(float64(s.Desired))
		r.SetMutations.WithLabelValues(s.Set, "add", "ok").Add(float64(s.Added))
		r.SetMutations.WithLabelValues(s.Set, "add", "error").Add(float64(s.AddFailed))
		r.SetMutations.WithLabelValues(s.Set, "del", "ok").Add(float64(s.Removed))
		r.SetMutations.WithLabelValues(s.Set, "del", "error").Add(float64(s.DelFailed))
		if s.QueryFailed {
			r.QueryErrors.WithLabelValues("set").Inc()
		}
	}

	for _, ref := range p.RulesAppended {
		r.RuleAppends.WithLabelValues(ref.Set, ref.Direction, "ok").Inc()
	}
	for _, ref := range p.RulesFailed {
		r.RuleAppends.WithLabelValues(ref.Set, ref.Direction, "error").Inc()
	}
	if p.RuleQueryFailures > 0 {
		r.QueryErrors.WithLabelValues("chain").Add(float64(p.RuleQueryFailures))
	}
}

// PassSkipped records a dropped tick.
func (r *Recorder) PassSkipped() {
	r.Skipped.Inc()
}
