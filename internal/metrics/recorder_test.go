package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_PassCompleted(t *testing.T) {
	rec := NewRecorder()

	rec.PassCompleted(reconcile.PassReport{
		Outcome:   reconcile.OutcomePartial,
		StartedAt: time.Unix(1700000000, 0),
		Duration:  120 * time.Millisecond,
		Sets: []reconcile.SetReport{
			{Set: "block_global_v4", Desired: 3, Added: 2, Removed: 1, AddFailed: 1},
			{Set: "block_node_v6", Desired: 0, QueryFailed: true},
		},
		RulesAppended:     []reconcile.RuleRef{{Set: "block_global_v4", Direction: "src"}},
		RulesFailed:       []reconcile.RuleRef{{Set: "block_global_v4", Direction: "dst"}},
		RuleQueryFailures: 2,
	})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"passes partial", testutil.ToFloat64(rec.Passes.WithLabelValues("partial")), 1},
		{"passes ok", testutil.ToFloat64(rec.Passes.WithLabelValues("ok")), 0},
		{"members v4", testutil.ToFloat64(rec.SetMembers.WithLabelValues("block_global_v4")), 3},
		{"add ok", testutil.ToFloat64(rec.SetMutations.WithLabelValues("block_global_v4", "add", "ok")), 2},
		{"add error", testutil.ToFloat64(rec.SetMutations.WithLabelValues("block_global_v4", "add", "error")), 1},
		{"del ok", testutil.ToFloat64(rec.SetMutations.WithLabelValues("block_global_v4", "del", "ok")), 1},
		{"rule ok", testutil.ToFloat64(rec.RuleAppends.WithLabelValues("block_global_v4", "src", "ok")), 1},
		{"rule error", testutil.ToFloat64(rec.RuleAppends.WithLabelValues("block_global_v4", "dst", "error")), 1},
		{"set query errors", testutil.ToFloat64(rec.QueryErrors.WithLabelValues("set")), 1},
		{"chain query errors", testutil.ToFloat64(rec.QueryErrors.WithLabelValues("chain")), 2},
		{"last success unset", testutil.ToFloat64(rec.LastSuccessTS), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	rec.PassCompleted(reconcile.PassReport{Outcome: reconcile.OutcomeOK, StartedAt: time.Unix(1700000100, 0)})
	if got := testutil.ToFloat64(rec.LastSuccessTS); got != 1700000100 {
		t.Errorf("last success = %v, want 1700000100", got)
	}
}

func TestRecorder_PassSkipped(t *testing.T) {
	rec := NewRecorder()
	rec.PassSkipped()
	rec.PassSkipped()
	if got := testutil.ToFloat64(rec.Skipped); got != 2 {
		t.Errorf("skipped = %v, want 2", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	rec := NewRecorder()
	rec.PassCompleted(reconcile.PassReport{Outcome: reconcile.OutcomeFetchFailed})

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`xerohost_agent_passes_total{outcome="fetch_failed"} 1`,
		`xerohost_agent_passes_total{outcome="panic"} 0`,
		"xerohost_agent_pass_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServer_DisabledReturnsImmediately(t *testing.T) {
	srv := NewServer(Config{}, NewRecorder(), discardLogger())
	if err := srv.Start(context.Background()); err != nil {
		t.Errorf("Start() = %v, want nil when disabled", err)
	}
}

func TestServer_ServesMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := NewServer(Config{Enabled: true, Listen: addr}, NewRecorder(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() = %v, want context.Canceled", err)
	}
	http.DefaultClient.CloseIdleConnections()
}
