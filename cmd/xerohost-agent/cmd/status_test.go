package cmd

import (
	"bytes"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xerohost/xerohost-agent/internal/nodeapi"
	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

type fixedStatus reconcile.Status

func (f fixedStatus) Status() reconcile.Status { return reconcile.Status(f) }

func sampleStatus() reconcile.Status {
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	st := reconcile.Status{
		NodeID:      "node-123",
		State:       reconcile.StateIdle,
		Interval:    30 * time.Second,
		Passes:      5,
		Skipped:     2,
		Outcomes:    map[reconcile.Outcome]uint64{reconcile.OutcomeOK: 4, reconcile.OutcomeFetchFailed: 1},
		LastSuccess: started,
		LastPass: &reconcile.PassReport{
			Outcome:   reconcile.OutcomeOK,
			StartedAt: started,
			Duration:  15 * time.Millisecond,
			Sets: []reconcile.SetReport{
				{Set: "block_global_v4", Family: "v4", Scope: "global", Desired: 2, Added: 1},
				{Set: "block_node_v4", Family: "v4", Scope: "per_node"},
				{Set: "block_global_v6", Family: "v6", Scope: "global", QueryFailed: true},
				{Set: "block_node_v6", Family: "v6", Scope: "per_node", Removed: 3},
			},
			RulesPresent: 8,
		},
	}
	st.LastApplied = st.LastPass
	return st
}

// startFakeAgent serves the status API for st on a temporary Unix socket.
func startFakeAgent(t *testing.T, st reconcile.Status) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: nodeapi.NewHandler(fixedStatus(st), discardLogger()).Mux()}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return path
}

func useSocket(t *testing.T, path string) {
	t.Helper()
	orig := socketPath
	socketPath = path
	t.Cleanup(func() { socketPath = orig })
}

func TestStatusCommand_AgentNotRunning(t *testing.T) {
	useSocket(t, filepath.Join(t.TempDir(), "missing.sock"))

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"status", "--socket", socketPath})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error when agent is not running")
	}
	if !strings.Contains(err.Error(), "xerohost-agent status") {
		t.Errorf("error should mention 'xerohost-agent status', got: %v", err)
	}
}

func TestStatusCommand_Success(t *testing.T) {
	path := startFakeAgent(t, sampleStatus())
	useSocket(t, path)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"status", "--socket", path})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	output := buf.String()
	for _, want := range []string{
		"node-123",
		"idle",
		"30s",
		"Passes:   5 (skipped ticks: 2)",
		"fetch_failed:",
		"2026-03-04T05:06:07Z",
		"block_global_v4",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestSetsCommand_Success(t *testing.T) {
	path := startFakeAgent(t, sampleStatus())
	useSocket(t, path)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"sets", "--socket", path})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("sets: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"block_global_v4", "block_node_v6", "per_node", "list failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestPrintStatus_NeverSucceeded(t *testing.T) {
	buf := new(bytes.Buffer)
	printStatus(buf, reconcile.Status{NodeID: "n", State: reconcile.StateRunning})

	output := buf.String()
	if !strings.Contains(output, "Last success: never") {
		t.Errorf("output = %s", output)
	}
	if strings.Contains(output, "Last pass") {
		t.Errorf("unexpected last pass section: %s", output)
	}
}

func TestPrintPassReport_FetchFailed(t *testing.T) {
	buf := new(bytes.Buffer)
	printPassReport(buf, reconcile.PassReport{
		Outcome: reconcile.OutcomeFetchFailed,
		Error:   "api: fetch rules for node n1: connection refused",
	})

	output := buf.String()
	if !strings.Contains(output, "fetch_failed") || !strings.Contains(output, "connection refused") {
		t.Errorf("output = %s", output)
	}
	if strings.Contains(output, "Rules:") {
		t.Errorf("set table printed for a pass that never reached the kernel: %s", output)
	}
}
