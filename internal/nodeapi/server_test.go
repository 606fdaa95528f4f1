package nodeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

func newTestServer(t *testing.T, status StatusProvider) (*Server, Config) {
	t.Helper()
	cfg := Config{
		SocketPath:      filepath.Join(t.TempDir(), "run", "agent.sock"),
		SocketGroup:     "xerohost-test-group-missing",
		ShutdownTimeout: 2 * time.Second,
	}
	cfg.ApplyDefaults()
	return NewServer(cfg, status, discardLogger()), cfg
}

func TestServer_UnixSocket(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := &stubStatus{st: reconcile.Status{NodeID: "node-1", State: reconcile.StateRunning}}
	srv, cfg := newTestServer(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	if !waitForSocket(t, cfg.SocketPath, 2*time.Second) {
		cancel()
		t.Fatal("socket did not appear")
	}

	httpClient := unixSocketClient(cfg.SocketPath)
	resp, err := httpClient.Get("http://unix/v1/status")
	if err != nil {
		cancel()
		t.Fatalf("GET /v1/status: %v", err)
	}
	var st reconcile.Status
	decErr := json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	httpClient.CloseIdleConnections()
	if decErr != nil {
		cancel()
		t.Fatalf("decode: %v", decErr)
	}
	if st.NodeID != "node-1" || st.State != reconcile.StateRunning {
		t.Errorf("status = %+v", st)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(cfg.SocketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed after shutdown: %v", err)
	}
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv, cfg := newTestServer(t, &stubStatus{})
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.SocketPath, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	if !waitForSocket(t, cfg.SocketPath, 2*time.Second) {
		cancel()
		<-errCh
		t.Fatal("socket did not appear over stale file")
	}
	cancel()
	<-errCh
}

func TestServer_RequiresStatusProvider(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("Start() = nil, want error without status provider")
	}
}

func TestServer_InvalidConfig(t *testing.T) {
	srv := NewServer(Config{ShutdownTimeout: -1}, &stubStatus{}, discardLogger())
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("Start() = nil, want config error")
	}
}

func waitForSocket(t *testing.T, path string, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func unixSocketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}
