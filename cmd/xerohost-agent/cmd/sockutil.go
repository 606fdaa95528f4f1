package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
)

// newSocketClient creates an HTTP client that connects via Unix socket.
func newSocketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

// socketURL returns a URL for the given path using the Unix socket.
func socketURL(path string) string {
	return "http://localhost" + path
}

// socketGetJSON performs a GET request to the local agent via Unix socket
// and decodes the JSON response into v.
func socketGetJSON(socketPath, path string, v any) error {
	client := newSocketClient(socketPath)
	defer client.CloseIdleConnections()

	resp, err := client.Get(socketURL(path))
	if err != nil {
		return fmt.Errorf("agent not running or socket unavailable at %s: %w", socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, body.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
