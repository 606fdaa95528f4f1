package api

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

const (
	// maxResponseSize is the maximum decompressed response body size (10 MiB).
	// Protects against gzip bombs in compressed responses.
	maxResponseSize = 10 * 1024 * 1024

	// userAgentPrefix is the User-Agent header prefix.
	userAgentPrefix = "xerohost-agent/"
)

// ControlPlane is the client for the XeroHost control plane API.
// The bearer token is fixed at construction and never re-read.
type ControlPlane struct {
	httpClient *http.Client
	baseURL    string
	token      string
	version    string
	logger     *slog.Logger
}

// NewControlPlane creates a new ControlPlane client with the given configuration.
func NewControlPlane(cfg Config, version string, logger *slog.Logger) (*ControlPlane, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		},
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		DisableCompression: true,
	}

	httpClient := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: transport,
	}

	if cfg.TLSInsecureSkipVerify {
		logger.Warn("TLS certificate verification disabled", "component", "api")
	}

	return &ControlPlane{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		version:    version,
		logger:     logger,
	}, nil
}

// getJSON sends a GET request and decodes the JSON response into result.
// Any status outside 2xx is returned as an *APIError.
func (c *ControlPlane) getJSON(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgentPrefix+c.version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}

	var reader io.Reader = io.LimitReader(resp.Body, maxResponseSize)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("api: gzip decompress response: %w", err)
		}
		defer gr.Close()
		reader = io.LimitReader(gr, maxResponseSize)
	}
	if err := json.NewDecoder(reader).Decode(result); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}
