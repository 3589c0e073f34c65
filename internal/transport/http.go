package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient is an interface for making HTTP requests
// This allows us to mock HTTP calls in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP delivers operations by POSTing the operation envelope as JSON to the
// backend sync endpoint.
type HTTP struct {
	// Client may be replaced in tests.
	Client HTTPClient

	url    string
	token  string
	logger *slog.Logger
}

// NewHTTP creates an HTTP transport targeting url. token, when non-empty,
// is sent as an opaque bearer token.
func NewHTTP(url, token string, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		Client: &http.Client{Timeout: 15 * time.Second},
		url:    url,
		token:  token,
		logger: logger.With("transport", "http"),
	}
}

func (h *HTTP) Deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post operation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, body)
	}

	h.logger.Debug("operation delivered", "status", resp.StatusCode)
	return nil
}

func (h *HTTP) Close() error {
	return nil
}
