package checks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPChecker considers a target reachable when it answers with any status
// below 500.
type HTTPChecker struct {
	name    string
	target  string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPChecker(name, target string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPChecker{
		name:    name,
		target:  target,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPChecker) Name() string {
	return h.name
}

func (h *HTTPChecker) Run(ctx context.Context) Result {
	start := time.Now()

	resolvedURL, err := prepareURL(h.target)
	if err != nil {
		return failure(h.name, h.target, start, fmt.Errorf("invalid url: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvedURL, nil)
	if err != nil {
		return failure(h.name, resolvedURL, start, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return failure(h.name, resolvedURL, start, err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return failure(h.name, resolvedURL, start, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return Result{
		Name:     h.name,
		Target:   resolvedURL,
		OK:       true,
		Duration: time.Since(start),
	}
}

func prepareURL(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("empty target")
	}

	if !strings.Contains(target, "://") {
		target = "http://" + target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host in %q", target)
	}

	return parsed.String(), nil
}
