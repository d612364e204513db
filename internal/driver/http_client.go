package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ozzus/agent-upkeep/internal/domain"
)

// HTTPDriver talks to a remote control sidecar that owns the browser
// automation. Each Login opens a sidecar session which is deleted on Close.
type HTTPDriver struct {
	baseURL    string
	httpClient *http.Client
	token      string
	password   string
}

type httpSession struct {
	id     string
	driver *HTTPDriver
}

func (s *httpSession) ID() string { return s.id }

func (s *httpSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := s.driver.newRequest(ctx, http.MethodDelete, sessionPath(s.id, ""), nil)
	if err != nil {
		return fmt.Errorf("create close session request: %w", err)
	}

	_, err = s.driver.do(req, nil)
	return err
}

// NewHTTPDriver constructs a driver from cfg.
func NewHTTPDriver(cfg Config) (*HTTPDriver, error) {
	normalizedURL, err := normalizeBaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HTTPDriver{
		baseURL: normalizedURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		token:    cfg.Token,
		password: cfg.Password,
	}, nil
}

// WithHTTPClient overrides the default http.Client. Primarily useful for testing.
func (d *HTTPDriver) WithHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		d.httpClient = httpClient
	}
}

func (d *HTTPDriver) Login(ctx context.Context, account domain.Account) (Session, error) {
	body, err := json.Marshal(map[string]string{
		"account":  account,
		"password": d.password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}

	req, err := d.newRequest(ctx, http.MethodPost, "/api/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if _, err := d.do(req, &payload); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if payload.SessionID == "" {
		return nil, errors.New("login response did not contain session_id")
	}

	return &httpSession{id: payload.SessionID, driver: d}, nil
}

func (d *HTTPDriver) InspectState(ctx context.Context, session Session) (*domain.EntityState, error) {
	req, err := d.newRequest(ctx, http.MethodGet, sessionPath(session.ID(), "/state"), nil)
	if err != nil {
		return nil, fmt.Errorf("create inspect request: %w", err)
	}

	var state domain.EntityState
	status, err := d.do(req, &state)
	if err != nil {
		return nil, fmt.Errorf("inspect state: %w", err)
	}

	if status == http.StatusNoContent {
		return nil, nil
	}

	return &state, nil
}

func (d *HTTPDriver) Remediate(ctx context.Context, session Session) (bool, error) {
	req, err := d.newRequest(ctx, http.MethodPost, sessionPath(session.ID(), "/remediate"), nil)
	if err != nil {
		return false, fmt.Errorf("create remediate request: %w", err)
	}

	var payload struct {
		OK bool `json:"ok"`
	}
	if _, err := d.do(req, &payload); err != nil {
		return false, fmt.Errorf("remediate: %w", err)
	}

	return payload.OK, nil
}

func (d *HTTPDriver) Acknowledge(ctx context.Context, session Session) error {
	req, err := d.newRequest(ctx, http.MethodPost, sessionPath(session.ID(), "/acknowledge"), nil)
	if err != nil {
		return fmt.Errorf("create acknowledge request: %w", err)
	}

	if _, err := d.do(req, nil); err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}

	return nil
}

func sessionPath(id, suffix string) string {
	return "/api/sessions/" + url.PathEscape(id) + suffix
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("driver base URL is required")
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid driver base URL: %w", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid driver base URL: %s", raw)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimSuffix(parsed.String(), "/"), nil
}

func (d *HTTPDriver) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	return req, nil
}

// do executes req and decodes a JSON body into out. 410 Gone is mapped to
// ErrEntityDestroyed; 204 No Content leaves out untouched.
func (d *HTTPDriver) do(req *http.Request, out interface{}) (int, error) {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			host := req.URL.Hostname()
			return 0, fmt.Errorf("execute request: network error contacting %s: %w", host, err)
		}
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return resp.StatusCode, ErrEntityDestroyed
	}

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		if len(b) == 0 {
			return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}

	return resp.StatusCode, nil
}
