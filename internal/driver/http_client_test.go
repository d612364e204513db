package driver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type sidecar struct {
	mu      sync.Mutex
	deleted []string
	state   func(w http.ResponseWriter)
}

func (s *sidecar) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization header = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode login body: %v", err)
		}
		if body["account"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "s-" + body["account"]})
	})
	mux.HandleFunc("GET /api/sessions/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		s.state(w)
	})
	mux.HandleFunc("POST /api/sessions/{id}/remediate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("POST /api/sessions/{id}/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.deleted = append(s.deleted, r.PathValue("id"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestDriver(t *testing.T, sc *sidecar) *HTTPDriver {
	t.Helper()
	srv := httptest.NewServer(sc.handler(t))
	t.Cleanup(srv.Close)

	d, err := NewHTTPDriver(Config{URL: srv.URL + "/", Token: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPDriver: %v", err)
	}
	return d
}

func TestHTTPDriverSessionLifecycle(t *testing.T) {
	sc := &sidecar{state: func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"safe_margin_hours": 3.5, "remediation_available": true}`))
	}}
	d := newTestDriver(t, sc)
	ctx := context.Background()

	session, err := d.Login(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.ID() != "s-alice@example.com" {
		t.Fatalf("session id = %q", session.ID())
	}

	state, err := d.InspectState(ctx, session)
	if err != nil {
		t.Fatalf("InspectState: %v", err)
	}
	if state == nil || state.SafeMarginHours != 3.5 || !state.RemediationAvailable {
		t.Fatalf("unexpected state: %+v", state)
	}

	ok, err := d.Remediate(ctx, session)
	if err != nil || !ok {
		t.Fatalf("Remediate: ok=%v err=%v", ok, err)
	}
	if err := d.Acknowledge(ctx, session); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.deleted) != 1 || sc.deleted[0] != "s-alice@example.com" {
		t.Fatalf("unexpected deletes: %v", sc.deleted)
	}
}

func TestHTTPDriverInspectNoReading(t *testing.T) {
	sc := &sidecar{state: func(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }}
	d := newTestDriver(t, sc)

	state, err := d.InspectState(context.Background(), &httpSession{id: "x", driver: d})
	if err != nil {
		t.Fatalf("InspectState: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state, got %+v", state)
	}
}

func TestHTTPDriverInspectGoneIsDestroyed(t *testing.T) {
	sc := &sidecar{state: func(w http.ResponseWriter) { w.WriteHeader(http.StatusGone) }}
	d := newTestDriver(t, sc)

	_, err := d.InspectState(context.Background(), &httpSession{id: "x", driver: d})
	if !errors.Is(err, ErrEntityDestroyed) {
		t.Fatalf("expected ErrEntityDestroyed, got %v", err)
	}
}

func TestHTTPDriverServerError(t *testing.T) {
	sc := &sidecar{state: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}}
	d := newTestDriver(t, sc)

	_, err := d.InspectState(context.Background(), &httpSession{id: "x", driver: d})
	if err == nil || errors.Is(err, ErrEntityDestroyed) {
		t.Fatalf("expected opaque error, got %v", err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "localhost:9300", want: "http://localhost:9300"},
		{raw: " https://sidecar.internal/root/ ", want: "https://sidecar.internal/root"},
		{raw: "http://host/?q=1#frag", want: "http://host"},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := normalizeBaseURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeBaseURL(%q) err=%v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("normalizeBaseURL(%q)=%q want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DRIVER_URL", "http://sidecar:9300")
	t.Setenv("DRIVER_REQUEST_TIMEOUT", "30s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.URL != "http://sidecar:9300" {
		t.Fatalf("URL = %q", cfg.URL)
	}
	if cfg.RequestTimeout.Seconds() != 30 {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout)
	}
}
