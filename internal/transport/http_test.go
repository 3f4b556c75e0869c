package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/izavyalov-dev/reportd/protocol"
)

func TestHTTPClientHealth(t *testing.T) {
	srv := mustTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(protocol.HealthResponse{OK: true, Service: "reportd", TS: 42, EngineBusy: true})
	}))
	if srv == nil {
		return
	}
	defer srv.Close()

	health, err := NewHTTPClient(srv.URL + "/").Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.OK || !health.EngineBusy || health.TS != 42 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestHTTPClientGeneratePostsJSON(t *testing.T) {
	var received protocol.GenerateRequest
	srv := mustTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(protocol.GenerateResponse{OK: true, RunID: "run-1"})
	}))
	if srv == nil {
		return
	}
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL).Generate(context.Background(), protocol.GenerateRequest{
		InitData:   "auth_date=1&hash=x",
		ReportType: "bericht",
		Year:       2026,
		Week:       6,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.RunID != "run-1" || received.ReportType != "bericht" || received.Week != 6 {
		t.Fatalf("unexpected exchange %+v / %+v", resp, received)
	}
}

func TestHTTPClientDecodesErrors(t *testing.T) {
	srv := mustTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "please wait 3s", Reason: "rate_limited", WaitSeconds: 3})
	}))
	if srv == nil {
		return
	}
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Generate(context.Background(), protocol.GenerateRequest{})
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if serr.Code != http.StatusTooManyRequests || serr.Response.WaitSeconds != 3 {
		t.Fatalf("unexpected error %+v", serr)
	}
}

// mustTestServer starts a test server or skips if the sandbox disallows listening.
func mustTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("test server unavailable in sandbox: %v", r)
		}
	}()
	return httptest.NewServer(handler)
}
