package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"thebox/internal/log"
)

func TestMiddleware_RequestID(t *testing.T) {
	m := NewMiddleware(log.Discard(), nil)

	var seen string
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if !strings.HasPrefix(seen, "req_") {
		t.Errorf("generated request id = %q", seen)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Error("request id not echoed in the response")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(HeaderRequestID, "client-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-123" {
		t.Errorf("incoming request id not kept, got %q", seen)
	}
}

func TestMiddleware_Metrics(t *testing.T) {
	m := NewMiddleware(log.Discard(), nil)
	status := http.StatusOK
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	for _, s := range []int{200, 500, 404, 503} {
		status = s
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	got := m.Metrics()
	if got.TotalRequests != 4 || got.ServerFailures != 2 {
		t.Errorf("Metrics() = %+v, want 4 total and 2 failures", got)
	}
}

func TestGenerateRequestID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if seen[id] {
			t.Fatalf("duplicate request id %s", id)
		}
		seen[id] = true
	}
}
