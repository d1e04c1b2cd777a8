package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_CountsRequestsAndErrors(t *testing.T) {
	h := NewHandler()

	// 1) ok request
	{
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("healthz status=%d body=%q", rr.Code, rr.Body.String())
		}
	}

	// 2) error request
	{
		req := httptest.NewRequest(http.MethodGet, "/convert", nil) // missing url => validate_request error
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("convert status=%d body=%q", rr.Code, rr.Body.String())
		}
	}

	// 3) metrics snapshot (the /metrics request itself is counted after its response).
	{
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("metrics status=%d body=%q", rr.Code, rr.Body.String())
		}

		body := rr.Body.String()
		if !strings.Contains(body, `clash2singbox_http_requests_total{pattern="GET /healthz",status="200"} 1`) {
			t.Fatalf("metrics body missing healthz counter, got:\n%s", body)
		}
		if !strings.Contains(body, `clash2singbox_http_requests_total{pattern="GET /convert",status="400"} 1`) {
			t.Fatalf("metrics body missing convert 400 counter, got:\n%s", body)
		}
		if !strings.Contains(body, `clash2singbox_app_errors_total{code="INVALID_ARGUMENT",stage="validate_request"} 1`) {
			t.Fatalf("metrics body missing app error counter, got:\n%s", body)
		}
		if !strings.Contains(body, "go_goroutines") {
			t.Fatalf("metrics body missing runtime collector, got:\n%s", body)
		}
	}
}

func TestMetrics_PrivateRegistryPerHandler(t *testing.T) {
	a := NewHandler()
	b := NewHandler()

	a.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	b.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rr.Body.String(), `pattern="GET /healthz"`) {
		t.Fatalf("handlers must not share counters:\n%s", rr.Body.String())
	}
}
