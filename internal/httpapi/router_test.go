package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-Robertt/clash2singbox/internal/model"
)

func TestMux_Healthz(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestMux_Convert_MissingURL(t *testing.T) {
	mux := NewMux()
	req := httptest.NewRequest(http.MethodGet, "/convert", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if got, want := rr.Code, http.StatusBadRequest; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}

	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nbody=%q", err, rr.Body.String())
	}
	if resp.Error.Code != "INVALID_ARGUMENT" || resp.Error.Stage != "validate_request" {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestMux_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/convert", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want=%d", rr.Code, http.StatusMethodNotAllowed)
	}
}
