package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealth(t *testing.T) {
	withHandlerGlobals(t)
	database = nil

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	resp := decode[healthResponse](t, w)
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.Database != "unconfigured" {
		t.Fatalf("expected database unconfigured, got %q", resp.Database)
	}
	if resp.Time.IsZero() {
		t.Fatal("expected response time to be populated")
	}
}

func TestHealthWithDatabase(t *testing.T) {
	withTestDatabase(t)

	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	expect(t, w, http.StatusOK)
	if resp := decode[healthResponse](t, w); resp.Database != "ok" {
		t.Fatalf("expected database ok, got %q", resp.Database)
	}
}
