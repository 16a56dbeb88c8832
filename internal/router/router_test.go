package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouterDispatchesExactPath(t *testing.T) {
	r := New()
	called := false
	r.Handle("/api/dispatch/receive-commands", func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/dispatch/receive-commands", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be invoked")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouterRejectsUnknownPath(t *testing.T) {
	r := New()
	req := httptest.NewRequest(http.MethodPost, "/api/dispatch/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRouterRejectsNonPostMethod(t *testing.T) {
	r := New()
	r.Handle("/api/dispatch/receive-commands", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/dispatch/receive-commands", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for GET, got %d", rec.Code)
	}
}
