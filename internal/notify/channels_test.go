package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dispatchd/internal/storage"
)

func TestHTTPSenderPostsBodyAndHeaders(t *testing.T) {
	var gotHeader string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewHTTPSender()
	dest := storage.Notification{
		Type:              "http",
		Endpoint:          srv.URL,
		AdditionalHeaders: map[string]string{"X-Custom": "value"},
	}

	if err := sender.Send(context.Background(), dest, map[string]any{"kind": "test"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotHeader != "value" {
		t.Fatalf("expected custom header to be forwarded, got %q", gotHeader)
	}
	if gotBody["kind"] != "test" {
		t.Fatalf("expected body to round-trip, got %+v", gotBody)
	}
}

func TestHTTPSenderReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := NewHTTPSender()
	dest := storage.Notification{Type: "http", Endpoint: srv.URL}

	if err := sender.Send(context.Background(), dest, map[string]any{}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
