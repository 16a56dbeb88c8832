package frontend

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"dispatchd/internal/config"
)

func TestFrontendServesOneRequest(t *testing.T) {
	cfg := config.FrontendConfig{Cores: 1, MaxConnections: 8, AcceptQueueDepth: 8, HandoffQueueDepth: 8}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	fe := New(cfg, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := "127.0.0.1:43417"
	go fe.Serve(ctx, addr)

	// Give the acceptor a moment to bind.
	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", addr, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}
