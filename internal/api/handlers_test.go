package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"dispatchd/internal/dispatch"
	"dispatchd/internal/router"
	"dispatchd/internal/storage/memstore"
	"dispatchd/internal/waiter"
)

func newTestHandlers() *Handlers {
	svc := dispatch.NewService(memstore.New(), waiter.New(), dispatch.NopNotifier{}, nil)
	return NewHandlers(svc, nil, nil, 32*1024)
}

func doJSON(t *testing.T, r *router.Router, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.ContentLength = int64(len(buf))
	req.Header.Set("Content-Length", strconv.Itoa(len(buf)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestDispatchThenReceiveThenStart(t *testing.T) {
	h := newTestHandlers()
	r := router.New()
	h.Mount(r)

	dispatchReq := map[string]any{
		"target_name": "fleet-1",
		"nonce":       "n1",
		"commands": []map[string]any{
			{"name": "reboot", "max_retries": 1, "success_required": true},
		},
	}
	rec, out := doJSON(t, r, "/api/dispatch/dispatch_commands", dispatchReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch_commands: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	batchID, _ := out["batch_id"].(string)
	if batchID == "" {
		t.Fatalf("expected batch_id in response, got %+v", out)
	}

	receiveReq := map[string]any{"target_name": "fleet-1", "timeout_millis": 0}
	rec, out = doJSON(t, r, "/api/dispatch/receive_commands", receiveReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("receive_commands: expected 200, got %d", rec.Code)
	}
	batches, _ := out["command_batches"].([]any)
	if len(batches) != 1 {
		t.Fatalf("expected 1 candidate batch, got %+v", out)
	}

	startReq := map[string]any{"batch_id": batchID, "command_index": 0, "nonce": "attempt-1"}
	rec, out = doJSON(t, r, "/api/dispatch/start_command", startReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("start_command: expected 200, got %d", rec.Code)
	}
	if out["instruction"] != "continue" {
		t.Fatalf("expected instruction=continue, got %+v", out)
	}
}

func TestUnknownRouteReturnsNoRoute(t *testing.T) {
	h := newTestHandlers()
	r := router.New()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodPost, "/api/dispatch/nope", nil)
	req.ContentLength = 0
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMissingContentLengthRejected(t *testing.T) {
	h := newTestHandlers()
	r := router.New()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodPost, "/api/dispatch/receive_commands", bytes.NewReader([]byte("{}")))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusLengthRequired {
		t.Fatalf("expected 411, got %d", rec.Code)
	}
}

// TestRequestWithoutContentLengthHeaderRejected covers the real-traffic
// case: a request whose Content-Length *header* was never sent. Go's
// server normalizes this to req.ContentLength == 0 (same as an
// explicit "Content-Length: 0"), so the gate must key off the header
// itself rather than the parsed field to catch it.
func TestRequestWithoutContentLengthHeaderRejected(t *testing.T) {
	h := newTestHandlers()
	r := router.New()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodPost, "/api/dispatch/receive_commands", bytes.NewReader([]byte(`{}`)))
	if req.Header.Get("Content-Length") != "" {
		t.Fatalf("test setup: expected no Content-Length header, got %q", req.Header.Get("Content-Length"))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusLengthRequired {
		t.Fatalf("expected 411, got %d body=%s", rec.Code, rec.Body.String())
	}
}
