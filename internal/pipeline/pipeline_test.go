package pipeline

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

type echoIn struct {
	Value string `json:"value"`
}

type echoOut struct {
	Value string `json:"value"`
}

func newEchoHandler() http.HandlerFunc {
	return Handle("echo", 1024, nil, nil, func(_ *http.Request, in echoIn) (echoOut, error) {
		return echoOut{Value: in.Value}, nil
	})
}

func TestHandleRejectsRequestWithNoContentLengthHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"value":"x"}`))
	if req.Header.Get("Content-Length") != "" {
		t.Fatalf("test setup: expected no Content-Length header, got %q", req.Header.Get("Content-Length"))
	}
	rec := httptest.NewRecorder()
	newEchoHandler()(rec, req)

	if rec.Code != http.StatusLengthRequired {
		t.Fatalf("expected 411, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleAcceptsRequestWithExplicitZeroContentLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(""))
	req.ContentLength = 0
	req.Header.Set("Content-Length", "0")
	rec := httptest.NewRecorder()
	newEchoHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an explicit empty body, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleAcceptsRequestWithPresentContentLength(t *testing.T) {
	body := `{"value":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	rec := httptest.NewRecorder()
	newEchoHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("expected echoed value in response, got %s", rec.Body.String())
	}
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	body := strings.Repeat("a", 2048)
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"value":"`+body+`"}`))
	req.ContentLength = int64(len(body) + 11)
	req.Header.Set("Content-Length", strconv.Itoa(len(body)+11))
	rec := httptest.NewRecorder()
	newEchoHandler()(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
