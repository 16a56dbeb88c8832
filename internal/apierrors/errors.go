// Package apierrors defines the uniform error envelope the dispatch
// service returns to callers, and the fixed set of error cases the
// request pipeline and state machine can raise.
package apierrors

import (
	"encoding/json"
	"net/http"
)

// Error is a typed API error: an HTTP status, a stable machine-readable
// code, and a human message. Internal detail is logged separately and
// never included in Message.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Write sends the uniform {"error": code, "message": "..."} envelope
// with e.Status, per spec.md §6's error envelope.
func (e *Error) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": e.Code, "message": e.Message})
}

// NoRoute is returned when no operation matches the requested path.
func NoRoute(path string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "no_route", Message: "no such operation: " + path}
}

// NoContentLength is returned when a request omits Content-Length,
// which the pipeline requires to enforce the body size cap up front.
func NoContentLength() *Error {
	return &Error{Status: http.StatusLengthRequired, Code: "no_content_length", Message: "content-length header is required"}
}

// BodyTooLarge is returned when Content-Length (or the actual body)
// exceeds the configured cap.
func BodyTooLarge(limit int64) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "body_too_large", Message: "request body exceeds size limit"}
}

// BodyReadFailed is returned when the body cannot be fully read before
// the declared Content-Length is reached.
func BodyReadFailed() *Error {
	return &Error{Status: http.StatusBadRequest, Code: "body_read_failed", Message: "failed to read request body"}
}

// JSONParse is returned when the body doesn't decode into the
// operation's expected request shape.
func JSONParse(detail string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "req_json_parse", Message: "invalid request body: " + detail}
}

// Internal is returned for any unexpected failure; detail is logged by
// the caller, never included in the response.
func Internal() *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "internal", Message: "internal error"}
}

// NotFound is returned when a referenced entity (batch, command,
// attempt) does not exist.
func NotFound(what string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "not_found", Message: what + " not found"}
}

// Conflict builds a 409 error for state-machine invariant violations.
// The dispatch operations do not return it: a stale attempt token gets a
// discard instruction in a normal 200 response instead.
func Conflict(what string) *Error {
	return &Error{Status: http.StatusConflict, Code: "conflict", Message: what}
}
