// Package router implements the fixed operation table (C4): every
// dispatch operation is a POST to /api/dispatch/<op>, matched by exact
// path against a small fixed table rather than a general-purpose mux —
// the same fixed-route style as the teacher's internal/api/routes.go,
// generalized from Fiber's router to net/http since C8 serves raw
// http.Handler values directly.
package router

import (
	"net/http"

	"dispatchd/internal/apierrors"
)

// Router is a map of exact POST routes, looked up by request path.
type Router struct {
	routes map[string]http.HandlerFunc
}

func New() *Router {
	return &Router{routes: make(map[string]http.HandlerFunc)}
}

// Handle registers fn for POST requests to exactly path.
func (r *Router) Handle(path string, fn http.HandlerFunc) {
	r.routes[path] = fn
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		apierrors.NoRoute(req.URL.Path).Write(w)
		return
	}
	fn, ok := r.routes[req.URL.Path]
	if !ok {
		apierrors.NoRoute(req.URL.Path).Write(w)
		return
	}
	fn(w, req)
}
