package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatchd/internal/router"
)

// HealthChecker reports whether the service's dependencies are reachable.
// NewRouter accepts nil, in which case /readyz always reports ready;
// cmd/dispatchd passes nil.
type HealthChecker interface {
	Ready(r *http.Request) error
}

// NewRouter assembles the full HTTP surface: the fixed dispatch operation
// table (C4) plus the teacher's health/metrics endpoints, adapted from
// Fiber routes to net/http since C8 hands raw http.Handler to
// http.Server.Serve per connection.
func NewRouter(h *Handlers, registerer prometheus.Gatherer, ready HealthChecker) http.Handler {
	dispatchRouter := router.New()
	h.Mount(dispatchRouter)

	mux := http.NewServeMux()
	mux.Handle("/api/dispatch/", dispatchRouter)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready.Ready(r); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not_ready"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))

	return requestTimeout(mux, 30*time.Second)
}

// requestTimeout bounds every request's handler time, mirroring the
// teacher's read/write timeout configuration at the transport layer.
func requestTimeout(next http.Handler, d time.Duration) http.Handler {
	return http.TimeoutHandler(next, d, `{"error":"internal","message":"request timed out"}`)
}
