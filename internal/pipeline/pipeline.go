// Package pipeline implements the request pipeline (C3): the
// Content-Length gate, body size cap, bounded read, JSON decode,
// handler invocation, and JSON encode every mutating operation shares.
//
// Grounded on the teacher's internal/api/middleware.go (zap
// request-duration-and-status logging) and internal/api/handlers.go
// (uniform JSON response shape); generalized here to a single generic
// function since the teacher never needed one handler shape to serve
// eight distinct operations.
package pipeline

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dispatchd/internal/apierrors"
	"dispatchd/internal/observability"
)

// Handle builds an http.HandlerFunc for one operation: name is used for
// logging and metrics labels, maxBody is the per-operation body size
// cap (spec default 32 KiB), and fn is the typed operation logic.
func Handle[In any, Out any](name string, maxBody int64, logger *zap.Logger, metrics *observability.Metrics, fn func(r *http.Request, in In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := http.StatusOK

		defer func() {
			if metrics != nil {
				metrics.HTTPRequestsTotal.WithLabelValues(name, http.StatusText(status)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}
			if logger != nil {
				logger.Info("request handled",
					zap.String("operation", name),
					zap.Int("status", status),
					zap.Duration("duration", time.Since(start)),
				)
			}
		}()

		// net/http normalizes a genuinely absent Content-Length header
		// (no body, no chunked transfer) to r.ContentLength == 0, same
		// as an explicit "Content-Length: 0" — so the header itself,
		// not the parsed field, is what distinguishes "absent" from
		// "present and zero".
		if r.Header.Get("Content-Length") == "" && len(r.TransferEncoding) == 0 {
			status = writeAPIError(w, apierrors.NoContentLength())
			return
		}
		if r.ContentLength < 0 {
			status = writeAPIError(w, apierrors.NoContentLength())
			return
		}
		if r.ContentLength > maxBody {
			status = writeAPIError(w, apierrors.BodyTooLarge(maxBody))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			status = writeAPIError(w, apierrors.BodyReadFailed())
			return
		}
		if int64(len(body)) > maxBody {
			status = writeAPIError(w, apierrors.BodyTooLarge(maxBody))
			return
		}

		var in In
		if len(body) > 0 {
			if err := json.Unmarshal(body, &in); err != nil {
				status = writeAPIError(w, apierrors.JSONParse(err.Error()))
				return
			}
		}

		out, err := fn(r, in)
		if err != nil {
			if apiErr, ok := err.(*apierrors.Error); ok {
				status = writeAPIError(w, apiErr)
				return
			}
			if logger != nil {
				logger.Error("operation failed", zap.String("operation", name), zap.Error(err))
			}
			status = writeAPIError(w, apierrors.Internal())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(out); err != nil {
			if logger != nil {
				logger.Error("response encode failed", zap.String("operation", name), zap.Error(err))
			}
		}
	}
}

func writeAPIError(w http.ResponseWriter, e *apierrors.Error) int {
	e.Write(w)
	return e.Status
}
