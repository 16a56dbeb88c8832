// Package api wires the dispatch state machine (C5) to the fixed HTTP
// operation table (C4) through the request pipeline (C3). Authentication
// is out of scope per spec.md §1; the caller's account identity is taken
// directly from the X-Account-ID header, the same trust-the-header shape
// the teacher used for X-API-Key before its auth.AuthService resolved it
// to a client.
package api

import (
	"net/http"

	"go.uber.org/zap"

	"dispatchd/internal/apierrors"
	"dispatchd/internal/dispatch"
	"dispatchd/internal/observability"
	"dispatchd/internal/pipeline"
	"dispatchd/internal/router"
)

const accountIDHeader = "X-Account-ID"

// Handlers binds the eight dispatch operations to the pipeline.
type Handlers struct {
	svc     *dispatch.Service
	logger  *zap.Logger
	metrics *observability.Metrics
	maxBody int64
}

func NewHandlers(svc *dispatch.Service, logger *zap.Logger, metrics *observability.Metrics, maxBody int64) *Handlers {
	return &Handlers{svc: svc, logger: logger, metrics: metrics, maxBody: maxBody}
}

// Mount registers the eight dispatch operations onto r, in the shape
// spec.md §6 and SPEC_FULL.md §4.3 describe. The health and metrics
// endpoints are registered by NewRouter, not here.
func (h *Handlers) Mount(r *router.Router) {
	r.Handle("/api/dispatch/receive_commands", pipeline.Handle("receive_commands", h.maxBody, h.logger, h.metrics, h.receiveCommands))
	r.Handle("/api/dispatch/dispatch_commands", pipeline.Handle("dispatch_commands", h.maxBody, h.logger, h.metrics, h.dispatchCommands))
	r.Handle("/api/dispatch/start_command", pipeline.Handle("start_command", h.maxBody, h.logger, h.metrics, h.startCommand))
	r.Handle("/api/dispatch/heartbeat_command", pipeline.Handle("heartbeat_command", h.maxBody, h.logger, h.metrics, h.heartbeatCommand))
	r.Handle("/api/dispatch/complete_command", pipeline.Handle("complete_command", h.maxBody, h.logger, h.metrics, h.completeCommand))
	r.Handle("/api/dispatch/describe_commands", pipeline.Handle("describe_commands", h.maxBody, h.logger, h.metrics, h.describeCommands))
	r.Handle("/api/dispatch/describe_command", pipeline.Handle("describe_command", h.maxBody, h.logger, h.metrics, h.describeCommand))
	r.Handle("/api/dispatch/delete_commands", pipeline.Handle("delete_commands", h.maxBody, h.logger, h.metrics, h.deleteCommands))
}

func (h *Handlers) receiveCommands(r *http.Request, in dispatch.ReceiveInput) (dispatch.ReceiveOutput, error) {
	return h.svc.ReceiveCommands(r.Context(), in)
}

func (h *Handlers) dispatchCommands(r *http.Request, in dispatch.DispatchInput) (dispatch.DispatchOutput, error) {
	in.AccountID = accountID(r)
	return h.svc.DispatchCommands(r.Context(), in)
}

func (h *Handlers) startCommand(r *http.Request, in dispatch.StartInput) (dispatch.StartOutput, error) {
	return h.svc.StartCommand(r.Context(), in)
}

func (h *Handlers) heartbeatCommand(r *http.Request, in dispatch.HeartbeatInput) (dispatch.HeartbeatOutput, error) {
	return h.svc.HeartbeatCommand(r.Context(), in)
}

func (h *Handlers) completeCommand(r *http.Request, in dispatch.CompleteInput) (dispatch.CompleteOutput, error) {
	return h.svc.CompleteCommand(r.Context(), in)
}

func (h *Handlers) describeCommands(r *http.Request, in dispatch.DescribeCommandsInput) (dispatch.DescribeCommandsOutput, error) {
	out, err := h.svc.DescribeCommands(r.Context(), in)
	if err != nil {
		return out, apierrors.NotFound("batch")
	}
	return out, nil
}

func (h *Handlers) describeCommand(r *http.Request, in dispatch.DescribeCommandInput) (dispatch.DescribeCommandOutput, error) {
	out, err := h.svc.DescribeCommand(r.Context(), in)
	if err != nil {
		return out, apierrors.NotFound("command")
	}
	return out, nil
}

func (h *Handlers) deleteCommands(r *http.Request, in dispatch.DeleteInput) (dispatch.DeleteOutput, error) {
	return h.svc.DeleteCommands(r.Context(), in)
}

func accountID(r *http.Request) string {
	return r.Header.Get(accountIDHeader)
}
