package dispatch

import (
	"context"

	"dispatchd/internal/storage"
)

// Notifier is the seam C5 uses to reach the notification dispatcher
// (C7/C15) without importing it directly — internal/notify implements
// this. Enqueue must return promptly; delivery happens asynchronously.
// Service logs a non-nil error from Enqueue; the operation that emitted
// the notification still completes and reports success.
type Notifier interface {
	Enqueue(ctx context.Context, envelope NotificationEnvelope) error
}

// NotificationEnvelope is what C5 hands to the outbox: the destination
// (from a storage.Notification) plus an arbitrary JSON body describing
// the event.
type NotificationEnvelope struct {
	Destination *storage.Notification
	Kind        string
	Body        map[string]any
}

// NopNotifier discards every notification; used where no outbox is
// configured (tests, or notification-free deployments).
type NopNotifier struct{}

func (NopNotifier) Enqueue(context.Context, NotificationEnvelope) error { return nil }
