// Package notify implements the notification dispatcher (C7) and its
// NATS-backed outbox (C15): enqueue is synchronous (publish to an
// internal subject), delivery is asynchronous (a pool of subscriber
// goroutines performs the actual HTTP/SQS/SNS call with bounded retry,
// publishing to a dead-letter subject on exhaustion).
//
// Grounded on the teacher's internal/queue/nats/nats.go
// (PublishSendJob/PublishDLQJob/SubscribeDLQJobs shape) and
// internal/messaging/nats/advanced_consumer.go (worker-pool +
// metrics-reporter idiom, folded into the outbox consumer side).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"dispatchd/internal/dispatch"
	"dispatchd/internal/observability"
	"dispatchd/internal/storage"
)

const (
	SubjectNotify = "dispatch.notify"
	SubjectDLQ    = "dispatch.notify.dlq"
)

// envelope is the wire shape published onto SubjectNotify.
type envelope struct {
	Destination storage.Notification `json:"destination"`
	Kind        string               `json:"kind"`
	Body        map[string]any       `json:"body"`
	Attempt     int                  `json:"attempt"`
}

// Sender delivers one notification to its destination channel. One
// implementation per channel type (HTTP, SQS, SNS).
type Sender interface {
	Send(ctx context.Context, dest storage.Notification, body map[string]any) error
}

// Dispatcher is the C7/C15 implementation of dispatch.Notifier: it
// publishes synchronously to NATS and, once Start is called, runs a
// pool of goroutines that subscribe and deliver.
type Dispatcher struct {
	conn    *nats.Conn
	logger  *zap.Logger
	metrics *observability.Metrics
	senders map[string]Sender

	maxAttempts int
	workerCount int

	consumed  int64
	delivered int64
	failed    int64
	dlq       int64
}

// WithMetrics attaches the Prometheus collectors counting notification
// deliveries and outbox depth. Optional.
func (d *Dispatcher) WithMetrics(m *observability.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

var _ dispatch.Notifier = (*Dispatcher)(nil)

// New constructs a Dispatcher. senders maps a channel type tag
// ("http", "aws_sqs", "aws_sns") to the Sender that delivers it.
func New(conn *nats.Conn, logger *zap.Logger, senders map[string]Sender, workerCount, maxAttempts int) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 20
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{conn: conn, logger: logger, senders: senders, workerCount: workerCount, maxAttempts: maxAttempts}
}

// Enqueue publishes the notification synchronously and returns any
// publish failure to the caller.
func (d *Dispatcher) Enqueue(_ context.Context, n dispatch.NotificationEnvelope) error {
	if n.Destination == nil {
		return nil
	}
	env := envelope{Destination: *n.Destination, Kind: n.Kind, Body: n.Body, Attempt: 0}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := d.conn.Publish(SubjectNotify, payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	atomic.AddInt64(&d.consumed, 1)
	return nil
}

// Start launches workerCount delivery goroutines plus a periodic stats
// reporter. Blocks on subscription setup only; returns once consumers
// are running.
func (d *Dispatcher) Start(ctx context.Context) error {
	sub, err := d.conn.QueueSubscribeSync(SubjectNotify, "dispatch-notify-workers")
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectNotify, err)
	}
	_ = sub.SetPendingLimits(d.workerCount*4, 16*1024*1024)

	for i := 0; i < d.workerCount; i++ {
		go d.deliveryWorker(ctx, sub, i)
	}
	go d.statsReporter(ctx)
	return nil
}

func (d *Dispatcher) deliveryWorker(ctx context.Context, sub *nats.Subscription, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := sub.NextMsg(200 * time.Millisecond)
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if d.logger != nil {
				d.logger.Error("notify worker receive failed", zap.Int("worker", id), zap.Error(err))
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			if d.logger != nil {
				d.logger.Error("notify worker bad payload", zap.Error(err))
			}
			atomic.AddInt64(&d.failed, 1)
			continue
		}

		d.deliver(ctx, env)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, env envelope) {
	sender := d.senders[env.Destination.Type]
	if sender == nil {
		if d.logger != nil {
			d.logger.Error("no sender registered for channel", zap.String("type", env.Destination.Type))
		}
		atomic.AddInt64(&d.failed, 1)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := sender.Send(sendCtx, env.Destination, env.Body)
	cancel()

	if err == nil {
		atomic.AddInt64(&d.delivered, 1)
		if d.metrics != nil {
			d.metrics.NotificationsTotal.WithLabelValues(env.Destination.Type, "delivered").Inc()
		}
		return
	}

	if env.Attempt+1 >= d.maxAttempts {
		atomic.AddInt64(&d.failed, 1)
		if d.metrics != nil {
			d.metrics.NotificationsTotal.WithLabelValues(env.Destination.Type, "exhausted").Inc()
		}
		d.deadLetter(env, err)
		return
	}

	backoff := time.Duration(1<<uint(env.Attempt)) * 100 * time.Millisecond
	time.Sleep(backoff)

	env.Attempt++
	payload, merr := json.Marshal(env)
	if merr != nil {
		atomic.AddInt64(&d.failed, 1)
		return
	}
	if perr := d.conn.Publish(SubjectNotify, payload); perr != nil && d.logger != nil {
		d.logger.Error("failed to republish notification retry", zap.Error(perr))
	}
}

func (d *Dispatcher) deadLetter(env envelope, cause error) {
	atomic.AddInt64(&d.dlq, 1)
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	if perr := d.conn.Publish(SubjectDLQ, payload); perr != nil && d.logger != nil {
		d.logger.Error("failed to publish to dead-letter subject", zap.Error(perr))
	}
	if d.logger != nil {
		d.logger.Warn("notification delivery exhausted retries", zap.String("kind", env.Kind), zap.Error(cause))
	}
}

func (d *Dispatcher) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			consumed := atomic.LoadInt64(&d.consumed)
			delivered := atomic.LoadInt64(&d.delivered)
			failed := atomic.LoadInt64(&d.failed)
			dlq := atomic.LoadInt64(&d.dlq)

			if d.metrics != nil {
				depth := consumed - delivered - failed
				if depth < 0 {
					depth = 0
				}
				d.metrics.OutboxQueueDepth.Set(float64(depth))
			}

			if d.logger == nil {
				continue
			}
			d.logger.Info("notification dispatcher stats",
				zap.Int64("consumed", consumed),
				zap.Int64("delivered", delivered),
				zap.Int64("failed", failed),
				zap.Int64("dead_lettered", dlq),
			)
		}
	}
}
