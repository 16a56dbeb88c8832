// Package frontend implements the per-core connection sharding front
// end (C8): one acceptor/worker goroutine pair per CPU core, sharing a
// single SO_REUSEPORT listening socket, coordinating through a bounded
// hand-off channel gated by two counting semaphores.
//
// Grounded on original_source/src/main.rs for the exact algorithm
// (core_affinity, tokio::sync::Semaphore sizes, crossbeam::channel,
// yield-every-16/sleep-every-64 backpressure) and on the pack's own
// runtime.LockOSThread()/runtime.GOMAXPROCS() idiom (PayRpc
// internal/runtime/optimize.go, internal/performance/performance.go)
// as Go's grounded stand-in for CPU affinity — the standard library has
// no user-space affinity syscall.
package frontend

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"dispatchd/internal/config"
)

const (
	acceptBackoff  = 15 * time.Millisecond
	yieldEvery     = 16
	sleepEvery     = 64
	workerSleep    = 100 * time.Millisecond
)

// Frontend owns the shared listener, the acceptor/worker pool, and the
// two counting semaphores described in spec.md §4.1.
type Frontend struct {
	cfg     config.FrontendConfig
	handler http.Handler
	logger  *zap.Logger

	connSem  *semaphore.Weighted // global max-connections
	queueSem *semaphore.Weighted // accept-queue capacity
	handoff  chan net.Conn

	activeConns int64 // atomic

	onAccept func() // test hook, called once per successful accept
}

func New(cfg config.FrontendConfig, handler http.Handler, logger *zap.Logger) *Frontend {
	return &Frontend{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		connSem:  semaphore.NewWeighted(int64(cfg.MaxConnections)),
		queueSem: semaphore.NewWeighted(int64(cfg.AcceptQueueDepth)),
		handoff:  make(chan net.Conn, cfg.HandoffQueueDepth),
	}
}

// Serve opens the SO_REUSEPORT listener and runs cfg.Cores
// acceptor/worker pairs until ctx is canceled.
func (f *Frontend) Serve(ctx context.Context, addr string) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < f.cfg.Cores; i++ {
		ln, err := reusePortListener(addr)
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			continue
		}

		wg.Add(2)
		go func(id int, ln net.Listener) {
			defer wg.Done()
			f.acceptorLoop(ctx, id, ln)
		}(i, ln)
		go func(id int) {
			defer wg.Done()
			f.workerLoop(ctx, id)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return firstErr
}

// acceptorLoop implements spec.md §4.1's acceptor algorithm: acquire an
// accept-queue permit, accept(), hand off or drop.
func (f *Frontend) acceptorLoop(ctx context.Context, core int, ln net.Listener) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		if err := f.queueSem.Acquire(ctx, 1); err != nil {
			return // ctx canceled
		}

		conn, err := ln.Accept()
		if err != nil {
			f.queueSem.Release(1)
			if ctx.Err() != nil {
				return
			}
			if f.logger != nil {
				f.logger.Warn("accept failed", zap.Int("core", core), zap.Error(err))
			}
			time.Sleep(acceptBackoff)
			continue
		}

		if !f.connSem.TryAcquire(1) {
			// Global connection budget exhausted; drop this socket and
			// return its accept-queue permit immediately.
			conn.Close()
			f.queueSem.Release(1)
			continue
		}

		select {
		case f.handoff <- conn:
			// Permit transfers to the worker; it releases on dequeue.
			atomic.AddInt64(&f.activeConns, 1)
			if f.onAccept != nil {
				f.onAccept()
			}
		default:
			conn.Close()
			f.connSem.Release(1)
			f.queueSem.Release(1)
		}
	}
}

// workerLoop implements spec.md §4.1's worker algorithm: non-blocking
// receive, yield every 16 receives, sleep ~100ms every 64 consecutive
// empty receives.
func (f *Frontend) workerLoop(ctx context.Context, id int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	consecutivePresent := 0
	consecutiveEmpty := 0

	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-f.handoff:
			if !ok {
				return
			}
			f.queueSem.Release(1)
			consecutivePresent++
			consecutiveEmpty = 0

			go f.serveConn(conn)

			if consecutivePresent%yieldEvery == 0 {
				runtime.Gosched()
			}
		default:
			consecutiveEmpty++
			runtime.Gosched()
			if consecutiveEmpty%sleepEvery == 0 {
				time.Sleep(workerSleep)
			}
		}
	}
}

func (f *Frontend) serveConn(conn net.Conn) {
	defer func() {
		conn.Close()
		f.connSem.Release(1)
		atomic.AddInt64(&f.activeConns, -1)
	}()

	srv := &http.Server{Handler: f.handler}
	srv.Serve(newSingleConnListener(conn))
}

// ActiveConnections reports the number of connections currently held.
func (f *Frontend) ActiveConnections() int64 {
	return atomic.LoadInt64(&f.activeConns)
}
