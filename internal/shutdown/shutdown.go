// Package shutdown is the Shutdown Coordinator (spec §4.7): on
// termination signal it refuses new Tool Dispatcher intakes, waits for
// in-flight invocations up to a drain deadline, then destroys the
// Registry and the Pool in that order. The Health Service runs no
// background work, so it has no shutdown step of its own.
//
// Handlers run strictly in LIFO registration order, one at a time —
// unlike the teacher's coordinator, which fires every handler
// concurrently. Ordering must be strict here: the intake gate has to
// close before the registry drains, and the registry has to empty
// before the pool destroys its records (see SPEC_FULL.md §4.7).
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"browsercontrol/internal/logging"
)

// Handler is one shutdown step. It receives a context bounded by its
// slice of the overall drain deadline.
type Handler func(context.Context) error

// Coordinator implements spec §4.7.
type Coordinator struct {
	mu           sync.Mutex
	names        []string
	handlers     []Handler
	shutdownOnce sync.Once
	triggered    chan struct{} // closed the instant Shutdown is called, before any handler runs
	done         chan struct{} // closed only after every handler has run (or been abandoned)
	drainTimeout time.Duration
	perHandler   time.Duration
}

// NewCoordinator builds a Coordinator with an overall drain deadline
// and a per-handler timeout slice.
func NewCoordinator(drainTimeout, perHandlerTimeout time.Duration) *Coordinator {
	return &Coordinator{
		triggered:    make(chan struct{}),
		done:         make(chan struct{}),
		drainTimeout: drainTimeout,
		perHandler:   perHandlerTimeout,
	}
}

// RegisterHandler appends a named shutdown step. Registration order
// matters: handlers run in reverse of the order they were registered.
func (c *Coordinator) RegisterHandler(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	c.handlers = append(c.handlers, handler)
	logging.Info("registered shutdown handler", zap.String("name", name))
}

// ListenForSignals starts a goroutine that triggers Shutdown on
// SIGINT, SIGTERM, SIGHUP, or SIGQUIT.
func (c *Coordinator) ListenForSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	go func() {
		sig := <-sigCh
		logging.Info("received shutdown signal", zap.String("signal", sig.String()))
		c.Shutdown()
	}()
}

// Shutdown runs every registered handler in LIFO order, bounded overall
// by drainTimeout. Idempotent: a second call is a no-op. Triggered
// fires immediately so components like the HTTP server can stop
// accepting new connections in parallel with the handler chain; Done
// fires only once every handler has run (or been abandoned past the
// drain deadline).
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		logging.Info("starting graceful shutdown")
		close(c.triggered)
		defer close(c.done)

		ctx, cancel := context.WithTimeout(context.Background(), c.drainTimeout)
		defer cancel()

		c.mu.Lock()
		names := append([]string(nil), c.names...)
		handlers := append([]Handler(nil), c.handlers...)
		c.mu.Unlock()

		for i := len(handlers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				logging.Warn("drain deadline exceeded, abandoning remaining handlers", zap.String("next", names[i]))
				return
			default:
			}

			name := names[i]
			handlerCtx, handlerCancel := context.WithTimeout(ctx, c.perHandler)
			logging.Info("shutting down component", zap.String("name", name))
			err := handlers[i](handlerCtx)
			handlerCancel()

			if err != nil {
				logging.Error("shutdown handler failed", zap.String("name", name), zap.Error(err))
			} else {
				logging.Info("component shutdown complete", zap.String("name", name))
			}
		}

		logging.Info("shutdown sequence complete")
	})
}

// WaitForTrigger blocks until Shutdown has been called, without waiting
// for the handler chain to finish running. Components that must stop
// accepting new work the instant shutdown begins (e.g. the HTTP
// server's accept loop) should wait on this instead of WaitForShutdown.
func (c *Coordinator) WaitForTrigger() {
	<-c.triggered
}

// WaitForShutdown blocks until every registered handler has finished
// running (or been abandoned past the drain deadline).
func (c *Coordinator) WaitForShutdown() {
	<-c.done
}
