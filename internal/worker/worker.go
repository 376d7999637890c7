// Package worker is the HTTP server run by each worker process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/psantana5/prefork/internal/listener"
	"github.com/psantana5/prefork/pkg/logging"
)

// State is the lifecycle state of a worker
type State int32

const (
	StateStarting State = iota // spawned, not yet bound
	StateServing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures a worker
type Config struct {
	Addr            string
	Listener        listener.Mode
	ShutdownTimeout time.Duration
}

// Worker serves HTTP on the shared port
type Worker struct {
	cfg     Config
	handler http.Handler
	logger  *logging.Logger
	pid     int
	state   atomic.Int32
	addr    atomic.Value // net.Addr once bound
}

// New creates a worker serving handler
func New(cfg Config, handler http.Handler, logger *logging.Logger) *Worker {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Worker{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		pid:     os.Getpid(),
	}
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Addr returns the bound address, or nil before binding
func (w *Worker) Addr() net.Addr {
	addr, _ := w.addr.Load().(net.Addr)
	return addr
}

// Serve obtains the worker's listener and serves until ctx is done
func (w *Worker) Serve(ctx context.Context) error {
	ln, err := listener.Open(ctx, w.cfg.Listener, w.cfg.Addr)
	if err != nil {
		return fmt.Errorf("worker %d failed to listen: %w", w.pid, err)
	}
	return w.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then shuts the server
// down within the shutdown timeout. ln is closed on return.
func (w *Worker) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           w.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	w.addr.Store(ln.Addr())
	w.state.Store(int32(StateServing))
	w.logger.Info(fmt.Sprintf("Worker %d started", w.pid), logging.Fields{"addr": ln.Addr().String()})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		w.state.Store(int32(StateStopped))
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("worker %d server error: %w", w.pid, err)
	case <-ctx.Done():
	}

	w.logger.Info("Shutting down worker", logging.Fields{"timeout": w.cfg.ShutdownTimeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	<-errCh
	w.state.Store(int32(StateStopped))
	if err != nil {
		return fmt.Errorf("worker %d shutdown: %w", w.pid, err)
	}
	return nil
}
