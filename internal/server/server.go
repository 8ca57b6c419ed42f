// Package server runs the long-lived serve process: the HTTP listener plus
// background components, with signal-driven graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

// Component is a background service started before the listener and
// stopped after it.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures Run.
type Options struct {
	Port            int
	ShutdownTimeout time.Duration
	Handler         http.Handler
	Components      []Component
	Logger          *zap.Logger
	// Listener overrides Port; tests pass a listener on :0.
	Listener net.Listener
}

// Run starts the components and the HTTP server and blocks until ctx is
// cancelled, SIGINT/SIGTERM arrives or the listener fails.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := make([]Component, 0, len(opts.Components))
	stopComponents := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(shutdownCtx); err != nil {
				logger.Warn("component stop failed", zap.Error(err))
			}
		}
	}
	for _, c := range opts.Components {
		if err := c.Start(ctx); err != nil {
			stopComponents()
			return fmt.Errorf("start component: %w", err)
		}
		started = append(started, c)
	}

	ln := opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
		if err != nil {
			stopComponents()
			return fmt.Errorf("listen on port %d: %w", opts.Port, err)
		}
	}
	srv := &http.Server{
		Handler:           opts.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	stopComponents()
	logger.Info("shutdown complete")
	return runErr
}
