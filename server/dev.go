package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DevServer is the development-mode server: one process, no forking, no
// recycling. It serves the same router as a worker.
type DevServer struct {
	opts   Options
	logger *zap.SugaredLogger
}

// NewDevServer creates a development server.
func NewDevServer(opts Options, logger *zap.SugaredLogger) *DevServer {
	return &DevServer{opts: opts, logger: logger}
}

// Run serves until interrupted, then shuts down gracefully.
func (d *DevServer) Run(ctx context.Context) error {
	router, err := NewRouter(d.opts.StaticRoot, d.logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         d.opts.Bind,
		Handler:      router,
		ReadTimeout:  d.opts.RequestTimeout,
		WriteTimeout: d.opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  d.opts.KeepAlive,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Infow("Development server listening", "bind", d.opts.Bind)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case sig := <-sigCh:
		d.logger.Infow("Shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.opts.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	d.logger.Info("Development server stopped")
	return nil
}
