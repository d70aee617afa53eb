// Package server runs the long-lived processes: the HTTP API and the worker
// pool, coordinated with an errgroup and shut down on context cancellation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// Consumer pulls jobs from a queue and hands them to a handler.
type Consumer interface {
	Consume(ctx context.Context, handler media.JobHandler, concurrency int) error
}

// Config controls the processes started by Run.
type Config struct {
	// Addr is the HTTP listen address; empty disables the API.
	Addr string
	// Concurrency is the number of jobs processed at once; zero disables workers.
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Runner owns the HTTP server and the worker pool of one process.
type Runner struct {
	cfg      Config
	handler  http.Handler
	consumer Consumer
	jobs     media.JobHandler
	logger   *zap.Logger
}

// New builds a Runner. handler may be nil when cfg.Addr is empty; consumer
// and jobs may be nil when cfg.Concurrency is zero.
func New(cfg Config, handler http.Handler, consumer Consumer, jobs media.JobHandler, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Runner{cfg: cfg, handler: handler, consumer: consumer, jobs: jobs, logger: logger.Named("server")}
}

// Run starts the configured processes and blocks until ctx is canceled or
// one of them fails.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Addr == "" && r.cfg.Concurrency <= 0 {
		return errors.New("nothing to run: no listen address and no workers")
	}
	g, ctx := errgroup.WithContext(ctx)

	if r.cfg.Addr != "" {
		ln, err := net.Listen("tcp", r.cfg.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", r.cfg.Addr, err)
		}
		g.Go(func() error { return r.serveHTTP(ctx, ln) })
	}

	if r.cfg.Concurrency > 0 {
		g.Go(func() error {
			r.logger.Info("workers started", zap.Int("concurrency", r.cfg.Concurrency))
			err := r.consumer.Consume(ctx, r.jobs, r.cfg.Concurrency)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, media.ErrQueueClosed) {
				return fmt.Errorf("worker pool: %w", err)
			}
			r.logger.Info("workers stopped")
			return nil
		})
	}

	err := g.Wait()
	r.logger.Info("shutdown complete")
	return err
}

func (r *Runner) serveHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	r.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("server shutdown error", zap.Error(err))
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
