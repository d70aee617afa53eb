package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/config"
	"github.com/ltphuoc/media-scraper/internal/server"
)

// newWorkerCmd creates the 'worker' subcommand, which only consumes jobs.
func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consumes scrape jobs from the Redis queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Queue.Backend != config.BackendRedis {
				return fmt.Errorf("worker requires queue.backend=%s", config.BackendRedis)
			}
			if concurrency <= 0 {
				concurrency = rt.cfg.Worker.Concurrency
			}
			return runWorker(cmd.Context(), rt, concurrency)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "jobs processed at once (default worker.concurrency)")
	return cmd
}

func runWorker(ctx context.Context, rt *session, concurrency int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	rt.logger.Info("worker starting", zap.Int("concurrency", concurrency))
	return server.New(server.Config{Concurrency: concurrency}, nil, a.Queue(), a.Worker(), rt.logger).Run(ctx)
}
