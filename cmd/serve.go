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

// newServeCmd creates the 'serve' subcommand: the HTTP API plus, unless
// disabled, an in-process worker pool.
func newServeCmd() *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API and the worker pool",
		Long: `Serves the REST API, health, monitor and Prometheus endpoints. Jobs are
processed in the same process unless --no-workers is set, in which case a
separate 'worker' process must consume the Redis queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			if noWorkers && rt.cfg.Queue.Backend == config.BackendMemory {
				return fmt.Errorf("--no-workers requires queue.backend=%s: the memory queue is not shared between processes", config.BackendRedis)
			}
			concurrency := rt.cfg.Worker.Concurrency
			if noWorkers {
				concurrency = 0
			}
			return runServe(cmd.Context(), rt, fmt.Sprintf(":%d", rt.cfg.Server.Port), concurrency)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API only")
	return cmd
}

func runServe(ctx context.Context, rt *session, addr string, concurrency int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	runner := server.New(server.Config{
		Addr:            addr,
		Concurrency:     concurrency,
		ShutdownTimeout: rt.cfg.ShutdownTimeout(),
	}, a.APIServer().Handler(), a.Queue(), a.Worker(), rt.logger)

	rt.logger.Info("serve starting", zap.String("addr", addr), zap.Int("workers", concurrency))
	return runner.Run(ctx)
}
