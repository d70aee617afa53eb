// Package cmd defines and implements the CLI commands for the mediascraper
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/app"
	"github.com/ltphuoc/media-scraper/internal/config"
	"github.com/ltphuoc/media-scraper/internal/logging"
)

// sessionKeyType is the key for storing the loaded session in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// session is what every subcommand gets from the root pre-run hook.
type session struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so we can replace it in
// tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		envFile string
	)
	cmd := &cobra.Command{
		Use:   "mediascraper",
		Short: "Scrapes image and video URLs from web pages.",
		Long: `mediascraper accepts batches of page URLs, fetches each page (rendering it in
headless Chrome when the static HTML looks client-side rendered), extracts the
image and video URLs it references and stores them for browsing.`,
		SilenceUsage: true,

		// Loads .env, configuration and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load env file %s: %w", envFile, err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, &session{cfg: cfg, logger: logger}))
			return nil
		},

		// Flushes the logger once the subcommand is done.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(sessionKey).(*session); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	cmd.AddCommand(newServeCmd(), newWorkerCmd(), newScrapeCmd())
	return cmd
}

func resolveSession(ctx context.Context) (*session, error) {
	rt, ok := ctx.Value(sessionKey).(*session)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
