package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/app"
	"github.com/ltphuoc/media-scraper/internal/media"
)

// scrapeOutput is one line of the scrape command output.
type scrapeOutput struct {
	media.ScrapeOutput
	Error string `json:"error,omitempty"`
}

// newScrapeCmd creates the 'scrape' subcommand: a one-shot pipeline run that
// prints one JSON object per URL and persists nothing.
func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape URL...",
		Short: "Scrapes the given URLs once and prints the media found as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range args {
				if err := media.ValidateHTTPURL(u); err != nil {
					return fmt.Errorf("invalid url %q: %w", u, err)
				}
			}
			scraper, browser := app.NewPipeline(rt.cfg, nil, rt.logger)
			if browser != nil {
				defer browser.Close()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			urls := media.DedupeURLs(args)
			for _, u := range urls {
				out, err := scraper.Scrape(cmd.Context(), u)
				line := scrapeOutput{ScrapeOutput: out}
				if err != nil {
					failed++
					line.URL = u
					line.Error = err.Error()
					rt.logger.Warn("scrape failed", zap.String("url", u), zap.Error(err))
				}
				if err := enc.Encode(line); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
			}
			if failed == len(urls) {
				return fmt.Errorf("all %d urls failed", failed)
			}
			return nil
		},
	}
}
