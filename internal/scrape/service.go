// Package scrape runs the per-URL media pipeline: static fetch, render
// decision, optional headless render, extraction and merge.
package scrape

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/clock/system"
	"github.com/ltphuoc/media-scraper/internal/extractor"
	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/metrics"
	"github.com/ltphuoc/media-scraper/internal/progress"
)

// Service implements media.Scraper.
type Service struct {
	fetcher  media.Fetcher
	detector media.Detector
	renderer media.Renderer
	emitter  progress.Emitter
	clock    media.Clock
	logger   *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithRenderer enables the dynamic path. Without one, pages are always
// extracted from the static HTML.
func WithRenderer(r media.Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithEmitter forwards SCRAPE_DONE/SCRAPE_ERROR events.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(c media.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the pipeline collaborators.
func NewService(fetcher media.Fetcher, detector media.Detector, opts ...Option) *Service {
	s := &Service{
		fetcher:  fetcher,
		detector: detector,
		emitter:  progress.Nop{},
		clock:    system.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scrape")
	return s
}

// Scrape returns the media found on url. It fails with *media.FetchError
// when neither the static fetch nor the renderer produced any HTML.
func (s *Service) Scrape(ctx context.Context, url string) (media.ScrapeOutput, error) {
	start := s.clock.Now()
	logger := s.logger.With(zap.String("url", url))
	if jobID := progress.JobIDFromContext(ctx); jobID != "" {
		logger = logger.With(zap.String("job_id", jobID))
	}

	var staticHTML string
	fetched, fetchErr := s.fetcher.Fetch(ctx, url)
	metrics.ObserveFetch(url, fetchErr == nil)
	if fetchErr != nil {
		logger.Debug("static fetch failed", zap.Error(fetchErr))
	} else {
		staticHTML = fetched.HTML
	}

	decision := s.detector.Decide(staticHTML)
	metrics.ObserveRenderDecision(decision.Rule)

	html := staticHTML
	mode := media.ModeStatic
	var observed []string
	if decision.Render && s.renderer != nil {
		logger.Info("rendering page", zap.String("rule", decision.Rule))
		rendered := s.renderer.Render(ctx, url)
		observed = rendered.VideoURLs
		if rendered.HTML != "" {
			html = rendered.HTML
			mode = media.ModeDynamic
		}
	}

	if html == "" {
		err := &media.FetchError{URL: url, Err: fetchErr}
		s.emitError(ctx, url, mode, decision.Rule, start, err)
		return media.ScrapeOutput{}, err
	}

	found, err := extractor.Extract(url, html, observed)
	if err != nil {
		err = fmt.Errorf("extract media: %w", err)
		s.emitError(ctx, url, mode, decision.Rule, start, err)
		return media.ScrapeOutput{}, err
	}

	out := media.ScrapeOutput{
		URL:    url,
		Mode:   mode,
		Images: found.Images,
		Videos: found.Videos,
	}
	s.emitter.Emit(progress.Event{
		JobID:  progress.JobIDFromContext(ctx),
		TS:     s.clock.Now().UTC(),
		Stage:  progress.StageScrapeDone,
		URL:    url,
		Mode:   string(mode),
		Rule:   decision.Rule,
		Images: len(out.Images),
		Videos: len(out.Videos),
		Dur:    s.since(start),
	})
	return out, nil
}

func (s *Service) emitError(ctx context.Context, url string, mode media.Mode, rule string, start time.Time, err error) {
	s.emitter.Emit(progress.Event{
		JobID: progress.JobIDFromContext(ctx),
		TS:    s.clock.Now().UTC(),
		Stage: progress.StageScrapeError,
		URL:   url,
		Mode:  string(mode),
		Rule:  rule,
		Dur:   s.since(start),
		Note:  err.Error(),
	})
}

func (s *Service) since(start time.Time) time.Duration {
	d := s.clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
