// Package worker implements the scrape job handler: chunked URL processing,
// persistence and progress reporting.
package worker

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ltphuoc/media-scraper/internal/clock/system"
	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/metrics"
	"github.com/ltphuoc/media-scraper/internal/progress"
)

// DefaultChunkSize is how many URLs of one job are scraped at once.
const DefaultChunkSize = 2

// Config controls Worker behavior.
type Config struct {
	ChunkSize int
}

// Worker processes scrape jobs. It implements media.JobHandler and is shared
// by every queue backend.
type Worker struct {
	scraper media.Scraper
	store   media.Store
	emitter progress.Emitter
	clock   media.Clock
	cfg     Config
	logger  *zap.Logger
}

// Option customizes a Worker.
type Option func(*Worker)

// WithEmitter forwards job lifecycle events.
func WithEmitter(e progress.Emitter) Option {
	return func(w *Worker) {
		if e != nil {
			w.emitter = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(c media.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New constructs a Worker.
func New(scraper media.Scraper, store media.Store, cfg Config, opts ...Option) *Worker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	w := &Worker{
		scraper: scraper,
		store:   store,
		emitter: progress.Nop{},
		clock:   system.New(),
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("worker")
	return w
}

// Process scrapes every URL of the job. Per-URL failures are recorded in the
// result; a persistence failure aborts the attempt so the queue can retry it.
func (w *Worker) Process(ctx context.Context, job media.Job, reporter media.ProgressReporter) ([]media.URLResult, error) {
	start := w.clock.Now()
	attempt := job.AttemptsMade + 1
	urls := job.Payload.URLs
	logger := w.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", attempt))
	ctx = progress.WithJobID(ctx, job.ID)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger.Info("starting job", zap.Int("urls", len(urls)))
	w.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobStart, Attempt: attempt})

	results := make([]media.URLResult, 0, len(urls))
	for i := 0; i < len(urls); i += w.cfg.ChunkSize {
		chunk := urls[i:min(i+w.cfg.ChunkSize, len(urls))]
		outputs, chunkResults := w.scrapeChunk(ctx, chunk, logger)

		if err := w.persist(ctx, outputs); err != nil {
			logger.Error("persist chunk failed", zap.Error(err))
			w.emit(progress.Event{
				JobID:   job.ID,
				Stage:   progress.StageJobError,
				Attempt: attempt,
				Dur:     w.clock.Now().Sub(start),
				Note:    err.Error(),
			})
			return nil, err
		}

		results = append(results, chunkResults...)
		pct := Percent(len(results), len(urls))
		if reporter != nil {
			partial := append([]media.URLResult(nil), results...)
			if err := reporter.ReportProgress(ctx, pct, partial); err != nil {
				logger.Warn("report progress failed", zap.Error(err))
			}
		}
		w.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobProgress, Progress: pct, Attempt: attempt})
	}

	images, videos := totals(results)
	logger.Info("job completed",
		zap.Int("results", len(results)),
		zap.Int("images", images),
		zap.Int("videos", videos),
	)
	w.emit(progress.Event{
		JobID:    job.ID,
		Stage:    progress.StageJobDone,
		Progress: 100,
		Attempt:  attempt,
		Images:   images,
		Videos:   videos,
		Dur:      w.clock.Now().Sub(start),
	})
	return results, nil
}

type chunkOutput struct {
	url string
	out media.ScrapeOutput
	ok  bool
}

// scrapeChunk scrapes all URLs concurrently and returns outputs and results
// in input order.
func (w *Worker) scrapeChunk(ctx context.Context, chunk []string, logger *zap.Logger) ([]chunkOutput, []media.URLResult) {
	outputs := make([]chunkOutput, len(chunk))
	results := make([]media.URLResult, len(chunk))

	var g errgroup.Group
	for idx, url := range chunk {
		g.Go(func() error {
			out, err := w.scraper.Scrape(ctx, url)
			if err != nil {
				logger.Warn("url failed", zap.String("url", url), zap.Error(err))
				outputs[idx] = chunkOutput{url: url}
				results[idx] = media.URLResult{URL: url, Success: false, Error: err.Error()}
				return nil
			}
			logger.Info("url scraped",
				zap.String("url", url),
				zap.Int("images", len(out.Images)),
				zap.Int("videos", len(out.Videos)),
			)
			outputs[idx] = chunkOutput{url: url, out: out, ok: true}
			results[idx] = media.URLResult{
				URL:     url,
				Images:  len(out.Images),
				Videos:  len(out.Videos),
				Success: true,
			}
			return nil
		})
	}
	_ = g.Wait()
	return outputs, results
}

func (w *Worker) persist(ctx context.Context, outputs []chunkOutput) error {
	for _, o := range outputs {
		if !o.ok {
			continue
		}
		page, err := w.store.UpsertPage(ctx, o.url)
		if err != nil {
			return &media.PersistenceError{Op: "upsert page", Err: err}
		}
		if err := w.insert(ctx, page.ID, media.TypeImage, o.out.Images); err != nil {
			return err
		}
		if err := w.insert(ctx, page.ID, media.TypeVideo, o.out.Videos); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) insert(ctx context.Context, pageID int64, typ media.Type, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	records := make([]media.Record, 0, len(urls))
	for _, u := range urls {
		records = append(records, media.Record{PageID: pageID, Type: typ, URL: u})
	}
	n, err := w.store.InsertMedia(ctx, records)
	if err != nil {
		return &media.PersistenceError{Op: fmt.Sprintf("insert %s media", typ), Err: err}
	}
	metrics.ObservePersistedMedia(string(typ), n)
	return nil
}

func (w *Worker) emit(evt progress.Event) {
	evt.TS = w.clock.Now().UTC()
	w.emitter.Emit(evt)
}

// Percent converts processed/total into a rounded percentage capped at 100.
func Percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	pct := int(math.Round(float64(processed) / float64(total) * 100))
	return min(pct, 100)
}

func totals(results []media.URLResult) (images, videos int) {
	for _, r := range results {
		images += r.Images
		videos += r.Videos
	}
	return images, videos
}

var _ media.JobHandler = (*Worker)(nil)
