// Package dispatcher fans claimed jobs out to a pool of goroutines running
// the job handler.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// Source hands out jobs and records their outcome.
type Source interface {
	Claim(ctx context.Context) (media.Job, error)
	Complete(ctx context.Context, id string, result []media.URLResult) error
	Fail(ctx context.Context, id string, cause error) error
	Reporter(id string) media.ProgressReporter
}

// Config controls the pool.
type Config struct {
	Concurrency int
	// JobTimeout bounds a single attempt; zero disables it.
	JobTimeout time.Duration
}

// Dispatcher runs handler over jobs claimed from source.
type Dispatcher struct {
	source  Source
	handler media.JobHandler
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(source Source, handler media.JobHandler, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		source:  source,
		handler: handler,
		cfg:     cfg,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts the pool and blocks until the context finishes or the source
// is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, slot int) {
	logger := d.logger.With(zap.Int("slot", slot))
	for {
		job, err := d.source.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, media.ErrQueueClosed) {
				return
			}
			logger.Error("claim failed", zap.Error(err))
			continue
		}
		d.runJob(ctx, job, logger)
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job media.Job, logger *zap.Logger) {
	logger = logger.With(zap.String("job_id", job.ID))
	logger.Debug("claimed job", zap.Int("attempts_made", job.AttemptsMade))

	result, err := d.process(ctx, job)
	if err == nil && ctx.Err() != nil {
		// URLs cut short by shutdown look like scrape failures; retry the
		// attempt rather than complete the job with them.
		err = fmt.Errorf("%w: %w", media.ErrJobInterrupted, ctx.Err())
	}
	// Outcomes are recorded even when ctx was canceled mid-attempt.
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("job attempt failed", zap.Error(err))
		if ferr := d.source.Fail(recordCtx, job.ID, err); ferr != nil {
			logger.Error("record failure", zap.Error(ferr))
		}
		return
	}
	if cerr := d.source.Complete(recordCtx, job.ID, result); cerr != nil {
		logger.Error("record completion", zap.Error(cerr))
		return
	}
	logger.Info("job done", zap.Int("results", len(result)))
}

func (d *Dispatcher) process(ctx context.Context, job media.Job) (result []media.URLResult, err error) {
	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return d.handler.Process(ctx, job, d.source.Reporter(job.ID))
}
