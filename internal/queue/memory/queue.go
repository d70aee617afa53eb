// Package memory provides the in-process job queue used for local
// development and single-binary deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/clock/system"
	"github.com/ltphuoc/media-scraper/internal/dispatcher"
	"github.com/ltphuoc/media-scraper/internal/id/uuid"
	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/queue"
)

type entry struct {
	job   media.Job
	opts  media.JobOptions
	runAt time.Time
	seq   uint64
}

// Queue keeps jobs in a map and hands them to claimers in FIFO order.
// Retention is enforced lazily on every operation.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	seq     uint64
	wake    chan struct{}
	closed  bool
	clock   media.Clock
	ids     media.IDGenerator
	timeout time.Duration
	logger  *zap.Logger
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(c media.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(g media.IDGenerator) Option {
	return func(q *Queue) {
		if g != nil {
			q.ids = g
		}
	}
}

// WithJobTimeout bounds every attempt run by Consume.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) { q.timeout = d }
}

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue constructs an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		jobs:   make(map[string]*entry),
		wake:   make(chan struct{}),
		clock:  system.New(),
		ids:    uuid.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.Named("memory_queue")
	return q
}

// Enqueue stores a waiting job and wakes one claimer.
func (q *Queue) Enqueue(_ context.Context, req media.ScrapeRequest, opts media.JobOptions) (string, error) {
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", media.ErrQueueClosed
	}
	now := q.clock.Now()
	q.purgeLocked(now)
	q.seq++
	q.jobs[id] = &entry{
		job: media.Job{
			ID:        id,
			Payload:   media.ScrapeRequest{URLs: append([]string(nil), req.URLs...)},
			State:     media.JobStateWaiting,
			CreatedAt: now,
		},
		opts:  queue.Fill(opts),
		runAt: now,
		seq:   q.seq,
	}
	q.signalLocked()
	q.logger.Debug("job enqueued", zap.String("job_id", id), zap.Int("urls", len(req.URLs)))
	return id, nil
}

// Get returns a snapshot of the job.
func (q *Queue) Get(_ context.Context, id string) (media.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purgeLocked(q.clock.Now())
	e, ok := q.jobs[id]
	if !ok {
		return media.Job{}, media.ErrJobNotFound
	}
	return cloneJob(e.job), nil
}

// Counts returns the number of jobs in each state.
func (q *Queue) Counts(context.Context) (media.QueueCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purgeLocked(q.clock.Now())
	var c media.QueueCounts
	for _, e := range q.jobs {
		switch e.job.State {
		case media.JobStateWaiting:
			c.Waiting++
		case media.JobStateActive:
			c.Active++
		case media.JobStateDelayed:
			c.Delayed++
		case media.JobStateCompleted:
			c.Completed++
		case media.JobStateFailed:
			c.Failed++
		}
	}
	return c, nil
}

// Claim blocks until a job is ready, marks it active and returns it.
func (q *Queue) Claim(ctx context.Context) (media.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return media.Job{}, media.ErrQueueClosed
		}
		now := q.clock.Now()
		q.purgeLocked(now)
		if e := q.nextReadyLocked(now); e != nil {
			e.job.State = media.JobStateActive
			job := cloneJob(e.job)
			q.mu.Unlock()
			return job, nil
		}
		wait, hasDelayed := q.nextDueLocked(now)
		wake := q.wake
		q.mu.Unlock()

		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		if hasDelayed {
			timer = time.NewTimer(wait)
			due = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return media.Job{}, fmt.Errorf("claim canceled: %w", ctx.Err())
		case <-wake:
			stopTimer(timer)
		case <-due:
		}
	}
}

// ReportProgress records progress and the partial result of an active job.
// Progress never decreases.
func (q *Queue) ReportProgress(_ context.Context, id string, progress int, partial []media.URLResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return media.ErrJobNotFound
	}
	if e.job.State != media.JobStateActive {
		return fmt.Errorf("report progress: job %s is %s", id, e.job.State)
	}
	e.job.Progress = max(e.job.Progress, min(progress, 100))
	e.job.Result = append([]media.URLResult(nil), partial...)
	return nil
}

// Complete marks an active job completed with its final result.
func (q *Queue) Complete(_ context.Context, id string, result []media.URLResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return media.ErrJobNotFound
	}
	if e.job.State.Terminal() {
		return fmt.Errorf("complete: job %s is already %s", id, e.job.State)
	}
	now := q.clock.Now()
	e.job.State = media.JobStateCompleted
	e.job.Progress = 100
	e.job.AttemptsMade++
	e.job.Result = append([]media.URLResult{}, result...)
	e.job.FailedReason = ""
	e.job.FinishedAt = &now
	q.purgeLocked(now)
	return nil
}

// Fail ends the current attempt. The job is rescheduled with exponential
// backoff until its attempts run out, then it becomes failed.
func (q *Queue) Fail(_ context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return media.ErrJobNotFound
	}
	if e.job.State.Terminal() {
		return fmt.Errorf("fail: job %s is already %s", id, e.job.State)
	}
	now := q.clock.Now()
	e.job.AttemptsMade++
	if cause != nil {
		e.job.FailedReason = cause.Error()
	}
	if e.job.AttemptsMade < e.opts.Attempts {
		delay := queue.Backoff(e.opts, e.job.AttemptsMade-1)
		e.job.State = media.JobStateDelayed
		e.runAt = now.Add(delay)
		q.signalLocked()
		q.logger.Info("job scheduled for retry",
			zap.String("job_id", id),
			zap.Int("attempts_made", e.job.AttemptsMade),
			zap.Duration("delay", delay),
		)
		return nil
	}
	e.job.State = media.JobStateFailed
	e.job.FinishedAt = &now
	q.logger.Warn("job failed", zap.String("job_id", id), zap.String("reason", e.job.FailedReason))
	q.purgeLocked(now)
	return nil
}

// Reporter binds ReportProgress to a job id.
func (q *Queue) Reporter(id string) media.ProgressReporter {
	return reporter{q: q, id: id}
}

type reporter struct {
	q  *Queue
	id string
}

func (r reporter) ReportProgress(ctx context.Context, progress int, partial []media.URLResult) error {
	return r.q.ReportProgress(ctx, r.id, progress, partial)
}

// Consume runs handler over claimed jobs until ctx ends or the queue closes.
func (q *Queue) Consume(ctx context.Context, handler media.JobHandler, concurrency int) error {
	dispatcher.New(q, handler, dispatcher.Config{
		Concurrency: concurrency,
		JobTimeout:  q.timeout,
	}, q.logger).Run(ctx)
	return nil
}

// Ping always succeeds.
func (q *Queue) Ping(context.Context) error { return nil }

// Close wakes all claimers and rejects further work.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.wake)
	return nil
}

func (q *Queue) signalLocked() {
	if q.closed {
		return
	}
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) nextReadyLocked(now time.Time) *entry {
	var best *entry
	for _, e := range q.jobs {
		switch e.job.State {
		case media.JobStateWaiting:
		case media.JobStateDelayed:
			if e.runAt.After(now) {
				continue
			}
		default:
			continue
		}
		if best == nil || e.runAt.Before(best.runAt) || (e.runAt.Equal(best.runAt) && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

func (q *Queue) nextDueLocked(now time.Time) (time.Duration, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, e := range q.jobs {
		if e.job.State != media.JobStateDelayed {
			continue
		}
		if !found || e.runAt.Before(next) {
			next = e.runAt
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return max(next.Sub(now), 0), true
}

// purgeLocked drops terminal jobs outside their retention window.
func (q *Queue) purgeLocked(now time.Time) {
	var completed []*entry
	for id, e := range q.jobs {
		if !e.job.State.Terminal() || e.job.FinishedAt == nil {
			continue
		}
		age := now.Sub(*e.job.FinishedAt)
		switch e.job.State {
		case media.JobStateCompleted:
			if age > e.opts.CompletedAge {
				delete(q.jobs, id)
				continue
			}
			completed = append(completed, e)
		case media.JobStateFailed:
			if age > e.opts.FailedAge {
				delete(q.jobs, id)
			}
		}
	}
	if len(completed) == 0 {
		return
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].job.FinishedAt.After(*completed[j].job.FinishedAt) ||
			(completed[i].job.FinishedAt.Equal(*completed[j].job.FinishedAt) && completed[i].seq > completed[j].seq)
	})
	for i, e := range completed {
		if i >= e.opts.CompletedCount {
			delete(q.jobs, e.job.ID)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func cloneJob(j media.Job) media.Job {
	out := j
	out.Payload.URLs = append([]string(nil), j.Payload.URLs...)
	if j.Result != nil {
		out.Result = append([]media.URLResult{}, j.Result...)
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

var (
	_ queue.Backend     = (*Queue)(nil)
	_ dispatcher.Source = (*Queue)(nil)
)
