package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/media"
)

type fakeSource struct {
	mu        sync.Mutex
	jobs      chan media.Job
	completed map[string][]media.URLResult
	failed    map[string]error
	claims    int
}

func newFakeSource(jobs ...media.Job) *fakeSource {
	ch := make(chan media.Job, len(jobs))
	for _, j := range jobs {
		ch <- j
	}
	return &fakeSource{
		jobs:      ch,
		completed: map[string][]media.URLResult{},
		failed:    map[string]error{},
	}
}

func (s *fakeSource) Claim(ctx context.Context) (media.Job, error) {
	s.mu.Lock()
	s.claims++
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return media.Job{}, ctx.Err()
	case j, ok := <-s.jobs:
		if !ok {
			return media.Job{}, media.ErrQueueClosed
		}
		return j, nil
	}
}

func (s *fakeSource) Complete(_ context.Context, id string, result []media.URLResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = result
	return nil
}

func (s *fakeSource) Fail(_ context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = cause
	return nil
}

func (s *fakeSource) Reporter(string) media.ProgressReporter { return nil }

func (s *fakeSource) outcome() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed), len(s.failed)
}

type handlerFunc func(ctx context.Context, job media.Job) ([]media.URLResult, error)

func (f handlerFunc) Process(ctx context.Context, job media.Job, _ media.ProgressReporter) ([]media.URLResult, error) {
	return f(ctx, job)
}

// TestDispatcherRunProcessesJobs ensures every claimed job is completed or failed.
func TestDispatcherRunProcessesJobs(t *testing.T) {
	t.Parallel()

	source := newFakeSource(
		media.Job{ID: "ok"},
		media.Job{ID: "bad"},
		media.Job{ID: "panics"},
	)
	handler := handlerFunc(func(_ context.Context, job media.Job) ([]media.URLResult, error) {
		switch job.ID {
		case "bad":
			return nil, errors.New("persistence down")
		case "panics":
			panic("boom")
		}
		return []media.URLResult{{URL: "https://example.com", Success: true}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(source, handler, Config{Concurrency: 2}, zap.NewNop()).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		c, f := source.outcome()
		return c == 1 && f == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}

	require.EqualError(t, source.failed["bad"], "persistence down")
	require.ErrorContains(t, source.failed["panics"], "job handler panic: boom")
}

// TestDispatcherStopsWhenSourceCloses verifies a closed source ends Run.
func TestDispatcherStopsWhenSourceCloses(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	close(source.jobs)

	done := make(chan struct{})
	go func() {
		New(source, handlerFunc(nil), Config{Concurrency: 3}, nil).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after source closed")
	}
}

// TestDispatcherAppliesJobTimeout checks the per-attempt deadline.
func TestDispatcherAppliesJobTimeout(t *testing.T) {
	t.Parallel()

	source := newFakeSource(media.Job{ID: "slow"})
	handler := handlerFunc(func(ctx context.Context, _ media.Job) ([]media.URLResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(source, handler, Config{Concurrency: 1, JobTimeout: 20 * time.Millisecond}, nil).Run(ctx)

	require.Eventually(t, func() bool {
		_, f := source.outcome()
		return f == 1
	}, time.Second, 10*time.Millisecond)

	source.mu.Lock()
	defer source.mu.Unlock()
	require.ErrorIs(t, source.failed["slow"], context.DeadlineExceeded)
}

// TestDispatcherRetriesJobInterruptedByShutdown checks that a job whose
// handler returns normally after the consumer context ends is failed, not
// completed with the partial results.
func TestDispatcherRetriesJobInterruptedByShutdown(t *testing.T) {
	t.Parallel()

	source := newFakeSource(media.Job{ID: "in-flight"})
	started := make(chan struct{})
	handler := handlerFunc(func(ctx context.Context, _ media.Job) ([]media.URLResult, error) {
		close(started)
		<-ctx.Done()
		return []media.URLResult{{URL: "https://example.com", Error: ctx.Err().Error()}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(source, handler, Config{Concurrency: 1}, zap.NewNop()).Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}

	completed, failed := source.outcome()
	require.Zero(t, completed)
	require.Equal(t, 1, failed)
	require.ErrorIs(t, source.failed["in-flight"], media.ErrJobInterrupted)
	require.ErrorIs(t, source.failed["in-flight"], context.Canceled)
}
