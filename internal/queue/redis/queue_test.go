package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/queue"
)

func TestStateOf(t *testing.T) {
	t.Parallel()

	cases := map[asynq.TaskState]media.JobState{
		asynq.TaskStatePending:   media.JobStateWaiting,
		asynq.TaskStateActive:    media.JobStateActive,
		asynq.TaskStateScheduled: media.JobStateDelayed,
		asynq.TaskStateRetry:     media.JobStateDelayed,
		asynq.TaskStateArchived:  media.JobStateFailed,
		asynq.TaskStateCompleted: media.JobStateCompleted,
	}
	for in, want := range cases {
		require.Equal(t, want, stateOf(in), in.String())
	}
}

func payloadFor(t *testing.T, urls ...string) []byte {
	t.Helper()
	b, err := encodePayload(media.ScrapeRequest{URLs: urls}, queue.DefaultOptions())
	require.NoError(t, err)
	return b
}

func TestAssembleJobCountsAttempts(t *testing.T) {
	t.Parallel()

	created := time.Unix(1700000000, 0).UTC()
	finished := created.Add(time.Minute)
	meta := jobMeta{Progress: 50, CreatedAt: created, Result: []media.URLResult{{URL: "https://a.com", Success: true}}}

	retrying, err := assembleJob(&asynq.TaskInfo{
		ID: "j", Payload: payloadFor(t, "https://a.com", "https://b.com"),
		State: asynq.TaskStateRetry, Retried: 1, LastErr: "persistence upsert page: down",
	}, meta)
	require.NoError(t, err)
	require.Equal(t, media.JobStateDelayed, retrying.State)
	require.Equal(t, 1, retrying.AttemptsMade)
	require.Equal(t, 50, retrying.Progress)
	require.Equal(t, []string{"https://a.com", "https://b.com"}, retrying.Payload.URLs)
	require.Nil(t, retrying.FinishedAt)

	done, err := assembleJob(&asynq.TaskInfo{
		ID: "j", Payload: payloadFor(t, "https://a.com"),
		State: asynq.TaskStateCompleted, Retried: 1, LastErr: "old", CompletedAt: finished,
	}, meta)
	require.NoError(t, err)
	require.Equal(t, media.JobStateCompleted, done.State)
	require.Equal(t, 2, done.AttemptsMade)
	require.Equal(t, 100, done.Progress)
	require.Empty(t, done.FailedReason)
	require.Equal(t, finished, *done.FinishedAt)

	failed, err := assembleJob(&asynq.TaskInfo{
		ID: "j", Payload: payloadFor(t, "https://a.com"),
		State: asynq.TaskStateArchived, Retried: 2, LastErr: "boom", LastFailedAt: finished,
	}, meta)
	require.NoError(t, err)
	require.Equal(t, media.JobStateFailed, failed.State)
	require.Equal(t, 3, failed.AttemptsMade)
	require.Equal(t, "boom", failed.FailedReason)

	_, err = assembleJob(&asynq.TaskInfo{Payload: []byte("{")}, meta)
	require.Error(t, err)
}

func TestParseMeta(t *testing.T) {
	t.Parallel()

	meta, err := parseMeta(map[string]string{
		"progress":  "67",
		"result":    `[{"url":"https://a.com","images":2,"videos":0,"success":true}]`,
		"createdAt": "2024-01-02T03:04:05.000000006Z",
	})
	require.NoError(t, err)
	require.Equal(t, 67, meta.Progress)
	require.Equal(t, []media.URLResult{{URL: "https://a.com", Images: 2, Success: true}}, meta.Result)
	require.Equal(t, 6, meta.CreatedAt.Nanosecond())

	empty, err := parseMeta(map[string]string{})
	require.NoError(t, err)
	require.Zero(t, empty.Progress)
	require.Nil(t, empty.Result)

	_, err = parseMeta(map[string]string{"progress": "x"})
	require.Error(t, err)
}

func TestParseUsedMemory(t *testing.T) {
	t.Parallel()

	n, err := parseUsedMemory("# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\n")
	require.NoError(t, err)
	require.Equal(t, int64(1048576), n)

	_, err = parseUsedMemory("# Memory\r\n")
	require.Error(t, err)
}

func TestRetryDelayUsesPayloadBackoff(t *testing.T) {
	t.Parallel()

	opts := media.JobOptions{BackoffBase: 100 * time.Millisecond}
	b, err := encodePayload(media.ScrapeRequest{URLs: []string{"https://a.com"}}, opts)
	require.NoError(t, err)
	task := asynq.NewTask(TaskType, b)

	require.Equal(t, 100*time.Millisecond, retryDelay(0, nil, task))
	require.Equal(t, 400*time.Millisecond, retryDelay(2, nil, task))
	require.Equal(t, 2*time.Second, retryDelay(0, nil, asynq.NewTask(TaskType, []byte("junk"))))
}

func TestWaitReadyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	ping := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}
	cfg := ConnConfig{Addr: "127.0.0.1:6379", MaxReconnects: 5, ReconnectStep: time.Millisecond, ReconnectMax: 2 * time.Millisecond}
	require.NoError(t, waitReady(context.Background(), cfg, ping, zap.NewNop()))
	require.Equal(t, 3, calls)
}

func TestWaitReadyGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	ping := func(context.Context) error {
		calls++
		return errors.New("connection refused")
	}
	cfg := ConnConfig{Addr: "redis:6379", MaxReconnects: 4, ReconnectStep: time.Millisecond}
	err := waitReady(context.Background(), cfg, ping, zap.NewNop())

	var connErr *media.QueueConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, 4, connErr.Attempts)
	require.Equal(t, "redis:6379", connErr.Addr)
	require.EqualError(t, connErr.Err, "connection refused")
	require.Equal(t, 4, calls)
}

func TestConnConfigPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := ConnConfig{}.policy()
	require.Equal(t, DefaultMaxReconnects, p.Attempts)
	require.Equal(t, 500*time.Millisecond, p.Delay(1))
	require.Equal(t, 5*time.Second, p.Delay(20))
}

func newTestQueue(insp *fakeInspector, progress *fakeProgress, enq *fakeEnqueuer) *Queue {
	return &Queue{
		cfg:       Config{Name: DefaultQueueName}.withDefaults(),
		enqueuer:  enq,
		inspector: insp,
		progress:  progress,
		clock:     fixedClock{t: time.Unix(1700000000, 0)},
		ids:       staticID("0190c3f4-0000-7000-8000-000000000001"),
		logger:    zap.NewNop(),
	}
}

func TestQueueEnqueueAndGet(t *testing.T) {
	t.Parallel()

	insp := &fakeInspector{tasks: map[string]*asynq.TaskInfo{}}
	progress := newFakeProgress()
	enq := &fakeEnqueuer{}
	q := newTestQueue(insp, progress, enq)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, media.ScrapeRequest{URLs: []string{"https://a.com"}}, media.JobOptions{})
	require.NoError(t, err)
	require.Equal(t, "0190c3f4-0000-7000-8000-000000000001", id)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskType, enq.tasks[0].Type())

	insp.tasks[id] = &asynq.TaskInfo{ID: id, Payload: enq.tasks[0].Payload(), State: asynq.TaskStatePending}
	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, media.JobStateWaiting, job.State)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), job.CreatedAt.UTC())

	require.NoError(t, reporter{store: progress, id: id}.ReportProgress(ctx, 150, nil))
	job, err = q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 100, job.Progress)

	_, err = q.Get(ctx, "missing")
	require.ErrorIs(t, err, media.ErrJobNotFound)
}

func TestQueueEnqueueFailureDropsHash(t *testing.T) {
	t.Parallel()

	progress := newFakeProgress()
	q := newTestQueue(&fakeInspector{}, progress, &fakeEnqueuer{err: errors.New("READONLY")})

	_, err := q.Enqueue(context.Background(), media.ScrapeRequest{URLs: []string{"https://a.com"}}, media.JobOptions{})
	require.ErrorContains(t, err, "enqueue task: READONLY")
	require.Equal(t, []string{"0190c3f4-0000-7000-8000-000000000001"}, progress.deleted)
}

func TestQueueCounts(t *testing.T) {
	t.Parallel()

	insp := &fakeInspector{queueInfo: &asynq.QueueInfo{
		Pending: 1, Active: 2, Scheduled: 1, Retry: 2, Completed: 5, Archived: 3,
	}}
	q := newTestQueue(insp, newFakeProgress(), &fakeEnqueuer{})

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, media.QueueCounts{Waiting: 1, Active: 2, Delayed: 3, Completed: 5, Failed: 3}, counts)

	insp.queueErr = fmt.Errorf("lookup: %w", asynq.ErrQueueNotFound)
	counts, err = q.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, media.QueueCounts{}, counts)
}

func TestHandleTaskWithoutIDSkipsRetry(t *testing.T) {
	t.Parallel()

	q := newTestQueue(&fakeInspector{}, newFakeProgress(), &fakeEnqueuer{})
	err := q.handleTask(nil)(context.Background(), asynq.NewTask(TaskType, payloadFor(t, "https://a.com")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

// TestRedisQueueEndToEnd runs against a real Redis when MEDIASCRAPER_TEST_REDIS is set.
func TestRedisQueueEndToEnd(t *testing.T) {
	addr := os.Getenv("MEDIASCRAPER_TEST_REDIS")
	if addr == "" {
		t.Skip("MEDIASCRAPER_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q, err := New(ctx, Config{
		Conn: ConnConfig{Addr: addr, MaxReconnects: 2},
		Name: fmt.Sprintf("scrape-test-%d", time.Now().UnixNano()),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	handler := handlerFunc(func(ctx context.Context, job media.Job, r media.ProgressReporter) ([]media.URLResult, error) {
		_ = r.ReportProgress(ctx, 50, nil)
		return []media.URLResult{{URL: job.Payload.URLs[0], Success: true}}, nil
	})
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = q.Consume(consumeCtx, handler, 1) }()

	id, err := q.Enqueue(ctx, media.ScrapeRequest{URLs: []string{"https://a.com"}}, media.JobOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := q.Get(ctx, id)
		return err == nil && job.State == media.JobStateCompleted
	}, 20*time.Second, 100*time.Millisecond)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 100, job.Progress)
	require.Equal(t, 1, job.AttemptsMade)
	require.Len(t, job.Result, 1)
}

type handlerFunc func(context.Context, media.Job, media.ProgressReporter) ([]media.URLResult, error)

func (f handlerFunc) Process(ctx context.Context, job media.Job, r media.ProgressReporter) ([]media.URLResult, error) {
	return f(ctx, job, r)
}
