// Package redisqueue is the durable job queue backed by asynq on Redis.
// Progress and partial results live in a per-job Redis hash next to the task.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/clock/system"
	"github.com/ltphuoc/media-scraper/internal/id/uuid"
	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/queue"
)

// DefaultQueueName is the asynq queue scrape jobs are placed on.
const DefaultQueueName = "scrape"

// Config controls the Redis-backed queue.
type Config struct {
	Conn ConnConfig
	// Name is the asynq queue name.
	Name string
	// Retention bounds how long terminal jobs and their progress hashes are
	// kept; the janitor enforces it.
	Retention media.JobOptions
	// JobTimeout bounds a single attempt.
	JobTimeout time.Duration
	// JanitorInterval is how often retention is enforced; zero disables it.
	JanitorInterval time.Duration
	// ShutdownTimeout is how long Consume waits for active jobs on exit.
	ShutdownTimeout time.Duration
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// Queue implements queue.Backend on asynq.
type Queue struct {
	cfg       Config
	client    *redisv8.Client
	enqueuer  enqueuer
	inspector inspector
	progress  progressStore
	clock     media.Clock
	ids       media.IDGenerator
	logger    *zap.Logger
}

// New connects to Redis (retrying per cfg.Conn) and prepares the asynq
// client and inspector.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	client, err := Connect(ctx, cfg.Conn, logger)
	if err != nil {
		return nil, err
	}
	opt := asynq.RedisClientOpt{Addr: cfg.Conn.Addr, Password: cfg.Conn.Password, DB: cfg.Conn.DB}
	return &Queue{
		cfg:       cfg,
		client:    client,
		enqueuer:  asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		progress:  newHashStore(client, cfg.Retention.FailedAge),
		clock:     system.New(),
		ids:       uuid.New(),
		logger:    logger.Named("redis_queue"),
	}, nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultQueueName
	}
	c.Retention = queue.Fill(c.Retention)
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Client exposes the underlying go-redis client for health checks and the
// progress event publisher.
func (q *Queue) Client() *redisv8.Client { return q.client }

// Enqueue creates the progress hash and submits the asynq task under the
// job id.
func (q *Queue) Enqueue(ctx context.Context, req media.ScrapeRequest, opts media.JobOptions) (string, error) {
	opts = queue.Fill(opts)
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	payload, err := encodePayload(req, opts)
	if err != nil {
		return "", err
	}
	if err := q.progress.Init(ctx, id, q.clock.Now()); err != nil {
		return "", err
	}
	taskOpts := []asynq.Option{
		asynq.TaskID(id),
		asynq.Queue(q.cfg.Name),
		asynq.MaxRetry(opts.Attempts - 1),
		asynq.Retention(opts.CompletedAge),
	}
	if q.cfg.JobTimeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(q.cfg.JobTimeout))
	}
	if _, err := q.enqueuer.EnqueueContext(ctx, asynq.NewTask(TaskType, payload), taskOpts...); err != nil {
		_ = q.progress.Delete(ctx, id)
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	q.logger.Debug("job enqueued", zap.String("job_id", id), zap.Int("urls", len(req.URLs)))
	return id, nil
}

// Get assembles the job from the task info and its progress hash.
func (q *Queue) Get(ctx context.Context, id string) (media.Job, error) {
	info, err := q.inspector.GetTaskInfo(q.cfg.Name, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return media.Job{}, media.ErrJobNotFound
		}
		return media.Job{}, fmt.Errorf("get task info: %w", err)
	}
	meta, err := q.progress.Load(ctx, id)
	if err != nil {
		return media.Job{}, err
	}
	return assembleJob(info, meta)
}

// Counts maps asynq queue statistics onto job states.
func (q *Queue) Counts(context.Context) (media.QueueCounts, error) {
	info, err := q.inspector.GetQueueInfo(q.cfg.Name)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return media.QueueCounts{}, nil
		}
		return media.QueueCounts{}, fmt.Errorf("get queue info: %w", err)
	}
	return media.QueueCounts{
		Waiting:   info.Pending,
		Active:    info.Active,
		Delayed:   info.Scheduled + info.Retry,
		Completed: info.Completed,
		Failed:    info.Archived,
	}, nil
}

// Consume runs an asynq server feeding handler until ctx ends. The janitor
// runs alongside it when configured.
func (q *Queue) Consume(ctx context.Context, handler media.JobHandler, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: q.cfg.Conn.Addr, Password: q.cfg.Conn.Password, DB: q.cfg.Conn.DB},
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          map[string]int{q.cfg.Name: 1},
			RetryDelayFunc:  retryDelay,
			Logger:          newAsynqLogger(q.logger),
			ShutdownTimeout: q.cfg.ShutdownTimeout,
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				q.logger.Warn("task attempt failed", zap.String("type", task.Type()), zap.Error(err))
			}),
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType, q.handleTask(handler))
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	q.logger.Info("consuming jobs", zap.String("queue", q.cfg.Name), zap.Int("concurrency", concurrency))

	if q.cfg.JanitorInterval > 0 {
		janitor := NewJanitor(q.inspector, q.progress, JanitorConfig{
			Queue:          q.cfg.Name,
			Interval:       q.cfg.JanitorInterval,
			CompletedCount: q.cfg.Retention.CompletedCount,
			FailedAge:      q.cfg.Retention.FailedAge,
		}, q.clock, q.logger)
		go janitor.Run(ctx)
	}

	<-ctx.Done()
	srv.Shutdown()
	return nil
}

func (q *Queue) handleTask(handler media.JobHandler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		id, ok := asynq.GetTaskID(ctx)
		if !ok {
			return fmt.Errorf("task without id: %w", asynq.SkipRetry)
		}
		retried, _ := asynq.GetRetryCount(ctx)
		payload, err := decodePayload(task.Payload())
		if err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		job := media.Job{
			ID:           id,
			Payload:      media.ScrapeRequest{URLs: payload.URLs},
			State:        media.JobStateActive,
			AttemptsMade: retried,
		}
		result, err := handler.Process(ctx, job, reporter{store: q.progress, id: id})
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", media.ErrJobInterrupted, ctx.Err())
		}
		if err := q.progress.Finish(ctx, id, result); err != nil {
			return err
		}
		q.logger.Info("job completed", zap.String("job_id", id), zap.Int("results", len(result)))
		return nil
	}
}

// retryDelay doubles the job's base backoff for every retry already made.
func retryDelay(retried int, _ error, task *asynq.Task) time.Duration {
	opts := queue.DefaultOptions()
	if p, err := decodePayload(task.Payload()); err == nil && p.BackoffMs > 0 {
		opts.BackoffBase = time.Duration(p.BackoffMs) * time.Millisecond
	}
	return queue.Backoff(opts, retried)
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// UsedMemory reports Redis used_memory in bytes.
func (q *Queue) UsedMemory(ctx context.Context) (int64, error) {
	info, err := q.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, fmt.Errorf("redis info: %w", err)
	}
	return parseUsedMemory(info)
}

func parseUsedMemory(info string) (int64, error) {
	for _, line := range strings.Split(info, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse used_memory %q: %w", v, err)
		}
		return n, nil
	}
	return 0, errors.New("used_memory not reported")
}

// Close releases the asynq client, inspector and Redis connection.
func (q *Queue) Close() error {
	return errors.Join(q.enqueuer.Close(), q.inspector.Close(), q.client.Close())
}

var _ queue.Backend = (*Queue)(nil)
