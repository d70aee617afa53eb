package redisqueue

import (
	"context"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/media"
)

const janitorPageSize = 100

// JanitorConfig bounds terminal task retention.
type JanitorConfig struct {
	Queue          string
	Interval       time.Duration
	CompletedCount int
	FailedAge      time.Duration
}

// Janitor prunes archived tasks past FailedAge and completed tasks beyond
// the newest CompletedCount, together with their progress hashes. asynq's
// own Retention covers completed-task age.
type Janitor struct {
	inspector inspector
	progress  progressStore
	cfg       JanitorConfig
	clock     media.Clock
	logger    *zap.Logger
}

// NewJanitor builds a Janitor.
func NewJanitor(insp inspector, progress progressStore, cfg JanitorConfig, clock media.Clock, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		inspector: insp,
		progress:  progress,
		cfg:       cfg,
		clock:     clock,
		logger:    logger.Named("janitor"),
	}
}

// Run sweeps every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.Sweep(ctx); n > 0 {
				j.logger.Info("pruned terminal jobs", zap.Int("deleted", n))
			}
		}
	}
}

// Sweep performs one pass and returns how many tasks were deleted.
func (j *Janitor) Sweep(ctx context.Context) int {
	deleted := 0
	now := j.clock.Now()

	failed, err := j.listAll(j.inspector.ListArchivedTasks)
	if err != nil {
		j.logger.Warn("list archived tasks", zap.Error(err))
	}
	for _, info := range failed {
		if j.cfg.FailedAge > 0 && now.Sub(info.LastFailedAt) > j.cfg.FailedAge {
			deleted += j.delete(ctx, info.ID)
		}
	}

	if j.cfg.CompletedCount <= 0 {
		return deleted
	}
	completed, err := j.listAll(j.inspector.ListCompletedTasks)
	if err != nil {
		j.logger.Warn("list completed tasks", zap.Error(err))
		return deleted
	}
	sort.Slice(completed, func(a, b int) bool {
		return completed[a].CompletedAt.After(completed[b].CompletedAt)
	})
	for i := j.cfg.CompletedCount; i < len(completed); i++ {
		deleted += j.delete(ctx, completed[i].ID)
	}
	return deleted
}

func (j *Janitor) listAll(list func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error)) ([]*asynq.TaskInfo, error) {
	var all []*asynq.TaskInfo
	for page := 1; ; page++ {
		batch, err := list(j.cfg.Queue, asynq.PageSize(janitorPageSize), asynq.Page(page))
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if len(batch) < janitorPageSize {
			return all, nil
		}
	}
}

func (j *Janitor) delete(ctx context.Context, id string) int {
	if err := j.inspector.DeleteTask(j.cfg.Queue, id); err != nil {
		j.logger.Warn("delete task", zap.String("job_id", id), zap.Error(err))
		return 0
	}
	if err := j.progress.Delete(ctx, id); err != nil {
		j.logger.Warn("delete job hash", zap.String("job_id", id), zap.Error(err))
	}
	return 1
}
