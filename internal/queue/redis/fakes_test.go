package redisqueue

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ltphuoc/media-scraper/internal/media"
)

type fakeProgress struct {
	mu      sync.Mutex
	meta    map[string]jobMeta
	deleted []string
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{meta: map[string]jobMeta{}}
}

func (f *fakeProgress) Init(_ context.Context, id string, createdAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[id] = jobMeta{CreatedAt: createdAt}
	return nil
}

func (f *fakeProgress) Report(_ context.Context, id string, progress int, partial []media.URLResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.meta[id]
	m.Progress = max(m.Progress, progress)
	m.Result = partial
	f.meta[id] = m
	return nil
}

func (f *fakeProgress) Finish(_ context.Context, id string, result []media.URLResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.meta[id]
	m.Progress = 100
	m.Result = result
	f.meta[id] = m
	return nil
}

func (f *fakeProgress) Load(_ context.Context, id string) (jobMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta[id], nil
}

func (f *fakeProgress) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.meta, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeInspector struct {
	tasks     map[string]*asynq.TaskInfo
	queueInfo *asynq.QueueInfo
	queueErr  error
	deleted   []string
}

func (f *fakeInspector) GetTaskInfo(_, id string) (*asynq.TaskInfo, error) {
	info, ok := f.tasks[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	return info, nil
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.queueInfo, f.queueErr
}

func (f *fakeInspector) list(state asynq.TaskState, opts []asynq.ListOption) []*asynq.TaskInfo {
	var all []*asynq.TaskInfo
	for _, info := range f.tasks {
		if info.State == state {
			all = append(all, info)
		}
	}
	return all
}

func (f *fakeInspector) ListArchivedTasks(_ string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.list(asynq.TaskStateArchived, opts), nil
}

func (f *fakeInspector) ListCompletedTasks(_ string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.list(asynq.TaskStateCompleted, opts), nil
}

func (f *fakeInspector) DeleteTask(_, id string) error {
	delete(f.tasks, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeInspector) Close() error { return nil }

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }
