package redisqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// TaskType is the asynq task type carrying a scrape job.
const TaskType = "scrape:job"

type taskPayload struct {
	URLs      []string `json:"urls"`
	BackoffMs int64    `json:"backoffMs"`
}

func encodePayload(req media.ScrapeRequest, opts media.JobOptions) ([]byte, error) {
	b, err := json.Marshal(taskPayload{URLs: req.URLs, BackoffMs: opts.BackoffBase.Milliseconds()})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

func decodePayload(b []byte) (taskPayload, error) {
	var p taskPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return taskPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// stateOf maps an asynq task state onto the job states exposed by the API.
func stateOf(s asynq.TaskState) media.JobState {
	switch s {
	case asynq.TaskStateActive:
		return media.JobStateActive
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return media.JobStateDelayed
	case asynq.TaskStateArchived:
		return media.JobStateFailed
	case asynq.TaskStateCompleted:
		return media.JobStateCompleted
	default:
		return media.JobStateWaiting
	}
}

// assembleJob merges the broker's view of a task with the progress hash.
func assembleJob(info *asynq.TaskInfo, meta jobMeta) (media.Job, error) {
	payload, err := decodePayload(info.Payload)
	if err != nil {
		return media.Job{}, err
	}
	job := media.Job{
		ID:           info.ID,
		Payload:      media.ScrapeRequest{URLs: payload.URLs},
		State:        stateOf(info.State),
		Progress:     meta.Progress,
		AttemptsMade: info.Retried,
		Result:       meta.Result,
		FailedReason: info.LastErr,
		CreatedAt:    meta.CreatedAt,
	}
	switch job.State {
	case media.JobStateCompleted:
		job.AttemptsMade++
		job.Progress = 100
		job.FailedReason = ""
		job.FinishedAt = timePtr(info.CompletedAt)
	case media.JobStateFailed:
		job.AttemptsMade++
		job.FinishedAt = timePtr(info.LastFailedAt)
	}
	return job, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
