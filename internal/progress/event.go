package progress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageScrapeDone  Stage = "SCRAPE_DONE"
	StageScrapeError Stage = "SCRAPE_ERROR"
)

// Event captures a single job or page milestone.
type Event struct {
	// JobID identifies the job; scrape events outside a job leave it empty.
	JobID string `json:"jobId,omitempty"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage `json:"stage"`
	// URL is the page a scrape event refers to.
	URL string `json:"url,omitempty"`
	// Mode is "static" or "dynamic" for scrape events.
	Mode string `json:"mode,omitempty"`
	// Rule is the render decision rule that fired.
	Rule   string `json:"rule,omitempty"`
	Images int    `json:"images,omitempty"`
	Videos int    `json:"videos,omitempty"`
	// Progress is the job percentage for JOB_PROGRESS and JOB_DONE.
	Progress int `json:"progress,omitempty"`
	// Attempt is the 1-based attempt number of the job run.
	Attempt int           `json:"attempt,omitempty"`
	Dur     time.Duration `json:"dur,omitempty"`
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobProgress, StageJobDone, StageJobError:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Stage)
		}
		if e.Progress < 0 || e.Progress > 100 {
			return errors.New("progress must be within 0..100")
		}
	case StageScrapeDone, StageScrapeError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

type jobIDKey struct{}

// WithJobID tags ctx so scrape events emitted below it carry the job id.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext returns the job id set by WithJobID, if any.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}
