package media

import (
	"time"
)

// Type classifies a discovered media reference.
type Type string

// Supported media types.
const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
)

// Valid reports whether t is a known media type.
func (t Type) Valid() bool {
	return t == TypeImage || t == TypeVideo
}

// JobState represents the lifecycle state of a scrape job.
type JobState string

// Job states exposed through the status API.
const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDelayed   JobState = "delayed"
)

// Terminal reports whether no further transitions will happen.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// ScrapeRequest is the payload of a job: an ordered list of distinct URLs.
type ScrapeRequest struct {
	URLs []string `json:"urls"`
}

// URLResult is the per-URL outcome recorded in a job result.
type URLResult struct {
	URL     string `json:"url"`
	Images  int    `json:"images"`
	Videos  int    `json:"videos"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Job is a scrape job as tracked by the queue.
type Job struct {
	ID           string        `json:"id"`
	Payload      ScrapeRequest `json:"payload"`
	State        JobState      `json:"state"`
	Progress     int           `json:"progress"`
	AttemptsMade int           `json:"attemptsMade"`
	Result       []URLResult   `json:"result"`
	FailedReason string        `json:"failedReason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
}

// JobOptions carries the retry and retention policy attached to a job.
type JobOptions struct {
	// Attempts is the total number of attempts, including the first.
	Attempts int
	// BackoffBase is the delay before the first retry; later retries double it.
	BackoffBase time.Duration
	// CompletedAge and CompletedCount bound how long and how many completed jobs are kept.
	CompletedAge   time.Duration
	CompletedCount int
	// FailedAge bounds how long failed jobs are kept.
	FailedAge time.Duration
}

// QueueCounts reports the number of jobs per state.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// FetchResult is the outcome of a successful static fetch.
type FetchResult struct {
	URL        string
	StatusCode int
	HTML       string
	Duration   time.Duration
}

// RenderResult is the outcome of a dynamic render. HTML is empty when the
// render failed; VideoURLs may still hold whatever was observed before that.
type RenderResult struct {
	HTML      string
	VideoURLs []string
}

// Decision explains whether dynamic rendering is needed and which rule fired.
type Decision struct {
	Render bool
	Rule   string
}

// Mode records which path produced the HTML a scrape was extracted from.
type Mode string

// Scrape modes.
const (
	ModeStatic  Mode = "static"
	ModeDynamic Mode = "dynamic"
)

// ScrapeOutput holds the media discovered for a single URL.
type ScrapeOutput struct {
	URL    string   `json:"url"`
	Mode   Mode     `json:"mode"`
	Images []string `json:"images"`
	Videos []string `json:"videos"`
}

// Page is a persisted scraped page.
type Page struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// Record is a persisted media reference owned by a Page.
type Record struct {
	ID        int64     `json:"id"`
	Type      Type      `json:"type"`
	URL       string    `json:"url"`
	PageID    int64     `json:"pageId"`
	CreatedAt time.Time `json:"createdAt"`
	Page      *Page     `json:"page,omitempty"`
}

// Query filters and paginates a media listing.
type Query struct {
	Page   int
	Limit  int
	Type   Type
	Search string
}

// Offset returns the number of rows to skip for the requested page.
func (q Query) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}
