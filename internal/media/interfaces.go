package media

import (
	"context"
	"time"
)

// Fetcher performs the static HTTP fetch of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Renderer drives a real browser to obtain the fully rendered page.
// Render never returns an error; failures yield an empty HTML string.
type Renderer interface {
	Render(ctx context.Context, url string) RenderResult
}

// Detector decides whether statically fetched HTML needs a dynamic render.
// An empty html string means the static fetch produced nothing.
type Detector interface {
	Decide(html string) Decision
}

// Scraper runs the full pipeline for one URL.
type Scraper interface {
	Scrape(ctx context.Context, url string) (ScrapeOutput, error)
}

// Store persists pages and their media.
type Store interface {
	UpsertPage(ctx context.Context, url string) (Page, error)
	InsertMedia(ctx context.Context, records []Record) (int64, error)
}

// Lister reads persisted media back for the listing API.
type Lister interface {
	ListMedia(ctx context.Context, query Query) ([]Record, int, error)
}

// ProgressReporter lets a running job publish progress and partial results.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, progress int, partial []URLResult) error
}

// JobHandler processes a claimed job and returns its result.
type JobHandler interface {
	Process(ctx context.Context, job Job, reporter ProgressReporter) ([]URLResult, error)
}

// JobQueue accepts jobs and answers status queries.
type JobQueue interface {
	Enqueue(ctx context.Context, req ScrapeRequest, opts JobOptions) (string, error)
	Get(ctx context.Context, id string) (Job, error)
	Counts(ctx context.Context) (QueueCounts, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
