package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ltphuoc/media-scraper/internal/progress"
)

// PrometheusSink exports job and scrape progress via Prometheus. It owns the
// collectors for jobs started/completed/running and per-mode scrape counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	scrapes        *prometheus.CounterVec
	mediaFound     *prometheus.CounterVec
	scrapeDuration *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediascraper_jobs_started_total",
			Help: "Total job attempts that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediascraper_jobs_completed_total",
			Help: "Total job attempts finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediascraper_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediascraper_job_runtime_seconds",
			Help:    "Wall time per job attempt.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediascraper_scrapes_total",
			Help: "Page scrapes partitioned by mode and outcome.",
		}, []string{"mode", "outcome"}),
		mediaFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediascraper_media_found_total",
			Help: "Media references discovered, partitioned by type.",
		}, []string{"type"}),
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediascraper_scrape_duration_seconds",
			Help:    "Per-page scrape duration partitioned by mode.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"mode"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.scrapes,
		s.mediaFound,
		s.scrapeDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StageScrapeDone, progress.StageScrapeError:
		s.handleScrapeEvent(evt)
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleScrapeEvent(evt progress.Event) {
	mode := evt.Mode
	if mode == "" {
		mode = "unknown"
	}
	if evt.Stage == progress.StageScrapeError {
		s.scrapes.WithLabelValues(mode, "error").Inc()
		return
	}
	s.scrapes.WithLabelValues(mode, "success").Inc()
	if evt.Images > 0 {
		s.mediaFound.WithLabelValues("image").Add(float64(evt.Images))
	}
	if evt.Videos > 0 {
		s.mediaFound.WithLabelValues("video").Add(float64(evt.Videos))
	}
	if evt.Dur > 0 {
		s.scrapeDuration.WithLabelValues(mode).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
