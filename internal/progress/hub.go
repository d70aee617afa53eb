package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBuffer        = 1024
	defaultFlushInterval = 250 * time.Millisecond
	maxBatch             = 256
	sinkTimeout          = 5 * time.Second
)

// Config tunes a Hub. Zero values select the defaults.
type Config struct {
	// Buffer bounds the events waiting for the flush loop. Emit drops past it.
	Buffer int
	// FlushInterval is the longest an event waits before sinks see it.
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// Hub fans job and page events out to sinks from one background goroutine.
// Emit never blocks the worker or the scrape pipeline.
//
// Within a flush window the JOB_PROGRESS events of a job collapse into a
// single event carrying the latest percentage. A percentage that does not
// advance past what the current attempt already reported is discarded, so
// sinks observe a rising percentage per attempt.
type Hub struct {
	cfg     Config
	sinks   []Sink
	logger  *zap.Logger
	events  chan Event
	stop    chan context.Context
	done    chan struct{}
	dropped atomic.Int64
	closed  atomic.Bool
	once    sync.Once
}

// NewHub starts the flush loop and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.Buffer),
		stop:   make(chan context.Context, 1),
		done:   make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.run()
	return h
}

// Emit queues evt for the next flush. A zero TS is stamped with the current
// UTC time. Invalid events are discarded, as are events that arrive while the
// buffer is full; the latter are counted and reported on the next flush.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Close stops accepting events, flushes what is queued, closes the sinks with
// ctx and waits for the loop to exit. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.once.Do(func() {
		h.closed.Store(true)
		h.stop <- ctx
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	b := newBatch()
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) >= maxBatch {
				h.flush(b)
			}
		case <-ticker.C:
			h.flush(b)
		case ctx := <-h.stop:
			h.drain(b)
			h.closeSinks(ctx)
			return
		}
	}
}

func (h *Hub) drain(b *batch) {
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) >= maxBatch {
				h.flush(b)
			}
		default:
			h.flush(b)
			return
		}
	}
}

func (h *Hub) flush(b *batch) {
	if n := h.dropped.Swap(0); n > 0 {
		h.logger.Warn("progress events dropped, buffer full",
			zap.Int64("dropped", n),
			zap.Int("buffer", h.cfg.Buffer),
		)
	}
	events := b.take()
	if len(events) == 0 {
		return
	}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.Consume(ctx, events)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks(ctx context.Context) {
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batch holds the events of one flush window. It is owned by the run loop.
type batch struct {
	events []Event
	// slot maps a job id to the index of its JOB_PROGRESS event in events.
	slot map[string]int
	// reported is the highest percentage accepted for a job's running attempt.
	reported map[string]int
}

func newBatch() *batch {
	return &batch{
		slot:     make(map[string]int),
		reported: make(map[string]int),
	}
}

// add records evt and returns the number of events awaiting a flush.
func (b *batch) add(evt Event) int {
	switch evt.Stage {
	case StageJobProgress:
		if last, ok := b.reported[evt.JobID]; ok && evt.Progress <= last {
			return len(b.events)
		}
		b.reported[evt.JobID] = evt.Progress
		if i, ok := b.slot[evt.JobID]; ok {
			b.events[i] = evt
			return len(b.events)
		}
		b.slot[evt.JobID] = len(b.events)
	case StageJobStart, StageJobDone, StageJobError:
		// a new attempt starts from zero; a finished one stops being tracked
		delete(b.reported, evt.JobID)
		delete(b.slot, evt.JobID)
	}
	b.events = append(b.events, evt)
	return len(b.events)
}

// take hands the window's events to the caller and opens a new window.
func (b *batch) take() []Event {
	out := b.events
	b.events = nil
	clear(b.slot)
	return out
}
