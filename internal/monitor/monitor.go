// Package monitor keeps process-wide request counters and builds the JSON
// runtime snapshot served at /api/monitor.
package monitor

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ltphuoc/media-scraper/internal/clock/system"
	"github.com/ltphuoc/media-scraper/internal/media"
)

const mb = 1024 * 1024

// QueueStats reports job counts per state.
type QueueStats interface {
	Counts(ctx context.Context) (media.QueueCounts, error)
}

// MemoryReporter reports the broker's memory usage in bytes.
type MemoryReporter interface {
	UsedMemory(ctx context.Context) (int64, error)
}

// Snapshot is the monitor endpoint payload.
type Snapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Requests      int64             `json:"requests"`
	Memory        MemoryStats       `json:"memory"`
	CPU           CPUStats          `json:"cpu"`
	RedisMemoryMB *float64          `json:"redisMemoryMB,omitempty"`
	Queue         media.QueueCounts `json:"queue"`
	Goroutines    int               `json:"goroutines"`
	Timestamp     time.Time         `json:"timestamp"`
}

// MemoryStats summarizes the Go heap.
type MemoryStats struct {
	SysMB           float64 `json:"totalMB"`
	HeapUsedMB      float64 `json:"heapUsedMB"`
	HeapTotalMB     float64 `json:"heapTotalMB"`
	HeapUsedPercent float64 `json:"heapUsedPercent"`
}

// CPUStats is the process CPU time spent since the previous snapshot.
type CPUStats struct {
	UserMs       float64 `json:"userMs"`
	SystemMs     float64 `json:"systemMs"`
	UsagePercent float64 `json:"usagePercent"`
}

// Monitor is owned by the serve command and shared by the HTTP layer.
type Monitor struct {
	clock    media.Clock
	started  time.Time
	requests atomic.Int64
	queue    QueueStats
	broker   MemoryReporter

	mu       sync.Mutex
	lastCPU  cpuTimes
	lastWall time.Time
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(c media.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithBrokerMemory adds the broker memory usage to snapshots.
func WithBrokerMemory(r MemoryReporter) Option {
	return func(m *Monitor) { m.broker = r }
}

// New builds a Monitor reporting counts from queue.
func New(queue QueueStats, opts ...Option) *Monitor {
	m := &Monitor{clock: system.New(), queue: queue}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.clock.Now()
	m.lastWall = m.started
	m.lastCPU = readCPU()
	return m
}

// Middleware counts every request passing through.
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// Requests returns the number of requests counted so far.
func (m *Monitor) Requests() int64 { return m.requests.Load() }

// Uptime returns the time since the monitor was created.
func (m *Monitor) Uptime() time.Duration { return m.clock.Now().Sub(m.started) }

// Reset zeroes the request counter and the CPU baseline.
func (m *Monitor) Reset() {
	m.requests.Store(0)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCPU = readCPU()
	m.lastWall = m.clock.Now()
}

// Snapshot collects runtime, queue and broker statistics. CPU figures cover
// the interval since the previous snapshot.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	now := m.clock.Now()
	snap := Snapshot{
		Status:        "ok",
		UptimeSeconds: now.Sub(m.started).Seconds(),
		Requests:      m.requests.Load(),
		Memory:        readMemory(),
		CPU:           m.cpuDelta(now),
		Goroutines:    runtime.NumGoroutine(),
		Timestamp:     now.UTC(),
	}
	if m.queue != nil {
		counts, err := m.queue.Counts(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Queue = counts
	}
	if m.broker != nil {
		if used, err := m.broker.UsedMemory(ctx); err == nil {
			v := round2(float64(used) / mb)
			snap.RedisMemoryMB = &v
		}
	}
	return snap, nil
}

func (m *Monitor) cpuDelta(now time.Time) CPUStats {
	cur := readCPU()
	m.mu.Lock()
	prev, prevWall := m.lastCPU, m.lastWall
	m.lastCPU, m.lastWall = cur, now
	m.mu.Unlock()
	return cpuStats(prev, cur, now.Sub(prevWall))
}

func cpuStats(prev, cur cpuTimes, wall time.Duration) CPUStats {
	user := max(cur.user-prev.user, 0)
	sys := max(cur.system-prev.system, 0)
	stats := CPUStats{
		UserMs:   round2(float64(user) / float64(time.Millisecond)),
		SystemMs: round2(float64(sys) / float64(time.Millisecond)),
	}
	if wall > 0 {
		stats.UsagePercent = round2(float64(user+sys) / float64(wall) * 100)
	}
	return stats
}

func readMemory() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := MemoryStats{
		SysMB:       round2(float64(ms.Sys) / mb),
		HeapUsedMB:  round2(float64(ms.HeapAlloc) / mb),
		HeapTotalMB: round2(float64(ms.HeapSys) / mb),
	}
	if ms.HeapSys > 0 {
		stats.HeapUsedPercent = round2(float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100)
	}
	return stats
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

type cpuTimes struct {
	user   time.Duration
	system time.Duration
}
