// Package queue defines the job queue backend contract shared by the
// in-memory and Redis implementations, along with the default job policy.
package queue

import (
	"context"
	"time"

	"github.com/ltphuoc/media-scraper/internal/config"
	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/policy/retry"
)

// Default job policy values.
const (
	DefaultAttempts       = 3
	DefaultBackoff        = 2 * time.Second
	DefaultCompletedAge   = time.Hour
	DefaultCompletedCount = 100
	DefaultFailedAge      = 24 * time.Hour
)

// Backend is a complete queue implementation: producers enqueue and query
// jobs, consumers run a handler over them.
type Backend interface {
	media.JobQueue
	// Consume runs handler over claimed jobs with the given concurrency
	// until ctx ends.
	Consume(ctx context.Context, handler media.JobHandler, concurrency int) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend resources.
	Close() error
}

// DefaultOptions returns the built-in job policy.
func DefaultOptions() media.JobOptions {
	return media.JobOptions{
		Attempts:       DefaultAttempts,
		BackoffBase:    DefaultBackoff,
		CompletedAge:   DefaultCompletedAge,
		CompletedCount: DefaultCompletedCount,
		FailedAge:      DefaultFailedAge,
	}
}

// OptionsFromConfig builds the job policy from configuration, falling back
// to the defaults for unset values.
func OptionsFromConfig(cfg config.QueueConfig) media.JobOptions {
	opts := DefaultOptions()
	if cfg.Attempts > 0 {
		opts.Attempts = cfg.Attempts
	}
	if cfg.BackoffMs > 0 {
		opts.BackoffBase = time.Duration(cfg.BackoffMs) * time.Millisecond
	}
	if cfg.CompletedAgeSeconds > 0 {
		opts.CompletedAge = time.Duration(cfg.CompletedAgeSeconds) * time.Second
	}
	if cfg.CompletedMax > 0 {
		opts.CompletedCount = cfg.CompletedMax
	}
	if cfg.FailedAgeSeconds > 0 {
		opts.FailedAge = time.Duration(cfg.FailedAgeSeconds) * time.Second
	}
	return opts
}

// Backoff returns the delay before the next attempt once retried retries
// have already happened.
func Backoff(opts media.JobOptions, retried int) time.Duration {
	return retry.Exponential(opts.BackoffBase, retried)
}

// Fill replaces zero fields of opts with the defaults.
func Fill(opts media.JobOptions) media.JobOptions {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.CompletedAge <= 0 {
		opts.CompletedAge = def.CompletedAge
	}
	if opts.CompletedCount <= 0 {
		opts.CompletedCount = def.CompletedCount
	}
	if opts.FailedAge <= 0 {
		opts.FailedAge = def.FailedAge
	}
	return opts
}
