package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ltphuoc/media-scraper/internal/config"
	"github.com/ltphuoc/media-scraper/internal/media"
)

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()

	opts := OptionsFromConfig(config.QueueConfig{
		Attempts:            5,
		BackoffMs:           250,
		CompletedAgeSeconds: 60,
		CompletedMax:        10,
		FailedAgeSeconds:    120,
	})
	require.Equal(t, media.JobOptions{
		Attempts:       5,
		BackoffBase:    250 * time.Millisecond,
		CompletedAge:   time.Minute,
		CompletedCount: 10,
		FailedAge:      2 * time.Minute,
	}, opts)

	require.Equal(t, DefaultOptions(), OptionsFromConfig(config.QueueConfig{}))
}

func TestBackoffDoubles(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	require.Equal(t, 2*time.Second, Backoff(opts, 0))
	require.Equal(t, 4*time.Second, Backoff(opts, 1))
	require.Equal(t, 8*time.Second, Backoff(opts, 2))
}

func TestFillKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	opts := Fill(media.JobOptions{Attempts: 1, BackoffBase: time.Millisecond})
	require.Equal(t, 1, opts.Attempts)
	require.Equal(t, time.Millisecond, opts.BackoffBase)
	require.Equal(t, DefaultCompletedAge, opts.CompletedAge)
	require.Equal(t, DefaultCompletedCount, opts.CompletedCount)
	require.Equal(t, DefaultFailedAge, opts.FailedAge)
}
