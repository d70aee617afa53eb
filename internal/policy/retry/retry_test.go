package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	base := 2 * time.Second
	require.Equal(t, 2*time.Second, Exponential(base, 0))
	require.Equal(t, 4*time.Second, Exponential(base, 1))
	require.Equal(t, 8*time.Second, Exponential(base, 2))
	require.Equal(t, 2*time.Second, Exponential(base, -3))
	require.Zero(t, Exponential(0, 4))
	require.Positive(t, Exponential(time.Millisecond, 1000))
}

func TestLinearDelay(t *testing.T) {
	t.Parallel()

	p := Linear{Attempts: 10, Step: 500 * time.Millisecond, Max: 5 * time.Second}
	require.Equal(t, 500*time.Millisecond, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(4))
	require.Equal(t, 5*time.Second, p.Delay(10))
	require.Equal(t, 5*time.Second, p.Delay(50))
}

func TestLinearDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	p := Linear{Attempts: 5, Step: time.Millisecond, Max: 2 * time.Millisecond}
	calls := 0
	var delays []time.Duration
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, func(_ int, d time.Duration, _ error) {
		delays = append(delays, d)
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestLinearDoExhausts(t *testing.T) {
	t.Parallel()

	p := Linear{Attempts: 3, Step: time.Millisecond}
	boom := errors.New("boom")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, nil)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestLinearDoStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := Linear{Attempts: 10, Step: time.Hour}
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("down")
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
