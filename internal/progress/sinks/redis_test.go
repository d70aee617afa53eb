package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/ltphuoc/media-scraper/internal/progress"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	failOn   int
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redisv8.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.([]byte))
	if f.failOn > 0 && len(f.messages) == f.failOn {
		return redisv8.NewIntResult(0, errors.New("connection reset"))
	}
	return redisv8.NewIntResult(1, nil)
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := NewRedisSink(pub, "mediascraper:events")

	batch := []progress.Event{
		{JobID: "job-1", TS: time.Unix(10, 0).UTC(), Stage: progress.StageJobProgress, Progress: 50},
		{JobID: "job-1", TS: time.Unix(11, 0).UTC(), Stage: progress.StageScrapeDone, URL: "https://x.com", Images: 2},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, []string{"mediascraper:events", "mediascraper:events"}, pub.channels)

	var decoded progress.Event
	require.NoError(t, json.Unmarshal(pub.messages[1], &decoded))
	require.Equal(t, progress.StageScrapeDone, decoded.Stage)
	require.Equal(t, "https://x.com", decoded.URL)
	require.Equal(t, 2, decoded.Images)
	require.NoError(t, sink.Close(context.Background()))
}

func TestRedisSinkContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{failOn: 1}
	sink := NewRedisSink(pub, "events")

	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "a", TS: time.Now(), Stage: progress.StageJobDone},
	})
	require.ErrorContains(t, err, "connection reset")
	require.Len(t, pub.messages, 2)
}

func TestNilRedisSink(t *testing.T) {
	t.Parallel()

	var sink *RedisSink
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{}}))
}
