package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ltphuoc/media-scraper/internal/progress"
)

func TestLogSinkLevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j", TS: time.Now(), Stage: progress.StageJobProgress, Progress: 50},
		{TS: time.Now(), Stage: progress.StageScrapeDone, URL: "https://x.com", Mode: "static", Images: 1},
		{JobID: "j", TS: time.Now(), Stage: progress.StageJobError, Attempt: 2, Note: "boom"},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.Equal(t, "static", entries[1].ContextMap()["mode"])
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
