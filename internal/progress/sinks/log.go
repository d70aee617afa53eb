package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ltphuoc/media-scraper/internal/progress"
)

// LogSink emits structured logs for job and scrape milestones.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Progress
// ticks are logged at debug level; failures at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
		}
		if evt.JobID != "" {
			fields = append(fields, zap.String("job_id", evt.JobID))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		switch evt.Stage {
		case progress.StageScrapeDone:
			fields = append(fields,
				zap.String("mode", evt.Mode),
				zap.String("rule", evt.Rule),
				zap.Int("images", evt.Images),
				zap.Int("videos", evt.Videos),
			)
		case progress.StageJobProgress, progress.StageJobDone:
			fields = append(fields, zap.Int("progress", evt.Progress))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageJobError, progress.StageScrapeError:
		return zapcore.WarnLevel
	case progress.StageJobProgress:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
