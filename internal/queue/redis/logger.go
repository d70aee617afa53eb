package redisqueue

import "go.uber.org/zap"

// asynqLogger routes asynq's internal logging through zap.
type asynqLogger struct {
	s *zap.SugaredLogger
}

func newAsynqLogger(l *zap.Logger) asynqLogger {
	return asynqLogger{s: l.Named("asynq").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l asynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
