package worker

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct {
	log *zap.SugaredLogger
}

// NewCronLogger adapts a zap logger to cron.Logger.
func NewCronLogger(log *zap.Logger) cron.Logger {
	return cronLogger{log: log.Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewCron returns a cron runner that recovers job panics and never overlaps a job with itself.
func NewCron(log *zap.Logger) *cron.Cron {
	cl := NewCronLogger(log)
	return cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
}
