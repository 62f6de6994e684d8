package autobuy_worker

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// zapCronLogger routes cron's internal logging to zap
type zapCronLogger struct {
	sugar *zap.SugaredLogger
}

var _ cron.Logger = zapCronLogger{}

func newCronLogger(logger *zap.Logger) zapCronLogger {
	return zapCronLogger{sugar: logger.Named("cron").Sugar()}
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
