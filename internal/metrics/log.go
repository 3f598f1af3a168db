package metrics

import (
	"time"

	"peerpool/pkg/logx"
)

// LogCollector writes each record to the log: debug normally, info when the
// operation ran longer than SlowThreshold.
type LogCollector struct {
	Log           logx.Logger
	SlowThreshold time.Duration
}

func NewLogCollector(log logx.Logger, slow time.Duration) *LogCollector {
	if slow <= 0 {
		slow = 750 * time.Millisecond
	}
	return &LogCollector{Log: log.With(logx.String("component", "metrics")), SlowThreshold: slow}
}

func (c *LogCollector) RecordOperation(rt ResourceType, name string, queue, exec time.Duration) {
	fields := []logx.Field{
		logx.String("type", string(rt)),
		logx.String("op", name),
		logx.Duration("queue", queue),
		logx.Duration("exec", exec),
	}
	if exec >= c.SlowThreshold {
		c.Log.Info("operation.slow", fields...)
		return
	}
	c.Log.Debug("operation.completed", fields...)
}
