package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/jbeaumont/fetchd/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where metrics alone are too coarse.
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

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	s.logger.Info("progress event",
		zap.String("job_id", evt.JobID),
		zap.String("stage", string(evt.Stage)),
		zap.String("host", evt.Host),
		zap.String("url", evt.URL),
		zap.Int("attempt", evt.Attempt),
		zap.String("outcome", evt.Outcome),
		zap.String("status_class", string(evt.StatusClass)),
		zap.Duration("dur", evt.Dur),
		zap.String("note", evt.Note),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
