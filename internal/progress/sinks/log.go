package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/novel-harvester/internal/progress"
)

// LogSink writes each event as a structured log line. Progress ticks are
// logged at debug so long harvests stay readable at info level.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Uint64("seq", evt.Seq),
			zap.String("run_id", evt.RunID.String()),
			zap.String("collection_id", evt.CollectionID),
			zap.String("kind", string(evt.Kind)),
		}
		level := zapcore.InfoLevel
		switch evt.Kind {
		case progress.KindProgress:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.Int("value", evt.Value),
				zap.Int("current", evt.Current),
				zap.Int("total", evt.Total))
		case progress.KindStatus:
			fields = append(fields, zap.String("text", evt.Text))
		case progress.KindPartialComplete:
			fields = append(fields,
				zap.Int("batch_number", evt.BatchNumber),
				zap.String("artifact", evt.Artifact))
		case progress.KindError:
			level = zapcore.WarnLevel
			fields = append(fields, zap.String("message", evt.Message))
		}
		if ce := s.logger.Check(level, "harvest event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
