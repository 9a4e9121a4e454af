package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/progress"
)

// LogSink writes every event as a debug log line.
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
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Identifier != "" {
			fields = append(fields, zap.String("identifier", evt.Identifier.String()))
		}
		if evt.Sequence > 0 {
			fields = append(fields, zap.Int("sequence", evt.Sequence), zap.String("folder", evt.Folder))
		}
		if evt.Step != "" {
			fields = append(fields, zap.String("step", string(evt.Step)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("run event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
