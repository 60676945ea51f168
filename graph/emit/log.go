package emit

import (
	"context"
	"log/slog"
	"sort"
)

// LogEmitter writes events as structured slog records.
//
// Failure events (stage_error, job_failed) are logged at Warn and Error
// level respectively; everything else at Info, except stage_start and
// checkpoint_saved which are Debug to keep normal output readable.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event.
func (l *LogEmitter) Emit(event Event) {
	attrs := []slog.Attr{slog.String("job_id", event.JobID)}
	if event.Step > 0 {
		attrs = append(attrs, slog.Int("step", event.Step))
	}
	if event.Stage != "" {
		attrs = append(attrs, slog.String("stage", event.Stage))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	l.logger.LogAttrs(context.Background(), levelFor(event.Msg), event.Msg, attrs...)
}

func levelFor(msg string) slog.Level {
	switch msg {
	case MsgJobFailed:
		return slog.LevelError
	case MsgStageError, MsgStageRetry:
		return slog.LevelWarn
	case MsgStageStart, MsgCheckpoint, MsgLLMUsage:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
