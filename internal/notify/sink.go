// Package notify defines the notification sink used by background tasks to
// surface user-facing events. It replaces a global handler registry with an
// explicit dependency so reporting is testable by substituting a fake sink.
package notify

import (
	"context"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
)

// Level classifies an event's severity for the UI layer.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is a user-visible notification emitted by a background task.
type Event struct {
	Level    Level
	Message  string
	RecordID string
	Err      error
}

// Sink receives events. Implementations must be safe for concurrent use;
// background writes publish from their own goroutines.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// LogSink writes events to the structured log. It is the default sink when
// no UI layer is attached, e.g. in the archiver binary.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(l logging.Logger) *LogSink {
	return &LogSink{logger: l.With("module", "notify")}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) {
	args := []any{"record_id", ev.RecordID}
	if ev.Err != nil {
		args = append(args, "error", ev.Err.Error())
	}
	switch ev.Level {
	case LevelError:
		s.logger.Error(ctx, ev.Message, args...)
	case LevelWarning:
		s.logger.Warn(ctx, ev.Message, args...)
	default:
		s.logger.Info(ctx, ev.Message, args...)
	}
}
