// Package notify delivers poll notifications to the outside world.
//
// A notification is the server-side counterpart of the toast the portal shows
// when an export finishes: one per finished poll, never one for a cancelled
// poll. Sinks decide where it goes.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Notification kinds.
const (
	KindSuccess     = "success"
	KindJobFailed   = "job_failed"
	KindUnavailable = "unavailable"
)

// Event is the wire form of a notification.
type Event struct {
	Kind     string          `json:"kind"`
	HandleID string          `json:"handle_id"`
	TaskID   string          `json:"task_id"`
	Job      string          `json:"job,omitempty"`
	Message  string          `json:"message"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Sink receives notification events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// LogSink writes events to a structured logger: successes at Info, failures
// at Warn.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a [LogSink]. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit logs e. It never fails.
func (s *LogSink) Emit(ctx context.Context, e Event) error {
	attrs := []any{
		"kind", e.Kind,
		"task_id", e.TaskID,
		"handle_id", e.HandleID,
	}
	if e.Job != "" {
		attrs = append(attrs, "job", e.Job)
	}
	if e.Kind == KindSuccess {
		s.logger.InfoContext(ctx, e.Message, attrs...)
		return nil
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	s.logger.WarnContext(ctx, e.Message, attrs...)
	return nil
}
