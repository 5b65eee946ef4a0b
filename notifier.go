package taskpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/taskpoll/internal/notify"
)

// NotificationKind classifies a [Notification].
type NotificationKind string

const (
	// NotifySuccess announces a job that finished with a result.
	NotifySuccess NotificationKind = notify.KindSuccess

	// NotifyJobFailed announces a job that finished without a result.
	NotifyJobFailed NotificationKind = notify.KindJobFailed

	// NotifyUnavailable announces a job whose status could not be obtained.
	NotifyUnavailable NotificationKind = notify.KindUnavailable
)

// Notification is the user-facing announcement of a finished poll.
type Notification struct {
	Kind     NotificationKind
	HandleID string
	TaskID   string
	Job      string

	// Message is a short human-readable summary.
	Message string

	// Payload is the job result, set for NotifySuccess only.
	Payload json.RawMessage

	// Err is the poll error, nil for NotifySuccess.
	Err error

	At time.Time
}

// Notifier delivers notifications.
//
// A Poller sends exactly one notification for every poll that reaches a
// terminal outcome and none for cancelled polls. Notify is called from the
// poll's delivery goroutine before its continuation, so a slow notifier
// delays that continuation only. Errors and panics are logged and never
// change the poll's outcome.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a plain function to [Notifier].
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f(ctx, n).
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// sinkNotifier adapts an internal notification sink to [Notifier].
type sinkNotifier struct {
	sink notify.Sink
}

func (s sinkNotifier) Notify(ctx context.Context, n Notification) error {
	return s.sink.Emit(ctx, eventOf(n))
}

// NewLogNotifier returns a [Notifier] that writes notifications to logger:
// successes at Info, failures at Warn. A nil logger means slog.Default().
//
// It is the Poller's notifier when none is configured.
func NewLogNotifier(logger *slog.Logger) Notifier {
	return sinkNotifier{sink: notify.NewLogSink(logger)}
}

// AMQPNotifier publishes notifications as persistent JSON messages to a
// durable AMQP queue, for consumers such as a mailer or chat bot.
type AMQPNotifier struct {
	sink *notify.AMQPSink
}

// NewAMQPNotifier connects to the broker at url and declares queue.
// An empty queue means "taskpoll.notifications".
//
// A Poller closes the notifier when it stops.
func NewAMQPNotifier(url, queue string) (*AMQPNotifier, error) {
	sink, err := notify.DialAMQP(url, queue)
	if err != nil {
		return nil, err
	}
	return &AMQPNotifier{sink: sink}, nil
}

// Notify publishes n.
func (a *AMQPNotifier) Notify(ctx context.Context, n Notification) error {
	return a.sink.Emit(ctx, eventOf(n))
}

// Close closes the broker connection. Safe to call multiple times.
func (a *AMQPNotifier) Close() error {
	return a.sink.Close()
}

func eventOf(n Notification) notify.Event {
	e := notify.Event{
		Kind:     string(n.Kind),
		HandleID: n.HandleID,
		TaskID:   n.TaskID,
		Job:      n.Job,
		Message:  n.Message,
		Payload:  n.Payload,
		At:       n.At,
	}
	if n.Err != nil {
		e.Error = n.Err.Error()
	}
	return e
}

// notificationFor builds the notification for a terminal result. It reports
// false for cancelled polls, which are never announced.
func notificationFor(r Result) (Notification, bool) {
	n := Notification{
		HandleID: r.HandleID,
		TaskID:   r.TaskID,
		Job:      r.Job,
		Err:      r.Err,
		At:       r.FinishedAt,
	}

	subject := "task " + r.TaskID
	if r.Job != "" {
		subject = fmt.Sprintf("%s (task %s)", r.Job, r.TaskID)
	}

	switch r.Outcome {
	case OutcomeSuccess:
		n.Kind = NotifySuccess
		n.Message = subject + " is ready"
		n.Payload = r.Payload
	case OutcomeJobFailed:
		n.Kind = NotifyJobFailed
		n.Message = subject + " failed"
	case OutcomeUnavailable:
		n.Kind = NotifyUnavailable
		n.Message = subject + " status is unavailable"
	default:
		return Notification{}, false
	}
	return n, true
}
