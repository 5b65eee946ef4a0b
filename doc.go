// Package taskpoll polls the status of long-running server-side jobs until
// they finish, within a bounded retry budget.
//
// A patent-registry portal hands out work that takes seconds to minutes:
// building an archive of original documents, exporting favorites to xlsx or
// docx, validating a search query. The request that starts such a job
// answers at once with an opaque task id. The job's state is then read from a
// single status endpoint:
//
//	GET /search/get-task-info/?task_id=<id>
//	{"state": "PENDING"}
//	{"state": "SUCCESS", "result": "/media/archives/42.zip"}
//	{"state": "SUCCESS", "result": false}
//
// A result of false under SUCCESS means the job finished without producing
// anything and is reported as a failure.
//
// # Quick Start
//
//	p, err := taskpoll.New(
//	    taskpoll.WithStatusURL("https://portal.example/search/get-task-info/"),
//	)
//	if err != nil {
//	    slog.Error("failed to create poller", "error", err)
//	    os.Exit(1)
//	}
//	p.Start(ctx)
//	defer p.Stop()
//
//	h, err := p.Poll(ctx, taskID, 20,
//	    func(result json.RawMessage) { fmt.Println("ready:", string(result)) },
//	    func(err error) { fmt.Println("failed:", err) },
//	)
//
// # Polling Rules
//
// One status request is in flight per poll at any time. Each PENDING answer
// consumes one unit of the retry budget and waits according to the
// [RetryPolicy] (one second by default), so a budget of n allows at most n+1
// requests. The poll ends with exactly one continuation:
//
//   - SUCCESS with a result: onSuccess receives the result verbatim
//   - SUCCESS with false, FAILURE, REVOKED or an unknown state: onFailure
//     receives an error wrapping [ErrJobFailed]
//   - a failed request, or PENDING with the budget spent: onFailure receives
//     an error wrapping [ErrUnavailable]
//
// Each finished poll also produces one [Notification], delivered just before
// the continuation runs. Cancelling a poll, through its context or its
// [Handle], produces neither. Continuations run off the worker pool, so they
// may poll again or call [Poller.Stop].
//
// The in-memory record store keeps running polls and the 1000 most recent
// finished ones; [WithRetention] changes the cap or adds an age limit.
//
// # Jobs
//
// A [Job] names a start-job endpoint. [Poller.Run] starts it and polls the
// task id it answers with, using the job's own retry budget when set.
//
// # Architecture
//
// TaskPoll consists of several internal packages (under internal/):
//
//   - internal/poller: HTTP client, poll state machine and worker pool
//   - internal/store: Poll records in memory or Redis, with pub/sub
//   - internal/history: Finished polls in SQLite
//   - internal/notify: Notification sinks (log, AMQP)
//   - internal/server: HTTP API with Server-Sent Events
//
// The internal packages are not part of the public API and may change
// without notice.
package taskpoll
