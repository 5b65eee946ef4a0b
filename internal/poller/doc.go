// Package poller provides the task-status polling machinery for TaskPoll.
//
// This package is internal to TaskPoll. It owns the HTTP transport, the poll
// state machine and the worker pool that runs polls concurrently.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with CSRF pairing, timeout and size limits
//   - [Run]: The poll state machine for a single task
//   - [StartJob]: Calls a start-job endpoint and returns its task id
//   - [Scheduler]: Runs submitted polls on a bounded worker pool
//
// Users of the taskpoll library should not need to interact with this
// package directly. Configuration is done through the main taskpoll package.
package poller
