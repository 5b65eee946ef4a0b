// Package server provides the HTTP API for TaskPoll.
//
// This package is internal to TaskPoll and handles all HTTP concerns:
//
//   - REST API: start, inspect and cancel polls under "/api/tasks", start
//     configured jobs under "/api/jobs", read finished polls at "/api/history"
//   - Server-Sent Events: Real-time record updates at "/api/sse"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the taskpoll library should not need to interact with this
// package directly. The server is started by [taskpoll.Poller.Serve].
package server
