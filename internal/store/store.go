package store

import (
	"encoding/json"
	"time"
)

// Record states. Running is the only non-terminal one.
const (
	StateRunning     = "running"
	StateSuccess     = "success"
	StateJobFailed   = "job_failed"
	StateUnavailable = "unavailable"
	StateCancelled   = "cancelled"
)

// TaskRecord represents the current state of one poll in storage.
//
// TaskRecord is the storage representation of a poll, optimized for JSON
// serialization (used by the REST API and SSE). It is decoupled from the
// poller's internal types to allow independent evolution.
type TaskRecord struct {
	// ID is the poll handle id.
	ID string `json:"id"`

	// TaskID is the server-side job id being polled.
	TaskID string `json:"task_id"`

	// Job names the configured start-job endpoint, if the poll came from one.
	Job string `json:"job,omitempty"`

	// State is one of the State* constants.
	State string `json:"state"`

	// MaxRetries is the retry budget the poll started with.
	MaxRetries int `json:"max_retries"`

	// Checks and Retries are filled in when the poll finishes.
	Checks  int `json:"checks"`
	Retries int `json:"retries"`

	// Result is the verbatim job result on success.
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains the error message if the poll failed.
	Error *string `json:"error"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the record will not change again.
func (r TaskRecord) Terminal() bool {
	return r.State != StateRunning
}

// Store defines the interface for storing and subscribing to task records.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Update stores a record and notifies all subscribers.
	// The record is keyed by ID, so subsequent updates replace previous values.
	Update(record TaskRecord)

	// Get returns the record with the given ID.
	Get(id string) (TaskRecord, bool)

	// GetAll returns all currently stored records, oldest first.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []TaskRecord

	// Subscribe returns a channel that receives record updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan TaskRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan TaskRecord)

	// Close releases any resources held by the store.
	Close() error
}
