// Package store provides storage and pub/sub functionality for task records.
//
// This package is internal to TaskPoll and keeps the latest state of every
// poll. It implements a publish-subscribe pattern so that API clients can
// follow polls in real time.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-process implementation of Store
//   - [RedisStore]: Redis-backed implementation shared between instances
//   - [TaskRecord]: Storage representation of a poll
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the system).
package store
