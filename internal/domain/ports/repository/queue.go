package repository

import (
	"context"
	"time"
)

// Entry is one dispatch unit in the durable event log. Payload carries only
// what a worker needs to start; the job registry stays the source of truth
// for status.
type Entry struct {
	ID            string
	JobID         string
	Source        string
	Branch        string
	Commit        string
	SchemaVersion int
}

// PendingEntry describes an unacknowledged delivery inside the consumer group.
type PendingEntry struct {
	ID         string
	ConsumerID string
	Idle       time.Duration
	Deliveries int64
}

// BacklogStats is the autoscaler's view of the queue.
type BacklogStats struct {
	// Length is the total number of entries in the stream.
	Length int64
	// Pending is the number of delivered-but-unacknowledged entries.
	Pending int64
	// Queued is Length minus already-delivered entries still tracked, i.e.
	// entries no consumer has seen yet.
	Queued int64
}

// EventLog is the append-only, consumer-group queue every other component
// builds on. Delivery inside a group is exactly-one-claimant-at-a-time;
// overall semantics are at-least-once.
type EventLog interface {
	Append(ctx context.Context, e Entry) (string, error)

	// ReadGroup claims up to max undelivered entries for consumerID,
	// blocking up to block when the stream is empty. An empty result after
	// the block window is not an error.
	ReadGroup(ctx context.Context, consumerID string, max int64, block time.Duration) ([]Entry, error)

	// Ack retires a delivered entry: it stops being redeliverable and no
	// longer counts toward Backlog. Callers must persist the terminal job
	// status before acking.
	Ack(ctx context.Context, entryID string) error

	// PendingSince lists deliveries idle longer than olderThan.
	PendingSince(ctx context.Context, olderThan time.Duration) ([]PendingEntry, error)

	// Reclaim transfers a pending entry to newConsumerID, returning the
	// entry payload. An empty result means another consumer won the race.
	Reclaim(ctx context.Context, entryID, newConsumerID string) ([]Entry, error)

	Backlog(ctx context.Context) (BacklogStats, error)

	// Remove deletes an entry that was never handed to a worker: ingestion
	// compensation after a failed descriptor write, and the sweeper dropping
	// a stale delivery it has re-appended under a fresh ID.
	Remove(ctx context.Context, entryID string) error
}
