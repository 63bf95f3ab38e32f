package repository

import (
	"context"
	"time"
)

// PoolState stores the desired replica count the controller publishes and
// workers consult for cooperative self-termination, plus a heartbeat set the
// workers maintain so any of them can compare live count to the target.
type PoolState interface {
	SetDesired(ctx context.Context, poolID string, n int) error
	GetDesired(ctx context.Context, poolID string) (int, error)

	// Heartbeat marks workerID live. Entries not refreshed within ttl drop
	// out of the live count on their own, so a crashed worker never wedges
	// the pool arithmetic.
	Heartbeat(ctx context.Context, poolID, workerID string, ttl time.Duration) error
	Leave(ctx context.Context, poolID, workerID string) error
	LiveCount(ctx context.Context, poolID string) (int, error)
}
