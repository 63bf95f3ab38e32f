package adapter

import "context"

// WorkerHandle identifies one live worker process in a pool.
type WorkerHandle struct {
	ID   string
	Pool string
}

// WorkerSubstrate is the external facility that physically starts worker
// processes. The controller only ever creates workers; scale-down is
// cooperative (workers observe the desired count and exit themselves).
type WorkerSubstrate interface {
	CreateWorker(ctx context.Context, poolID string) (WorkerHandle, error)
	ListWorkers(ctx context.Context, poolID string) ([]WorkerHandle, error)
}
