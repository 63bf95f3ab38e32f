package adapter

import (
	"context"

	"buildforge/internal/domain/model"
)

// LogBus fans out freshly appended log chunks to live stream readers.
// Durable history lives in the registry; the bus is fire-and-forget.
type LogBus interface {
	Publish(ctx context.Context, chunk *model.LogChunk) error

	// Subscribe returns a channel of live chunks for jobID and a cancel
	// function that must be called when the reader detaches.
	Subscribe(ctx context.Context, jobID string) (<-chan *model.LogChunk, func(), error)
}
