// File: internal/infra/redis/log_bus.go
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/adapter"

	"github.com/go-redis/redis/v8"
)

var _ adapter.LogBus = (*LogBus)(nil)

// LogBus fans out log chunks over pub/sub so stream readers on any control
// plane instance see chunks written by any worker. Delivery is best-effort;
// the job_logs table remains the durable record.
type LogBus struct {
	cli *redis.Client
}

func NewLogBus(c *Client) *LogBus {
	return &LogBus{cli: c.cli}
}

func (b *LogBus) Publish(ctx context.Context, chunk *model.LogChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return b.cli.Publish(ctx, chunkChannel(chunk.JobID), data).Err()
}

func (b *LogBus) Subscribe(ctx context.Context, jobID string) (<-chan *model.LogChunk, func(), error) {
	sub := b.cli.Subscribe(ctx, chunkChannel(jobID))
	// Force the subscription to be established before returning so callers
	// do not miss chunks published right after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan *model.LogChunk, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var chunk model.LogChunk
			if err := json.Unmarshal([]byte(msg.Payload), &chunk); err != nil {
				continue
			}
			select {
			case out <- &chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func chunkChannel(jobID string) string {
	return fmt.Sprintf("buildforge:job_logs:%s", jobID)
}
