package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"buildforge/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.PoolState = (*PoolState)(nil)

// PoolState publishes the desired replica count. Workers read it on every
// empty poll to decide whether to self-terminate; the key never expires so a
// restarting control plane inherits the last target.
type PoolState struct {
	client *Client
}

func NewPoolState(client *Client) *PoolState {
	return &PoolState{client: client}
}

func (p *PoolState) SetDesired(ctx context.Context, poolID string, n int) error {
	return p.client.Set(ctx, desiredKey(poolID), n, 0)
}

func (p *PoolState) GetDesired(ctx context.Context, poolID string) (int, error) {
	v, err := p.client.Get(ctx, desiredKey(poolID))
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Liveness is a sorted set scored by last-heartbeat unix time. Stale members
// are trimmed on every read, so a crashed worker falls out of the live count
// once its ttl passes.

func (p *PoolState) Heartbeat(ctx context.Context, poolID, workerID string, ttl time.Duration) error {
	now := time.Now()
	pipe := p.client.cli.Pipeline()
	pipe.ZAdd(ctx, liveKey(poolID), &redis.Z{Score: float64(now.Unix()), Member: workerID})
	pipe.ZRemRangeByScore(ctx, liveKey(poolID), "-inf", fmt.Sprintf("%d", now.Add(-ttl).Unix()))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *PoolState) Leave(ctx context.Context, poolID, workerID string) error {
	return p.client.cli.ZRem(ctx, liveKey(poolID), workerID).Err()
}

func (p *PoolState) LiveCount(ctx context.Context, poolID string) (int, error) {
	n, err := p.client.cli.ZCard(ctx, liveKey(poolID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func desiredKey(poolID string) string {
	return fmt.Sprintf("buildforge:pool:%s:desired", poolID)
}

func liveKey(poolID string) string {
	return fmt.Sprintf("buildforge:pool:%s:live", poolID)
}
