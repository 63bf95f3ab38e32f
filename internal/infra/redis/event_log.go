// File: internal/infra/redis/event_log.go
package redis

import (
	"context"
	"strconv"
	"time"

	"buildforge/internal/domain"
	"buildforge/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.EventLog = (*StreamLog)(nil)

// StreamLog implements the durable event log on a Redis stream with one
// consumer group. Redis guarantees an entry is held by at most one consumer
// in the group until acknowledged or claimed away, which is exactly the
// dispatch semantic workers rely on.
type StreamLog struct {
	cli    *redis.Client
	stream string
	group  string
}

func NewStreamLog(ctx context.Context, c *Client, stream, group string) (*StreamLog, error) {
	s := &StreamLog{cli: c.cli, stream: stream, group: group}
	// Lazy group creation; start at 0 so entries appended before the first
	// consumer joined are still delivered.
	err := s.cli.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, err
	}
	return s, nil
}

func (s *StreamLog) Append(ctx context.Context, e repository.Entry) (string, error) {
	id, err := s.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"job_id":         e.JobID,
			"source":         e.Source,
			"branch":         e.Branch,
			"commit":         e.Commit,
			"schema_version": e.SchemaVersion,
		},
	}).Result()
	if err != nil {
		return "", domain.ErrQueueAppend
	}
	return id, nil
}

func (s *StreamLog) ReadGroup(ctx context.Context, consumerID string, max int64, block time.Duration) ([]repository.Entry, error) {
	streams, err := s.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumerID,
		Streams:  []string{s.stream, ">"},
		Count:    max,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil // poll timeout, nothing to claim
	}
	if err != nil {
		return nil, err
	}
	var entries []repository.Entry
	for _, st := range streams {
		for _, m := range st.Messages {
			entries = append(entries, entryFromMessage(m))
		}
	}
	return entries, nil
}

// Ack clears the pending-entries record and deletes the entry from the
// stream. XACK alone only drops the PEL record; the entry would still be
// counted by XLEN and show up as queued demand forever, so retirement has
// to delete as well.
func (s *StreamLog) Ack(ctx context.Context, entryID string) error {
	pipe := s.cli.Pipeline()
	pipe.XAck(ctx, s.stream, s.group, entryID)
	pipe.XDel(ctx, s.stream, entryID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *StreamLog) PendingSince(ctx context.Context, olderThan time.Duration) ([]repository.PendingEntry, error) {
	ext, err := s.cli.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   olderThan,
		Start:  "-",
		End:    "+",
		Count:  128,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]repository.PendingEntry, 0, len(ext))
	for _, p := range ext {
		out = append(out, repository.PendingEntry{
			ID:         p.ID,
			ConsumerID: p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return out, nil
}

func (s *StreamLog) Reclaim(ctx context.Context, entryID, newConsumerID string) ([]repository.Entry, error) {
	msgs, err := s.cli.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: newConsumerID,
		MinIdle:  0,
		Messages: []string{entryID},
	}).Result()
	if err == redis.Nil {
		return nil, nil // raced with another claimant or already acked
	}
	if err != nil {
		return nil, err
	}
	out := make([]repository.Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, entryFromMessage(m))
	}
	return out, nil
}

// Backlog reports live demand. Acked entries are deleted from the stream,
// so XLEN covers exactly the undelivered entries plus the in-flight ones
// tracked by the group's PEL.
func (s *StreamLog) Backlog(ctx context.Context) (repository.BacklogStats, error) {
	length, err := s.cli.XLen(ctx, s.stream).Result()
	if err != nil {
		return repository.BacklogStats{}, err
	}
	var pending int64
	summary, err := s.cli.XPending(ctx, s.stream, s.group).Result()
	if err != nil && err != redis.Nil {
		return repository.BacklogStats{}, err
	}
	if summary != nil {
		pending = summary.Count
	}
	queued := length - pending
	if queued < 0 {
		queued = 0
	}
	return repository.BacklogStats{Length: length, Pending: pending, Queued: queued}, nil
}

func (s *StreamLog) Remove(ctx context.Context, entryID string) error {
	pipe := s.cli.Pipeline()
	pipe.XAck(ctx, s.stream, s.group, entryID)
	pipe.XDel(ctx, s.stream, entryID)
	_, err := pipe.Exec(ctx)
	return err
}

func entryFromMessage(m redis.XMessage) repository.Entry {
	e := repository.Entry{ID: m.ID}
	if v, ok := m.Values["job_id"].(string); ok {
		e.JobID = v
	}
	if v, ok := m.Values["source"].(string); ok {
		e.Source = v
	}
	if v, ok := m.Values["branch"].(string); ok {
		e.Branch = v
	}
	if v, ok := m.Values["commit"].(string); ok {
		e.Commit = v
	}
	if v, ok := m.Values["schema_version"].(string); ok {
		e.SchemaVersion, _ = strconv.Atoi(v)
	}
	return e
}
