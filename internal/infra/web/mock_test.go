//go:build !integration

package web

import (
	"context"

	"buildforge/internal/domain/model"
	"buildforge/internal/domain/ports/repository"
)

type stubIngest struct {
	job *model.Job
	err error

	gotSource    string
	gotBody      []byte
	gotSignature string
}

func (s *stubIngest) Ingest(ctx context.Context, source string, body []byte, signature string) (*model.Job, error) {
	s.gotSource = source
	s.gotBody = body
	s.gotSignature = signature
	return s.job, s.err
}

type stubQuery struct {
	job        *model.Job
	jobs       []*model.Job
	nextCursor string
	err        error

	streamChunks []*model.LogChunk
	gotFilter    repository.JobFilter
	gotCursor    string
	gotLimit     int
	gotReplay    bool
	cancelled    bool
}

func (s *stubQuery) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.job, s.err
}

func (s *stubQuery) List(ctx context.Context, filter repository.JobFilter, cursor string, limit int) ([]*model.Job, string, error) {
	s.gotFilter = filter
	s.gotCursor = cursor
	s.gotLimit = limit
	return s.jobs, s.nextCursor, s.err
}

func (s *stubQuery) Cancel(ctx context.Context, id string) (*model.Job, error) {
	return s.job, s.err
}

func (s *stubQuery) StreamLogs(ctx context.Context, id string, replay bool) (<-chan *model.LogChunk, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	s.gotReplay = replay
	ch := make(chan *model.LogChunk, len(s.streamChunks))
	for _, c := range s.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, func() { s.cancelled = true }, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }
