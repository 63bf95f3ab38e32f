// File: internal/infra/substrate/proc.go
package substrate

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"buildforge/internal/domain/ports/adapter"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ adapter.WorkerSubstrate = (*ProcSubstrate)(nil)

// ProcSubstrate starts worker binaries as local child processes. It is the
// reference substrate; container orchestrators plug in behind the same port.
type ProcSubstrate struct {
	binPath    string
	configPath string
	log        *zerolog.Logger

	mu   sync.Mutex
	live map[string]map[string]*exec.Cmd // poolID -> workerID -> proc
}

func NewProcSubstrate(binPath, configPath string, logger *zerolog.Logger) *ProcSubstrate {
	l := logger.With().Str("component", "substrate").Logger()
	return &ProcSubstrate{
		binPath:    binPath,
		configPath: configPath,
		log:        &l,
		live:       make(map[string]map[string]*exec.Cmd),
	}
}

func (s *ProcSubstrate) CreateWorker(ctx context.Context, poolID string) (adapter.WorkerHandle, error) {
	id := uuid.NewString()[:8]
	cmd := exec.Command(s.binPath, "-config", s.configPath)
	if err := cmd.Start(); err != nil {
		return adapter.WorkerHandle{}, fmt.Errorf("start worker: %w", err)
	}

	s.mu.Lock()
	if s.live[poolID] == nil {
		s.live[poolID] = make(map[string]*exec.Cmd)
	}
	s.live[poolID][id] = cmd
	s.mu.Unlock()

	// Reap on exit so ListWorkers reflects self-terminated workers.
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		delete(s.live[poolID], id)
		s.mu.Unlock()
		if err != nil {
			s.log.Warn().Err(err).Str("worker", id).Msg("worker exited with error")
		} else {
			s.log.Debug().Str("worker", id).Msg("worker exited")
		}
	}()

	s.log.Info().Str("worker", id).Int("pid", cmd.Process.Pid).Msg("worker process started")
	return adapter.WorkerHandle{ID: id, Pool: poolID}, nil
}

func (s *ProcSubstrate) ListWorkers(ctx context.Context, poolID string) ([]adapter.WorkerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]adapter.WorkerHandle, 0, len(s.live[poolID]))
	for id := range s.live[poolID] {
		handles = append(handles, adapter.WorkerHandle{ID: id, Pool: poolID})
	}
	return handles, nil
}
