// File: internal/infra/worker/executor.go
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"buildforge/internal/domain/model"
)

// ErrCancelRequested aborts an execution from inside a sink callback when
// the job's cancellation flag was observed.
var ErrCancelRequested = errors.New("cancel requested")

// Executor runs one job to completion, feeding output lines to sink. A sink
// error aborts the run; the executor returns the process exit code, or -1
// when no code is available.
type Executor interface {
	Run(ctx context.Context, job *model.Job, sink func(line string) error) (int, error)
}

var _ Executor = (*ShellExecutor)(nil)

// ShellExecutor runs the configured build command under /bin/sh with the
// job's coordinates exported as BUILD_* environment variables. Re-execution
// after a redelivery is safe as long as the command keys its artifacts by
// commit, which is the contract builds must follow.
type ShellExecutor struct {
	Command string
}

func (e *ShellExecutor) Run(ctx context.Context, job *model.Job, sink func(line string) error) (int, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", e.Command)
	cmd.Env = append(os.Environ(),
		"BUILD_JOB_ID="+job.ID,
		"BUILD_SOURCE="+job.Source,
		"BUILD_BRANCH="+job.Branch,
		"BUILD_COMMIT="+job.Commit,
		"BUILD_ACTOR="+job.Actor,
		fmt.Sprintf("BUILD_ATTEMPT=%d", job.Attempts),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var (
		mu      sync.Mutex
		sinkErr error
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := sink(scanner.Text()); err != nil {
			mu.Lock()
			sinkErr = err
			mu.Unlock()
			cancel() // kills the process
			break
		}
	}

	waitErr := cmd.Wait()

	mu.Lock()
	defer mu.Unlock()
	if sinkErr != nil {
		return -1, sinkErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), waitErr
		}
		return -1, waitErr
	}
	return 0, nil
}
