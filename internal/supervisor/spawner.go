package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// Environment passed to every worker process
const (
	EnvWorkerSlot = "PREFORK_WORKER_SLOT"
	EnvRunID      = "PREFORK_RUN_ID"
)

// Process is a running worker as seen by the supervisor
type Process interface {
	Pid() int
	// Wait blocks until the process exits. It is called exactly once.
	Wait() ExitStatus
	Signal(sig os.Signal) error
}

// Spawner starts worker processes
type Spawner interface {
	Spawn(ctx context.Context, slot int) (Process, error)
}

// SpawnerFunc adapts a function to Spawner
type SpawnerFunc func(ctx context.Context, slot int) (Process, error)

// Spawn calls f
func (f SpawnerFunc) Spawn(ctx context.Context, slot int) (Process, error) {
	return f(ctx, slot)
}

// ExecSpawner re-executes a binary (normally the running one) as a worker
type ExecSpawner struct {
	Path       string
	Args       []string
	Env        []string   // appended to the supervisor's environment
	ExtraFiles []*os.File // ExtraFiles[0] becomes descriptor 3 in the worker
	Stdout     io.Writer
	Stderr     io.Writer
}

// NewSelfSpawner spawns the current executable with args
func NewSelfSpawner(args ...string) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &ExecSpawner{
		Path:   path,
		Args:   args,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Spawn starts one worker for slot. The process is not tied to ctx;
// stopping it is the supervisor's job.
func (s *ExecSpawner) Spawn(ctx context.Context, slot int) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, EnvWorkerSlot+"="+strconv.Itoa(slot))
	cmd.ExtraFiles = s.ExtraFiles
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.Path, err)
	}

	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() ExitStatus {
	err := p.cmd.Wait()
	return exitStatusFrom(p.cmd.ProcessState, err)
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}
