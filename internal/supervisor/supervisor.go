// Package supervisor starts a fixed pool of worker processes, watches
// them exit and, when the restart policy allows, replaces them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/prefork/pkg/logging"
)

// ErrNoWorkers is returned by Start when the pool size resolves to zero
var ErrNoWorkers = errors.New("supervisor: no workers to start")

// SpawnError reports a worker that could not be started
type SpawnError struct {
	Slot int
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn worker for slot %d: %v", e.Slot, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Options configure a Supervisor
type Options struct {
	// Workers is the pool size. Zero means Detect() is consulted once;
	// a negative size yields an empty pool.
	Workers     int
	Detect      func() int
	Restart     RestartPolicy
	StopTimeout time.Duration
	RunID       string
}

// WorkerInfo is a snapshot of one worker slot
type WorkerInfo struct {
	Slot           int         `json:"slot"`
	PID            int         `json:"pid"`
	Alive          bool        `json:"alive"`
	StartedAt      time.Time   `json:"started_at"`
	ExitedAt       *time.Time  `json:"exited_at,omitempty"`
	Restarts       int         `json:"restarts"`
	RestartPending bool        `json:"restart_pending"`
	LastExit       *ExitStatus `json:"last_exit,omitempty"`
}

// handle is the supervisor's record of one worker slot
type handle struct {
	slot           int
	gen            int // bumped on every spawn into this slot
	proc           Process
	pid            int
	alive          bool
	startedAt      time.Time
	exitedAt       time.Time
	restartPending bool
	lastExit       *ExitStatus
	timer          *time.Timer
}

// Supervisor owns the worker handles
type Supervisor struct {
	opts      Options
	spawner   Spawner
	logger    *logging.Logger
	metrics   *Metrics
	restarter *restarter
	pid       int

	mu       sync.Mutex
	handles  []*handle
	ctx      context.Context
	started  bool
	stopping bool
	waiters  sync.WaitGroup

	changed chan struct{}
}

// New creates a supervisor. The pool size is fixed here: opts.Workers,
// or opts.Detect() when Workers is zero.
func New(opts Options, spawner Spawner, logger *logging.Logger, metrics *Metrics) *Supervisor {
	if opts.Workers == 0 && opts.Detect != nil {
		opts.Workers = opts.Detect()
	}
	if opts.Workers < 0 {
		opts.Workers = 0
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	handles := make([]*handle, 0, opts.Workers)
	for slot := 0; slot < opts.Workers; slot++ {
		handles = append(handles, &handle{slot: slot})
	}

	return &Supervisor{
		opts:      opts,
		spawner:   spawner,
		logger:    logger,
		metrics:   metrics,
		restarter: newRestarter(opts.Restart),
		pid:       os.Getpid(),
		handles:   handles,
		changed:   make(chan struct{}, 1),
	}
}

// Size returns the number of worker slots
func (s *Supervisor) Size() int {
	return len(s.handles)
}

// RunID returns the identifier shared by this supervisor and its workers
func (s *Supervisor) RunID() string {
	return s.opts.RunID
}

// Start spawns one worker per slot. If any spawn fails the workers
// already started are stopped and a *SpawnError is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.handles) == 0 {
		return ErrNoWorkers
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	s.started = true
	s.ctx = ctx

	s.logger.Info(fmt.Sprintf("Master %d is running", s.pid), logging.Fields{"workers": len(s.handles)})
	s.metrics.WorkersDesired.Set(float64(len(s.handles)))

	var spawnErr error
	for slot := range s.handles {
		if err := s.spawnLocked(ctx, slot); err != nil {
			s.metrics.SpawnFailures.Inc()
			spawnErr = &SpawnError{Slot: slot, Err: err}
			break
		}
	}
	s.mu.Unlock()

	if spawnErr != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
		defer cancel()
		s.Stop(stopCtx)
		return spawnErr
	}
	return nil
}

// Run starts the pool and services it until ctx is cancelled, then
// stops every worker. It returns nil early when no worker is alive and
// no restart is pending.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
			err := s.Stop(stopCtx)
			cancel()
			return err
		case <-s.changed:
			if s.idle() {
				s.logger.Info("All workers exited")
				return nil
			}
		}
	}
}

// spawnLocked starts a process for slot. s.mu must be held.
func (s *Supervisor) spawnLocked(ctx context.Context, slot int) error {
	if s.stopping {
		return errors.New("supervisor is stopping")
	}

	proc, err := s.spawner.Spawn(ctx, slot)
	if err != nil {
		return err
	}

	h := s.handles[slot]
	h.gen++
	h.proc = proc
	h.pid = proc.Pid()
	h.alive = true
	h.startedAt = time.Now()
	h.exitedAt = time.Time{}
	h.restartPending = false
	h.timer = nil

	s.metrics.Spawns.Inc()
	s.metrics.WorkersAlive.Inc()
	s.logger.Debug("Spawned worker", logging.Fields{"slot": slot, "worker_pid": h.pid})

	gen, pid := h.gen, h.pid
	s.waiters.Add(1)
	go func() {
		defer s.waiters.Done()
		status := proc.Wait()
		s.onWorkerExit(slot, gen, pid, status)
	}()

	return nil
}

// onWorkerExit runs once for every worker termination
func (s *Supervisor) onWorkerExit(slot, gen, pid int, status ExitStatus) {
	s.mu.Lock()
	h := s.handles[slot]
	if h.gen != gen {
		s.mu.Unlock()
		return
	}
	h.alive = false
	h.exitedAt = time.Now()
	h.lastExit = &status
	uptime := h.exitedAt.Sub(h.startedAt)

	var (
		delay   time.Duration
		restart bool
		limited bool
	)
	if !s.stopping {
		delay, restart = s.restarter.next(slot, uptime)
		limited = !restart && s.restarter.policy.Enabled
		if restart {
			h.restartPending = true
			h.timer = time.AfterFunc(delay, func() { s.restart(slot, gen) })
		}
	}
	s.mu.Unlock()

	s.metrics.WorkersAlive.Dec()
	s.metrics.Exits.WithLabelValues(string(status.Reason)).Inc()

	fields := logging.Fields{
		"slot":   slot,
		"code":   status.Code,
		"reason": string(status.Reason),
		"uptime": uptime.Round(time.Millisecond).String(),
	}
	if status.Signal != "" {
		fields["signal"] = status.Signal
	}
	s.logger.Warn(fmt.Sprintf("worker %d died", pid), fields)

	switch {
	case restart:
		s.metrics.Restarts.Inc()
		s.logger.Info(fmt.Sprintf("Restarting worker slot %d in %s", slot, delay))
	case limited:
		s.metrics.RestartsLimited.Inc()
		s.logger.Error(fmt.Sprintf("restart limit reached for slot %d", slot), logging.Fields{
			"max_restarts": s.restarter.policy.MaxRestarts,
			"window":       s.restarter.policy.Window.String(),
		})
	}

	s.notify()
}

// restart respawns slot after its backoff. gen guards against a slot
// that was already respawned.
func (s *Supervisor) restart(slot, gen int) {
	s.mu.Lock()
	h := s.handles[slot]
	if h.gen != gen || !h.restartPending {
		s.mu.Unlock()
		return
	}
	if s.stopping {
		h.restartPending = false
		s.mu.Unlock()
		s.notify()
		return
	}

	err := s.spawnLocked(s.ctx, slot)
	if err != nil {
		h.restartPending = false
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.SpawnFailures.Inc()
		s.logger.Error(fmt.Sprintf("Failed to restart worker slot %d", slot), logging.Fields{"error": err.Error()})
		s.notify()
	}
}

// Stop sends SIGTERM to every live worker and waits for them to exit.
// Workers still running when ctx expires are killed.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	var procs []Process
	for _, h := range s.handles {
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		h.restartPending = false
		if h.alive {
			procs = append(procs, h.proc)
		}
	}
	s.mu.Unlock()

	for _, p := range procs {
		if err := p.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("Failed to signal worker", logging.Fields{"worker_pid": p.Pid(), "error": err.Error()})
		}
	}

	done := make(chan struct{})
	go func() {
		s.waiters.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	killed := 0
	s.mu.Lock()
	for _, h := range s.handles {
		if h.alive {
			h.proc.Signal(os.Kill)
			killed++
		}
	}
	s.mu.Unlock()
	<-done

	s.logger.Warn("Killed workers that did not stop in time", logging.Fields{"killed": killed})
	return fmt.Errorf("killed %d workers after stop timeout: %w", killed, ctx.Err())
}

// Workers returns a snapshot of every slot ordered by slot number
func (s *Supervisor) Workers() []WorkerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerInfo, 0, len(s.handles))
	for _, h := range s.handles {
		info := WorkerInfo{
			Slot:           h.slot,
			PID:            h.pid,
			Alive:          h.alive,
			StartedAt:      h.startedAt,
			RestartPending: h.restartPending,
			LastExit:       h.lastExit,
		}
		if h.gen > 1 {
			info.Restarts = h.gen - 1
		}
		if !h.exitedAt.IsZero() {
			exited := h.exitedAt
			info.ExitedAt = &exited
		}
		out = append(out, info)
	}
	return out
}

func (s *Supervisor) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		if h.alive || h.restartPending {
			return false
		}
	}
	return true
}

func (s *Supervisor) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
