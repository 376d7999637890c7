package supervisor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/psantana5/prefork/pkg/logging"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(substr string) int {
	return strings.Count(b.String(), substr)
}

func newTestLogger() (*logging.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	logger := logging.NewLogger(logging.DEBUG, false)
	logger.SetOutput(buf)
	return logger, buf
}

type fakeProcess struct {
	pid        int
	ignoreTerm bool
	exit       chan ExitStatus
	mu         sync.Mutex
	signals    []os.Signal
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, exit: make(chan ExitStatus, 1)}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() ExitStatus { return <-p.exit }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()

	if sig == syscall.SIGTERM && p.ignoreTerm {
		return nil
	}
	name := "SIGTERM"
	if sig == os.Kill {
		name = "SIGKILL"
	}
	p.terminate(ExitStatus{Code: -1, Signal: name, Reason: ExitReasonSignal})
	return nil
}

// terminate delivers an exit status once; later calls are no-ops
func (p *fakeProcess) terminate(status ExitStatus) {
	select {
	case p.exit <- status:
	default:
	}
}

func (p *fakeProcess) received(sig os.Signal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.signals {
		if s == sig {
			return true
		}
	}
	return false
}

type fakeSpawner struct {
	mu         sync.Mutex
	nextPID    int
	failSlot   int
	ignoreTerm bool
	procs      []*fakeProcess
	slots      []int
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 1000, failSlot: -1}
}

func (f *fakeSpawner) Spawn(ctx context.Context, slot int) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if slot == f.failSlot {
		return nil, errors.New("exec format error")
	}

	p := newFakeProcess(f.nextPID)
	p.ignoreTerm = f.ignoreTerm
	f.nextPID++
	f.procs = append(f.procs, p)
	f.slots = append(f.slots, slot)
	return p, nil
}

func (f *fakeSpawner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) proc(i int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
