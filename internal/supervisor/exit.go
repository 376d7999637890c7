package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ExitReason describes why a worker terminated
type ExitReason string

const (
	ExitReasonSuccess ExitReason = "success" // exit code 0
	ExitReasonError   ExitReason = "error"   // exit code != 0
	ExitReasonSignal  ExitReason = "signal"  // killed by signal
	ExitReasonUnknown ExitReason = "unknown"
)

// ExitStatus is what the OS reported for a terminated worker
type ExitStatus struct {
	Code   int        `json:"code"` // -1 when killed by a signal
	Signal string     `json:"signal,omitempty"`
	Reason ExitReason `json:"reason"`
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("%s (%s)", s.Reason, s.Signal)
	}
	return fmt.Sprintf("%s (code %d)", s.Reason, s.Code)
}

// exitStatusFrom classifies the result of exec.Cmd.Wait
func exitStatusFrom(state *os.ProcessState, waitErr error) ExitStatus {
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			state = exitErr.ProcessState
		}
	}
	if state == nil {
		return ExitStatus{Code: -1, Reason: ExitReasonUnknown}
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: SignalName(ws.Signal()), Reason: ExitReasonSignal}
	}

	code := state.ExitCode()
	switch {
	case code == 0:
		return ExitStatus{Code: 0, Reason: ExitReasonSuccess}
	case code > 0:
		return ExitStatus{Code: code, Reason: ExitReasonError}
	default:
		return ExitStatus{Code: code, Reason: ExitReasonUnknown}
	}
}

// SignalName returns the signal name for a signal number
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	case syscall.SIGBUS:
		return "SIGBUS"
	default:
		return fmt.Sprintf("SIG%d", int(sig))
	}
}
