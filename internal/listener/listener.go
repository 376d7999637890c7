// Package listener provides the ways workers share one TCP port.
//
// In inherit mode the supervisor binds the port once and each worker
// receives the socket as an inherited file descriptor. In reuseport mode
// each worker binds the port itself with SO_REUSEPORT and the kernel
// spreads connections across the sockets.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Mode selects how workers obtain their listener
type Mode string

const (
	ModeInherit   Mode = "inherit"
	ModeReusePort Mode = "reuseport"
)

// InheritedFD is the descriptor number of the shared socket in a worker.
// It is the first entry of exec.Cmd.ExtraFiles.
const InheritedFD = 3

// ErrReusePortUnsupported is returned where SO_REUSEPORT does not exist
var ErrReusePortUnsupported = errors.New("SO_REUSEPORT is not supported on this platform")

// ParseMode validates a mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeInherit, ModeReusePort:
		return Mode(s), nil
	case "":
		return ModeInherit, nil
	default:
		return "", fmt.Errorf("unknown listener mode %q (expected %q or %q)", s, ModeInherit, ModeReusePort)
	}
}

// Shared is a socket bound by the supervisor and handed to every worker
type Shared struct {
	ln   *net.TCPListener
	file *os.File
}

// BindShared binds addr once for distribution to workers
func BindShared(ctx context.Context, addr string) (*Shared, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("listener for %s is %T, not TCP", addr, ln)
	}

	// File returns a dup of the socket; the copy is what children inherit.
	file, err := tcp.File()
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("failed to get file for %s: %w", addr, err)
	}

	return &Shared{ln: tcp, file: file}, nil
}

// File is the descriptor to place in exec.Cmd.ExtraFiles
func (s *Shared) File() *os.File {
	return s.file
}

// Addr returns the bound address
func (s *Shared) Addr() net.Addr {
	return s.ln.Addr()
}

// Close releases the supervisor's copies of the socket
func (s *Shared) Close() error {
	return errors.Join(s.file.Close(), s.ln.Close())
}

// Inherited wraps an inherited descriptor as a listener
func Inherited(fd uintptr) (net.Listener, error) {
	file := os.NewFile(fd, "shared-listener")
	if file == nil {
		return nil, fmt.Errorf("descriptor %d is not valid", fd)
	}
	defer file.Close()

	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("descriptor %d is not a listening socket: %w", fd, err)
	}
	return ln, nil
}

// Open returns the listener a worker serves on
func Open(ctx context.Context, mode Mode, addr string) (net.Listener, error) {
	switch mode {
	case ModeInherit:
		return Inherited(InheritedFD)
	case ModeReusePort:
		return ReusePort(ctx, addr)
	default:
		return nil, fmt.Errorf("unknown listener mode %q", mode)
	}
}
