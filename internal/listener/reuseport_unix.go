//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package listener

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

var reusePortConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var opErr error
		if err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}); err != nil {
			return err
		}
		return opErr
	},
}

// ReusePort binds addr with SO_REUSEPORT so several processes can
// listen on the same port
func ReusePort(ctx context.Context, addr string) (net.Listener, error) {
	ln, err := reusePortConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s with SO_REUSEPORT: %w", addr, err)
	}
	return ln, nil
}
