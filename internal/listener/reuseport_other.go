//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package listener

import (
	"context"
	"net"
)

// ReusePort is unavailable on this platform
func ReusePort(ctx context.Context, addr string) (net.Listener, error) {
	return nil, ErrReusePortUnsupported
}
