//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package listener

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"
)

func TestInheritedWrapsSharedSocket(t *testing.T) {
	shared, err := BindShared(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("BindShared failed: %v", err)
	}
	defer shared.Close()

	// A dup stands in for the descriptor a child receives.
	fd, err := syscall.Dup(int(shared.File().Fd()))
	if err != nil {
		t.Fatalf("dup failed: %v", err)
	}

	ln, err := Inherited(uintptr(fd))
	if err != nil {
		t.Fatalf("Inherited failed: %v", err)
	}
	defer ln.Close()

	if ln.Addr().String() != shared.Addr().String() {
		t.Errorf("expected address %s, got %s", shared.Addr(), ln.Addr())
	}

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "inherited")
	})}
	go srv.Serve(ln)
	defer srv.Close()

	resp, err := http.Get("http://" + shared.Addr().String() + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "inherited" {
		t.Errorf("expected body %q, got %q", "inherited", string(body))
	}
}

func TestReusePortAllowsSharedBind(t *testing.T) {
	first, err := ReusePort(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("first ReusePort failed: %v", err)
	}
	defer first.Close()

	second, err := ReusePort(context.Background(), first.Addr().String())
	if err != nil {
		t.Fatalf("second ReusePort on %s failed: %v", first.Addr(), err)
	}
	defer second.Close()

	if _, err := net.Listen("tcp", first.Addr().String()); err == nil {
		t.Error("expected plain bind without SO_REUSEPORT to fail")
	}
}
