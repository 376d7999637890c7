//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/prefork/internal/listener"
)

var greetingPattern = regexp.MustCompile(`^Hello World! (\d+)$`)

func TestWorkersShareInheritedListener(t *testing.T) {
	shared, err := listener.BindShared(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("BindShared failed: %v", err)
	}
	defer shared.Close()

	spawner := helperSpawner("serve")
	spawner.ExtraFiles = []*os.File{shared.File()}

	logger, _ := newTestLogger()
	s := New(Options{Workers: 2, StopTimeout: 5 * time.Second}, spawner, logger, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	expected := make(map[int]bool)
	for _, w := range s.Workers() {
		expected[w.PID] = true
	}

	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	url := fmt.Sprintf("http://%s/", shared.Addr())

	var (
		mu   sync.Mutex
		seen = make(map[int]int)
	)
	get := func() error {
		resp, err := client.Get(url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("got status %d", resp.StatusCode)
		}
		m := greetingPattern.FindStringSubmatch(string(body))
		if m == nil {
			return fmt.Errorf("body %q does not match %s", body, greetingPattern)
		}
		pid, _ := strconv.Atoi(m[1])
		if !expected[pid] {
			return fmt.Errorf("answered by pid %d, expected one of %v", pid, expected)
		}
		mu.Lock()
		seen[pid]++
		mu.Unlock()
		return nil
	}

	// Workers may still be starting; wait for the first answer.
	deadline := time.Now().Add(10 * time.Second)
	for {
		err := get()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no worker answered: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Two concurrent requests per round until both workers have answered.
	for {
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := get(); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent request failed: %v", err)
		}

		mu.Lock()
		distinct := len(seen)
		mu.Unlock()
		if distinct == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only pids %v answered, expected both of %v", seen, expected)
		}
	}

	for _, w := range s.Workers() {
		if !w.Alive {
			t.Errorf("worker slot %d died while serving", w.Slot)
		}
	}
}
