package supervisor

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRunCreatesAndRemovesSharedDir(t *testing.T) {
	s, err := New(Config{
		WorkerCount: 1,
		SelfPath:    "/bin/sh",
		BaseArgs:    []string{"-c", "exit 0"},
		Duration:    200 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := s.cfg.SharedDir
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected shared dir to exist before Run, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected shared dir removed after Run returns")
	}
}

func TestRunRespectsDuration(t *testing.T) {
	s, err := New(Config{
		WorkerCount: 1,
		SelfPath:    "/bin/sh",
		BaseArgs:    []string{"-c", "sleep 30"},
		Duration:    100 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("supervisor did not honor its duration budget")
	}
}

func TestStatsChannelReceivesSnapshot(t *testing.T) {
	s, err := New(Config{
		WorkerCount: 1,
		SelfPath:    "/bin/sh",
		BaseArgs:    []string{"-c", `printf '%s\n' "$1"`, "argv0", `{"execs":5,"crashes":0}`},
		Duration:    300 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case ws := <-s.Stats():
		if ws.Execs != 5 {
			t.Fatalf("expected execs=5, got %+v", ws)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker stats")
	}
	<-done
}
