package process

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
)

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) collect(stream, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, stream+":"+line)
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func TestSpawnStreamsStdoutToCallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test requires POSIX shell")
	}
	sink := &lineSink{}
	h, err := Spawn(context.Background(), "sh", []string{"-c", "echo hello; exit 0"}, t.TempDir(), nil, sink.collect)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit in time")
	}
	if h.ExitErr() != nil {
		t.Fatalf("ExitErr: %v", h.ExitErr())
	}

	want := []string{"stdout:hello"}
	if lines := sink.snapshot(); !equalStrings(lines, want) {
		t.Fatalf("streamed lines = %v, want %v", lines, want)
	}
}

func TestSpawnCapturesStderrTail(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test requires POSIX shell")
	}
	h, err := Spawn(context.Background(), "sh", []string{"-c", "echo oops 1>&2; exit 1"}, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit in time")
	}
	if h.ExitErr() == nil {
		t.Fatal("expected nonzero exit to surface as error")
	}
	if tail := h.StderrTail(); tail != "oops\n" {
		t.Fatalf("StderrTail = %q, want %q", tail, "oops\n")
	}
}

func TestSpawnWithoutCallbackStillDrainsAndExits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test requires POSIX shell")
	}
	h, err := Spawn(context.Background(), "sh", []string{"-c", "for i in 1 2 3 4 5; do echo line$i; done"}, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit in time; stdout drain may be blocked")
	}
	if h.ExitErr() != nil {
		t.Fatalf("ExitErr: %v", h.ExitErr())
	}
}

func TestKillTreeStopsLongRunningProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sh-based test requires POSIX shell")
	}
	h, err := Spawn(context.Background(), "sh", []string{"-c", "sleep 30"}, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := KillTree(h); err != nil {
		t.Fatalf("KillTree: %v", err)
	}

	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after KillTree")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
