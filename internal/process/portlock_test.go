package process

import (
	"os"
	"testing"
	"time"
)

func TestWriteReadPortLockRoundTrips(t *testing.T) {
	dir := t.TempDir()
	lock := PortLock{InstallationID: "abc", PID: os.Getpid(), Port: 8188, StartedAt: time.Unix(1700000000, 0)}

	if err := WritePortLock(dir, lock); err != nil {
		t.Fatalf("WritePortLock: %v", err)
	}

	got, err := ReadPortLock(dir, 8188)
	if err != nil {
		t.Fatalf("ReadPortLock: %v", err)
	}
	if got == nil {
		t.Fatal("expected lock, got nil")
	}
	if got.InstallationID != "abc" || got.PID != os.Getpid() {
		t.Fatalf("unexpected lock contents: %+v", got)
	}
}

func TestReadPortLockTreatsDeadPidAsAbsent(t *testing.T) {
	dir := t.TempDir()
	// A PID astronomically unlikely to be alive in a test sandbox.
	lock := PortLock{InstallationID: "dead", PID: 1 << 30, Port: 9000, StartedAt: time.Now()}
	if err := WritePortLock(dir, lock); err != nil {
		t.Fatalf("WritePortLock: %v", err)
	}

	got, err := ReadPortLock(dir, 9000)
	if err != nil {
		t.Fatalf("ReadPortLock: %v", err)
	}
	if got != nil {
		t.Fatalf("expected stale lock to read as absent, got %+v", got)
	}

	// And it should have been cleaned up.
	if _, err := ReadPortLock(dir, 9000); err != nil {
		t.Fatalf("second read: %v", err)
	}
}

func TestRemovePortLockIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := RemovePortLock(dir, 1234); err != nil {
		t.Fatalf("removing nonexistent lock should not error: %v", err)
	}

	lock := PortLock{InstallationID: "x", PID: os.Getpid(), Port: 1234}
	if err := WritePortLock(dir, lock); err != nil {
		t.Fatal(err)
	}
	if err := RemovePortLock(dir, 1234); err != nil {
		t.Fatalf("RemovePortLock: %v", err)
	}
	if got, err := ReadPortLock(dir, 1234); err != nil || got != nil {
		t.Fatalf("lock should be gone, got %+v, err %v", got, err)
	}
}
