// Package singleton guards against two launcherd daemons running against
// the same data directory at once. The registry, settings, and
// release-cache files are all single-writer (spec.md §5); a second daemon
// racing the first would corrupt their atomic write-then-rename discipline.
package singleton

import "errors"

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the lock at the given path.
var ErrAlreadyRunning = errors.New("singleton: another instance already holds this lock")

// Lock is a held instance lock. Release it on clean shutdown; it is also
// released automatically if the process dies, since it is backed by an
// OS-level advisory lock tied to the open file handle.
type Lock interface {
	Release() error
}

// Acquire takes the exclusive instance lock at path, creating the lock
// file if necessary. acquire is implemented per-OS in singleton_unix.go
// and singleton_windows.go.
func Acquire(path string) (Lock, error) {
	return acquire(path)
}
