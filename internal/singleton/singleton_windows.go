//go:build windows

package singleton

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// fileLock holds an exclusive, non-shared CreateFile handle: Windows has
// no flock(2) equivalent, but opening with a zero share mode gives the
// same "only one process may hold this open" guarantee, released when the
// handle closes (including on process death).
type fileLock struct {
	handle windows.Handle
}

func acquire(path string) (Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		if err == windows.ERROR_SHARING_VIOLATION {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	return &fileLock{handle: handle}, nil
}

func (l *fileLock) Release() error {
	return windows.CloseHandle(l.handle)
}
