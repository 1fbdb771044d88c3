//go:build windows

package diskcheck

import "golang.org/x/sys/windows"

// diskUsage calls GetDiskFreeSpaceEx, the Windows analogue of statfs(2).
func diskUsage(dir string) (free, total uint64, err error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0, err
	}
	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(path, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, 0, err
	}
	return freeBytesAvailable, totalBytes, nil
}
