//go:build !windows

package diskcheck

import "syscall"

// diskUsage statfs(2)s dir for free/total bytes. No pack example ships a
// disk-usage library; Statfs is the standard library's own route to this
// syscall and needs no third-party wrapper.
func diskUsage(dir string) (free, total uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, 0, err
	}
	// Bsize is int64 on darwin/arm64 and some other unix variants.
	bsize := uint64(stat.Bsize)
	return stat.Bavail * bsize, stat.Blocks * bsize, nil
}
