//go:build !windows

package diskspace

import "golang.org/x/sys/unix"

func availableSpace(dir string) (int64, bool) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, false
	}
	// Bavail counts blocks available to unprivileged users
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
