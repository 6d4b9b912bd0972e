package storage

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// fileCreatedAt returns the birth time of path. Filesystems that do not
// record one fall back to the modification time.
func fileCreatedAt(path string, info os.FileInfo) time.Time {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT, unix.STATX_BTIME, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		return info.ModTime()
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
}
