package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mvaleed/levellog/internal/level"
)

func TestFileCreatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	created := time.Now()
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		t.Skip("filesystem does not record birth time")
	}

	later := created.Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	info, err := os.Stat(path)
	require.NoError(t, err)

	got := fileCreatedAt(path, info)
	require.WithinDuration(t, created, got, time.Minute)
	require.True(t, got.Before(info.ModTime()))
}

func TestLog_MaxAgeAcrossReopen(t *testing.T) {
	opts := orderedOptions()
	opts.MaxAge = time.Hour
	log, logPath := openTestLog(t, opts)
	require.NoError(t, log.Write(level.Info, "first"))
	require.NoError(t, log.Close())

	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, logPath, 0, unix.STATX_BTIME, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		t.Skip("filesystem does not record birth time")
	}

	// a recent write must not make the file look young
	future := time.Now().Add(30 * time.Minute)
	require.NoError(t, os.Chtimes(logPath, future, future))

	reopened, err := Open(logPath, opts)
	require.NoError(t, err)
	defer reopened.Close()
	require.True(t, reopened.createdAt.Before(future))
}
