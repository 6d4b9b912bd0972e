//go:build !linux

package storage

import (
	"os"
	"time"
)

func fileCreatedAt(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}
