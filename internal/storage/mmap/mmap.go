// Package mmap maps a log file read-only for one sequential scan: bootstrap,
// dump and check read whole files front to back and never write through
// the mapping.
package mmap

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

var ErrNotExist = errors.New("mapped file does not exist")

// View is a snapshot of a file's bytes at Open time. Writes to the file
// after Open may or may not be visible; appends beyond the mapped length
// never are.
type View struct {
	file *os.File
	data []byte
}

// Open maps path. An empty file yields an empty view, since unix.Mmap
// rejects a zero length.
func Open(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		return &View{file: f}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}
	// readahead hint only
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	return &View{file: f, data: data}, nil
}

// Bytes is valid until Close.
func (v *View) Bytes() []byte {
	return v.data
}

// Reader reads the view from the start.
func (v *View) Reader() *bytes.Reader {
	return bytes.NewReader(v.data)
}

func (v *View) Len() int64 {
	return int64(len(v.data))
}

func (v *View) Close() error {
	var unmapErr error
	if len(v.data) > 0 {
		unmapErr = unix.Munmap(v.data)
		v.data = nil
	}
	return errors.Join(unmapErr, v.file.Close())
}
