package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

/*
  ALGORITHM: Splice Insert
  ------------------------------------------------------------------
  Insert entry (n bytes) at offset P of a file of length S.

  Before:  [ 0 .......... P )[ P ...... tail ...... S )
  Grow:    [ 0 .......... P )[ P ...... tail ...... S )[ n zero bytes )
  Shift:   tail moves to [P+n, S+n), copied from the END backwards in
           chunks, so a chunk is always read before any write can reach it.
  Write:   [ 0 .... P )[ entry )[ tail )

  Cost is O(S-P) per insert: cheap for Debug (tail is empty), expensive for
  Critical on a large file.
*/

// DefaultChunkSize is the working buffer for tail shifting.
const DefaultChunkSize = 10 << 20 // 10 MiB

var ErrTailShift = errors.New("tail shift interrupted, file layout is inconsistent")

// spliceFile is the part of *os.File the splicer needs.
type spliceFile interface {
	io.ReaderAt
	io.WriterAt
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

type splicer struct {
	file      spliceFile
	chunkSize int
	buf       []byte
}

func newSplicer(f spliceFile, chunkSize int) *splicer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &splicer{file: f, chunkSize: chunkSize}
}

// buffer returns a working buffer of at most chunkSize bytes, large enough
// for tail when possible. It is reused across inserts.
func (s *splicer) buffer(tail int64) []byte {
	want := int(min(int64(s.chunkSize), tail))
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	return s.buf[:want]
}

// insert splices entry into the file at offset and returns the number of
// tail bytes moved. table is not touched here; the caller shifts it only on
// success.
//
// On error before any original byte was overwritten, the file is truncated
// back to its original size. An error wrapping ErrTailShift means the file
// no longer matches the table and must be re-bootstrapped.
func (s *splicer) insert(offset int64, entry []byte) (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat log file: %w", err)
	}
	size := info.Size()
	if offset < 0 || offset > size {
		return 0, fmt.Errorf("%w: insert offset %d outside file of %d bytes", ErrCorruptPositions, offset, size)
	}

	n := int64(len(entry))
	tail := size - offset

	if err := s.file.Truncate(size + n); err != nil {
		return 0, fmt.Errorf("failed to grow log file: %w", err)
	}

	moved, touched, err := s.shiftTail(offset, size, n)
	if err != nil {
		if !touched {
			return 0, errors.Join(err, s.rollback(size))
		}
		return moved, fmt.Errorf("%w after %d of %d bytes: %w", ErrTailShift, moved, tail, err)
	}

	if _, err := s.file.WriteAt(entry, offset); err != nil {
		if tail == 0 {
			return 0, errors.Join(fmt.Errorf("failed to write entry: %w", err), s.rollback(size))
		}
		return moved, fmt.Errorf("%w: failed to write entry: %w", ErrTailShift, err)
	}

	return moved, nil
}

// shiftTail copies [from, end) to [from+n, end+n), last chunk first.
// touched reports whether any write reached the original [0, end) range,
// after which truncating back no longer restores the file.
func (s *splicer) shiftTail(from, end, n int64) (moved int64, touched bool, err error) {
	if end == from {
		return 0, false, nil
	}
	size := end
	buf := s.buffer(end - from)

	for end > from {
		chunk := min(int64(len(buf)), end-from)
		start := end - chunk

		if _, err := s.file.ReadAt(buf[:chunk], start); err != nil {
			return moved, touched, fmt.Errorf("failed to read tail chunk at %d: %w", start, err)
		}
		touched = touched || start+n < size
		if _, err := s.file.WriteAt(buf[:chunk], start+n); err != nil {
			return moved, touched, fmt.Errorf("failed to write tail chunk at %d: %w", start+n, err)
		}

		moved += chunk
		end = start
	}
	return moved, touched, nil
}

func (s *splicer) rollback(size int64) error {
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: failed to roll back log file growth: %w", ErrTailShift, err)
	}
	return nil
}
