package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const segmentDigits = 15

// segmentName is the file name a rotated log is renamed to:
// <stem>.<15 digit sequence><ext>, e.g. app.000000000000003.log.
type segmentName string

func newSegmentName(stem, ext string, seq int) (segmentName, error) {
	digits := strconv.Itoa(seq)
	if seq < 0 || len(digits) > segmentDigits {
		return "", fmt.Errorf("segment sequence %d does not fit %d digits", seq, segmentDigits)
	}
	return segmentName(stem + "." + strings.Repeat("0", segmentDigits-len(digits)) + digits + ext), nil
}

// seq parses the sequence number back out of name. ok is false for files
// that are not segments of stem/ext.
func (sn segmentName) seq(stem, ext string) (int, bool) {
	s := string(sn)
	if !strings.HasPrefix(s, stem+".") || !strings.HasSuffix(s, ext) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(s, stem+"."), ext)
	if len(digits) != segmentDigits {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (sn segmentName) string() string {
	return string(sn)
}

// Segment is a rotated, no longer written log file.
type Segment struct {
	Seq  int
	Path string
}

func splitLogPath(path string) (dir, stem, ext string) {
	dir, base := filepath.Split(path)
	ext = filepath.Ext(base)
	return filepath.Clean(dir), strings.TrimSuffix(base, ext), ext
}

// Segments lists the rotated files of the log at path, oldest first.
func Segments(path string) ([]Segment, error) {
	dir, stem, ext := splitLogPath(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	segments := make([]Segment, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, ok := segmentName(entry.Name()).seq(stem, ext)
		if !ok {
			continue
		}
		segments = append(segments, Segment{
			Seq:  seq,
			Path: filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Seq < segments[j].Seq
	})
	return segments, nil
}

// shouldRotate must be called with l.mu held.
func (l *Log) shouldRotate() bool {
	if l.size == 0 {
		return false
	}
	if l.opts.MaxBytes > 0 && l.size >= l.opts.MaxBytes {
		return true
	}
	return l.opts.MaxAge > 0 && time.Since(l.createdAt) > l.opts.MaxAge
}

// rotateIfNeeded renames the active file to the next segment and starts an
// empty one. The new file starts with an all-zero position table. Must be
// called with l.mu held.
func (l *Log) rotateIfNeeded() error {
	if !l.shouldRotate() {
		return nil
	}

	segments, err := Segments(l.path)
	if err != nil {
		return fmt.Errorf("error rotating log: %w", err)
	}
	nextSeq := 1
	if len(segments) > 0 {
		nextSeq = segments[len(segments)-1].Seq + 1
	}

	dir, stem, ext := splitLogPath(l.path)
	name, err := newSegmentName(stem, ext, nextSeq)
	if err != nil {
		return fmt.Errorf("error rotating log: %w", err)
	}
	segmentPath := filepath.Join(dir, name.string())

	if err := l.closeFunc(); err != nil {
		return l.markUnusable(fmt.Errorf("error flushing log before rotation: %w", err))
	}
	if err := l.file.Close(); err != nil {
		return l.markUnusable(fmt.Errorf("error closing log before rotation: %w", err))
	}
	if err := os.Rename(l.path, segmentPath); err != nil {
		// keep writing to the old file rather than losing the handle
		if reopenErr := l.openFile(); reopenErr != nil {
			return l.markUnusable(fmt.Errorf("error rotating log: %w (reopen: %w)", err, reopenErr))
		}
		return fmt.Errorf("error rotating log: %w", err)
	}
	if err := l.openFile(); err != nil {
		return l.markUnusable(fmt.Errorf("error creating new active log: %w", err))
	}

	rotationsTotal.Inc()
	l.log.Info("Rotated log file",
		"segment", segmentPath,
		"seq", nextSeq)
	return nil
}

// markUnusable records that the active file handle is gone. Writes fail with
// the returned error until Recover reopens the file. Must be called with
// l.mu held.
func (l *Log) markUnusable(err error) error {
	if l.file != nil {
		_ = l.file.Close()
	}
	l.unusable = fmt.Errorf("%w: %w", ErrUnusable, err)
	l.log.Error("Lost active log file during rotation",
		"error", err)
	return l.unusable
}
