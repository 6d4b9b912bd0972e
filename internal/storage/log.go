// Package storage keeps log entries of one file physically grouped by
// severity. In ordered mode every entry is spliced in at the end of its
// level's block; in unordered mode entries are appended.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/mvaleed/levellog/internal/level"
	asyncwriter "github.com/mvaleed/levellog/internal/storage/async-writer"
)

var (
	ErrEmptyPath     = errors.New("log file path cannot be empty")
	ErrClosed        = errors.New("log is closed")
	ErrNeedsRecovery = errors.New("log file layout is inconsistent after a failed splice, call Recover")
	ErrUnusable      = errors.New("active log file could not be reopened after rotation, call Recover")

	ErrUnsupportedEncoding = errors.New("encoding adds a prefix to every encoded entry")
	ErrInvalidDurability   = errors.New("invalid durability")

	ErrMultiLineEntry      = errors.New("ordered entry contains a newline")
	ErrEntryEndsInSentinel = errors.New("encoded ordered entry ends in the marker byte")
	ErrAmbiguousEntry      = errors.New("encoded ordered entry would not read back as one record")
)

type Durability int

const (
	// DurabilityAsync queues unordered appends to a background writer.
	DurabilityAsync Durability = iota
	// DurabilityMedium hands every write to the OS before returning.
	DurabilityMedium
	// DurabilityFull fsyncs after every write.
	DurabilityFull
)

func (d Durability) String() string {
	switch d {
	case DurabilityAsync:
		return "async"
	case DurabilityMedium:
		return "medium"
	case DurabilityFull:
		return "full"
	default:
		return fmt.Sprintf("durability(%d)", int(d))
	}
}

// ParseDurability accepts the names returned by Durability.String.
func ParseDurability(s string) (Durability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "async":
		return DurabilityAsync, nil
	case "medium":
		return DurabilityMedium, nil
	case "full":
		return DurabilityFull, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDurability, s)
}

func (d Durability) MarshalText() ([]byte, error) {
	if d < DurabilityAsync || d > DurabilityFull {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDurability, int(d))
	}
	return []byte(d.String()), nil
}

func (d *Durability) UnmarshalText(text []byte) error {
	parsed, err := ParseDurability(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

const writerBufferSize = 4096 * 2

type Options struct {
	// OrderByLevel selects ordered mode. Fixed for the lifetime of the Log.
	OrderByLevel bool

	// MinLevel is the least severe level IsEnabled reports as enabled.
	MinLevel level.Level

	// Encoding of entry text on disk. nil means UTF-8.
	Encoding encoding.Encoding

	Durability Durability

	// ChunkSize bounds the buffer used to shift the tail. 0 means
	// DefaultChunkSize.
	ChunkSize int

	// MaxBytes and MaxAge trigger rotation when positive.
	MaxBytes int64
	MaxAge   time.Duration

	// OnWrite runs synchronously after each successful write.
	OnWrite func(entry string, lvl level.Level)

	Logger *slog.Logger
}

// DefaultOptions returns ordered, UTF-8, medium durability options with
// every level enabled.
func DefaultOptions() Options {
	return Options{
		OrderByLevel: true,
		MinLevel:     level.Debug,
		Encoding:     unicode.UTF8,
		Durability:   DurabilityMedium,
		ChunkSize:    DefaultChunkSize,
	}
}

// Log is the write coordinator for one log file. Two instances must never
// target the same path.
type Log struct {
	// mu is the file-wide lock. It guards the file handle, table and
	// splicer, and is held for exactly one insert or append.
	mu sync.Mutex

	path      string
	opts      Options
	log       *slog.Logger
	encoding  encoding.Encoding
	newline   []byte
	ordered   bool
	minLevel  atomic.Uint32
	createdAt time.Time
	closed    bool

	file *os.File
	size int64
	// unusable is set when rotation lost the file handle
	unusable error

	// ordered mode
	table         PositionTable
	gates         *gates
	splicer       *splicer
	needsRecovery bool

	// unordered mode
	writeFunc func([]byte) (int, error)
	flushFunc func() error
	closeFunc func() error
}

// Open creates or opens the log file at path. In ordered mode the block
// position table is rebuilt from the existing content.
func Open(path string, opts Options) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	if !opts.MinLevel.Valid() {
		return nil, fmt.Errorf("min level: %w", level.ErrInvalidLevel)
	}
	if opts.Encoding == nil {
		opts.Encoding = unicode.UTF8
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	newline, err := encodedNewline(opts.Encoding)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Log{
		path:     path,
		opts:     opts,
		log:      opts.Logger.With("path", path),
		encoding: opts.Encoding,
		newline:  newline,
		ordered:  opts.OrderByLevel,
	}
	l.minLevel.Store(uint32(opts.MinLevel))
	if l.ordered {
		l.gates = newGates()
	}

	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

// encodedNewline returns the record terminator under enc. Encodings that
// emit a byte order mark per call would prefix every record with it and are
// refused.
func encodedNewline(enc encoding.Encoding) ([]byte, error) {
	one, err := enc.NewEncoder().Bytes([]byte("\n"))
	if err != nil {
		return nil, fmt.Errorf("failed to encode newline: %w", err)
	}
	two, err := enc.NewEncoder().Bytes([]byte("\n\n"))
	if err != nil {
		return nil, fmt.Errorf("failed to encode newline: %w", err)
	}
	if len(two) != 2*len(one) {
		return nil, ErrUnsupportedEncoding
	}
	return one, nil
}

// openFile opens l.path and prepares the mode-specific write path. Called at
// Open and after rotation.
func (l *Log) openFile() error {
	flags := os.O_CREATE | os.O_RDWR
	if !l.ordered {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(l.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	l.file = f
	l.size = info.Size()
	// age for MaxAge counts from file creation, not the last write
	l.createdAt = TimeNowInUtc()
	if info.Size() != 0 {
		l.createdAt = fileCreatedAt(l.path, info)
	}

	if l.ordered {
		table, err := BootstrapFile(l.path, l.newline)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to bootstrap block positions: %w", err)
		}
		if err := table.Validate(info.Size()); err != nil {
			f.Close()
			return fmt.Errorf("failed to bootstrap block positions: %w", err)
		}
		l.table = table
		l.splicer = newSplicer(f, l.opts.ChunkSize)
		l.needsRecovery = false
		l.writeFunc = nil
		l.flushFunc = func() error { return nil }
		l.closeFunc = func() error { return nil }

		l.log.Debug("Bootstrapped block positions",
			"bytes", table.Size(),
			"positions", table)
		return nil
	}

	if l.opts.Durability == DurabilityAsync {
		asyncWriter := asyncwriter.NewAsyncWriterSize(f, writerBufferSize)
		l.writeFunc = asyncWriter.Write
		l.flushFunc = asyncWriter.Flush
		l.closeFunc = asyncWriter.Close
		return nil
	}

	writer := bufio.NewWriterSize(f, writerBufferSize)
	fullDurable := l.opts.Durability == DurabilityFull
	l.writeFunc = func(data []byte) (int, error) {
		n, err := writer.Write(data)
		if err != nil {
			return n, err
		}
		if err := writer.Flush(); err != nil {
			return 0, err
		}
		if fullDurable {
			if err := f.Sync(); err != nil {
				return 0, err
			}
		}
		return n, nil
	}
	l.flushFunc = writer.Flush
	l.closeFunc = writer.Flush
	return nil
}

// Write stores entry at level lvl. Write does not consult MinLevel; callers
// filter with IsEnabled before formatting.
//
// Ordered entries must be single-line and must not encode to a byte string
// ending in Sentinel, otherwise the layout could not be rebuilt on reopen.
// For wide encodings the encoded record must also not contain newline bytes
// that a scan could take for a record end.
//
// In ordered mode the entry is spliced at the end of lvl's block. Writers of
// less severe levels wait while it is in flight.
func (l *Log) Write(lvl level.Level, entry string) error {
	if !lvl.Valid() {
		return fmt.Errorf("%w: %d", level.ErrInvalidLevel, uint8(lvl))
	}

	encoded, err := encoding.ReplaceUnsupported(l.encoding.NewEncoder()).Bytes([]byte(entry))
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	mode := modeUnordered
	if l.ordered {
		mode = modeOrdered
		if strings.Contains(entry, "\n") {
			writeErrorsTotal.WithLabelValues(lvl.String(), mode).Inc()
			return ErrMultiLineEntry
		}
		if len(encoded) > 0 && encoded[len(encoded)-1] == Sentinel {
			writeErrorsTotal.WithLabelValues(lvl.String(), mode).Inc()
			return ErrEntryEndsInSentinel
		}
		record := make([]byte, 0, len(encoded)+lvl.Rank()+1+len(l.newline))
		record = append(record, encoded...)
		record = append(record, EncodeMarker(lvl)...)
		record = append(record, l.newline...)
		if !scansAsOneRecord(record, l.newline) {
			writeErrorsTotal.WithLabelValues(lvl.String(), mode).Inc()
			return ErrAmbiguousEntry
		}
		err = l.writeOrdered(lvl, record)
	} else {
		record := make([]byte, 0, len(encoded)+len(l.newline))
		record = append(record, encoded...)
		record = append(record, l.newline...)
		err = l.writeUnordered(record)
	}
	if err != nil {
		writeErrorsTotal.WithLabelValues(lvl.String(), mode).Inc()
		return err
	}
	writesTotal.WithLabelValues(lvl.String(), mode).Inc()

	if l.opts.OnWrite != nil {
		l.opts.OnWrite(entry, lvl)
	}
	return nil
}

func (l *Log) writeOrdered(lvl level.Level, record []byte) error {
	rank := lvl.Rank()

	waitStart := time.Now()
	l.gates.acquire(rank)
	defer l.gates.release(rank)
	gateWaitDuration.WithLabelValues(lvl.String()).Observe(time.Since(waitStart).Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.unusable != nil {
		return l.unusable
	}
	if l.needsRecovery {
		return ErrNeedsRecovery
	}
	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	spliceStart := time.Now()
	moved, err := l.splicer.insert(l.table.Offset(lvl), record)
	spliceDuration.Observe(time.Since(spliceStart).Seconds())
	if err != nil {
		if errors.Is(err, ErrTailShift) {
			l.needsRecovery = true
			l.log.Error("Splice failed mid-shift, log needs recovery",
				"level", lvl,
				"offset", l.table.Offset(lvl),
				"error", err)
		}
		return fmt.Errorf("error splicing %s entry: %w", lvl, err)
	}

	l.table.Shift(rank, int64(len(record)))
	l.size += int64(len(record))
	tailBytesShifted.Add(float64(moved))

	if l.opts.Durability == DurabilityFull {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync log file: %w", err)
		}
	}
	return nil
}

func (l *Log) writeUnordered(record []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.unusable != nil {
		return l.unusable
	}
	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	if _, err := l.writeFunc(record); err != nil {
		return fmt.Errorf("error appending entry: %w", err)
	}
	l.size += int64(len(record))
	return nil
}

// IsEnabled reports whether lvl is at least as severe as the configured
// minimum level.
func (l *Log) IsEnabled(lvl level.Level) bool {
	return lvl.Valid() && uint32(lvl) <= l.minLevel.Load()
}

// SetMinLevel changes the threshold used by IsEnabled. Safe to call while
// writers are running.
func (l *Log) SetMinLevel(lvl level.Level) error {
	if !lvl.Valid() {
		return fmt.Errorf("%w: %d", level.ErrInvalidLevel, uint8(lvl))
	}
	l.minLevel.Store(uint32(lvl))
	return nil
}

func (l *Log) MinLevel() level.Level {
	return level.Level(l.minLevel.Load())
}

func (l *Log) Ordered() bool {
	return l.ordered
}

func (l *Log) Path() string {
	return l.path
}

// Positions returns a copy of the block position table. It is all zero in
// unordered mode.
func (l *Log) Positions() PositionTable {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table
}

// NeedsRecovery reports whether a failed splice left the file inconsistent
// with the table.
func (l *Log) NeedsRecovery() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.needsRecovery
}

// Recover reopens the active file when rotation lost it, and rebuilds the
// block position table from the current file content. It does not repair
// bytes left behind by an interrupted shift; it makes the table agree with
// whatever the file now holds so writing can continue.
func (l *Log) Recover() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.unusable != nil {
		if err := l.openFile(); err != nil {
			return fmt.Errorf("failed to reopen log file: %w", err)
		}
		l.log.Warn("Reopened active log file",
			"previous_error", l.unusable)
		l.unusable = nil
		recoveriesTotal.Inc()
		return nil
	}
	if !l.ordered {
		return nil
	}

	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	table, err := BootstrapFile(l.path, l.newline)
	if err != nil {
		return fmt.Errorf("failed to rebuild block positions: %w", err)
	}
	if err := table.Validate(info.Size()); err != nil {
		return fmt.Errorf("failed to rebuild block positions: %w", err)
	}

	l.log.Warn("Rebuilt block positions from file content",
		"previous", l.table,
		"current", table,
		"was_inconsistent", l.needsRecovery)

	l.table = table
	l.size = info.Size()
	l.needsRecovery = false
	recoveriesTotal.Inc()
	return nil
}

// Flush pushes buffered unordered appends to the file.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.unusable != nil {
		return l.unusable
	}
	return l.flushFunc()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.unusable != nil {
		// the handle is already closed
		return nil
	}

	writerErr := l.closeFunc()
	fileErr := l.file.Close()
	return errors.Join(writerErr, fileErr)
}
