package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mvaleed/levellog/internal/level"
	"github.com/mvaleed/levellog/internal/storage/mmap"
)

/*
  BLOCK POSITION TABLE
  ------------------------------------------------------------------
  One slot per level. Slot i is the offset of the first byte that belongs
  to level i+1 or later, i.e. the end of the region holding levels 0..i.

  File:   [ CRIT ][ ERR ][ WARN ][ INFO ][ DEBUG ]
          0      t[0]   t[1]   t[2]    t[3]    t[4] == file length

  Inserting n bytes into level L moves the end of L and of every less severe
  block by n, so Shift(L, n) adds n to t[L..Count-1].
*/

var ErrCorruptPositions = errors.New("block position table does not match file")

type PositionTable [level.Count]int64

// Shift adds delta to every slot at index >= fromRank.
func (t *PositionTable) Shift(fromRank int, delta int64) {
	for i := max(fromRank, 0); i < level.Count; i++ {
		t[i] += delta
	}
}

// Offset is the end of l's block, where the next l entry is inserted.
func (t PositionTable) Offset(l level.Level) int64 {
	return t[l.Rank()]
}

// Start is the first byte of l's block.
func (t PositionTable) Start(l level.Level) int64 {
	if l.Rank() == 0 {
		return 0
	}
	return t[l.Rank()-1]
}

// Size is the total number of bytes the table accounts for.
func (t PositionTable) Size() int64 {
	return t[level.Count-1]
}

// Validate checks the table invariants against the current file size.
func (t PositionTable) Validate(fileSize int64) error {
	prev := int64(0)
	for i, pos := range t {
		if pos < prev {
			return fmt.Errorf("%w: slot %d (%d) is before slot %d (%d)", ErrCorruptPositions, i, pos, i-1, prev)
		}
		prev = pos
	}
	if t.Size() != fileSize {
		return fmt.Errorf("%w: table covers %d bytes, file has %d", ErrCorruptPositions, t.Size(), fileSize)
	}
	return nil
}

// account adds one newline-terminated record to the table. Records without a
// marker shift from rank 0.
func (t *PositionTable) account(record, newline []byte) {
	rank := 0
	if l, ok := DecodeMarker(bytes.TrimSuffix(record, newline)); ok {
		rank = l.Rank()
	}
	t.Shift(rank, int64(len(record)))
}

// Bootstrap replays file content record by record and returns the resulting
// table. It has no side effects, so it serves both open and recovery. A final
// record without a newline still counts.
func Bootstrap(r io.Reader, newline []byte) (PositionTable, error) {
	if len(newline) == 0 {
		newline = []byte{'\n'}
	}
	var table PositionTable
	err := scanRecords(r, newline, func(_ int64, record []byte) error {
		table.account(record, newline)
		return nil
	})
	if err != nil {
		return PositionTable{}, err
	}
	return table, nil
}

// scanRecords calls fn for every newline-terminated record of r, newline
// included. record is only valid during the call.
func scanRecords(r io.Reader, newline []byte, fn func(offset int64, record []byte) error) error {
	if len(newline) == 0 {
		newline = []byte{'\n'}
	}
	delim := newline[len(newline)-1]
	br := bufio.NewReaderSize(r, 64*1024)

	var offset int64
	var record []byte
	for {
		chunk, err := br.ReadSlice(delim)
		record = append(record, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == nil && !endsInNewline(record, newline) {
			// delim byte of a multi-byte newline seen inside a record
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read record at offset %d: %w", offset, err)
		}
		if len(record) > 0 {
			if fnErr := fn(offset, record); fnErr != nil {
				return fnErr
			}
			offset += int64(len(record))
		}
		record = record[:0]
		if err != nil {
			return nil
		}
	}
}

// endsInNewline reports whether record ends in a newline that starts on a
// code unit boundary. For wide encodings the newline bytes can also appear
// across two characters, e.g. U+0A41 U+4E00 is 41 0A 00 4E in UTF-16LE.
// The boundary is counted from the record start, or from the start of a
// trailing marker run, whose length is not a multiple of the unit size.
func endsInNewline(record, newline []byte) bool {
	if !bytes.HasSuffix(record, newline) {
		return false
	}
	unit := len(newline)
	at := len(record) - unit
	if unit == 1 || at%unit == 0 {
		return true
	}
	run := 0
	for run < at && record[at-1-run] == Sentinel {
		run++
	}
	return run > 0 && (at-run)%unit == 0
}

// scansAsOneRecord reports whether scanRecords reads record back whole,
// with no earlier newline match inside it.
func scansAsOneRecord(record, newline []byte) bool {
	delim := newline[len(newline)-1]
	for i := 0; i < len(record)-1; i++ {
		if record[i] == delim && endsInNewline(record[:i+1], newline) {
			return false
		}
	}
	return endsInNewline(record, newline)
}

// BootstrapFile maps path read-only and bootstraps from its content. A
// missing file yields an empty table.
func BootstrapFile(path string, newline []byte) (PositionTable, error) {
	view, err := mmap.Open(path)
	if err != nil {
		if errors.Is(err, mmap.ErrNotExist) {
			return PositionTable{}, nil
		}
		return PositionTable{}, err
	}
	defer view.Close()

	return Bootstrap(view.Reader(), newline)
}
