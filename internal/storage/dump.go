package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/mvaleed/levellog/internal/level"
	"github.com/mvaleed/levellog/internal/storage/mmap"
)

var ErrBlocksOutOfOrder = errors.New("log file blocks are not ordered by severity")

// Record is one decoded line of a log file.
type Record struct {
	Offset int64
	Size   int64
	Level  level.Level
	Marked bool
	Text   string
}

// ReadRecords decodes every record of the file at path. enc nil means UTF-8.
func ReadRecords(path string, enc encoding.Encoding) ([]Record, error) {
	records := make([]Record, 0)
	err := eachRecord(path, enc, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	return records, err
}

func eachRecord(path string, enc encoding.Encoding, fn func(Record) error) error {
	if enc == nil {
		enc = unicode.UTF8
	}
	newline, err := encodedNewline(enc)
	if err != nil {
		return err
	}

	view, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer view.Close()

	decoder := enc.NewDecoder()
	return scanRecords(view.Reader(), newline, func(offset int64, raw []byte) error {
		body := bytes.TrimSuffix(raw, newline)
		lvl, marked := DecodeMarker(body)

		text, err := decoder.Bytes(StripMarker(body))
		if err != nil {
			return fmt.Errorf("decoding record at %d: %w", offset, err)
		}
		return fn(Record{
			Offset: offset,
			Size:   int64(len(raw)),
			Level:  lvl,
			Marked: marked,
			Text:   string(text),
		})
	})
}

// DumpFile prints the records of a log file for debugging. head limits the
// number of records printed, 0 prints all.
func DumpFile(w io.Writer, path string, enc encoding.Encoding, head int) error {
	recordNum := 0
	errStop := errors.New("stop")

	err := eachRecord(path, enc, func(rec Record) error {
		lvl := "-"
		if rec.Marked {
			lvl = rec.Level.String()
		}
		fmt.Fprintf(w, "Record #%d\n", recordNum)
		fmt.Fprintf(w, "  Offset:  %d\n", rec.Offset)
		fmt.Fprintf(w, "  Size:    %d\n", rec.Size)
		fmt.Fprintf(w, "  Level:   %s\n", lvl)
		fmt.Fprintf(w, "  Text:    %q\n", truncate(rec.Text, 100))
		fmt.Fprintln(w)

		recordNum++
		if recordNum == head {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}

	fmt.Fprintf(w, "Total: %d records\n", recordNum)
	return nil
}

// CheckFile verifies that the marked records of a log file form contiguous
// blocks in severity order and returns the table a bootstrap would build.
// Unmarked records are legacy content and are not checked.
func CheckFile(path string, enc encoding.Encoding) (PositionTable, error) {
	var table PositionTable
	lastRank := -1
	recordNum := 0

	err := eachRecord(path, enc, func(rec Record) error {
		defer func() { recordNum++ }()

		if !rec.Marked {
			table.Shift(0, rec.Size)
			return nil
		}
		if rec.Level.Rank() < lastRank {
			return fmt.Errorf("%w: record #%d at offset %d is %s after %s",
				ErrBlocksOutOfOrder, recordNum, rec.Offset, rec.Level, level.FromRank(lastRank))
		}
		lastRank = rec.Level.Rank()
		table.Shift(rec.Level.Rank(), rec.Size)
		return nil
	})
	if err != nil {
		return PositionTable{}, err
	}
	return table, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func TimeNowInUtc() time.Time {
	return time.Now().UTC()
}
