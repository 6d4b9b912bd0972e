package storage

import (
	"bytes"

	"github.com/mvaleed/levellog/internal/level"
)

// Sentinel is the reserved marker byte. 0xFF never occurs in valid UTF-8, so
// with the default encoding entry text can not end in it.
const Sentinel byte = 0xFF

// markers[i] holds rank+1 sentinel bytes.
var markers = func() [level.Count][]byte {
	var m [level.Count][]byte
	for i := range m {
		m[i] = bytes.Repeat([]byte{Sentinel}, i+1)
	}
	return m
}()

// EncodeMarker returns the trailing marker for l: Critical is one byte, Error
// two, and so on. The returned slice is shared and must not be modified.
func EncodeMarker(l level.Level) []byte {
	return markers[level.FromRank(l.Rank())]
}

// DecodeMarker counts trailing sentinel bytes of record. ok is false when the
// record carries no marker (empty input included). A run longer than any
// defined marker is clipped to the least severe level.
func DecodeMarker(record []byte) (l level.Level, ok bool) {
	n := markerLen(record)
	if n == 0 {
		return 0, false
	}
	return level.FromRank(n - 1), true
}

// StripMarker returns record without its trailing marker.
func StripMarker(record []byte) []byte {
	return record[:len(record)-markerLen(record)]
}

func markerLen(record []byte) int {
	n := 0
	for i := len(record) - 1; i >= 0 && record[i] == Sentinel; i-- {
		n++
	}
	return n
}
