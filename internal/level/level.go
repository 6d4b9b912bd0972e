// Package level defines the severity levels a log entry can carry.
//
// Lower rank means more severe. Critical is rank 0 and its block is always
// placed first in a level-ordered log file.
package level

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidLevel = errors.New("invalid log level")

type Level uint8

const (
	Critical Level = iota
	Error
	Warn
	Info
	Debug
)

// Count is the number of defined levels.
const Count = int(Debug) + 1

var names = [Count]string{"CRITICAL", "ERROR", "WARN", "INFO", "DEBUG"}

// All returns every level from most to least severe.
func All() []Level {
	return []Level{Critical, Error, Warn, Info, Debug}
}

func (l Level) Rank() int {
	return int(l)
}

func (l Level) Valid() bool {
	return int(l) < Count
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("LEVEL(%d)", uint8(l))
	}
	return names[l]
}

// MoreSevereThan reports whether l sorts before other in the file.
func (l Level) MoreSevereThan(other Level) bool {
	return l < other
}

// ParseLevel accepts the level names case-insensitively, plus "warning"
// and "fatal" aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "fatal":
		return Critical, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warn, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// FromRank clips rank into the valid range.
func FromRank(rank int) Level {
	if rank < 0 {
		return Critical
	}
	if rank >= Count {
		return Debug
	}
	return Level(rank)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(l))
	}
	return []byte(strings.ToLower(names[l])), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
