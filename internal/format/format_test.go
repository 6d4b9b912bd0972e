package format

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvaleed/levellog/internal/level"
)

func fixedFormatter(template, layout string) *Formatter {
	f := New(template, layout)
	f.now = func() time.Time {
		return time.Date(2024, 3, 7, 14, 5, 9, 123_000_000, time.UTC)
	}
	return f
}

func TestFormatter_Format(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		layout   string
		lvl      level.Level
		message  any
		info     []any
		expected string
	}{
		{
			name:     "defaults",
			lvl:      level.Warn,
			message:  "disk almost full",
			expected: "[07/03/2024 14:05:09.123|WARN] disk almost full",
		},
		{
			name:     "additional info",
			lvl:      level.Error,
			message:  "request failed",
			info:     []any{"id=7", 503, errors.New("upstream timeout")},
			expected: "[07/03/2024 14:05:09.123|ERROR] request failed id=7, 503, upstream timeout",
		},
		{
			name:     "custom layout",
			template: "$(TimeStamp) $(LogLevel): $(Message)",
			layout:   time.RFC3339,
			lvl:      level.Info,
			message:  "started",
			expected: "2024-03-07T14:05:09Z INFO: started",
		},
		{
			name:     "message only",
			template: "$(Message)",
			lvl:      level.Debug,
			message:  42,
			expected: "42",
		},
		{
			name:     "new line",
			template: "$(LogLevel)$(NewLine)$(Message)",
			lvl:      level.Critical,
			message:  "boom",
			expected: "CRITICAL\nboom",
		},
		{
			name:     "placeholders inside the message are kept",
			template: "$(LogLevel) $(Message)",
			lvl:      level.Info,
			message:  "literal $(LogLevel)",
			expected: "INFO literal $(LogLevel)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := fixedFormatter(tc.template, tc.layout)
			require.Equal(t, tc.expected, f.Format(tc.lvl, tc.message, tc.info...))
		})
	}
}

func TestFormatter_MultiLine(t *testing.T) {
	require.False(t, New("", "").MultiLine())
	require.True(t, New("$(Message)$(NewLine)$(AdditionalInfo)", "").MultiLine())
	require.Equal(t, DefaultTemplate, New("", "").Template())
}
