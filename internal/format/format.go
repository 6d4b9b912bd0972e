// Package format renders log entries from a text template.
//
// Placeholders:
//
//	$(TimeStamp)      current time in the configured layout
//	$(LogLevel)       level name, e.g. WARN
//	$(Message)        the message
//	$(AdditionalInfo) extra values joined with ", "
//	$(NewLine)        a newline
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/mvaleed/levellog/internal/level"
)

const (
	TimeStamp      = "$(TimeStamp)"
	LogLevel       = "$(LogLevel)"
	Message        = "$(Message)"
	AdditionalInfo = "$(AdditionalInfo)"
	NewLine        = "$(NewLine)"
)

const (
	DefaultTemplate        = "[" + TimeStamp + "|" + LogLevel + "] " + Message + " " + AdditionalInfo
	DefaultTimestampLayout = "02/01/2006 15:04:05.000"
)

type Formatter struct {
	template string
	layout   string
	now      func() time.Time
}

// New returns a Formatter. Empty arguments fall back to the defaults.
func New(template, timestampLayout string) *Formatter {
	if template == "" {
		template = DefaultTemplate
	}
	if timestampLayout == "" {
		timestampLayout = DefaultTimestampLayout
	}
	return &Formatter{
		template: template,
		layout:   timestampLayout,
		now:      time.Now,
	}
}

func (f *Formatter) Template() string {
	return f.template
}

// MultiLine reports whether rendered entries can span several lines.
func (f *Formatter) MultiLine() bool {
	return strings.Contains(f.template, NewLine)
}

// Format renders one entry. Trailing spaces left by an empty
// $(AdditionalInfo) are trimmed.
func (f *Formatter) Format(lvl level.Level, message any, additionalInfo ...any) string {
	info := make([]string, 0, len(additionalInfo))
	for _, v := range additionalInfo {
		info = append(info, fmt.Sprint(v))
	}

	r := strings.NewReplacer(
		TimeStamp, f.now().Format(f.layout),
		NewLine, "\n",
		LogLevel, lvl.String(),
		Message, fmt.Sprint(message),
		AdditionalInfo, strings.Join(info, ", "),
	)
	return strings.TrimRight(r.Replace(f.template), " ")
}
