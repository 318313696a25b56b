package domain

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// EventKind identifies what happened to a managed tree
type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
	EventModified
	EventModifiedLarge
	EventCreated
	EventDeleted
)

// Tag returns the two-letter prefix written in the activity log
func (k EventKind) Tag() string {
	switch k {
	case EventOpened:
		return "OP"
	case EventClosed:
		return "CL"
	case EventModified, EventModifiedLarge:
		return "MD"
	case EventCreated:
		return "CR"
	case EventDeleted:
		return "DL"
	}
	return "??"
}

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventModified:
		return "modified"
	case EventModifiedLarge:
		return "modified-large"
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	}
	return "unknown"
}

// EventRecord is one buffered activity entry
type EventRecord struct {
	Kind     EventKind
	Time     time.Time
	FileName string
	Path     string

	// Line is the 1-based line of a modification
	Line int

	// Text is the inserted code of a large modification
	Text string
}

// Newline is the line terminator of the host platform
func Newline() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// Timestamp renders the activity log time column: hour:minute (day-month-year), no padding.
func Timestamp(t time.Time) string {
	return fmt.Sprintf("     %d:%d     (%d-%d-%d)     ",
		t.Hour(), t.Minute(), t.Day(), int(t.Month()), t.Year())
}

// Format renders the record as it is appended to the marker file, terminator included.
func (r EventRecord) Format(nl string) string {
	var b strings.Builder
	b.WriteString(r.Kind.Tag())
	b.WriteString(Timestamp(r.Time))

	switch r.Kind {
	case EventModified:
		fmt.Fprintf(&b, "Line: %d     File: %s", r.Line, r.FileName)
	case EventModifiedLarge:
		fmt.Fprintf(&b, "Line: %d     File: %s     PASTED CODE:", r.Line, r.FileName)
		b.WriteString(nl + nl + r.Text + nl + nl)
		return b.String()
	case EventCreated, EventDeleted:
		b.WriteString(" File: " + r.FileName)
	}

	b.WriteString(nl)
	return b.String()
}
