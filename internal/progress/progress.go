package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter receives progress of a tree walk (encrypt, decrypt, stage, archive)
type Reporter interface {
	// Begin starts a new operation on a tree
	Begin(op, root string)
	// Item reports one entry handled successfully
	Item(path string, bytes int64)
	// Failed reports one entry that was skipped because of an error
	Failed(path string, err error)
	// End marks the operation as finished
	End()
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type    UpdateType
	Op      string
	Root    string
	Path    string
	Items   int
	Failed  int
	Bytes   int64
	Elapsed time.Duration
	Error   error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateBegin UpdateType = iota
	UpdateItem
	UpdateFailed
	UpdateEnd
)

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback  Callback
	mu        sync.Mutex
	op        string
	root      string
	items     int
	failed    int
	bytes     int64
	startTime time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
	}
}

// Begin resets the counters for a new operation
func (r *CallbackReporter) Begin(op, root string) {
	r.mu.Lock()
	r.op = op
	r.root = root
	r.items = 0
	r.failed = 0
	r.bytes = 0
	r.startTime = time.Now()
	update := r.snapshot(UpdateBegin, "", nil)
	r.mu.Unlock()

	r.emit(update)
}

// Item counts a handled entry
func (r *CallbackReporter) Item(path string, bytes int64) {
	r.mu.Lock()
	r.items++
	r.bytes += bytes
	update := r.snapshot(UpdateItem, path, nil)
	r.mu.Unlock()

	r.emit(update)
}

// Failed counts an entry that could not be handled
func (r *CallbackReporter) Failed(path string, err error) {
	r.mu.Lock()
	r.failed++
	update := r.snapshot(UpdateFailed, path, err)
	r.mu.Unlock()

	r.emit(update)
}

// End reports the final counters
func (r *CallbackReporter) End() {
	r.mu.Lock()
	update := r.snapshot(UpdateEnd, "", nil)
	r.mu.Unlock()

	r.emit(update)
}

// snapshot must be called with r.mu held
func (r *CallbackReporter) snapshot(t UpdateType, path string, err error) Update {
	return Update{
		Type:    t,
		Op:      r.op,
		Root:    r.root,
		Path:    path,
		Items:   r.items,
		Failed:  r.failed,
		Bytes:   r.bytes,
		Elapsed: time.Since(r.startTime),
		Error:   err,
	}
}

// emit calls the callback outside the lock to prevent deadlock
func (r *CallbackReporter) emit(update Update) {
	if r.callback != nil {
		r.callback(update)
	}
}

// CountingWriter wraps an io.Writer and counts the bytes written through it
type CountingWriter struct {
	writer  io.Writer
	written int64
}

// NewCountingWriter creates a new byte-counting writer
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{writer: w}
}

// Write implements io.Writer
func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.writer.Write(p)
	cw.written += int64(n)
	return n, err
}

// Written returns the number of bytes written so far
func (cw *CountingWriter) Written() int64 {
	return cw.written
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) Begin(op, root string)         {}
func (NullReporter) Item(path string, bytes int64) {}
func (NullReporter) Failed(path string, err error) {}
func (NullReporter) End()                          {}

// OrNull returns r, or a NullReporter when r is nil
func OrNull(r Reporter) Reporter {
	if r == nil {
		return NullReporter{}
	}
	return r
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// Summary renders the counters of an update for terminal output
func Summary(u Update) string {
	s := fmt.Sprintf("%s: %d item(s), %s", u.Op, u.Items, FormatBytes(u.Bytes))
	if u.Failed > 0 {
		s += fmt.Sprintf(", %d failed", u.Failed)
	}
	return s
}
