package activity

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/logger"
)

// MarkerStore reads and rewrites the encrypted marker. *cipher.Engine implements it.
type MarkerStore interface {
	Fs() afero.Fs
	ReadEncrypted(path string) ([]byte, error)
	WriteEncrypted(path string, data []byte) error
	Hide(path string) error
}

// Options tunes a Logger
type Options struct {
	MarkerName string

	// Cooldown is the per-file quiet period after an ordinary modification record
	Cooldown time.Duration

	// OpenDelay drops create/delete records this soon after the tree was opened
	OpenDelay time.Duration

	// CreateSuppression drops modification records this soon after a create
	CreateSuppression time.Duration

	LargeEditThreshold   int
	BoilerplateMaxLength int
	BoilerplatePrefixes  []string

	// Relevance excludes files whose changes are not recorded.
	// The zero Ruleset records every file.
	Relevance filter.Ruleset

	// Suppressed disables recording entirely (administrator sessions)
	Suppressed bool

	// WaitForReady drops edit and file records until MarkReady is called
	WaitForReady bool

	Newline string
	Now     func() time.Time
}

// OptionsFrom builds recorder options from the loaded configuration
func OptionsFrom(cfg *config.Config) Options {
	a := cfg.Activity
	return Options{
		MarkerName:           cfg.Tree.Marker,
		Cooldown:             a.Cooldown,
		OpenDelay:            a.OpenDelay,
		CreateSuppression:    a.CreateSuppression,
		LargeEditThreshold:   a.LargeEditThreshold,
		BoilerplateMaxLength: a.BoilerplateMaxLength,
		BoilerplatePrefixes:  a.BoilerplatePrefixes,
		Relevance:            filter.RelevanceRules(cfg.Tree.Marker, a.RelevantExtensions),
		WaitForReady:         a.WaitForIndex,
	}
}

// EditEvent is a document change reported by an editor or the watcher
type EditEvent struct {
	Path     string
	Offset   int
	OldLen   int
	NewLen   int
	Inserted string

	// Document is the text after the change; used to find the line of Offset
	Document string

	// Line is the 1-based line when the source already knows it
	Line int
}

// LineNumber returns the 1-based line the edit starts on
func (e EditEvent) LineNumber() int {
	if e.Line > 0 {
		return e.Line
	}
	end := e.Offset
	if end > len(e.Document) {
		end = len(e.Document)
	}
	if end < 0 {
		end = 0
	}
	return strings.Count(e.Document[:end], "\n") + 1
}

// FileEvent is a file created in or deleted from the tree
type FileEvent struct {
	Path   string
	Delete bool
}

// Logger records activity for one managed tree and appends it to the
// encrypted marker on Flush.
type Logger struct {
	root    string
	store   MarkerStore
	opts    Options
	managed bool
	log     logger.Logger

	buf     Buffer
	flushMu sync.Mutex

	mu            sync.Mutex
	ready         bool
	stopped       bool
	lastOpened    time.Time
	cooling       map[string]*time.Timer
	createBlocked bool
	createTimer   *time.Timer
	createGen     uint64
}

// New creates a logger for root. The tree counts as managed when its
// encrypted marker exists; an unmanaged tree never records anything.
func New(root string, store MarkerStore, opts Options) *Logger {
	if opts.MarkerName == "" {
		opts.MarkerName = domain.DefaultMarkerName
	}
	if opts.Newline == "" {
		opts.Newline = domain.Newline()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Logger{
		root:    root,
		store:   store,
		opts:    opts,
		log:     logger.With("component", "activity", "tree", root),
		ready:   !opts.WaitForReady,
		cooling: make(map[string]*time.Timer),
	}

	if _, err := store.Fs().Stat(l.markerPath()); err == nil {
		l.managed = true
	}
	return l
}

// Root returns the tree the logger records
func (l *Logger) Root() string {
	return l.root
}

// Managed reports whether the tree had an encrypted marker when the logger was created
func (l *Logger) Managed() bool {
	return l.managed
}

// Pending returns the number of records waiting for a flush
func (l *Logger) Pending() int {
	return l.buf.Len()
}

// MarkReady opens the gate held closed by WaitForReady
func (l *Logger) MarkReady() {
	l.mu.Lock()
	l.ready = true
	l.mu.Unlock()
}

// RecordLifecycle records the tree being opened or closed.
// Opening also starts the OpenDelay window.
func (l *Logger) RecordLifecycle(opened bool) bool {
	if l.opts.Suppressed || !l.managed {
		return false
	}

	now := l.opts.Now()
	kind := domain.EventClosed
	if opened {
		kind = domain.EventOpened
		l.mu.Lock()
		l.lastOpened = now
		l.mu.Unlock()
	}

	l.buf.Append(domain.EventRecord{Kind: kind, Time: now})
	return true
}

// RecordModification records an ordinary edit of file at line. Edits on the
// first line, edits to irrelevant files, edits right after a create and
// repeated edits of one file within Cooldown are dropped.
func (l *Logger) RecordModification(file, path string, line int) bool {
	if line == 1 || !l.accepting() || !l.relevant(path) {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || l.createBlocked {
		return false
	}
	if _, cooling := l.cooling[file]; cooling {
		return false
	}
	if l.opts.Cooldown > 0 {
		l.cooling[file] = time.AfterFunc(l.opts.Cooldown, func() {
			l.mu.Lock()
			delete(l.cooling, file)
			l.mu.Unlock()
		})
	}

	l.buf.Append(domain.EventRecord{
		Kind:     domain.EventModified,
		Time:     l.opts.Now(),
		FileName: file,
		Path:     path,
		Line:     line,
	})
	return true
}

// RecordLargeModification records an edit together with the inserted text.
// The cool-down does not apply, but boilerplate snippets and edits right
// after a create are dropped.
func (l *Logger) RecordLargeModification(file, path string, line int, text string) bool {
	if !l.accepting() || !l.relevant(path) || l.isBoilerplate(text) {
		return false
	}

	l.mu.Lock()
	blocked := l.stopped || l.createBlocked
	l.mu.Unlock()
	if blocked {
		return false
	}

	l.buf.Append(domain.EventRecord{
		Kind:     domain.EventModifiedLarge,
		Time:     l.opts.Now(),
		FileName: file,
		Path:     path,
		Line:     line,
		Text:     text,
	})
	return true
}

// RecordCreateOrDelete records a file appearing or disappearing. Events within
// OpenDelay of opening are dropped; a create suppresses modification records
// for CreateSuppression.
func (l *Logger) RecordCreateOrDelete(file, path string, isDelete bool) bool {
	if !l.accepting() || !l.relevant(path) {
		return false
	}

	now := l.opts.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return false
	}
	if !l.lastOpened.IsZero() && now.Sub(l.lastOpened) < l.opts.OpenDelay {
		return false
	}

	kind := domain.EventDeleted
	if !isDelete {
		kind = domain.EventCreated
		if l.opts.CreateSuppression > 0 {
			l.createBlocked = true
			l.createGen++
			if l.createTimer != nil {
				l.createTimer.Stop()
			}
			gen := l.createGen
			l.createTimer = time.AfterFunc(l.opts.CreateSuppression, func() {
				l.endCreateSuppression(gen)
			})
		}
	}

	l.buf.Append(domain.EventRecord{Kind: kind, Time: now, FileName: file, Path: path})
	return true
}

// HandleEdit routes an editor change to the large or ordinary modification record
func (l *Logger) HandleEdit(ev EditEvent) bool {
	file := filepath.Base(ev.Path)
	line := ev.LineNumber()

	if ev.NewLen-ev.OldLen > l.opts.LargeEditThreshold {
		return l.RecordLargeModification(file, ev.Path, line, ev.Inserted)
	}
	return l.RecordModification(file, ev.Path, line)
}

// HandleFile routes a create or delete notification
func (l *Logger) HandleFile(ev FileEvent) bool {
	return l.RecordCreateOrDelete(filepath.Base(ev.Path), ev.Path, ev.Delete)
}

// Flush appends every buffered record to the encrypted marker. On failure the
// batch goes back to the front of the buffer and the error is returned.
func (l *Logger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	if !l.managed {
		return nil
	}

	batch := l.buf.Drain()
	if len(batch) == 0 {
		return nil
	}

	if err := l.write(ctx, batch); err != nil {
		l.buf.Requeue(batch)
		return fmt.Errorf("flush %s: %w", l.root, err)
	}

	l.log.Debug("Activity flushed", "records", len(batch))
	return nil
}

func (l *Logger) write(ctx context.Context, batch []domain.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := l.markerPath()
	existing, err := l.store.ReadEncrypted(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(existing)
	for _, r := range batch {
		buf.WriteString(r.Format(l.opts.Newline))
	}

	if err := l.store.WriteEncrypted(path, buf.Bytes()); err != nil {
		return err
	}
	if err := l.store.Hide(path); err != nil {
		l.log.Debug("Failed to hide marker", "error", err)
	}
	return nil
}

// Stop cancels pending debounce timers; later records are dropped.
// Buffered records stay available to Flush.
func (l *Logger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	for name, t := range l.cooling {
		t.Stop()
		delete(l.cooling, name)
	}
	if l.createTimer != nil {
		l.createTimer.Stop()
		l.createTimer = nil
	}
	l.createBlocked = false
}

// endCreateSuppression lifts the window opened by create number gen. A timer
// that fired after a newer create restarted the window does nothing.
func (l *Logger) endCreateSuppression(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == l.createGen {
		l.createBlocked = false
	}
}

func (l *Logger) accepting() bool {
	if l.opts.Suppressed || !l.managed {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready && !l.stopped
}

func (l *Logger) relevant(path string) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, path)
	}
	rel, err := filter.Relative(l.root, path)
	if err != nil {
		return false
	}
	return !l.opts.Relevance.ShouldExclude(rel)
}

// isBoilerplate reports whether pasted text is blank, or short and starting
// with one of the boilerplate prefixes.
func (l *Logger) isBoilerplate(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	if utf8.RuneCountInString(text) > l.opts.BoilerplateMaxLength {
		return false
	}
	for _, prefix := range l.opts.BoilerplatePrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

func (l *Logger) markerPath() string {
	return domain.EncryptedMarkerFile(l.root, l.opts.MarkerName)
}
