// Package watch turns filesystem notifications on a tree into the edit and
// file events the activity recorder consumes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Ning0612/submitguard/internal/activity"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/logger"
)

// DefaultMaxFileSize caps the files kept in memory for edit diffs
const DefaultMaxFileSize = 1 << 20

// Options configures a Watcher
type Options struct {
	// Skip excludes directories and files from watching entirely
	Skip filter.Ruleset

	// Track selects the files whose content is kept to derive edits.
	// Nil tracks every file.
	Track func(rel string) bool

	MaxFileSize int64
	BufferSize  int
}

// Watcher reports changes below one root
type Watcher struct {
	root string
	opts Options
	fsw  *fsnotify.Watcher
	log  logger.Logger

	edits chan activity.EditEvent
	files chan activity.FileEvent

	mu        sync.Mutex
	known     map[string]bool   // regular files seen in the tree
	snapshots map[string]string // content of tracked files

	closeOnce sync.Once
	done      chan struct{}
}

// New watches root recursively and snapshots tracked files. Events start
// flowing once Run is called.
func New(root string, opts Options) (*Watcher, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:      root,
		opts:      opts,
		fsw:       fsw,
		log:       logger.With("component", "watch", "tree", root),
		edits:     make(chan activity.EditEvent, opts.BufferSize),
		files:     make(chan activity.FileEvent, opts.BufferSize),
		known:     make(map[string]bool),
		snapshots: make(map[string]string),
		done:      make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Edits delivers content changes of tracked files
func (w *Watcher) Edits() <-chan activity.EditEvent {
	return w.edits
}

// Files delivers creations and deletions
func (w *Watcher) Files() <-chan activity.FileEvent {
	return w.files
}

// Tracked returns the number of files held for edit diffs
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.snapshots)
}

// Run processes notifications until ctx is done or Close is called. Both
// event channels are closed when Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.edits)
	defer close(w.files)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error", "error", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filter.Relative(w.root, ev.Name)
	if err != nil || w.opts.Skip.ShouldExclude(rel) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		w.created(ctx, ev.Name, rel)
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.removed(ctx, ev.Name)
	case ev.Op.Has(fsnotify.Write):
		w.written(ctx, ev.Name, rel)
	}
}

func (w *Watcher) created(ctx context.Context, path, rel string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	if info.IsDir() {
		if err := w.addTree(path); err != nil {
			w.log.Warn("Failed to watch new directory", "dir", path, "error", err)
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	seen := w.known[path]
	w.known[path] = true
	w.mu.Unlock()

	// a file renamed over a known one is a save, not a creation
	if seen {
		w.written(ctx, path, rel)
		return
	}

	w.snapshot(path, rel, info)
	w.emitFile(ctx, activity.FileEvent{Path: path})
}

func (w *Watcher) removed(ctx context.Context, path string) {
	w.mu.Lock()
	var gone []string
	if w.known[path] {
		gone = append(gone, path)
	}
	// A removed directory takes its known files with it
	prefix := path + string(filepath.Separator)
	for p := range w.known {
		if strings.HasPrefix(p, prefix) {
			gone = append(gone, p)
		}
	}
	for _, p := range gone {
		delete(w.known, p)
		delete(w.snapshots, p)
	}
	w.mu.Unlock()

	for _, p := range gone {
		w.emitFile(ctx, activity.FileEvent{Path: p, Delete: true})
	}
}

func (w *Watcher) written(ctx context.Context, path, rel string) {
	if !w.tracks(rel) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil || int64(len(data)) > w.opts.MaxFileSize {
		return
	}
	current := string(data)

	w.mu.Lock()
	previous, had := w.snapshots[path]
	w.snapshots[path] = current
	w.known[path] = true
	w.mu.Unlock()

	if had && previous == current {
		return
	}

	ev, ok := Diff(previous, current)
	if !ok {
		return
	}
	ev.Path = path
	w.emitEdit(ctx, ev)
}

// addTree watches dir and every directory below it that is not skipped,
// recording the files found.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}

		rel, err := filter.Relative(w.root, path)
		if err != nil {
			return err
		}
		if rel != "/" && w.opts.Skip.ShouldExclude(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		w.mu.Lock()
		w.known[path] = true
		w.mu.Unlock()
		if info, err := d.Info(); err == nil {
			w.snapshot(path, rel, info)
		}
		return nil
	})
}

func (w *Watcher) snapshot(path, rel string, info fs.FileInfo) {
	if !w.tracks(rel) || info.Size() > w.opts.MaxFileSize {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	w.snapshots[path] = string(data)
	w.mu.Unlock()
}

func (w *Watcher) tracks(rel string) bool {
	return w.opts.Track == nil || w.opts.Track(rel)
}

func (w *Watcher) emitEdit(ctx context.Context, ev activity.EditEvent) {
	select {
	case w.edits <- ev:
	case <-ctx.Done():
	case <-w.done:
	}
}

func (w *Watcher) emitFile(ctx context.Context, ev activity.FileEvent) {
	select {
	case w.files <- ev:
	case <-ctx.Done():
	case <-w.done:
	}
}

// Diff describes the change from previous to current as a single edit: the
// longest common prefix and suffix are kept and the middle is replaced.
// ok is false when the texts are equal.
func Diff(previous, current string) (ev activity.EditEvent, ok bool) {
	if previous == current {
		return activity.EditEvent{}, false
	}

	prefix := 0
	limit := min(len(previous), len(current))
	for prefix < limit && previous[prefix] == current[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < limit-prefix &&
		previous[len(previous)-1-suffix] == current[len(current)-1-suffix] {
		suffix++
	}

	return activity.EditEvent{
		Offset:   prefix,
		OldLen:   len(previous) - prefix - suffix,
		NewLen:   len(current) - prefix - suffix,
		Inserted: current[prefix : len(current)-suffix],
		Document: current,
	}, true
}
