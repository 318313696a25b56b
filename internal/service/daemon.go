package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Ning0612/submitguard/internal/activity"
	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/scheduler"
	"github.com/Ning0612/submitguard/internal/state"
	"github.com/Ning0612/submitguard/internal/watch"
)

// DaemonService keeps trees open while watching them for activity
type DaemonService struct {
	mu       sync.RWMutex
	config   *config.Config
	project  *ProjectService
	flush    *activity.Service
	stateMgr *state.Manager

	trees  map[string]*watchedTree
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// beforeClose runs in stop right before the trees are closed
	beforeClose func()
}

type watchedTree struct {
	session *Session
	watcher *watch.Watcher
}

// DaemonStatus represents the current daemon status
type DaemonStatus struct {
	Running     bool
	Trees       []string
	FlushStats  *scheduler.Status
	LastSession *state.SessionRecord
}

// NewDaemonService creates a new daemon service. It takes ownership of
// stateMgr, which Close releases.
func NewDaemonService(cfg *config.Config, project *ProjectService, flush *activity.Service, stateMgr *state.Manager) (*DaemonService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if project == nil || flush == nil || stateMgr == nil {
		return nil, fmt.Errorf("project service, flush service and state manager are required")
	}

	return &DaemonService{
		config:   cfg,
		project:  project,
		flush:    flush,
		stateMgr: stateMgr,
	}, nil
}

// Start opens every root, watches it and starts the periodic flush. A root
// that fails to open or watch undoes the trees opened before it.
func (d *DaemonService) Start(ctx context.Context, roots []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.trees != nil {
		return fmt.Errorf("daemon is already running")
	}
	if len(roots) == 0 {
		return fmt.Errorf("no trees to watch")
	}

	runCtx, cancel := context.WithCancel(ctx)
	trees := make(map[string]*watchedTree, len(roots))

	for _, root := range roots {
		tree, err := d.watchTree(runCtx, root)
		if err != nil {
			cancel()
			d.wg.Wait()
			d.closeTrees(trees)
			return err
		}
		trees[tree.session.Root] = tree
	}

	if err := d.flush.Start(runCtx); err != nil {
		cancel()
		d.wg.Wait()
		d.closeTrees(trees)
		return fmt.Errorf("failed to start flush service: %w", err)
	}

	d.trees = trees
	d.cancel = cancel
	logger.Get().Info("Daemon started", "trees", len(trees))
	return nil
}

func (d *DaemonService) watchTree(ctx context.Context, root string) (*watchedTree, error) {
	session, err := d.project.Open(ctx, root)
	if err != nil {
		return nil, err
	}

	relevance := filter.RelevanceRules(d.config.Tree.Marker, d.config.Activity.RelevantExtensions)
	w, err := watch.New(session.Root, watch.Options{
		Skip:  filter.WatchRules(),
		Track: func(rel string) bool { return !relevance.ShouldExclude(rel) },
	})
	if err != nil {
		if cerr := d.project.Close(context.Background(), session); cerr != nil {
			logger.Get().Warn("Failed to close tree after watch error", "tree", root, "error", cerr)
		}
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	// the initial scan is complete once New returns
	session.Logger.MarkReady()

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Get().Warn("Watcher stopped", "tree", session.Root, "error", err)
		}
	}()
	go func() {
		defer d.wg.Done()
		pump(session.Logger, w)
	}()

	return &watchedTree{session: session, watcher: w}, nil
}

// pump forwards watcher events to the recorder until both channels close
func pump(l *activity.Logger, w *watch.Watcher) {
	edits, files := w.Edits(), w.Files()
	for edits != nil || files != nil {
		select {
		case ev, ok := <-edits:
			if !ok {
				edits = nil
				continue
			}
			l.HandleEdit(ev)
		case ev, ok := <-files:
			if !ok {
				files = nil
				continue
			}
			l.HandleFile(ev)
		}
	}
}

// closeTrees stops the watchers and closes the sessions. Callers hold d.mu
// and have already cancelled the run context.
func (d *DaemonService) closeTrees(trees map[string]*watchedTree) error {
	for _, tree := range trees {
		tree.watcher.Close()
	}
	d.wg.Wait()

	var errs []error
	for root, tree := range trees {
		if err := d.project.Close(context.Background(), tree.session); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", root, err))
		}
	}
	return errors.Join(errs...)
}

// Stop ends the periodic flush and closes every watched tree
func (d *DaemonService) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.trees == nil {
		return fmt.Errorf("daemon is not running")
	}
	return d.stop()
}

func (d *DaemonService) stop() error {
	d.cancel()
	// no periodic flush may write a marker temp file while the trees are encrypted
	err := d.flush.Stop()
	if d.beforeClose != nil {
		d.beforeClose()
	}
	if cerr := d.closeTrees(d.trees); cerr != nil {
		err = errors.Join(err, cerr)
	}

	d.trees = nil
	d.cancel = nil
	logger.Get().Info("Daemon stopped")
	return err
}

// Status returns the current daemon status
func (d *DaemonService) Status() *DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := &DaemonStatus{
		Running: d.trees != nil,
	}

	if d.trees != nil {
		for root := range d.trees {
			status.Trees = append(status.Trees, root)
		}
		sort.Strings(status.Trees)
		status.FlushStats = d.flush.Status()
	}

	if d.stateMgr != nil {
		history, err := d.stateMgr.GetAllHistory(1)
		if err == nil && len(history) > 0 {
			status.LastSession = &history[0]
		}
	}

	return status
}

// Close stops the daemon if it runs and releases all resources
func (d *DaemonService) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error

	if d.trees != nil {
		if err := d.stop(); err != nil {
			lastErr = err
		}
	}

	if d.stateMgr != nil {
		if err := d.stateMgr.Close(); err != nil {
			lastErr = err
		}
		d.stateMgr = nil
	}

	return lastErr
}
