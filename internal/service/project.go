package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Ning0612/submitguard/internal/activity"
	"github.com/Ning0612/submitguard/internal/cipher"
	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/credential"
	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/lock"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/state"
)

// ProjectService opens and closes managed trees
type ProjectService struct {
	config  *config.Config
	engine  *cipher.Engine
	gate    *credential.Gate
	state   *state.Manager
	flush   *activity.Service
	lockDir string
}

// Session is one open/close cycle of a tree
type Session struct {
	ID    string
	Root  string
	Actor domain.Actor

	// Logger records the session's activity; it never records for administrators
	Logger *activity.Logger

	// WasProtected reports whether opening decrypted at least one file
	WasProtected bool
	Decrypted    int

	mu     sync.Mutex
	closed bool
}

// Name returns the base name of the session's tree
func (s *Session) Name() string {
	return filepath.Base(s.Root)
}

// Closed reports whether Close already ran
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// NewProjectService creates a project service. flush may be nil when no
// periodic flushing runs; records are then written on Close.
func NewProjectService(cfg *config.Config, engine *cipher.Engine, gate *credential.Gate, stateMgr *state.Manager, flush *activity.Service) (*ProjectService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if engine == nil || gate == nil || stateMgr == nil {
		return nil, fmt.Errorf("engine, gate and state manager are required")
	}

	return &ProjectService{
		config:  cfg,
		engine:  engine,
		gate:    gate,
		state:   stateMgr,
		flush:   flush,
		lockDir: cfg.StatePath(lock.LockDirName),
	}, nil
}

// IsManagedTree reports whether root carries the encrypted marker
func (p *ProjectService) IsManagedTree(root string) bool {
	return isManaged(p.engine, root, p.config.Tree.Marker)
}

func isManaged(engine *cipher.Engine, root, markerName string) bool {
	info, err := engine.Fs().Stat(domain.EncryptedMarkerFile(root, markerName))
	return err == nil && info.Mode().IsRegular()
}

// actorOf resolves the session role. A failing secret store leaves the
// session ordinary.
func actorOf(gate *credential.Gate) domain.Actor {
	actor, err := gate.Actor()
	if err != nil {
		logger.Get().Warn("Could not resolve administrator role", "error", err)
	}
	return actor
}

// Open decrypts a managed tree and starts recording its activity
func (p *ProjectService) Open(ctx context.Context, root string) (*Session, error) {
	root = filepath.Clean(root)
	if !p.IsManagedTree(root) {
		return nil, fmt.Errorf("open %s: %w", root, domain.ErrNotManaged)
	}

	var session *Session
	err := withTreeLock(p.lockDir, root, "open", func() error {
		var err error
		session, err = p.open(ctx, root)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (p *ProjectService) open(ctx context.Context, root string) (*Session, error) {
	log := logger.With("tree", root)
	actor := actorOf(p.gate)
	markerName := p.config.Tree.Marker
	encMarker := domain.EncryptedMarkerFile(root, markerName)

	result, err := p.engine.DecryptTree(ctx, root, markerName)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", root, err)
	}
	if result.Failed > 0 {
		log.Warn("Some files could not be decrypted", "failed", result.Failed)
	}

	if actor.IsAdministrator() {
		if _, err := p.engine.DecryptFile(encMarker); err != nil {
			log.Warn("Failed to decrypt marker", "error", err)
		}
	} else if err := p.engine.Hide(encMarker); err != nil {
		log.Debug("Failed to hide marker", "error", err)
	}

	if result.WasProtected {
		if err := p.state.AddManaged(root, filepath.Base(root)); err != nil {
			return nil, err
		}
	}

	record, err := p.state.BeginSession(root, actor, result.Count)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:           record.ID,
		Root:         root,
		Actor:        actor,
		Logger:       p.newLogger(root, actor),
		WasProtected: result.WasProtected,
		Decrypted:    result.Count,
	}
	if p.flush != nil {
		p.flush.Register(session.Logger)
	}
	session.Logger.RecordLifecycle(true)

	log.Info("Tree opened", "session", session.ID, "actor", actor, "decrypted", result.Count)
	return session, nil
}

func (p *ProjectService) newLogger(root string, actor domain.Actor) *activity.Logger {
	opts := activity.OptionsFrom(p.config)
	opts.Suppressed = actor.IsAdministrator()
	return activity.New(root, p.engine, opts)
}

// Resume rebuilds the session of a tree opened by another process so it can
// be closed. Nothing is decrypted and no Opened record is written.
func (p *ProjectService) Resume(ctx context.Context, root string) (*Session, error) {
	root = filepath.Clean(root)
	actor := actorOf(p.gate)

	history, err := p.state.GetHistory(root, 1)
	if err != nil {
		return nil, err
	}

	var record state.SessionRecord
	if len(history) > 0 && history[0].Status == state.StatusOpen {
		record = history[0]
	} else {
		if !p.IsManagedTree(root) {
			return nil, fmt.Errorf("resume %s: %w", root, domain.ErrNotManaged)
		}
		record, err = p.state.BeginSession(root, actor, 0)
		if err != nil {
			return nil, err
		}
	}

	managed, err := p.state.IsManaged(root)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:           record.ID,
		Root:         root,
		Actor:        actor,
		Logger:       p.newLogger(root, actor),
		WasProtected: managed,
		Decrypted:    record.Files,
	}
	if p.flush != nil {
		p.flush.Register(session.Logger)
	}
	return session, nil
}

// Close protects the tree again and writes the session's remaining records.
// Administrator sessions leave the tree readable.
func (p *ProjectService) Close(ctx context.Context, session *Session) error {
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return domain.ErrSessionClosed
	}
	session.closed = true
	session.mu.Unlock()

	err := withTreeLock(p.lockDir, session.Root, "close", func() error {
		return p.close(ctx, session)
	})

	if endErr := p.state.EndSession(session.ID, err); endErr != nil {
		logger.Get().Warn("Failed to record session end", "session", session.ID, "error", endErr)
	}
	return err
}

func (p *ProjectService) close(ctx context.Context, session *Session) error {
	root := session.Root
	log := logger.With("tree", root, "session", session.ID)
	markerName := p.config.Tree.Marker

	if err := p.state.RemoveManaged(root); err != nil {
		log.Warn("Failed to remove tree from managed set", "error", err)
	}

	defer func() {
		session.Logger.Stop()
		if p.flush != nil {
			p.flush.Unregister(session.Logger)
		}
	}()

	if session.Actor.IsAdministrator() {
		encMarker := domain.EncryptedMarkerFile(root, markerName)
		if _, err := p.engine.DecryptFile(encMarker); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn("Failed to decrypt marker", "error", err)
		}
		log.Info("Tree closed", "actor", session.Actor)
		return nil
	}

	result, err := p.engine.EncryptTree(ctx, root, filter.EncryptionRules(markerName))
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", root, err)
	}
	if result.Failed > 0 {
		log.Warn("Some files could not be encrypted", "failed", result.Failed)
	}

	session.Logger.RecordLifecycle(false)
	if err := session.Logger.Flush(ctx); err != nil {
		return err
	}

	log.Info("Tree closed", "actor", session.Actor, "encrypted", result.Count)
	return nil
}

// EncryptTree protects root outside of a session. The encrypted marker is
// created when missing so the tree becomes managed.
func (p *ProjectService) EncryptTree(ctx context.Context, root string) (int, error) {
	root = filepath.Clean(root)
	markerName := p.config.Tree.Marker

	var count int
	err := withTreeLock(p.lockDir, root, "encrypt", func() error {
		encMarker := domain.EncryptedMarkerFile(root, markerName)
		plain := domain.MarkerFile(root, markerName)

		if _, err := p.engine.Fs().Stat(plain); err == nil {
			if _, err := p.engine.EncryptFile(plain); err != nil {
				return err
			}
		} else if !p.IsManagedTree(root) {
			if err := p.engine.WriteEncrypted(encMarker, nil); err != nil {
				return fmt.Errorf("create marker: %w", err)
			}
		}
		if err := p.engine.Hide(encMarker); err != nil {
			logger.Get().Debug("Failed to hide marker", "error", err)
		}

		result, err := p.engine.EncryptTree(ctx, root, filter.EncryptionRules(markerName))
		count = result.Count
		return err
	})
	return count, err
}

// DecryptTree makes root readable outside of a session; the marker stays encrypted.
// Only administrators may do this.
func (p *ProjectService) DecryptTree(ctx context.Context, root string) (int, error) {
	root = filepath.Clean(root)
	if !actorOf(p.gate).IsAdministrator() {
		return 0, fmt.Errorf("decrypt %s: %w", root, domain.ErrPermissionDenied)
	}

	var count int
	err := withTreeLock(p.lockDir, root, "decrypt", func() error {
		result, err := p.engine.DecryptTree(ctx, root, p.config.Tree.Marker)
		count = result.Count
		return err
	})
	return count, err
}

// ManagedTrees lists the trees that were protected when opened and not closed since
func (p *ProjectService) ManagedTrees() ([]state.ManagedTree, error) {
	return p.state.ListManaged()
}

// History returns the latest sessions of root, or of every tree when root is empty
func (p *ProjectService) History(root string, limit int) ([]state.SessionRecord, error) {
	if root == "" {
		return p.state.GetAllHistory(limit)
	}
	return p.state.GetHistory(filepath.Clean(root), limit)
}

// withTreeLock runs fn while holding the lifecycle lock of root
func withTreeLock(lockDir, root, operation string, fn func() error) error {
	l, err := lock.NewTreeLock(lockDir, root)
	if err != nil {
		return err
	}
	if err := l.Acquire(operation); err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil && !os.IsNotExist(err) {
			logger.Get().Warn("Failed to release tree lock", "tree", root, "error", err)
		}
	}()
	return fn()
}
