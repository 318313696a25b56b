package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/submitguard/internal/activity"
	"github.com/Ning0612/submitguard/internal/checksum"
	"github.com/Ning0612/submitguard/internal/cipher"
	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/credential"
	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/lock"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/marker"
	"github.com/Ning0612/submitguard/internal/packager"
	"github.com/Ning0612/submitguard/internal/progress"
)

// ExportService packages protected trees into zip archives
type ExportService struct {
	config   *config.Config
	engine   *cipher.Engine
	gate     *credential.Gate
	flush    *activity.Service
	reporter progress.Reporter
	lockDir  string
}

// ExportOptions tunes one export
type ExportOptions struct {
	// IncludeTarget writes the configured server and pool into the marker of
	// an administrator export, so students submit to them
	IncludeTarget bool
}

// ExportResult describes a finished archive
type ExportResult struct {
	// Name is the archive base name: the user id, or the tree name for administrators
	Name  string
	Stats packager.Stats

	// Server and PoolID are the submission target known after the export
	Server string
	PoolID string

	// SHA256 and Size fingerprint the archive bytes written to the sink
	SHA256 string
	Size   int64
}

// NewExportService creates an export service. flush and reporter may be nil.
func NewExportService(cfg *config.Config, engine *cipher.Engine, gate *credential.Gate, flush *activity.Service, reporter progress.Reporter) (*ExportService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if engine == nil || gate == nil {
		return nil, fmt.Errorf("engine and gate are required")
	}

	return &ExportService{
		config:   cfg,
		engine:   engine,
		gate:     gate,
		flush:    flush,
		reporter: progress.OrNull(reporter),
		lockDir:  cfg.StatePath(lock.LockDirName),
	}, nil
}

// ArchiveName returns the base name an export of root produces for actor
func (s *ExportService) ArchiveName(root string, actor domain.Actor) string {
	if actor.IsAdministrator() {
		return filepath.Base(filepath.Clean(root))
	}
	return strings.TrimSpace(s.config.Identity.UserID)
}

// Export writes a protected archive of root to sink. The tree itself is left
// untouched: a staging copy is prepared and removed afterwards.
func (s *ExportService) Export(ctx context.Context, root string, sink io.Writer, opts ExportOptions) (ExportResult, error) {
	root = filepath.Clean(root)
	actor := actorOf(s.gate)

	if !actor.IsAdministrator() {
		if !isManaged(s.engine, root, s.config.Tree.Marker) {
			return ExportResult{}, fmt.Errorf("export %s: %w", root, domain.ErrNotManaged)
		}
		if !s.config.HasIdentity() {
			return ExportResult{}, fmt.Errorf("export %s: %w", root, domain.ErrIdentityMissing)
		}
	}

	var result ExportResult
	err := withTreeLock(s.lockDir, root, "export", func() error {
		var err error
		result, err = s.export(ctx, root, actor, sink, opts)
		return err
	})
	return result, err
}

// ExportFile exports root into the file at dest on the engine's filesystem
func (s *ExportService) ExportFile(ctx context.Context, root, dest string, opts ExportOptions) (ExportResult, error) {
	fsys := s.engine.Fs()
	if err := fsys.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return ExportResult{}, fmt.Errorf("create archive directory: %w", err)
	}
	f, err := fsys.Create(dest)
	if err != nil {
		return ExportResult{}, fmt.Errorf("create archive %s: %w", dest, err)
	}

	result, err := s.Export(ctx, root, f, opts)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close archive %s: %w", dest, cerr)
	}
	if err == nil {
		err = verifyArchive(ctx, fsys, dest, result.SHA256)
	}
	if err != nil {
		fsys.Remove(dest)
	}
	return result, err
}

// verifyArchive re-reads the archive at path and compares its digest with the
// one computed while it was written.
func verifyArchive(ctx context.Context, fsys afero.Fs, path, want string) error {
	got, err := checksum.File(ctx, fsys, path)
	if err != nil {
		return fmt.Errorf("verify archive %s: %w", path, err)
	}
	if got != want {
		return fmt.Errorf("verify archive %s: digest mismatch (wrote %s, read %s)", path, want, got)
	}
	return nil
}

func (s *ExportService) export(ctx context.Context, root string, actor domain.Actor, sink io.Writer, opts ExportOptions) (ExportResult, error) {
	log := logger.With("tree", root)
	fsys := s.engine.Fs()
	markerName := s.config.Tree.Marker

	if s.flush != nil {
		if err := s.flush.FlushRoot(ctx, root); err != nil {
			log.Warn("Pending activity could not be written before export", "error", err)
		}
	}

	staging, err := afero.TempDir(fsys, "", "submitguard-stage-")
	if err != nil {
		return ExportResult{}, fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		if err := fsys.RemoveAll(staging); err != nil {
			log.Warn("Failed to remove staging directory", "dir", staging, "error", err)
		}
	}()

	staged := filepath.Join(staging, filepath.Base(root))
	pkg := packager.New(fsys, s.reporter)
	if _, err := pkg.StageCopy(ctx, root, filter.None(), staged); err != nil {
		return ExportResult{}, fmt.Errorf("stage %s: %w", root, err)
	}

	result := ExportResult{
		Name:   s.ArchiveName(root, actor),
		Server: strings.TrimSpace(s.config.Identity.Server),
		PoolID: strings.TrimSpace(s.config.Identity.PoolID),
	}

	plainMarker := domain.MarkerFile(staged, markerName)
	if actor.IsAdministrator() {
		err = s.prepareTemplateMarker(plainMarker, &result, opts)
	} else {
		err = s.prepareStudentMarker(plainMarker, &result)
	}
	if err != nil {
		return ExportResult{}, err
	}

	if _, err := s.engine.EncryptFile(plainMarker); err != nil {
		return ExportResult{}, fmt.Errorf("encrypt staged marker: %w", err)
	}
	enc, err := s.engine.EncryptTree(ctx, staged, filter.EncryptionRules(markerName))
	if err != nil {
		return ExportResult{}, fmt.Errorf("encrypt staged tree: %w", err)
	}
	if enc.Failed > 0 {
		return ExportResult{}, fmt.Errorf("encrypt staged tree: %d file(s) failed", enc.Failed)
	}

	rules, err := filter.PackagingRules(markerName, s.config.Packaging.KeepHidden).WithGlobs(s.config.Packaging.Ignore)
	if err != nil {
		return ExportResult{}, err
	}

	digest := checksum.NewWriter(sink)
	stats, err := pkg.Archive(ctx, staged, rules, digest)
	if err != nil {
		return ExportResult{}, fmt.Errorf("archive %s: %w", root, err)
	}
	result.Stats = stats
	result.SHA256 = digest.Sum()
	result.Size = digest.Size()

	log.Info("Tree exported", "name", result.Name, "files", stats.Files, "size", result.Size, "sha256", result.SHA256, "actor", actor)
	return result, nil
}

// prepareStudentMarker decrypts the staged marker, signs it with the
// student's identity and reads the submission target from its header when
// none is configured.
func (s *ExportService) prepareStudentMarker(plainMarker string, result *ExportResult) error {
	fsys := s.engine.Fs()
	if _, err := s.engine.DecryptFile(plainMarker + domain.EncryptedSuffix); err != nil {
		return fmt.Errorf("decrypt staged marker: %w", err)
	}

	id := s.config.Identity
	if err := marker.AppendIdentity(fsys, plainMarker, strings.TrimSpace(id.FullName), strings.TrimSpace(id.UserID)); err != nil {
		return err
	}

	if result.Server == "" {
		if v, err := marker.ReadValue(fsys, plainMarker, marker.ServerLine); err == nil {
			result.Server = v
		}
	}
	if result.PoolID == "" {
		if v, err := marker.ReadValue(fsys, plainMarker, marker.PoolLine); err == nil {
			result.PoolID = v
		}
	}
	return nil
}

// prepareTemplateMarker replaces the staged marker with a fresh one, headed
// by the submission target when requested.
func (s *ExportService) prepareTemplateMarker(plainMarker string, result *ExportResult, opts ExportOptions) error {
	fsys := s.engine.Fs()
	encMarker := plainMarker + domain.EncryptedSuffix
	if err := fsys.Remove(encMarker); err != nil && !isNotExist(err) {
		return fmt.Errorf("remove staged marker: %w", err)
	}

	server, pool := "", ""
	if opts.IncludeTarget {
		server, pool = result.Server, result.PoolID
	}
	return marker.WriteMetadata(fsys, plainMarker, server, pool)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
