// Package packager turns a tree into a zip archive or a filtered staging copy.
package packager

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/progress"
)

// Stats summarises one packaging walk
type Stats struct {
	Dirs    int
	Files   int
	Bytes   int64
	Skipped int
	Failed  int
}

// Packager walks trees on a filesystem
type Packager struct {
	fs       afero.Fs
	reporter progress.Reporter
}

// New creates a packager over fsys; reporter may be nil
func New(fsys afero.Fs, reporter progress.Reporter) *Packager {
	return &Packager{fs: fsys, reporter: progress.OrNull(reporter)}
}

// visitFunc handles one kept entry; rel is "/"-prefixed, info describes path
type visitFunc func(path, rel string, info fs.FileInfo) error

// walk visits root in lexical order, pruning excluded directories and
// everything under skip (when skip lies inside root).
func (p *Packager) walk(ctx context.Context, root, skip string, rules filter.Ruleset, stats *Stats, visit visitFunc) error {
	info, err := p.fs.Stat(root)
	if err != nil {
		return fmt.Errorf("tree %s: %w", root, mapErr(err))
	}
	if !info.IsDir() {
		return fmt.Errorf("tree %s: %w", root, domain.ErrNotDirectory)
	}

	return afero.Walk(p.fs, root, func(path string, info fs.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			logger.Get().Warn("Skipping unreadable entry", "path", path, "error", walkErr)
			stats.Failed++
			return nil
		}
		if path == root {
			return nil
		}
		if skip != "" && (path == skip || strings.HasPrefix(path, skip+string(filepath.Separator))) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filter.Relative(root, path)
		if err != nil {
			return err
		}
		if rules.ShouldExclude(rel) {
			stats.Skipped++
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			stats.Skipped++
			return nil
		}

		if err := visit(path, rel, info); err != nil {
			stats.Failed++
			logger.Get().Warn("Failed to package entry", "path", path, "error", err)
			p.reporter.Failed(path, err)
			return nil
		}

		if info.IsDir() {
			stats.Dirs++
		} else {
			stats.Files++
			stats.Bytes += info.Size()
		}
		p.reporter.Item(path, info.Size())
		return nil
	})
}

// Archive writes a zip of every non-excluded entry under root to sink.
// Directories become "name/" entries even when empty; entry names are
// root-relative with forward slashes. The zip writer is always closed, so the
// entries completed before an error are still readable.
func (p *Packager) Archive(ctx context.Context, root string, rules filter.Ruleset, sink io.Writer) (Stats, error) {
	return p.archive(ctx, root, "", rules, sink)
}

func (p *Packager) archive(ctx context.Context, root, skip string, rules filter.Ruleset, sink io.Writer) (stats Stats, err error) {
	zw := zip.NewWriter(sink)
	defer func() {
		if cerr := zw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("finalize archive: %w", cerr)
		}
	}()

	p.reporter.Begin("archive", root)
	defer p.reporter.End()

	err = p.walk(ctx, root, skip, rules, &stats, func(path, rel string, info fs.FileInfo) error {
		name := strings.TrimPrefix(rel, "/")
		if info.IsDir() {
			_, err := zw.CreateHeader(&zip.FileHeader{
				Name:     name + "/",
				Method:   zip.Store,
				Modified: info.ModTime(),
			})
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := p.fs.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(w, f)
		return err
	})
	return stats, err
}

// ArchiveFile archives root into the file at dest, replacing it. When dest lies
// inside root it is left out of its own archive.
func (p *Packager) ArchiveFile(ctx context.Context, root string, rules filter.Ruleset, dest string) (Stats, error) {
	if err := p.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return Stats{}, fmt.Errorf("create archive directory: %w", mapErr(err))
	}
	f, err := p.fs.Create(dest)
	if err != nil {
		return Stats{}, fmt.Errorf("create archive %s: %w", dest, mapErr(err))
	}

	cw := progress.NewCountingWriter(f)
	stats, err := p.archive(ctx, root, filepath.Clean(dest), rules, cw)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close archive %s: %w", dest, cerr)
	}

	logger.Get().Debug("Archive written", "archive", dest, "entries", stats.Dirs+stats.Files, "bytes", cw.Written())
	return stats, err
}

// StageCopy mirrors every non-excluded entry under root into dest, creating
// directories and overwriting files. A dest nested inside root is never copied
// into itself.
func (p *Packager) StageCopy(ctx context.Context, root string, rules filter.Ruleset, dest string) (Stats, error) {
	dest = filepath.Clean(dest)
	if err := p.fs.MkdirAll(dest, 0755); err != nil {
		return Stats{}, fmt.Errorf("create staging directory: %w", mapErr(err))
	}

	p.reporter.Begin("stage", root)
	defer p.reporter.End()

	var stats Stats
	err := p.walk(ctx, root, dest, rules, &stats, func(path, rel string, info fs.FileInfo) error {
		target := filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
		if info.IsDir() {
			return p.fs.MkdirAll(target, info.Mode().Perm()|0700)
		}
		return p.copyFile(path, target, info.Mode().Perm())
	})
	return stats, err
}

func (p *Packager) copyFile(src, dst string, perm os.FileMode) error {
	in, err := p.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := p.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := p.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func mapErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	return err
}
