package cipher

import (
	"bytes"
	"context"
	"crypto/aes"
	gocipher "crypto/cipher"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/filter"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/progress"
)

// Engine encrypts and decrypts files on a filesystem with one derived key
type Engine struct {
	fs       afero.Fs
	block    gocipher.Block
	reporter progress.Reporter
}

// Option configures an Engine
type Option func(*Engine)

// WithReporter reports tree walks to r
func WithReporter(r progress.Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// New creates an engine over fsys
func New(fsys afero.Fs, key Key, opts ...Option) (*Engine, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: key must be %d bytes", domain.ErrCipherInit, KeyLength)
	}
	block, err := aes.NewCipher(key.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCipherInit, err)
	}

	e := &Engine{fs: fsys, block: block}
	for _, opt := range opts {
		opt(e)
	}
	e.reporter = progress.OrNull(e.reporter)
	return e, nil
}

// Fs returns the filesystem the engine works on
func (e *Engine) Fs() afero.Fs {
	return e.fs
}

// EncryptFile replaces path with path+".uoc" and returns the new name.
// The ciphertext is written beside the source and renamed into place, so a
// failure leaves the plaintext untouched.
func (e *Engine) EncryptFile(path string) (string, error) {
	if err := e.checkRegular(path); err != nil {
		return "", err
	}

	dst := path + domain.EncryptedSuffix
	if err := e.transform(path, dst, encryptStream); err != nil {
		return "", fmt.Errorf("encrypt %s: %w", path, err)
	}
	if err := e.fs.Remove(path); err != nil {
		return "", fmt.Errorf("remove plaintext %s: %w", path, mapErr(err))
	}

	if err := e.Hide(dst); err != nil {
		logger.Get().Debug("Failed to hide encrypted file", "file", dst, "error", err)
	}
	return dst, nil
}

// DecryptFile replaces an encrypted path with its plaintext sibling (the name
// without the suffix) and returns the new name.
func (e *Engine) DecryptFile(path string) (string, error) {
	if !strings.HasSuffix(path, domain.EncryptedSuffix) {
		return "", fmt.Errorf("%w: %s", domain.ErrNotEncrypted, path)
	}
	if err := e.checkRegular(path); err != nil {
		return "", err
	}

	dst := strings.TrimSuffix(path, domain.EncryptedSuffix)
	if err := e.transform(path, dst, decryptStream); err != nil {
		return "", fmt.Errorf("decrypt %s: %w", path, err)
	}
	if err := e.fs.Remove(path); err != nil {
		return "", fmt.Errorf("remove ciphertext %s: %w", path, mapErr(err))
	}
	return dst, nil
}

// ReadEncrypted returns the plaintext of an encrypted file without touching the disk
func (e *Engine) ReadEncrypted(path string) ([]byte, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, mapErr(err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := decryptStream(e.block, &buf, f); err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// WriteEncrypted stores data encrypted at path, replacing any existing file
func (e *Engine) WriteEncrypted(path string, data []byte) error {
	return e.writeAtomic(path, func(w io.Writer) error {
		return encryptStream(e.block, w, bytes.NewReader(data))
	})
}

type streamFunc func(block gocipher.Block, dst io.Writer, src io.Reader) error

func (e *Engine) transform(src, dst string, fn streamFunc) error {
	in, err := e.fs.Open(src)
	if err != nil {
		return mapErr(err)
	}
	defer in.Close()

	return e.writeAtomic(dst, func(w io.Writer) error {
		return fn(e.block, w, in)
	})
}

// writeAtomic writes through a temp sibling and renames it onto path
func (e *Engine) writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(e.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", mapErr(err))
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		e.fs.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		e.fs.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := e.fs.Rename(tmpPath, path); err != nil {
		e.fs.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", mapErr(err))
	}
	return nil
}

func (e *Engine) checkRegular(path string) error {
	info, err := e.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, mapErr(err))
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, domain.ErrNotFile)
	}
	return nil
}

// Hide marks path hidden where the platform has such an attribute.
// Only the OS filesystem is affected.
func (e *Engine) Hide(path string) error {
	if _, ok := e.fs.(*afero.OsFs); !ok {
		return nil
	}
	return hideFile(path)
}

// TreeResult summarises a tree walk
type TreeResult struct {
	// Count is the number of files transformed
	Count int

	// Failed is the number of files skipped because of an error
	Failed int

	// WasProtected is set by DecryptTree when at least one file was encrypted
	WasProtected bool
}

// EncryptTree encrypts every regular file under root that rules do not exclude.
// A failing file is logged and skipped; only an unusable root is an error.
func (e *Engine) EncryptTree(ctx context.Context, root string, rules filter.Ruleset) (TreeResult, error) {
	files, err := e.collect(ctx, root, func(rel string, info fs.FileInfo) bool {
		return !rules.ShouldExclude(rel)
	}, rules)
	if err != nil {
		return TreeResult{}, err
	}

	return e.apply(ctx, "encrypt", root, files, e.EncryptFile)
}

// DecryptTree decrypts every encrypted file under root except the encrypted
// marker, which carries the activity log and is handled by its owner.
func (e *Engine) DecryptTree(ctx context.Context, root, markerName string) (TreeResult, error) {
	marker := filter.EncryptedMarkerRule(markerName)
	files, err := e.collect(ctx, root, func(rel string, info fs.FileInfo) bool {
		return strings.HasSuffix(rel, domain.EncryptedSuffix) && !marker.Match(rel)
	}, filter.None())
	if err != nil {
		return TreeResult{}, err
	}

	result, err := e.apply(ctx, "decrypt", root, files, e.DecryptFile)
	result.WasProtected = result.Count > 0
	return result, err
}

// collect walks root lexically and returns the regular files accepted by keep.
// Directories excluded by dirRules are not descended into.
func (e *Engine) collect(ctx context.Context, root string, keep func(string, fs.FileInfo) bool, dirRules filter.Ruleset) ([]string, error) {
	info, err := e.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", root, mapErr(err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tree %s: %w", root, domain.ErrNotDirectory)
	}

	var files []string
	err = afero.Walk(e.fs, root, func(path string, info fs.FileInfo, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			logger.Get().Warn("Skipping unreadable entry", "path", path, "error", walkErr)
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filter.Relative(root, path)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if dirRules.ShouldExclude(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() && keep(rel, info) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (e *Engine) apply(ctx context.Context, op, root string, files []string, fn func(string) (string, error)) (TreeResult, error) {
	var result TreeResult
	log := logger.With("op", op, "tree", root)

	e.reporter.Begin(op, root)
	defer e.reporter.End()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var size int64
		if info, err := e.fs.Stat(path); err == nil {
			size = info.Size()
		}

		if _, err := fn(path); err != nil {
			result.Failed++
			log.Warn("Failed to process file", "file", path, "error", err)
			e.reporter.Failed(path, err)
			continue
		}
		result.Count++
		e.reporter.Item(path, size)
	}

	log.Debug("Tree processed", "count", result.Count, "failed", result.Failed)
	return result, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	return err
}
