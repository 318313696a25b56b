// Package checksum fingerprints archives so a submitted file can be matched
// against the copy the student kept.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/spf13/afero"
)

// Options configures Reader
type Options struct {
	// MaxSize: inputs larger than this are refused (0 = unlimited)
	MaxSize int64

	// BufferSize: size of buffer for streaming reads
	BufferSize int
}

// DefaultOptions returns the recommended default options
func DefaultOptions() Options {
	return Options{
		MaxSize:    2 * 1024 * 1024 * 1024, // 2GB, the zip32 limit
		BufferSize: 32 * 1024,
	}
}

// Writer passes writes through to another writer while hashing them
type Writer struct {
	dst  io.Writer
	h    hash.Hash
	size int64
}

// NewWriter hashes everything written to dst
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst, h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		w.h.Write(p[:n])
		w.size += int64(n)
	}
	return n, err
}

// Sum returns the hex SHA-256 of the bytes written so far
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Size returns the number of bytes written so far
func (w *Writer) Size() int64 {
	return w.size
}

// Reader returns the hex SHA-256 of everything read from r
func Reader(ctx context.Context, r io.Reader, opts Options) (string, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.MaxSize > 0 {
		r = io.LimitReader(r, opts.MaxSize+1)
	}

	h := sha256.New()
	buffer := make([]byte, opts.BufferSize)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := r.Read(buffer)
		if n > 0 {
			total += int64(n)
			if opts.MaxSize > 0 && total > opts.MaxSize {
				return "", fmt.Errorf("input exceeds maximum (%d bytes)", opts.MaxSize)
			}
			h.Write(buffer[:n])
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the hex SHA-256 of the file at path
func File(ctx context.Context, fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(ctx, f, DefaultOptions())
}
