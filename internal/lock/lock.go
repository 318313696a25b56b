package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/submitguard/internal/domain"
)

const (
	// LockDirName is the subdirectory of the state dir holding tree locks
	LockDirName = "locks"
	// DefaultStaleTimeout is the default duration after which a lock held from another host is considered stale
	DefaultStaleTimeout = 30 * time.Minute
)

// LockInfo contains metadata about the lock holder
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Tree      string    `json:"tree"`
	Operation string    `json:"operation,omitempty"`
}

// TreeLock serialises lifecycle operations (open, close, export) on one tree
// across processes.
type TreeLock struct {
	tree         string
	lockPath     string
	staleTimeout time.Duration
	info         *LockInfo
}

// FileName returns the lock file name of a tree. Names are derived from the
// absolute root so two spellings of one path share a lock.
func FileName(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return "tree-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(root))).String() + ".lock"
}

// NewTreeLock creates a lock for root stored in lockDir
func NewTreeLock(lockDir, root string) (*TreeLock, error) {
	if lockDir == "" {
		return nil, fmt.Errorf("lock directory cannot be empty")
	}
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &TreeLock{
		tree:         root,
		lockPath:     filepath.Join(lockDir, FileName(root)),
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// SetStaleTimeout sets the duration after which a foreign-host lock is considered stale
func (l *TreeLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Path returns the lock file path
func (l *TreeLock) Path() string {
	return l.lockPath
}

// Acquire takes the lock for operation. Re-acquiring a lock this instance
// already holds only relabels it.
func (l *TreeLock) Acquire(operation string) error {
	if l.info != nil {
		existing, err := l.readLockInfo()
		if err == nil && l.isHeldByThisInstance(existing) {
			existing.Operation = operation
			if err := l.writeLockInfo(existing); err != nil {
				return err
			}
			// Keep l.info in step with the file or Release reports a theft
			l.info.Operation = operation
			return nil
		}
	}

	existing, err := l.readLockInfo()
	if err == nil {
		if !l.isStale(existing) {
			return &LockError{Holder: existing, Reason: "tree is busy"}
		}
		if err := os.Remove(l.lockPath); err != nil {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	info := &LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now(),
		Tree:      l.tree,
		Operation: operation,
	}

	// O_EXCL makes creation the point of acquisition
	file, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			// The holder may still be writing its info
			holder, _ := l.readLockInfo()
			return &LockError{Holder: holder, Reason: "tree was locked during acquisition"}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(info); err != nil {
		os.Remove(l.lockPath)
		return fmt.Errorf("failed to write lock info: %w", err)
	}

	l.info = info
	return nil
}

// Release releases the lock
func (l *TreeLock) Release() error {
	if l.info == nil {
		return nil
	}

	existing, err := l.readLockInfo()
	if err != nil {
		l.info = nil
		return nil // already gone
	}

	if !l.isHeldByThisInstance(existing) {
		l.info = nil
		return fmt.Errorf("lock on %s was taken over by PID %d", l.tree, existing.PID)
	}

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	l.info = nil
	return nil
}

// IsLocked checks if a live lock exists
func (l *TreeLock) IsLocked() bool {
	info, err := l.readLockInfo()
	if err != nil {
		return false
	}
	return !l.isStale(info)
}

// GetHolder returns information about the current lock holder
func (l *TreeLock) GetHolder() (*LockInfo, error) {
	info, err := l.readLockInfo()
	if err != nil {
		return nil, err
	}
	if l.isStale(info) {
		return nil, fmt.Errorf("lock is stale")
	}
	return info, nil
}

// ForceRelease removes the lock file whoever holds it
func (l *TreeLock) ForceRelease() error {
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.info = nil
	return nil
}

func (l *TreeLock) readLockInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &info, nil
}

func (l *TreeLock) writeLockInfo(info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.lockPath, data, 0644)
}

// isStale reports a lock whose process is gone. Locks from another host
// cannot be probed and expire after staleTimeout instead.
func (l *TreeLock) isStale(info *LockInfo) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !processExists(info.PID)
	}
	return time.Since(info.StartTime) > l.staleTimeout
}

func (l *TreeLock) isHeldByThisInstance(info *LockInfo) bool {
	if l.info == nil {
		return false
	}
	hostname, _ := os.Hostname()
	return info.PID == os.Getpid() &&
		info.Hostname == hostname &&
		l.info.StartTime.Equal(info.StartTime) &&
		l.info.Operation == info.Operation
}

// LockError is returned when another live process holds the tree.
// It matches domain.ErrTreeBusy.
type LockError struct {
	Holder *LockInfo
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("cannot lock %s: %s (held by PID %d on %s since %s, operation: %s)",
			e.Holder.Tree,
			e.Reason,
			e.Holder.PID,
			e.Holder.Hostname,
			e.Holder.StartTime.Format(time.RFC3339),
			e.Holder.Operation,
		)
	}
	return fmt.Sprintf("cannot lock tree: %s", e.Reason)
}

func (e *LockError) Unwrap() error {
	return domain.ErrTreeBusy
}

// IsLockError checks if an error is a LockError
func IsLockError(err error) bool {
	_, ok := err.(*LockError)
	return ok
}
