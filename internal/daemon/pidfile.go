package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PIDFileName is the watcher PID file inside the state directory
const PIDFileName = "watch.pid"

// ErrNotRunning is returned when no PID file exists
var ErrNotRunning = errors.New("watcher is not running")

// Record is what a running watcher publishes about itself
type Record struct {
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
	Trees   []string  `json:"trees"`
}

// PIDFile manages the watcher process ID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PID file manager
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// PIDPath returns the PID file path inside stateDir, creating the directory
func PIDPath(stateDir string) (string, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(stateDir, PIDFileName), nil
}

// Path returns the file location
func (p *PIDFile) Path() string {
	return p.path
}

// Write publishes the current process as the watcher of trees.
// A PID file left by a dead process is replaced.
func (p *PIDFile) Write(trees []string) error {
	if _, err := os.Stat(p.path); err == nil {
		if running, _ := p.IsRunning(); running {
			return fmt.Errorf("watcher is already running (PID file exists: %s)", p.path)
		}
		os.Remove(p.path)
	}

	data, err := json.MarshalIndent(Record{
		PID:     os.Getpid(),
		Started: time.Now(),
		Trees:   trees,
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(p.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read returns the published record
func (p *PIDFile) Read() (*Record, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(content, &rec); err != nil || rec.PID <= 0 {
		return nil, fmt.Errorf("invalid PID file: %s", p.path)
	}
	return &rec, nil
}

// Remove removes the PID file
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks if the process in the PID file is alive
func (p *PIDFile) IsRunning() (bool, error) {
	rec, err := p.Read()
	if err != nil {
		return false, err
	}
	return isProcessRunning(rec.PID), nil
}

// Signal asks the watcher to shut down; it flushes and re-encrypts before exiting
func (p *PIDFile) Signal() error {
	rec, err := p.Read()
	if err != nil {
		return err
	}
	return stopProcess(rec.PID)
}
