package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/submitguard/internal/domain"
)

// DatabaseName is the state file created inside the state directory
const DatabaseName = "submitguard.db"

// Session statuses
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusFailed = "failed"
)

// Manager persists the set of trees that were protected when opened, and the
// history of sessions on them.
type Manager struct {
	db *sql.DB
}

// ManagedTree is a tree that must be re-encrypted when its session closes
type ManagedTree struct {
	Root    string
	Name    string
	AddedAt time.Time
}

// SessionRecord represents one open/close cycle of a tree
type SessionRecord struct {
	ID       string
	Root     string
	Actor    string
	OpenedAt time.Time
	ClosedAt time.Time // zero while open
	Status   string    // "open", "closed", "failed"
	Files    int       // files decrypted on open
	Error    string
}

// NewManager creates a new state manager
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS managed_trees (
		root TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		added_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		actor TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		status TEXT NOT NULL,
		files INTEGER DEFAULT 0,
		error TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_root_time ON sessions(root, opened_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// AddManaged puts root in the managed set. Adding a member again keeps the
// original entry.
func (m *Manager) AddManaged(root, name string) error {
	_, err := m.db.Exec(
		`INSERT OR IGNORE INTO managed_trees (root, name, added_at) VALUES (?, ?, ?)`,
		root, name, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to add managed tree: %w", err)
	}
	return nil
}

// RemoveManaged drops root from the managed set; removing a non-member is not an error
func (m *Manager) RemoveManaged(root string) error {
	if _, err := m.db.Exec(`DELETE FROM managed_trees WHERE root = ?`, root); err != nil {
		return fmt.Errorf("failed to remove managed tree: %w", err)
	}
	return nil
}

// IsManaged reports whether root is in the managed set
func (m *Manager) IsManaged(root string) (bool, error) {
	var n int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM managed_trees WHERE root = ?`, root).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query managed tree: %w", err)
	}
	return n > 0, nil
}

// ListManaged returns the managed set ordered by root
func (m *Manager) ListManaged() ([]ManagedTree, error) {
	rows, err := m.db.Query(`SELECT root, name, added_at FROM managed_trees ORDER BY root`)
	if err != nil {
		return nil, fmt.Errorf("failed to query managed trees: %w", err)
	}
	defer rows.Close()

	var trees []ManagedTree
	for rows.Next() {
		var t ManagedTree
		if err := rows.Scan(&t.Root, &t.Name, &t.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan managed tree: %w", err)
		}
		trees = append(trees, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating managed trees: %w", err)
	}
	return trees, nil
}

// BeginSession records an opened session and returns it with a fresh id
func (m *Manager) BeginSession(root string, actor domain.Actor, files int) (SessionRecord, error) {
	record := SessionRecord{
		ID:       uuid.NewString(),
		Root:     root,
		Actor:    actor.String(),
		OpenedAt: time.Now(),
		Status:   StatusOpen,
		Files:    files,
	}

	_, err := m.db.Exec(
		`INSERT INTO sessions (id, root, actor, opened_at, status, files) VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Root, record.Actor, record.OpenedAt, record.Status, record.Files,
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to save session: %w", err)
	}
	return record, nil
}

// EndSession marks a session closed, or failed when cause is not nil
func (m *Manager) EndSession(id string, cause error) error {
	status := StatusClosed
	msg := ""
	if cause != nil {
		status = StatusFailed
		msg = cause.Error()
	}

	res, err := m.db.Exec(
		`UPDATE sessions SET closed_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now(), status, msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetSession returns one session by id
func (m *Manager) GetSession(id string) (*SessionRecord, error) {
	row := m.db.QueryRow(sessionQuery+` WHERE id = ?`, id)
	record, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetHistory retrieves the most recent sessions of a tree
func (m *Manager) GetHistory(root string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	return m.querySessions(sessionQuery+` WHERE root = ? ORDER BY opened_at DESC LIMIT ?`, root, limit)
}

// GetAllHistory retrieves the most recent sessions of every tree
func (m *Manager) GetAllHistory(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	return m.querySessions(sessionQuery+` ORDER BY opened_at DESC LIMIT ?`, limit)
}

const sessionQuery = `
	SELECT id, root, actor, opened_at, closed_at, status, files, error
	FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		record   SessionRecord
		closedAt sql.NullTime
	)
	err := row.Scan(
		&record.ID,
		&record.Root,
		&record.Actor,
		&record.OpenedAt,
		&closedAt,
		&record.Status,
		&record.Files,
		&record.Error,
	)
	if err != nil {
		return SessionRecord{}, err
	}
	if closedAt.Valid {
		record.ClosedAt = closedAt.Time
	}
	return record, nil
}

func (m *Manager) querySessions(query string, args ...any) ([]SessionRecord, error) {
	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
