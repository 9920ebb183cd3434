// ABOUTME: SQLite implementation of the Registry using modernc.org/sqlite
// ABOUTME: Creates its schema on open and runs in WAL mode

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/wardlink/internal/session"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteRegistry implements Registry on a SQLite database file.
type SQLiteRegistry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRegistry opens or creates the registry at path. Parent
// directories are created if needed.
func NewSQLiteRegistry(path string, logger *slog.Logger) (*SQLiteRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry")

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	if path == MemoryPath {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	r := &SQLiteRegistry{db: db, logger: logger}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("registry opened", "path", path)
	return r, nil
}

func (r *SQLiteRegistry) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS resources (
			resource_id          TEXT PRIMARY KEY,
			coordinator_identity TEXT NOT NULL DEFAULT '',
			coordinator_address  TEXT NOT NULL DEFAULT '',
			updated_at           TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS requesters (
			resource_id TEXT NOT NULL,
			identity    TEXT NOT NULL,
			address     TEXT NOT NULL,
			added_at    TEXT NOT NULL,
			PRIMARY KEY (resource_id, identity),
			FOREIGN KEY (resource_id) REFERENCES resources(resource_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_requesters_identity ON requesters(identity);
	`
	_, err := r.db.Exec(schema)
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// AssignCoordinator implements Registry.
func (r *SQLiteRegistry) AssignCoordinator(ctx context.Context, resourceID string, c session.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resources (resource_id, coordinator_identity, coordinator_address, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			coordinator_identity = excluded.coordinator_identity,
			coordinator_address  = excluded.coordinator_address,
			updated_at           = excluded.updated_at
	`, resourceID, c.Identity, c.Address, now())
	if err != nil {
		return fmt.Errorf("assigning coordinator to %s: %w", resourceID, err)
	}
	r.logger.Debug("coordinator assigned", "resource", resourceID, "coordinator", c.Identity)
	return nil
}

// UnassignCoordinator implements Registry.
func (r *SQLiteRegistry) UnassignCoordinator(ctx context.Context, resourceID string, c session.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE resources
		SET coordinator_identity = '', coordinator_address = '', updated_at = ?
		WHERE resource_id = ? AND coordinator_identity = ?
	`, now(), resourceID, c.Identity)
	if err != nil {
		return fmt.Errorf("unassigning coordinator from %s: %w", resourceID, err)
	}
	return nil
}

// AddRequester implements Registry.
func (r *SQLiteRegistry) AddRequester(ctx context.Context, resourceID string, c session.Contact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resources (resource_id, updated_at) VALUES (?, ?)
		ON CONFLICT(resource_id) DO NOTHING
	`, resourceID, ts); err != nil {
		return fmt.Errorf("creating resource %s: %w", resourceID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO requesters (resource_id, identity, address, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id, identity) DO NOTHING
	`, resourceID, c.Identity, c.Address, ts); err != nil {
		return fmt.Errorf("adding requester %s to %s: %w", c.Identity, resourceID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	r.logger.Debug("requester added", "resource", resourceID, "requester", c.Identity)
	return nil
}

// RemoveRequester implements Registry.
func (r *SQLiteRegistry) RemoveRequester(ctx context.Context, identity string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM requesters WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("removing requester %s: %w", identity, err)
	}
	n, _ := res.RowsAffected()
	r.logger.Debug("requester removed", "requester", identity, "resources", n)
	return nil
}

// Coordinator implements Registry.
func (r *SQLiteRegistry) Coordinator(ctx context.Context, resourceID string) (session.Contact, error) {
	var c session.Contact
	err := r.db.QueryRowContext(ctx, `
		SELECT coordinator_identity, coordinator_address FROM resources WHERE resource_id = ?
	`, resourceID).Scan(&c.Identity, &c.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Contact{}, ErrNotFound
	}
	if err != nil {
		return session.Contact{}, fmt.Errorf("looking up coordinator of %s: %w", resourceID, err)
	}
	if c.IsZero() {
		return session.Contact{}, ErrNotFound
	}
	return c, nil
}

// Requesters implements Registry. Contacts come back in the order they
// were added.
func (r *SQLiteRegistry) Requesters(ctx context.Context, resourceID string) ([]session.Contact, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM resources WHERE resource_id = ?`, resourceID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up resource %s: %w", resourceID, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT identity, address FROM requesters
		WHERE resource_id = ?
		ORDER BY rowid
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("listing requesters of %s: %w", resourceID, err)
	}
	defer rows.Close()

	contacts := []session.Contact{}
	for rows.Next() {
		var c session.Contact
		if err := rows.Scan(&c.Identity, &c.Address); err != nil {
			return nil, fmt.Errorf("scanning requester: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Close closes the database.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}
