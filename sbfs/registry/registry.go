package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	internal "github.com/vfskit/sandboxfs/sbfs"
	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
)

// Record describes one registered sandbox filesystem, the library's
// equivalent of a browser's per-origin filesystem grant.
type Record struct {
	ID        uuid.UUID
	Name      string
	Kind      string
	RootPath  string
	Quota     int64 // bytes; 0 means unlimited
	Usage     int64 // bytes currently accounted against the quota
	CreatedAt time.Time
}

// Registry tracks every provisioned sandbox and its quota accounting in a
// central libsql database.
type Registry struct {
	db *sql.DB
}

// New opens or initializes the registry database at the given DSN.
func New(dsn string) (*Registry, error) {
	if dsn == "" {
		dsn = internal.DefaultRegistryDSN
	}

	db, err := sql.Open(internal.DefaultRegistryDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	r := &Registry{db: db}
	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("registry database ready", "dsn", dsn)
	return r, nil
}

// init sets up the registry tables.
func (r *Registry) init() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS filesystems (
		id TEXT PRIMARY KEY UNIQUE,
		name TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL,
		root_path TEXT NOT NULL,
		quota INTEGER NOT NULL DEFAULT 0,
		usage INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create filesystems table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register adds a new filesystem to the registry and returns its record.
func (r *Registry) Register(ctx context.Context, name, kind, rootPath string, quota int64) (*Record, error) {
	rec := &Record{
		ID:        uuid.New(),
		Name:      name,
		Kind:      kind,
		RootPath:  rootPath,
		Quota:     quota,
		CreatedAt: time.Now(),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be a no-op if transaction is committed

	result, err := tx.ExecContext(ctx,
		"INSERT INTO filesystems (id, name, kind, root_path, quota) VALUES (?, ?, ?, ?, ?)",
		rec.ID.String(), rec.Name, rec.Kind, rec.RootPath, rec.Quota)
	if err != nil {
		return nil, fmt.Errorf("failed to insert filesystem %s: %w", name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return nil, fmt.Errorf("expected 1 row affected, got %d", rowsAffected)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}

	slog.Debug("registered filesystem", "name", name, "kind", kind, "quota", quota)
	return rec, nil
}

// GetByName looks up a registered filesystem by its name.
func (r *Registry) GetByName(ctx context.Context, name string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, kind, root_path, quota, usage, created_at FROM filesystems WHERE name = ?", name)
	return scanRecord(row, name)
}

// Get looks up a registered filesystem by its ID.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, kind, root_path, quota, usage, created_at FROM filesystems WHERE id = ?", id.String())
	return scanRecord(row, id.String())
}

// List returns all registered filesystems.
func (r *Registry) List(ctx context.Context) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, kind, root_path, quota, usage, created_at FROM filesystems ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list filesystems: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows, "")
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Unregister removes a filesystem record.
func (r *Registry) Unregister(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM filesystems WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to unregister filesystem: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("filesystem %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// Usage returns the bytes currently accounted against a filesystem's quota.
func (r *Registry) Usage(ctx context.Context, id uuid.UUID) (int64, error) {
	var usage int64
	err := r.db.QueryRowContext(ctx,
		"SELECT usage FROM filesystems WHERE id = ?", id.String()).Scan(&usage)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("filesystem %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return usage, nil
}

// Adjust applies a usage delta for a filesystem. A positive delta that would
// push usage past a non-zero quota fails with ErrQuotaExceeded and leaves the
// accounting untouched. Negative deltas always succeed and clamp at zero.
func (r *Registry) Adjust(ctx context.Context, id uuid.UUID, delta int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var usage, quota int64
	err = tx.QueryRowContext(ctx,
		"SELECT usage, quota FROM filesystems WHERE id = ?", id.String()).Scan(&usage, &quota)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("filesystem %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read quota accounting: %w", err)
	}

	next := usage + delta
	if next < 0 {
		next = 0
	}
	if delta > 0 && quota > 0 && next > quota {
		return fmt.Errorf("writing %s would exceed the %s quota (%s in use): %w",
			humanize.Bytes(uint64(delta)), humanize.Bytes(uint64(quota)), humanize.Bytes(uint64(usage)),
			common.ErrQuotaExceeded)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE filesystems SET usage = ? WHERE id = ?", next, id.String()); err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}

	return tx.Commit()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, key string) (*Record, error) {
	var (
		rec       Record
		idStr     string
		createdAt time.Time
	)
	err := s.Scan(&idStr, &rec.Name, &rec.Kind, &rec.RootPath, &rec.Quota, &rec.Usage, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filesystem %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan filesystem record: %w", err)
	}

	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt filesystem id %q: %w", idStr, err)
	}
	rec.CreatedAt = createdAt
	return &rec, nil
}
