// Package ledger persists orphaned source files in SQLite. An orphan is the
// copy a transfer leaves behind in its origin tier when the final source
// delete fails; the ledger lets a later reconcile pass remove it.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"attic/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// Ledger is a SQLite backed storage.OrphanLedger.
type Ledger struct {
	db *sql.DB
}

// initSchema applies the embedded migrations in lexicographical order. Each
// file runs once; applied names are kept in schema_migrations.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var applied int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, d.Name()).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", d.Name(), err)
		}
		if applied > 0 {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", d.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, d.Name()); err != nil {
			return fmt.Errorf("mark migration %s: %w", d.Name(), err)
		}
		return tx.Commit()
	})
}

// Open opens (creating if needed) the ledger database at dbPath.
func Open(ctx context.Context, dbPath string) (*Ledger, error) {
	if dbPath == "" {
		return nil, errors.New("ledger path must not be empty")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection serialises writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores an orphan. Recording the same path twice refreshes the
// cause and timestamp of the existing row.
func (l *Ledger) Record(ctx context.Context, o storage.Orphan) error {
	recordedAt := o.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO orphans (tier, destination, name, path, cause, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			tier = excluded.tier,
			destination = excluded.destination,
			name = excluded.name,
			cause = excluded.cause,
			recorded_at = excluded.recorded_at`,
		o.Tier.String(), destinationName(o.Destination), o.Name.String(), o.Path, o.Cause, recordedAt)
	if err != nil {
		return fmt.Errorf("record orphan %s: %w", o.Path, err)
	}
	return nil
}

// List returns every recorded orphan, oldest first.
func (l *Ledger) List(ctx context.Context) ([]storage.Orphan, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, tier, destination, name, path, cause, recorded_at FROM orphans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	orphans := make([]storage.Orphan, 0)
	for rows.Next() {
		var (
			o        storage.Orphan
			tierName string
			destName string
			rawName  string
		)
		if err := rows.Scan(&o.ID, &tierName, &destName, &rawName, &o.Path, &o.Cause, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}

		if o.Tier, err = storage.ParseTier(tierName); err != nil {
			return nil, fmt.Errorf("orphan %d: %w", o.ID, err)
		}
		// Rows written before destinations were tracked have none; reconcile
		// keeps their files.
		if destName != "" {
			if o.Destination, err = storage.ParseTier(destName); err != nil {
				return nil, fmt.Errorf("orphan %d: %w", o.ID, err)
			}
		}
		if o.Name, err = storage.ParseFileName(rawName); err != nil {
			return nil, fmt.Errorf("orphan %d: %w", o.ID, err)
		}
		orphans = append(orphans, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	return orphans, nil
}

// Forget removes the orphan with the given id. Unknown ids are ignored.
func (l *Ledger) Forget(ctx context.Context, id int64) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM orphans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("forget orphan %d: %w", id, err)
	}
	return nil
}

// ForgetPath removes the orphan recorded for path, if any.
func (l *Ledger) ForgetPath(ctx context.Context, path string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM orphans WHERE path = ?`, path); err != nil {
		return fmt.Errorf("forget orphan %s: %w", path, err)
	}
	return nil
}

func destinationName(t storage.Tier) string {
	for _, tier := range storage.Tiers {
		if tier == t {
			return t.String()
		}
	}
	return ""
}
