// Package backlinks stores which records reference which blobs.
package backlinks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lucasew/blobpurge/internal/backlinks/migrations"
	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/lucasew/blobpurge/internal/purge"
	_ "modernc.org/sqlite"
)

// Link is one record referencing one blob.
type Link struct {
	Key      string    `json:"key"`
	Author   string    `json:"author"`
	Dest     string    `json:"dest"`
	Asserted time.Time `json:"asserted"`
}

// Index is a SQLite backed backlink index.
type Index struct {
	db *sql.DB
}

var _ purge.Backlinks = (*Index)(nil)

// Open opens the index at path and brings its schema up to date.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		errutil.Close(db, "Failed to close database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		errutil.Close(db, "Failed to close database")
		return nil, err
	}
	return &Index{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Debug("Backlink index schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("Backlink index schema migrated")
	return nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Insert stores links in a single transaction, replacing duplicates.
func (i *Index) Insert(ctx context.Context, links []Link) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO links (msg_key, author, dest, asserted_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer errutil.Close(stmt, "Failed to close statement")

	for _, l := range links {
		if _, err := stmt.ExecContext(ctx, l.Key, l.Author, l.Dest, l.Asserted.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert %s -> %s: %w", l.Key, l.Dest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReadReferencing yields the records referencing dest, oldest asserted first.
// Rows are read lazily; stopping early releases the query.
func (i *Index) ReadReferencing(ctx context.Context, dest string) iter.Seq2[purge.Reference, error] {
	return func(yield func(purge.Reference, error) bool) {
		rows, err := i.db.QueryContext(ctx,
			"SELECT msg_key, author, asserted_at FROM links WHERE dest = ? ORDER BY asserted_at, msg_key", dest)
		if err != nil {
			yield(purge.Reference{}, fmt.Errorf("failed to query backlinks of %s: %w", dest, err))
			return
		}
		defer errutil.Close(rows, "Failed to close rows")

		for rows.Next() {
			var ref purge.Reference
			var asserted int64
			if err := rows.Scan(&ref.Key, &ref.Author, &asserted); err != nil {
				yield(purge.Reference{}, fmt.Errorf("failed to scan backlink: %w", err))
				return
			}
			ref.Asserted = time.UnixMilli(asserted)
			if !yield(ref, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(purge.Reference{}, fmt.Errorf("failed to read backlinks of %s: %w", dest, err))
		}
	}
}

// Count returns the number of links pointing at dest.
func (i *Index) Count(ctx context.Context, dest string) (int, error) {
	var n int
	err := i.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM links WHERE dest = ?", dest).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backlinks of %s: %w", dest, err)
	}
	return n, nil
}
