// Package sqlitestore is the pure-Go SQLite backend for storage.Store,
// grounded on the teacher's cmd/bd/migrate.go: a blank import of
// modernc.org/sqlite registered under the "sqlite" driver name, rather
// than the cgo-based mattn/go-sqlite3 the ecosystem also offers — the
// teacher's choice avoids a cgo build requirement, which matters just as
// much here.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlstore"
	_ "modernc.org/sqlite"
)

type dialect struct{}

func (dialect) Name() string            { return "sqlite" }
func (dialect) AutoIncrementPK() string  { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (dialect) TextType() string        { return "TEXT" }
func (dialect) JSONType() string        { return "TEXT" }
func (dialect) BeginWriteSQL() string   { return "BEGIN IMMEDIATE" }

func (dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func (dialect) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database table is locked")
}

func (d dialect) Schema() string { return sqlstore.Schema(d) }

// Store wraps sqlstore.Base with a SQLite connection opened via
// modernc.org/sqlite.
type Store struct {
	*sqlstore.Base
}

// Open creates (if needed) and opens a SQLite database file at dsn —
// typically a filesystem path, or ":memory:" for ephemeral/test stores —
// and applies the schema. Grounded on the teacher's migrate.go Open
// path: busy_timeout pragma plus WAL journal mode for concurrent
// readers alongside the single writer txretry.Do serializes.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite only tolerates one writer at a time; txretry handles the rest.

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: foreign_keys: %w", err)
	}

	base, err := sqlstore.NewBase(db, dialect{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Base: base}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

var _ storage.Store = (*Store)(nil)
