// Package mysqlstore is the MySQL/MariaDB backend for storage.Store,
// using go-sql-driver/mysql — a dependency the teacher's own
// internal/storage/dolt package carries for Dolt (which speaks the MySQL
// wire protocol), reused here directly against a real MySQL server
// instead of vendoring an embedded SQL engine.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlstore"
)

type dialect struct{}

func (dialect) Name() string           { return "mysql" }
func (dialect) AutoIncrementPK() string { return "BIGINT PRIMARY KEY AUTO_INCREMENT" }
func (dialect) TextType() string       { return "TEXT" }
func (dialect) JSONType() string       { return "JSON" }
func (dialect) BeginWriteSQL() string  { return "" } // plain BeginTx; isolation comes from the session

// MySQL error numbers: 1062 duplicate entry, 1213 deadlock found, 1205
// lock wait timeout. See the driver's own errors.go for the full table.
const (
	errDuplicateEntry   = 1062
	errDeadlockFound    = 1213
	errLockWaitTimeout  = 1205
)

func (dialect) IsUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == errDuplicateEntry
	}
	return false
}

func (dialect) IsRetryable(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == errDeadlockFound || mysqlErr.Number == errLockWaitTimeout
	}
	return false
}

func (d dialect) Schema() string { return sqlstore.Schema(d) }

// Store wraps sqlstore.Base with a MySQL connection.
type Store struct {
	*sqlstore.Base
}

// Open connects to a MySQL/MariaDB server at dsn (go-sql-driver/mysql
// DSN syntax, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true") and
// applies the schema. parseTime=true is required in dsn so DATETIME
// columns scan into time.Time the same way modernc.org/sqlite's
// driver.Valuer does.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysqlstore: ping: %w", err)
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
