// Package sqlstore holds the SQL business logic shared by every backend.
// Every statement here uses "?" placeholders and only the column/table
// vocabulary in schema.go, so sqlitestore and mysqlstore need nothing
// beyond a *sql.DB and a storage.Dialect to satisfy storage.Store.
// Grounded on the teacher's internal/storage/sqlite and
// internal/storage/dolt packages, which likewise share a SQL-shaped
// business-logic layer across backends behind a dialect-ish seam.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/txretry"
)

// Base implements every storage.Store method against a *sql.DB and a
// storage.Dialect. Concrete backends embed it and add Close().
type Base struct {
	DB      *sql.DB
	Dialect storage.Dialect
}

// NewBase opens no connection itself (the caller already called
// sql.Open with the right driver); it just wires db+dialect together and
// applies the schema.
func NewBase(db *sql.DB, dialect storage.Dialect) (*Base, error) {
	if _, err := db.Exec(dialect.Schema()); err != nil {
		return nil, fmt.Errorf("sqlstore: applying schema: %w", err)
	}
	return &Base{DB: db, Dialect: dialect}, nil
}

func (b *Base) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return txretry.Do(ctx, b.DB, b.Dialect.BeginWriteSQL(), b.Dialect.IsRetryable, fn)
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func intToBool(v int64) bool { return v != 0 }

func nowUTC() time.Time { return time.Now().UTC() }
