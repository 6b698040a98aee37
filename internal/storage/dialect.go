package storage

// Dialect isolates the handful of places the two backends (sqlitestore,
// mysqlstore) must differ: DDL syntax, retry/uniqueness error
// classification, and how a write transaction is opened. Everything
// else — every DML statement in internal/storage/sqlstore — is written
// once, using "?" placeholders, which both modernc.org/sqlite and
// go-sql-driver/mysql accept identically.
type Dialect interface {
	// Name identifies the dialect for logging ("sqlite", "mysql").
	Name() string

	// AutoIncrementPK returns the column-definition fragment for an
	// auto-incrementing integer primary key ("id").
	AutoIncrementPK() string

	// TextType and JSONType return the column type to use for large text
	// and JSON-blob columns respectively.
	TextType() string
	JSONType() string

	// BeginWriteSQL returns the statement that starts a write transaction
	// with the strongest isolation the backend offers ("BEGIN IMMEDIATE"
	// for SQLite; "" to fall back to a plain BeginTx for MySQL, which
	// gets its isolation level from the connection's session settings).
	BeginWriteSQL() string

	// IsUniqueViolation reports whether err is a unique-constraint
	// violation, used by the C1 insert-or-lookup path to fall back to a
	// lookup after a racing insert.
	IsUniqueViolation(err error) bool

	// IsRetryable reports whether err is a transient
	// serialization/lock-timeout failure that internal/storage/txretry
	// should retry.
	IsRetryable(err error) bool

	// Schema returns the full DDL to create every table, idempotently
	// (CREATE TABLE IF NOT EXISTS).
	Schema() string
}
