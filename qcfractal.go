// Package qcfractal provides a minimal public API for embedding the
// compute-coordination kernel into another Go program without going
// through cmd/qcfractal-server.
//
// Most callers that just need queue/record access should construct a
// storage.Store directly; this package exports only the names an
// embedder typically needs re-exported at the module root.
package qcfractal

import (
	"context"

	"github.com/MolSSI/QCFractal-sub003/internal/config"
	"github.com/MolSSI/QCFractal-sub003/internal/orchestrator"
	"github.com/MolSSI/QCFractal-sub003/internal/service"
	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/mysqlstore"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlitestore"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// Core domain types for embedders that want to build records/molecules
// without importing internal/types directly.
type (
	Molecule               = types.Molecule
	KeywordSet             = types.KeywordSet
	QCSpecification        = types.QCSpecification
	OptimizationSpecification = types.OptimizationSpecification
	Record                 = types.Record
	RecordType              = types.RecordType
	Status                  = types.Status
	Manager                 = types.Manager
	Dataset                 = types.Dataset
)

// Status constants (spec §4.5).
const (
	StatusWaiting   = types.StatusWaiting
	StatusRunning   = types.StatusRunning
	StatusComplete  = types.StatusComplete
	StatusError     = types.StatusError
	StatusCancelled = types.StatusCancelled
	StatusInvalid   = types.StatusInvalid
	StatusDeleted   = types.StatusDeleted
)

// RecordType constants (spec §3/§6).
const (
	RecordSinglepoint      = types.RecordSinglepoint
	RecordOptimization     = types.RecordOptimization
	RecordTorsionDrive     = types.RecordTorsionDrive
	RecordGridOptimization = types.RecordGridOptimization
	RecordManybody         = types.RecordManybody
	RecordReaction         = types.RecordReaction
	RecordNEB              = types.RecordNEB
)

// Store is the full persistence contract (C1-C8, spec §4/§6).
type Store = storage.Store

// Config is the layered runtime configuration (spec §6).
type Config = config.Config

// Orchestrator drives C7: service ticks, the heartbeat reaper, the
// stale-record sweep, and the internal job runner.
type Orchestrator = orchestrator.Orchestrator

// Engine is C6: the per-service-type iteration driver.
type Engine = service.Engine

// NewSQLiteStore opens (creating if needed) the pure-Go SQLite backend
// at dsn, applying the schema. dsn may be a filesystem path or
// ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, dsn string) (Store, error) {
	return sqlitestore.Open(ctx, dsn)
}

// NewMySQLStore connects to a MySQL/MariaDB server at dsn
// (go-sql-driver/mysql DSN syntax), applying the schema.
func NewMySQLStore(ctx context.Context, dsn string) (Store, error) {
	return mysqlstore.Open(ctx, dsn)
}

// NewOrchestrator builds a C7 orchestrator against store, using cfg (or
// package defaults if cfg is nil).
func NewOrchestrator(store Store, cfg *Config) *Orchestrator {
	return orchestrator.New(store, cfg)
}

// LoadConfig reads the layered configuration from path (spec §6); a
// missing file yields defaults rather than an error.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the zero-config defaults every LoadConfig falls
// back to when no file is present.
func DefaultConfig() *Config {
	return config.Defaults()
}
