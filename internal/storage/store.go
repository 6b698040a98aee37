// Package storage defines the backend-agnostic persistence contract for
// the compute-coordination kernel (spec §4, §6). Grounded on the
// teacher's internal/storage/provider.go: a small interface plus a thin
// adapter, with multiple concrete backends (sqlite, dolt, ephemeral,
// memory in the teacher) living behind it.
package storage

import (
	"context"
	"time"

	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// MoleculeInput is one element of an insert_molecules batch: either a
// brand-new payload or a reference to an already-known id (spec §4.1
// "mixed batches").
type MoleculeInput struct {
	Molecule *types.Molecule // nil if ExistingID is set
	ExistingID int64         // 0 if Molecule is set
}

// RecordInput is one element of an add_records batch (spec §4.2): the
// molecule id(s) the record computes over, keyed by role since
// reactions/manybody need more than one molecule.
type RecordInput struct {
	MoleculeIDs []int64 // singlepoint/optimization: len 1; reaction/manybody/torsiondrive may use more
	InputKey    string  // canonical key distinguishing this input set for find_existing lookups
}

// Store is the full persistence contract. Every multi-row mutation
// documented in spec §4/§5 is expected to run inside a single
// transaction; concrete backends (sqlitestore, mysqlstore) are
// responsible for that guarantee, typically via internal/storage/txretry.
// Rows are locked in the order each method touches them; ids are not
// sorted first.
type Store interface {
	Content
	Records
	TaskQueue
	Managers
	StatusEngine
	Services
	Datasets
	Jobs

	// Close releases the underlying connection pool.
	Close() error
}

// Content is C1: the content-addressed store.
type Content interface {
	InsertMolecules(ctx context.Context, inputs []MoleculeInput) ([]types.InsertResult, types.InsertMetadata, error)
	InsertKeywords(ctx context.Context, inputs []*types.KeywordSet) ([]types.InsertResult, types.InsertMetadata, error)
	InsertQCSpecifications(ctx context.Context, inputs []*types.QCSpecification) ([]types.InsertResult, types.InsertMetadata, error)
	InsertOptimizationSpecifications(ctx context.Context, inputs []*types.OptimizationSpecification) ([]types.InsertResult, types.InsertMetadata, error)
	InsertTorsionDriveSpecifications(ctx context.Context, inputs []*types.TorsionDriveSpecification) ([]types.InsertResult, types.InsertMetadata, error)
	InsertGridOptimizationSpecifications(ctx context.Context, inputs []*types.GridOptimizationSpecification) ([]types.InsertResult, types.InsertMetadata, error)
	InsertManybodySpecifications(ctx context.Context, inputs []*types.ManybodySpecification) ([]types.InsertResult, types.InsertMetadata, error)
	InsertReactionSpecifications(ctx context.Context, inputs []*types.ReactionSpecification) ([]types.InsertResult, types.InsertMetadata, error)
	InsertNEBSpecifications(ctx context.Context, inputs []*types.NEBSpecification) ([]types.InsertResult, types.InsertMetadata, error)

	GetMolecule(ctx context.Context, id int64) (*types.Molecule, error)

	// The Get*Specification accessors let a caller resolve the
	// specification a record references back into its typed form — the
	// read half of the content-addressed store, used by internal/service
	// to drive iteration off a record's specification_id.
	GetQCSpecification(ctx context.Context, id int64) (*types.QCSpecification, error)
	GetOptimizationSpecification(ctx context.Context, id int64) (*types.OptimizationSpecification, error)
	GetTorsionDriveSpecification(ctx context.Context, id int64) (*types.TorsionDriveSpecification, error)
	GetGridOptimizationSpecification(ctx context.Context, id int64) (*types.GridOptimizationSpecification, error)
	GetManybodySpecification(ctx context.Context, id int64) (*types.ManybodySpecification, error)
	GetReactionSpecification(ctx context.Context, id int64) (*types.ReactionSpecification, error)
	GetNEBSpecification(ctx context.Context, id int64) (*types.NEBSpecification, error)
}

// Records is C2: the record store.
type Records interface {
	// AddRecords creates or finds one record per input, per spec §4.2.
	// parentID links each created record as a child of a service record
	// (spec §4.6 dependent-record emission); nil for top-level submissions.
	AddRecords(ctx context.Context, recordType types.RecordType, specificationID int64,
		inputs []RecordInput, computeTag string, computePriority int, creator string, findExisting bool, parentID *int64) (types.InsertMetadata, []int64, error)

	GetRecords(ctx context.Context, ids []int64, proj types.Projection, missingOk bool) ([]*types.Record, error)

	QueryRecords(ctx context.Context, filter types.RecordFilter) ([]*types.Record, types.QueryPage, error)

	// GetLatestResult returns the most recent compute_history entry for
	// recordID — the manager-returned payload internal/service reads to
	// drive a service's update routine once a dependency completes.
	GetLatestResult(ctx context.Context, recordID int64) (*types.ComputeHistoryEntry, error)

	// CountComputeHistory returns how many record_compute_history rows
	// recordID has with the given error_type — the retry-attempt counter
	// internal/orchestrator's auto-reset sweep compares against
	// auto_reset.<error_type> (spec §4.7, §6).
	CountComputeHistory(ctx context.Context, recordID int64, errorType string) (int, error)

	// ChildRecordIDs returns the ids of records linked as children of
	// parentID (trajectory members, service dependencies, ...),
	// transitively if recursive is true. Used by delete/undelete cascade
	// (spec §4.5) and dataset fetch.
	ChildRecordIDs(ctx context.Context, parentID int64, recursive bool) ([]int64, error)

	// GetWaitingReason explains why a waiting record hasn't been claimed
	// (`get_waiting_reason`), by running the same program/tag eligibility
	// check ClaimTasks uses against every active manager without
	// claiming anything.
	GetWaitingReason(ctx context.Context, recordID int64) (types.WaitingReason, error)

	// AddRecordComment appends a free-text comment to recordID.
	AddRecordComment(ctx context.Context, recordID int64, username, comment string) error

	// GetRecordComments returns every comment attached to recordID, in
	// the order they were added.
	GetRecordComments(ctx context.Context, recordID int64) ([]types.RecordComment, error)
}

// TaskQueue is C3.
type TaskQueue interface {
	// ClaimTasks atomically marks up to limit eligible tasks unavailable,
	// transitions their records to running, and returns descriptors, in
	// the spec §4.3 sort order.
	ClaimTasks(ctx context.Context, managerName string, programs map[string]string, tags []string, limit int) ([]types.ClaimedTask, error)

	// ReturnResults processes one manager's batch return, keyed by
	// record id (not task id), returning a per-record-id error for
	// rejected entries (spec §4.3, §7).
	ReturnResults(ctx context.Context, managerName string, results map[int64]types.ResultEnvelope) (map[int64]error, error)

	// ResetAssigned transitions every running record attributed to the
	// named managers back to waiting (spec §4.3, used by the reaper).
	ResetAssigned(ctx context.Context, managerNames []string) (int, error)
}

// Managers is C4.
type Managers interface {
	ActivateManager(ctx context.Context, m *types.Manager) error
	Heartbeat(ctx context.Context, name string, counters types.ManagerCounters) error
	DeactivateManagers(ctx context.Context, names []string, modifiedBefore *time.Time) ([]string, error)
	QueryManagers(ctx context.Context, filter types.ManagerFilter) ([]*types.Manager, types.QueryPage, error)
	GetManager(ctx context.Context, name string) (*types.Manager, error)
}

// StatusOp names one C5 status-narrowing/reverting operation.
type StatusOp string

const (
	OpCancel       StatusOp = "cancel"
	OpUncancel     StatusOp = "uncancel"
	OpInvalidate   StatusOp = "invalidate"
	OpUninvalidate StatusOp = "uninvalidate"
	OpSoftDelete   StatusOp = "soft_delete"
	OpUndelete     StatusOp = "undelete"
	OpHardDelete   StatusOp = "hard_delete"
	OpReset        StatusOp = "reset"
)

// StatusEngine is C5.
type StatusEngine interface {
	// Transition applies op to every id, per-id error on refusal
	// (spec §7 StateConflict). deleteChildren only applies to
	// soft_delete/undelete.
	Transition(ctx context.Context, op StatusOp, ids []int64, deleteChildren bool) (map[int64]error, error)
}

// Services is the persistence surface C6 (internal/service) drives.
type Services interface {
	GetService(ctx context.Context, recordID int64) (*types.Record, error)

	// SaveServiceIteration atomically persists the result of one
	// iterate() call: new opaque state, the next dependency batch (or
	// unchanged if still waiting on the current batch), and an optional
	// terminal transition to complete/error (spec §4.6, §9: "no
	// in-memory caches may survive across ticks").
	SaveServiceIteration(ctx context.Context, recordID int64, newState []byte, dependencies []types.ServiceDependency, terminal *Status, outputs map[string]interface{}) error

	// ServicesDueForTick lists services in waiting/running ordered by
	// priority desc then modified asc, up to limit (spec §4.7).
	ServicesDueForTick(ctx context.Context, limit int) ([]int64, error)

	// RefreshDependencyStatuses re-reads the current status of every
	// dependency of recordID (spec §9: the service_dependency cache).
	RefreshDependencyStatuses(ctx context.Context, recordID int64) ([]types.ServiceDependency, error)
}

// Status is a thin alias so Services doesn't need to import types in
// call sites outside this package; kept identical to types.Status.
type Status = types.Status

// Datasets is C8.
type Datasets interface {
	CreateDataset(ctx context.Context, d *types.Dataset) (int64, error)
	AddDatasetEntries(ctx context.Context, datasetID int64, entries []types.DatasetEntry) (types.InsertMetadata, error)
	AddDatasetSpecifications(ctx context.Context, datasetID int64, specs []types.DatasetSpecification) (types.InsertMetadata, error)
	SubmitDataset(ctx context.Context, datasetID int64, specificationNames []string) (types.InsertMetadata, error)

	// AddDatasetEntriesFrom seeds destDatasetID's entries from another,
	// already-populated dataset (`add_entries_from`, spec §4.8).
	AddDatasetEntriesFrom(ctx context.Context, destDatasetID int64, req types.DatasetEntriesFromRequest) (types.InsertMetadata, error)

	DatasetStatus(ctx context.Context, datasetID int64) ([]types.DatasetStatusBreakdown, error)
	FetchDatasetRecords(ctx context.Context, datasetID int64, specificationName string) ([]types.DatasetRecordItem, error)
}

// Job is one row of the generic internal-job table (spec §4.7).
type Job struct {
	ID           int64
	UniqueName   string
	SerialGroup  string
	ScheduledFor time.Time
	Payload      []byte
	ClaimedBy    string
	Progress     string
	Cancelled    bool
}

// Jobs is the generic internal-job runner's persistence surface (C7).
type Jobs interface {
	ScheduleJob(ctx context.Context, uniqueName, serialGroup string, scheduledFor time.Time, payload []byte) (int64, error)
	ClaimDueJobs(ctx context.Context, claimant string, limit int) ([]Job, error)
	UpdateJobProgress(ctx context.Context, jobID int64, progress string) error
	CompleteJob(ctx context.Context, jobID int64) error
	CancelJob(ctx context.Context, uniqueName string) error
}
