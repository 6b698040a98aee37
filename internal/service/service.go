// Package service implements C6: the per-service-record iteration loop
// driven externally (by internal/orchestrator, C7) via Engine.Iterate.
// Grounded on the teacher's dependency-graph/blocked-issue computation
// (internal/storage/*/dependencies.go): a service's dependency list and
// its "not ready while any dependency is open" rule is the direct
// generalization of beads' "blocked while any blocks-dependency is
// open" rule, down to the refreshed per-dependency status cache
// (service_dependency table, mirroring blocked_issues_cache).
//
// Every iteration re-reads the record's state from storage and
// re-writes it atomically through SaveServiceIteration; no driver may
// hold state across calls to Iterate.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// Engine runs C6's iterate(record_id) against a storage.Store.
type Engine struct {
	Store storage.Store
}

// driver is the service-type-specific Startup/Update pair spec §4.6
// calls for. One driver exists per non-leaf types.RecordType.
type driver interface {
	// start builds the initial opaque state and first dependency batch
	// from the service's specification and seed molecule ids.
	start(ctx context.Context, store storage.Store, rec *types.Record) ([]byte, []types.ServiceDependency, error)

	// update consumes the now-resolved dependency batch and produces the
	// next iteration: either a finished result with outputs, or a new
	// state plus the next dependency batch.
	update(ctx context.Context, store storage.Store, rec *types.Record, state []byte, results []dependencyResult) (updateResult, error)
}

// dependencyResult pairs a resolved dependency with the compute result
// its record produced, if any.
type dependencyResult struct {
	RecordID int64
	Status   types.Status
	Result   *types.ComputeHistoryEntry
}

// updateResult is one driver.update outcome.
type updateResult struct {
	State        []byte
	Finished     bool
	Dependencies []types.ServiceDependency
	Outputs      map[string]interface{}
}

var drivers = map[types.RecordType]driver{
	types.RecordTorsionDrive:     torsionDriveDriver{},
	types.RecordGridOptimization: gridOptimizationDriver{},
	types.RecordManybody:         manybodyDriver{},
	types.RecordReaction:         reactionDriver{},
	types.RecordNEB:              nebDriver{},
}

// Iterate runs one step of C6 for recordID: Startup if the record is
// waiting, Progress (possibly culminating in an Update call) if running.
// Any other status means the record isn't this engine's concern right
// now and Iterate is a no-op.
func (e *Engine) Iterate(ctx context.Context, recordID int64) error {
	rec, err := e.Store.GetService(ctx, recordID)
	if err != nil {
		return fmt.Errorf("service: load record %d: %w", recordID, err)
	}
	d, ok := drivers[rec.RecordType]
	if !ok {
		return fmt.Errorf("service: no driver registered for record type %q", rec.RecordType)
	}

	switch rec.Status {
	case types.StatusWaiting:
		return e.startup(ctx, rec, d)
	case types.StatusRunning:
		return e.progress(ctx, rec, d)
	default:
		return nil
	}
}

// startup is spec §4.6 step 1: construct initial state, emit the first
// dependency batch, transition waiting->running.
func (e *Engine) startup(ctx context.Context, rec *types.Record, d driver) error {
	state, deps, err := d.start(ctx, e.Store, rec)
	if err != nil {
		return fmt.Errorf("service: startup record %d: %w", rec.ID, err)
	}
	running := types.StatusRunning
	if err := e.Store.SaveServiceIteration(ctx, rec.ID, state, deps, &running, nil); err != nil {
		return fmt.Errorf("service: save startup for record %d: %w", rec.ID, err)
	}
	return nil
}

// progress is spec §4.6 steps 2-3: refresh dependency statuses, decide
// whether the service is ready to advance, and if so run the
// type-specific update routine.
func (e *Engine) progress(ctx context.Context, rec *types.Record, d driver) error {
	deps, err := e.Store.RefreshDependencyStatuses(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("service: refresh dependencies for record %d: %w", rec.ID, err)
	}

	var pending, failed bool
	for _, dep := range deps {
		switch dep.Status {
		case types.StatusWaiting, types.StatusRunning:
			pending = true
		case types.StatusError, types.StatusCancelled, types.StatusInvalid, types.StatusDeleted:
			failed = true
		}
	}
	if pending {
		return nil // not ready
	}
	if failed {
		outputs := map[string]interface{}{"error": fmt.Sprintf("service %d failed: a dependency did not complete successfully", rec.ID)}
		errStatus := types.StatusError
		if err := e.Store.SaveServiceIteration(ctx, rec.ID, rec.Service.ServiceState, deps, &errStatus, outputs); err != nil {
			return fmt.Errorf("service: save failure for record %d: %w", rec.ID, err)
		}
		return nil
	}

	results := make([]dependencyResult, len(deps))
	for i, dep := range deps {
		res, rerr := e.Store.GetLatestResult(ctx, dep.RecordID)
		if rerr != nil && !errors.Is(rerr, types.ErrMissingData) {
			return fmt.Errorf("service: result for dependency %d: %w", dep.RecordID, rerr)
		}
		results[i] = dependencyResult{RecordID: dep.RecordID, Status: dep.Status, Result: res}
	}

	upd, err := d.update(ctx, e.Store, rec, rec.Service.ServiceState, results)
	if err != nil {
		return fmt.Errorf("service: update record %d: %w", rec.ID, err)
	}

	if upd.Finished {
		complete := types.StatusComplete
		if err := e.Store.SaveServiceIteration(ctx, rec.ID, upd.State, deps, &complete, upd.Outputs); err != nil {
			return fmt.Errorf("service: save completion for record %d: %w", rec.ID, err)
		}
		return nil
	}
	if err := e.Store.SaveServiceIteration(ctx, rec.ID, upd.State, upd.Dependencies, nil, nil); err != nil {
		return fmt.Errorf("service: save next iteration for record %d: %w", rec.ID, err)
	}
	return nil
}
