package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/statusengine"
	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// Transition is C5: a single entry point for every status-narrowing or
// status-reverting operation, applying the LIFO info_backup stack
// (spec §4.5, §9). Grounded on the teacher's internal/storage/sqlite
// soft-delete/restore pair (issues.go's SoftDelete/Restore), generalized
// from one column flag to the full narrow/revert operation set the spec
// requires.
func (b *Base) Transition(ctx context.Context, op storage.StatusOp, ids []int64, deleteChildren bool) (map[int64]error, error) {
	perID := make(map[int64]error, len(ids))

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := b.transitionOne(ctx, tx, op, id, deleteChildren); err != nil {
				perID[id] = err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return perID, nil
}

func (b *Base) transitionOne(ctx context.Context, tx *sql.Tx, op storage.StatusOp, id int64, deleteChildren bool) error {
	var status string
	row := tx.QueryRowContext(ctx, `SELECT status FROM base_record WHERE id = ?`, id)
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: record %d not found", types.ErrMissingData, id)
		}
		return err
	}
	current := types.Status(status)

	rule, err := statusengine.Resolve(op)
	if err != nil {
		return err
	}

	switch rule.Action {
	case statusengine.ActionNarrow:
		if err := b.narrow(ctx, tx, id, current, rule, string(op)); err != nil {
			return err
		}
		if op == storage.OpSoftDelete && deleteChildren {
			return b.cascadeChildren(ctx, tx, id, storage.OpSoftDelete, true)
		}
		return nil
	case statusengine.ActionRevert:
		if err := b.revert(ctx, tx, id, current, rule.RequiredStatus()); err != nil {
			return err
		}
		if op == storage.OpUndelete && deleteChildren {
			return b.cascadeChildren(ctx, tx, id, storage.OpUndelete, true)
		}
		return nil
	case statusengine.ActionHardDelete:
		return b.hardDelete(ctx, tx, id, current, rule.RequiredStatus())
	case statusengine.ActionReset:
		return b.reset(ctx, tx, id, current, rule.RequiredStatus())
	default:
		return fmt.Errorf("%w: unresolved status operation %q", types.ErrInvalidPayload, op)
	}
}

// narrow pushes the current task/service snapshot onto info_backup and
// moves the record to rule.Target, refusing if current isn't one of
// rule.From.
func (b *Base) narrow(ctx context.Context, tx *sql.Tx, id int64, current types.Status, rule statusengine.Rule, pushedBy string) error {
	if !rule.Allows(current) {
		return fmt.Errorf("%w: record %d in status %q cannot %s", types.ErrStateConflict, id, current, pushedBy)
	}
	target := rule.Target

	backup := types.InfoBackupEntry{PriorStatus: current, PushedBy: pushedBy, PushedOn: nowUTC()}
	if err := b.snapshotAttachment(ctx, tx, id, &backup); err != nil {
		return err
	}
	if err := b.pushInfoBackup(ctx, tx, id, backup); err != nil {
		return err
	}

	now := nowUTC()
	if _, err := tx.ExecContext(ctx, `UPDATE base_record SET status = ?, manager_name = NULL, modified_on = ? WHERE id = ?`,
		string(target), now, id); err != nil {
		return err
	}
	// Narrowing always retires the live task/service row; it is restored
	// verbatim from info_backup on revert (spec §4.5).
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_queue WHERE record_id = ?`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM service_queue WHERE record_id = ?`, id)
	return err
}

// revert pops the top of info_backup, restoring the prior status and
// task/service row, refusing if current isn't the status the push
// produced.
func (b *Base) revert(ctx context.Context, tx *sql.Tx, id int64, current, expectCurrent types.Status) error {
	if current != expectCurrent {
		return fmt.Errorf("%w: record %d in status %q cannot revert from %q", types.ErrStateConflict, id, current, expectCurrent)
	}

	backup, err := b.popInfoBackup(ctx, tx, id)
	if err != nil {
		return err
	}
	if backup == nil {
		return fmt.Errorf("%w: record %d has no info_backup entry to revert", types.ErrStateConflict, id)
	}

	now := nowUTC()
	managerName := interface{}(nil)
	if backup.PriorStatus == types.StatusRunning {
		// manager_name is not recoverable from info_backup alone; a
		// reverted running record is treated as if its manager vanished
		// mid-flight and falls back to waiting, letting the reaper/claim
		// path re-assign it rather than guessing at a stale owner.
		backup.PriorStatus = types.StatusWaiting
	}
	if _, err := tx.ExecContext(ctx, `UPDATE base_record SET status = ?, manager_name = ?, modified_on = ? WHERE id = ?`,
		string(backup.PriorStatus), managerName, now, id); err != nil {
		return err
	}
	return b.restoreAttachment(ctx, tx, id, backup)
}

func (b *Base) hardDelete(ctx context.Context, tx *sql.Tx, id int64, current, required types.Status) error {
	if current != required {
		return fmt.Errorf("%w: record %d must be soft-deleted before hard_delete", types.ErrStateConflict, id)
	}
	for _, stmt := range []string{
		`DELETE FROM task_queue WHERE record_id = ?`,
		`DELETE FROM service_queue WHERE record_id IN (SELECT id FROM service_queue WHERE record_id = ?)`,
		`DELETE FROM record_compute_history WHERE record_id = ?`,
		`DELETE FROM base_record WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("hard_delete record %d: %w", id, err)
		}
	}
	return nil
}

// reset implements the spec §9 auto-reset path: an error record goes
// back to waiting with a fresh, available task, dropping its manager
// attribution without touching info_backup (reset is not a narrow/revert
// pair, it's a direct retry).
func (b *Base) reset(ctx context.Context, tx *sql.Tx, id int64, current, required types.Status) error {
	if current != required {
		return fmt.Errorf("%w: record %d in status %q cannot reset", types.ErrStateConflict, id, current)
	}
	now := nowUTC()
	if _, err := tx.ExecContext(ctx, `UPDATE base_record SET status = ?, manager_name = NULL, modified_on = ? WHERE id = ?`,
		string(types.StatusWaiting), now, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE task_queue SET available = 1 WHERE record_id = ?`, id)
	return err
}

func (b *Base) snapshotAttachment(ctx context.Context, tx *sql.Tx, id int64, backup *types.InfoBackupEntry) error {
	var recordType string
	if err := tx.QueryRowContext(ctx, `SELECT record_type FROM base_record WHERE id = ?`, id).Scan(&recordType); err != nil {
		return err
	}
	if types.RecordType(recordType).IsLeaf() {
		task := &types.Task{}
		var args, kwargs, requiredPrograms []byte
		var available int64
		row := tx.QueryRowContext(ctx, `SELECT id, function_name, args, kwargs, required_programs, compute_tag, compute_priority, available, created_on
			FROM task_queue WHERE record_id = ?`, id)
		if err := row.Scan(&task.ID, &task.FunctionName, &args, &kwargs, &requiredPrograms, &task.ComputeTag, &task.ComputePriority, &available, &task.CreatedOn); err == nil {
			task.RecordID = id
			task.Available = intToBool(available)
			_ = unmarshalJSON(args, &task.Args)
			_ = unmarshalJSON(kwargs, &task.Kwargs)
			_ = unmarshalJSON(requiredPrograms, &task.RequiredPrograms)
			backup.Task = task
		}
	} else {
		svc := &types.Service{}
		var state []byte
		var findExisting int64
		row := tx.QueryRowContext(ctx, `SELECT id, service_state, compute_tag, compute_priority, find_existing, created_on
			FROM service_queue WHERE record_id = ?`, id)
		if err := row.Scan(&svc.ID, &state, &svc.ComputeTag, &svc.ComputePriority, &findExisting, &svc.CreatedOn); err == nil {
			svc.RecordID = id
			svc.ServiceState = state
			svc.FindExisting = intToBool(findExisting)
			deps, derr := b.loadServiceDependencies(ctx, svc.ID)
			if derr == nil {
				svc.Dependencies = deps
			}
			backup.Service = svc
		}
	}
	return nil
}

func (b *Base) restoreAttachment(ctx context.Context, tx *sql.Tx, id int64, backup *types.InfoBackupEntry) error {
	if backup.Task != nil {
		t := backup.Task
		args, _ := marshalJSON(t.Args)
		kwargs, _ := marshalJSON(t.Kwargs)
		requiredPrograms, _ := marshalJSON(t.RequiredPrograms)
		// available must track the restored status, not the snapshotted
		// value (invariant 6): a record reverted back to error (e.g.
		// uncancel(cancelled-from-error)) must land with available=false,
		// only a reverted-to-waiting record gets a claimable task.
		available := boolToInt(backup.PriorStatus == types.StatusWaiting)
		_, err := tx.ExecContext(ctx, `INSERT INTO task_queue
			(record_id, function_name, args, kwargs, required_programs, compute_tag, compute_priority, available, created_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, t.FunctionName, args, kwargs, requiredPrograms, t.ComputeTag, t.ComputePriority, available, t.CreatedOn)
		return err
	}
	if backup.Service != nil {
		s := backup.Service
		_, err := tx.ExecContext(ctx, `INSERT INTO service_queue
			(record_id, service_state, compute_tag, compute_priority, find_existing, created_on)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, s.ServiceState, s.ComputeTag, s.ComputePriority, boolToInt(s.FindExisting), s.CreatedOn)
		return err
	}
	return nil
}

func (b *Base) pushInfoBackup(ctx context.Context, tx *sql.Tx, id int64, entry types.InfoBackupEntry) error {
	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT info_backup FROM base_record WHERE id = ?`, id).Scan(&raw); err != nil {
		return err
	}
	var stack []types.InfoBackupEntry
	if err := unmarshalJSON(raw, &stack); err != nil {
		return err
	}
	stack = append(stack, entry)
	encoded, err := marshalJSON(stack)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE base_record SET info_backup = ? WHERE id = ?`, encoded, id)
	return err
}

func (b *Base) popInfoBackup(ctx context.Context, tx *sql.Tx, id int64) (*types.InfoBackupEntry, error) {
	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT info_backup FROM base_record WHERE id = ?`, id).Scan(&raw); err != nil {
		return nil, err
	}
	var stack []types.InfoBackupEntry
	if err := unmarshalJSON(raw, &stack); err != nil {
		return nil, err
	}
	if len(stack) == 0 {
		return nil, nil
	}
	top := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	encoded, err := marshalJSON(stack)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE base_record SET info_backup = ? WHERE id = ?`, encoded, id); err != nil {
		return nil, err
	}
	return &top, nil
}

// cascadeChildren applies op to every descendant of id, non-recursively
// re-entrant (each child's own children are walked via parent_id in
// turn), matching the spec §4.5 cascade semantics for soft_delete/undelete.
func (b *Base) cascadeChildren(ctx context.Context, tx *sql.Tx, parentID int64, op storage.StatusOp, deleteChildren bool) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM base_record WHERE parent_id = ?`, parentID)
	if err != nil {
		return err
	}
	var children []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		children = append(children, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, childID := range children {
		if err := b.transitionOne(ctx, tx, op, childID, deleteChildren); err != nil {
			return fmt.Errorf("cascade %s to child %d: %w", op, childID, err)
		}
	}
	return nil
}
