package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/MolSSI/QCFractal-sub003/internal/queue"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// ClaimTasks implements C3's claim: select eligible waiting tasks —
// matching every required program (version "" means any), matching at
// least one requested tag — mark them unavailable, and flip their
// record to running under the manager's name. Grounded on the teacher's
// claim-next-ready-issue query in internal/storage/sqlite/issues.go,
// which does the same "SELECT candidates, then UPDATE the winners"
// two-step inside one transaction rather than a single locking UPDATE,
// since eligibility depends on a JSON column the dialects can't both
// index identically.
//
// Candidate order follows spec §4.3 exactly: manager tags are tried in
// the order the manager listed them, a "*" tag matching anything not
// already claimed by an earlier tag in the list; within the bucket a
// given tag claims, higher compute_priority wins, and within a priority
// the earliest created_on wins. The SQL scan can't express the
// tag-priority bucketing itself (compute_tag is matched against an
// arbitrary manager-supplied list, including a wildcard with no column
// value of its own), so it fetches every available candidate already
// sorted by priority/created_on and the bucketing runs in Go, preserving
// that relative order within each bucket.
func (b *Base) ClaimTasks(ctx context.Context, managerName string, programs map[string]string, tags []string, limit int) ([]types.ClaimedTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []types.ClaimedTask
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT tq.id, tq.record_id, tq.function_name, tq.args, tq.kwargs, tq.required_programs, tq.compute_tag, tq.compute_priority, tq.created_on
			FROM task_queue tq
			WHERE tq.available = 1
			ORDER BY tq.compute_priority DESC, tq.created_on ASC
			LIMIT 5000`)
		if err != nil {
			return fmt.Errorf("claim_tasks candidate scan: %w", err)
		}

		type candidate struct {
			taskID, recordID                    int64
			functionName, computeTag            string
			computePriority                      int
			args2, kwargs, requiredPrograms     []byte
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			var createdOn interface{}
			if err := rows.Scan(&c.taskID, &c.recordID, &c.functionName, &c.args2, &c.kwargs, &c.requiredPrograms, &c.computeTag, &c.computePriority, &createdOn); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Drop candidates the manager can't run at all before bucketing,
		// so an unrunnable task never occupies a tag's priority slot.
		eligible := candidates[:0]
		for _, c := range candidates {
			var required map[string]string
			if err := unmarshalJSON(c.requiredPrograms, &required); err != nil {
				return fmt.Errorf("claim_tasks decode required_programs for task %d: %w", c.taskID, err)
			}
			if !queue.ProgramsSatisfy(programs, required) {
				continue
			}
			eligible = append(eligible, c)
		}

		taken := make([]bool, len(eligible))
		var ordered []candidate
		for _, tag := range tags {
			for i, c := range eligible {
				if taken[i] {
					continue
				}
				if tag != "*" && c.computeTag != tag {
					continue
				}
				taken[i] = true
				ordered = append(ordered, c)
			}
		}

		for _, c := range ordered {
			if len(claimed) >= limit {
				break
			}
			var required map[string]string
			if err := unmarshalJSON(c.requiredPrograms, &required); err != nil {
				return fmt.Errorf("claim_tasks decode required_programs for task %d: %w", c.taskID, err)
			}

			res, uerr := tx.ExecContext(ctx, `UPDATE task_queue SET available = 0 WHERE id = ? AND available = 1`, c.taskID)
			if uerr != nil {
				return fmt.Errorf("claim_tasks mark unavailable task %d: %w", c.taskID, uerr)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue // lost the race to another manager
			}

			now := nowUTC()
			if _, uerr := tx.ExecContext(ctx, `UPDATE base_record SET status = ?, manager_name = ?, modified_on = ? WHERE id = ? AND status = ?`,
				string(types.StatusRunning), managerName, now, c.recordID, string(types.StatusWaiting)); uerr != nil {
				return fmt.Errorf("claim_tasks transition record %d: %w", c.recordID, uerr)
			}

			// spec §4.3: claim appends a new compute_history entry with
			// status running, one per manager attempt; ReturnResults later
			// updates this same row to its terminal status rather than
			// inserting a second one for the same attempt.
			if _, herr := tx.ExecContext(ctx, `INSERT INTO record_compute_history
				(record_id, status, modified_on, manager_name) VALUES (?, ?, ?, ?)`,
				c.recordID, string(types.StatusRunning), now, managerName); herr != nil {
				return fmt.Errorf("claim_tasks history insert for record %d: %w", c.recordID, herr)
			}

			var args interface{}
			var kwargs map[string]interface{}
			_ = unmarshalJSON(c.args2, &args)
			_ = unmarshalJSON(c.kwargs, &kwargs)

			claimed = append(claimed, types.ClaimedTask{
				TaskID:           c.taskID,
				RecordID:         c.recordID,
				Function:         c.functionName,
				Args:             args,
				Kwargs:           kwargs,
				RequiredPrograms: required,
				Tag:              c.computeTag,
				Priority:         c.computePriority,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReturnResults processes one manager's batch return (spec §4.3, §7).
// results is keyed by record id, not task id: each record is checked to
// be running under managerName before its result is applied, so a
// manager can never mutate a record it doesn't currently hold.
func (b *Base) ReturnResults(ctx context.Context, managerName string, results map[int64]types.ResultEnvelope) (map[int64]error, error) {
	perTask := make(map[int64]error, len(results))

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for recordID, envelope := range results {
			var status, holder string
			row := tx.QueryRowContext(ctx, `SELECT status, manager_name FROM base_record WHERE id = ?`, recordID)
			if serr := row.Scan(&status, &holder); serr != nil {
				perTask[recordID] = fmt.Errorf("%w: record %d not found", types.ErrMissingData, recordID)
				continue
			}
			if status != string(types.StatusRunning) || holder != managerName {
				perTask[recordID] = fmt.Errorf("%w: record %d is not running under manager %q", types.ErrStateConflict, recordID, managerName)
				continue
			}

			now := nowUTC()
			var newStatus types.Status
			var provenance, returnResult, stdout, stderr []byte
			var errorType, errorMessage string

			if envelope.Success != nil {
				newStatus = types.StatusComplete
				provenance, _ = marshalJSON(envelope.Success.Provenance)
				returnResult, _ = marshalJSON(envelope.Success.ReturnResult)
				if envelope.Success.Stdout != nil {
					stdout = []byte(*envelope.Success.Stdout)
				}
				if envelope.Success.Stderr != nil {
					stderr = []byte(*envelope.Success.Stderr)
				}
			} else if envelope.Failure != nil {
				newStatus = types.StatusError
				errorType = envelope.Failure.ErrorType
				errorMessage = envelope.Failure.ErrorMessage
			} else {
				perTask[recordID] = fmt.Errorf("%w: neither success nor failure set for record %d", types.ErrInvalidPayload, recordID)
				continue
			}

			// Finalize the running entry claim() appended for this attempt,
			// rather than appending a second row: spec scenario 2 expects
			// exactly one compute_history entry after a single claim+return
			// round trip, not two. Select-then-update by id (not a
			// correlated subquery) since MySQL rejects updating a table
			// from a subquery against that same table.
			var historyID int64
			lookupErr := tx.QueryRowContext(ctx, `SELECT id FROM record_compute_history
				WHERE record_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
				recordID, string(types.StatusRunning)).Scan(&historyID)
			switch {
			case lookupErr == nil:
				if _, uerr := tx.ExecContext(ctx, `UPDATE record_compute_history
					SET status = ?, modified_on = ?, provenance = ?, return_result = ?, error_type = ?, error_message = ?, stdout = ?, stderr = ?
					WHERE id = ?`,
					string(newStatus), now, provenance, returnResult, errorType, errorMessage, stdout, stderr, historyID); uerr != nil {
					return fmt.Errorf("return_results history update for record %d: %w", recordID, uerr)
				}
				if envelope.Success != nil {
					if perr := b.persistSuccessArtifacts(ctx, tx, recordID, historyID, envelope.Success); perr != nil {
						return perr
					}
				}
			case lookupErr == sql.ErrNoRows:
				// No running entry to finalize (shouldn't happen given the
				// status/holder check above, but compute_history must never
				// silently lose an attempt).
				res, ierr := tx.ExecContext(ctx, `INSERT INTO record_compute_history
					(record_id, status, modified_on, manager_name, provenance, return_result, error_type, error_message, stdout, stderr)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					recordID, string(newStatus), now, managerName, provenance, returnResult, errorType, errorMessage, stdout, stderr)
				if ierr != nil {
					return fmt.Errorf("return_results history insert for record %d: %w", recordID, ierr)
				}
				if envelope.Success != nil {
					insertedID, idErr := res.LastInsertId()
					if idErr != nil {
						return fmt.Errorf("return_results history insert id for record %d: %w", recordID, idErr)
					}
					if perr := b.persistSuccessArtifacts(ctx, tx, recordID, insertedID, envelope.Success); perr != nil {
						return perr
					}
				}
			default:
				return fmt.Errorf("return_results history lookup for record %d: %w", recordID, lookupErr)
			}

			if _, uerr := tx.ExecContext(ctx, `UPDATE base_record SET status = ?, manager_name = NULL, modified_on = ? WHERE id = ?`,
				string(newStatus), now, recordID); uerr != nil {
				return fmt.Errorf("return_results transition record %d: %w", recordID, uerr)
			}

			if newStatus == types.StatusComplete {
				if _, derr := tx.ExecContext(ctx, `DELETE FROM task_queue WHERE record_id = ?`, recordID); derr != nil {
					return fmt.Errorf("return_results clearing task for record %d: %w", recordID, derr)
				}
			} else {
				// newStatus == StatusError: spec §4.3 "keep task row but
				// available=false" — invariant 6 ties available to the
				// record being waiting, which an errored record is not.
				// A later reset() (manual or auto-reset, see
				// internal/orchestrator) flips the record back to waiting
				// and re-arms this row.
				if _, uerr := tx.ExecContext(ctx, `UPDATE task_queue SET available = 0 WHERE record_id = ?`, recordID); uerr != nil {
					return fmt.Errorf("return_results disarming task for record %d: %w", recordID, uerr)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return perTask, nil
}

// persistSuccessArtifacts stores the output_store/native_file rows spec
// §6's manager wire contract attaches to a successful result: stdout,
// stderr, and wavefunction data key off the compute_history row the
// attempt just finalized (grounded on original_source's OutputStoreORM,
// which joins on record_compute_history.id rather than the record
// itself, since a record can accumulate one history row per attempt),
// while named native files key off the record directly (NativeFileORM
// in original_source has no history_id column at all). Per-field
// compression metadata, when the manager supplied it, rides along on
// the same row instead of being dropped on the floor.
func (b *Base) persistSuccessArtifacts(ctx context.Context, tx *sql.Tx, recordID, historyID int64, success *types.SuccessPayload) error {
	type output struct {
		outputType string
		data       []byte
	}
	var outputs []output
	if success.Stdout != nil {
		outputs = append(outputs, output{"stdout", []byte(*success.Stdout)})
	}
	if success.Stderr != nil {
		outputs = append(outputs, output{"stderr", []byte(*success.Stderr)})
	}
	if success.Wavefunction != nil {
		wf, err := marshalJSON(success.Wavefunction)
		if err != nil {
			return fmt.Errorf("return_results marshal wavefunction for record %d: %w", recordID, err)
		}
		outputs = append(outputs, output{"wavefunction", wf})
	}

	for _, o := range outputs {
		comp := success.Compression[o.outputType]
		if _, err := tx.ExecContext(ctx, `DELETE FROM output_store WHERE history_id = ? AND output_type = ?`, historyID, o.outputType); err != nil {
			return fmt.Errorf("return_results clear output_store %s for record %d: %w", o.outputType, recordID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO output_store (history_id, output_type, compression, compression_level, data)
			VALUES (?, ?, ?, ?, ?)`,
			historyID, o.outputType, nullIfEmpty(comp.Algorithm), comp.Level, o.data); err != nil {
			return fmt.Errorf("return_results store output_store %s for record %d: %w", o.outputType, recordID, err)
		}
	}

	for name, data := range success.NativeFiles {
		comp := success.Compression[name]
		if _, err := tx.ExecContext(ctx, `DELETE FROM native_file WHERE record_id = ? AND name = ?`, recordID, name); err != nil {
			return fmt.Errorf("return_results clear native_file %q for record %d: %w", name, recordID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO native_file (record_id, name, compression, compression_level, data)
			VALUES (?, ?, ?, ?, ?)`,
			recordID, name, nullIfEmpty(comp.Algorithm), comp.Level, data); err != nil {
			return fmt.Errorf("return_results store native_file %q for record %d: %w", name, recordID, err)
		}
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ResetAssigned reverts every running record attributed to managerNames
// back to waiting (spec §4.3 "lost manager" reaper path).
func (b *Base) ResetAssigned(ctx context.Context, managerNames []string) (int, error) {
	if len(managerNames) == 0 {
		return 0, nil
	}
	var count int
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(managerNames)), ",")
		args := make([]interface{}, len(managerNames))
		for i, n := range managerNames {
			args[i] = n
		}

		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM base_record WHERE status = ? AND manager_name IN (%s)`, placeholders),
			append([]interface{}{string(types.StatusRunning)}, args...)...)
		if err != nil {
			return fmt.Errorf("reset_assigned candidate scan: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := nowUTC()
		for _, id := range ids {
			if _, uerr := tx.ExecContext(ctx, `UPDATE base_record SET status = ?, manager_name = NULL, modified_on = ? WHERE id = ?`,
				string(types.StatusWaiting), now, id); uerr != nil {
				return fmt.Errorf("reset_assigned record %d: %w", id, uerr)
			}
			if _, uerr := tx.ExecContext(ctx, `UPDATE task_queue SET available = 1 WHERE record_id = ?`, id); uerr != nil {
				return fmt.Errorf("reset_assigned task for record %d: %w", id, uerr)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
