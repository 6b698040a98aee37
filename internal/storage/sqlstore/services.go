package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// GetService returns the full record+service view internal/service needs
// to run one iteration; it is scanRecord with the service branch
// guaranteed populated.
func (b *Base) GetService(ctx context.Context, recordID int64) (*types.Record, error) {
	r, err := b.scanRecord(ctx, b.DB, recordID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: record %d not found", types.ErrMissingData, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get service %d: %w", recordID, err)
	}
	if r.Service == nil {
		return nil, fmt.Errorf("%w: record %d is not an active service", types.ErrStateConflict, recordID)
	}
	return r, nil
}

// SaveServiceIteration persists one internal/service.Iterate call's
// outcome atomically (spec §4.6, §9): new opaque state, the refreshed
// dependency batch, and an optional terminal transition. No iteration
// result is ever held in memory past this call.
func (b *Base) SaveServiceIteration(ctx context.Context, recordID int64, newState []byte, dependencies []types.ServiceDependency, terminal *storage.Status, outputs map[string]interface{}) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		var serviceID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM service_queue WHERE record_id = ?`, recordID).Scan(&serviceID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: record %d has no active service row", types.ErrStateConflict, recordID)
			}
			return err
		}

		now := nowUTC()
		if _, err := tx.ExecContext(ctx, `UPDATE service_queue SET service_state = ? WHERE id = ?`, newState, serviceID); err != nil {
			return fmt.Errorf("save_service_iteration state update: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM service_dependency WHERE service_id = ?`, serviceID); err != nil {
			return fmt.Errorf("save_service_iteration clearing dependencies: %w", err)
		}
		for i, dep := range dependencies {
			extras, _ := marshalJSON(dep.Extras)
			if _, err := tx.ExecContext(ctx, `INSERT INTO service_dependency (service_id, position, record_id, status, extras) VALUES (?, ?, ?, ?, ?)`,
				serviceID, i, dep.RecordID, string(dep.Status), extras); err != nil {
				return fmt.Errorf("save_service_iteration dependency %d: %w", i, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE base_record SET modified_on = ? WHERE id = ?`, now, recordID); err != nil {
			return err
		}

		if terminal == nil {
			return nil
		}

		if outputs != nil {
			encoded, oerr := marshalJSON(outputs)
			if oerr != nil {
				return oerr
			}
			if _, err := tx.ExecContext(ctx, `UPDATE base_record SET outputs = ? WHERE id = ?`, encoded, recordID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE base_record SET status = ?, manager_name = NULL, modified_on = ? WHERE id = ?`,
			string(*terminal), now, recordID); err != nil {
			return fmt.Errorf("save_service_iteration terminal transition: %w", err)
		}
		// Only complete/error are dormant terminal states for a service;
		// waiting->running (startup) keeps the service row, since it still
		// holds the live iteration state.
		if *terminal == types.StatusComplete || *terminal == types.StatusError {
			if _, err := tx.ExecContext(ctx, `DELETE FROM service_queue WHERE id = ?`, serviceID); err != nil {
				return fmt.Errorf("save_service_iteration clearing service row: %w", err)
			}
		}
		return nil
	})
}

// ServicesDueForTick lists services in waiting/running ordered by
// priority desc then modified asc, up to limit (spec §4.7): the
// orchestrator's per-tick worklist.
func (b *Base) ServicesDueForTick(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.DB.QueryContext(ctx, `SELECT br.id FROM base_record br
		JOIN service_queue sq ON sq.record_id = br.id
		WHERE br.status IN (?, ?)
		ORDER BY sq.compute_priority DESC, br.modified_on ASC
		LIMIT ?`, string(types.StatusWaiting), string(types.StatusRunning), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: services_due_for_tick: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RefreshDependencyStatuses re-reads the current status of every
// dependency of recordID's service, the cache-refresh step spec §9
// requires before each iteration.
func (b *Base) RefreshDependencyStatuses(ctx context.Context, recordID int64) ([]types.ServiceDependency, error) {
	var serviceID int64
	if err := b.DB.QueryRowContext(ctx, `SELECT id FROM service_queue WHERE record_id = ?`, recordID).Scan(&serviceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: record %d has no active service row", types.ErrStateConflict, recordID)
		}
		return nil, err
	}
	deps, err := b.loadServiceDependencies(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for i := range deps {
		var status string
		if err := b.DB.QueryRowContext(ctx, `SELECT status FROM base_record WHERE id = ?`, deps[i].RecordID).Scan(&status); err != nil {
			return nil, fmt.Errorf("sqlstore: refresh dependency %d status: %w", deps[i].RecordID, err)
		}
		deps[i].Status = types.Status(status)
	}

	err = b.withTx(ctx, func(tx *sql.Tx) error {
		for _, dep := range deps {
			if _, err := tx.ExecContext(ctx, `UPDATE service_dependency SET status = ? WHERE service_id = ? AND record_id = ?`,
				string(dep.Status), serviceID, dep.RecordID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deps, nil
}
