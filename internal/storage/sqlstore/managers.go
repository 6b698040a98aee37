package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// ActivateManager implements C4.activate: insert or reactivate by the
// (cluster, hostname, uuid) triplet, matching the teacher's
// register-or-refresh pattern for known machine identities.
func (b *Base) ActivateManager(ctx context.Context, m *types.Manager) error {
	if err := m.NormalizeAndValidate(); err != nil {
		return err
	}
	programs, _ := marshalJSON(m.Programs)
	tags, _ := marshalJSON(m.Tags)
	now := nowUTC()

	return b.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO compute_manager
			(cluster, hostname, uuid, name, version, username, programs, tags, status, created_on, modified_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.Cluster, m.Hostname, m.UUID, m.Name, m.Version, m.Username, programs, tags, string(types.ManagerActive), now, now)
		if err == nil {
			id, lerr := res.LastInsertId()
			if lerr != nil {
				return lerr
			}
			m.ID = id
			m.Status = types.ManagerActive
			m.CreatedOn = now
			m.ModifiedOn = now
			return nil
		}
		if !b.Dialect.IsUniqueViolation(err) {
			return fmt.Errorf("activate_manager insert: %w", err)
		}

		// Already known: reactivate in place rather than erroring, so a
		// manager process that restarts with the same identity resumes
		// cleanly (spec §4.4).
		if _, uerr := tx.ExecContext(ctx, `UPDATE compute_manager SET version = ?, username = ?, programs = ?, tags = ?, status = ?, modified_on = ?
			WHERE cluster = ? AND hostname = ? AND uuid = ?`,
			m.Version, m.Username, programs, tags, string(types.ManagerActive), now, m.Cluster, m.Hostname, m.UUID); uerr != nil {
			return fmt.Errorf("activate_manager reactivate: %w", uerr)
		}
		row := tx.QueryRowContext(ctx, `SELECT id, created_on FROM compute_manager WHERE cluster = ? AND hostname = ? AND uuid = ?`,
			m.Cluster, m.Hostname, m.UUID)
		if serr := row.Scan(&m.ID, &m.CreatedOn); serr != nil {
			return fmt.Errorf("activate_manager re-lookup: %w", serr)
		}
		m.Status = types.ManagerActive
		m.ModifiedOn = now
		return nil
	})
}

// Heartbeat implements C4.heartbeat: merges reported counters and
// refreshes modified_on, the liveness signal the reaper (internal
// /orchestrator) checks against a staleness threshold (spec §4.4, §4.7).
func (b *Base) Heartbeat(ctx context.Context, name string, counters types.ManagerCounters) error {
	now := nowUTC()
	return b.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE compute_manager SET
			total_cpu_hours = total_cpu_hours + ?, active_tasks = ?, active_cores = ?, active_memory = ?,
			claimed = claimed + ?, successes = successes + ?, failures = failures + ?, rejected = rejected + ?,
			modified_on = ?
			WHERE name = ? AND status = ?`,
			counters.TotalCPUHours, counters.ActiveTasks, counters.ActiveCores, counters.ActiveMemory,
			counters.Claimed, counters.Successes, counters.Failures, counters.Rejected,
			now, name, string(types.ManagerActive))
		if err != nil {
			return fmt.Errorf("heartbeat update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: manager %q is not active", types.ErrStateConflict, name)
		}
		return nil
	})
}

// DeactivateManagers marks the named managers inactive, or every manager
// whose modified_on is older than modifiedBefore when names is empty —
// the reaper's stale-manager sweep (spec §4.7) — and returns the names
// actually deactivated so the caller can chain ResetAssigned.
func (b *Base) DeactivateManagers(ctx context.Context, names []string, modifiedBefore *time.Time) ([]string, error) {
	var deactivated []string
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		var rows *sql.Rows
		var err error
		switch {
		case len(names) > 0:
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
			args := make([]interface{}, len(names))
			for i, n := range names {
				args[i] = n
			}
			rows, err = tx.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM compute_manager WHERE status = ? AND name IN (%s)`, placeholders),
				append([]interface{}{string(types.ManagerActive)}, args...)...)
		case modifiedBefore != nil:
			rows, err = tx.QueryContext(ctx, `SELECT name FROM compute_manager WHERE status = ? AND modified_on < ?`,
				string(types.ManagerActive), *modifiedBefore)
		default:
			return nil
		}
		if err != nil {
			return fmt.Errorf("deactivate_managers candidate scan: %w", err)
		}
		for rows.Next() {
			var n string
			if serr := rows.Scan(&n); serr != nil {
				rows.Close()
				return serr
			}
			deactivated = append(deactivated, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := nowUTC()
		for _, n := range deactivated {
			if _, uerr := tx.ExecContext(ctx, `UPDATE compute_manager SET status = ?, modified_on = ? WHERE name = ?`,
				string(types.ManagerInactive), now, n); uerr != nil {
				return fmt.Errorf("deactivate_managers %q: %w", n, uerr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deactivated, nil
}

func (b *Base) scanManager(row *sql.Row) (*types.Manager, error) {
	m := &types.Manager{}
	var status string
	var version, username sql.NullString
	var programs, tags []byte

	if err := row.Scan(&m.ID, &m.Cluster, &m.Hostname, &m.UUID, &m.Name, &version, &username,
		&programs, &tags, &status,
		&m.Counters.TotalCPUHours, &m.Counters.ActiveTasks, &m.Counters.ActiveCores, &m.Counters.ActiveMemory,
		&m.Counters.Claimed, &m.Counters.Successes, &m.Counters.Failures, &m.Counters.Rejected,
		&m.CreatedOn, &m.ModifiedOn); err != nil {
		return nil, err
	}
	m.Version = version.String
	m.Username = username.String
	m.Status = types.ManagerStatus(status)
	if err := unmarshalJSON(programs, &m.Programs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tags, &m.Tags); err != nil {
		return nil, err
	}
	return m, nil
}

const managerColumns = `id, cluster, hostname, uuid, name, version, username, programs, tags, status,
	total_cpu_hours, active_tasks, active_cores, active_memory, claimed, successes, failures, rejected,
	created_on, modified_on`

func (b *Base) GetManager(ctx context.Context, name string) (*types.Manager, error) {
	row := b.DB.QueryRowContext(ctx, `SELECT `+managerColumns+` FROM compute_manager WHERE name = ?`, name)
	m, err := b.scanManager(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: manager %q not found", types.ErrMissingData, name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get manager %q: %w", name, err)
	}
	return m, nil
}

func (b *Base) QueryManagers(ctx context.Context, filter types.ManagerFilter) ([]*types.Manager, types.QueryPage, error) {
	var where []string
	var args []interface{}

	if filter.Cluster != "" {
		where = append(where, "cluster = ?")
		args = append(args, filter.Cluster)
	}
	if filter.Hostname != "" {
		where = append(where, "hostname = ?")
		args = append(args, filter.Hostname)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.ModifiedAfter != nil {
		where = append(where, "modified_on > ?")
		args = append(args, *filter.ModifiedAfter)
	}
	if filter.ModifiedBefore != nil {
		where = append(where, "modified_on < ?")
		args = append(args, *filter.ModifiedBefore)
	}

	query := `SELECT ` + managerColumns + ` FROM compute_manager`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var nFound int
	countQuery := "SELECT COUNT(*) FROM compute_manager"
	if len(where) > 0 {
		countQuery += " WHERE " + strings.Join(where, " AND ")
	}
	if err := b.DB.QueryRowContext(ctx, countQuery, args...).Scan(&nFound); err != nil {
		return nil, types.QueryPage{}, fmt.Errorf("sqlstore: count managers: %w", err)
	}

	query += " ORDER BY id"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Skip)

	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.QueryPage{}, fmt.Errorf("sqlstore: query managers: %w", err)
	}
	defer rows.Close()

	var out []*types.Manager
	for rows.Next() {
		m := &types.Manager{}
		var status string
		var version, username sql.NullString
		var programs, tags []byte
		if err := rows.Scan(&m.ID, &m.Cluster, &m.Hostname, &m.UUID, &m.Name, &version, &username,
			&programs, &tags, &status,
			&m.Counters.TotalCPUHours, &m.Counters.ActiveTasks, &m.Counters.ActiveCores, &m.Counters.ActiveMemory,
			&m.Counters.Claimed, &m.Counters.Successes, &m.Counters.Failures, &m.Counters.Rejected,
			&m.CreatedOn, &m.ModifiedOn); err != nil {
			return nil, types.QueryPage{}, err
		}
		m.Version = version.String
		m.Username = username.String
		m.Status = types.ManagerStatus(status)
		_ = unmarshalJSON(programs, &m.Programs)
		_ = unmarshalJSON(tags, &m.Tags)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.QueryPage{}, err
	}
	return out, types.QueryPage{NFound: nFound, NReturned: len(out)}, nil
}
