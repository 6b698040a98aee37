package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// AddRecords implements C2's add_records: one row per input, deduplicated
// by (specification_id, input_key) the same way content rows are
// deduplicated by hash (spec §4.2). Leaf record types get an initial
// task_queue row; service types get an initial service_queue row, both
// in the waiting status.
func (b *Base) AddRecords(ctx context.Context, recordType types.RecordType, specificationID int64,
	inputs []storage.RecordInput, computeTag string, computePriority int, creator string, findExisting bool, parentID *int64) (types.InsertMetadata, []int64, error) {

	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, in := range inputs {
			var id int64
			var wasExisting bool

			if findExisting {
				row := tx.QueryRowContext(ctx, `SELECT id FROM base_record WHERE specification_id = ? AND input_key = ?`,
					specificationID, in.InputKey)
				if scanErr := row.Scan(&id); scanErr == nil {
					wasExisting = true
					ids[i] = id
					existed[i] = true
					continue
				} else if scanErr != sql.ErrNoRows {
					return fmt.Errorf("add_records %d lookup: %w", i, scanErr)
				}
			}

			now := nowUTC()
			var parent interface{}
			if parentID != nil {
				parent = *parentID
			}
			res, ierr := tx.ExecContext(ctx, `INSERT INTO base_record
				(record_type, status, manager_name, specification_id, creator_user, parent_id, input_key, created_on, modified_on, outputs, info_backup)
				VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?, NULL, ?)`,
				string(recordType), string(types.StatusWaiting), specificationID, creator, parent, in.InputKey, now, now, "[]")
			if ierr != nil {
				if b.Dialect.IsUniqueViolation(ierr) {
					row := tx.QueryRowContext(ctx, `SELECT id FROM base_record WHERE specification_id = ? AND input_key = ?`,
						specificationID, in.InputKey)
					if scanErr := row.Scan(&id); scanErr != nil {
						return fmt.Errorf("add_records %d re-lookup after conflict: %w", i, scanErr)
					}
					wasExisting = true
				} else {
					return fmt.Errorf("add_records %d insert: %w", i, ierr)
				}
			} else {
				id, ierr = res.LastInsertId()
				if ierr != nil {
					return ierr
				}
			}

			if !wasExisting {
				if recordType.IsLeaf() {
					args, _ := marshalJSON(map[string]interface{}{"molecule_ids": in.MoleculeIDs})
					reqPrograms, rerr := requiredProgramsForLeaf(ctx, tx, recordType, specificationID)
					if rerr != nil {
						return fmt.Errorf("add_records %d: %w", i, rerr)
					}
					requiredPrograms, _ := marshalJSON(reqPrograms)
					if _, terr := tx.ExecContext(ctx, `INSERT INTO task_queue
						(record_id, function_name, args, kwargs, required_programs, compute_tag, compute_priority, available, created_on)
						VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
						id, string(recordType), args, "{}", requiredPrograms, computeTag, computePriority, now); terr != nil {
						return fmt.Errorf("add_records %d task_queue insert: %w", i, terr)
					}
				} else {
					state, _ := marshalJSON(map[string]interface{}{"molecule_ids": in.MoleculeIDs, "iteration": 0})
					if _, serr := tx.ExecContext(ctx, `INSERT INTO service_queue
						(record_id, service_state, compute_tag, compute_priority, find_existing, created_on)
						VALUES (?, ?, ?, ?, ?, ?)`,
						id, state, computeTag, computePriority, boolToInt(findExisting), now); serr != nil {
						return fmt.Errorf("add_records %d service_queue insert: %w", i, serr)
					}
				}
			}

			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return types.InsertMetadata{}, nil, err
	}
	_, meta = finalizeResults(ids, existed, meta)
	return meta, ids, nil
}

func (b *Base) scanRecord(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, id int64) (*types.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT id, record_type, status, manager_name, specification_id, creator_user,
		parent_id, created_on, modified_on, outputs, info_backup FROM base_record WHERE id = ?`, id)

	r := &types.Record{}
	var recordType, status string
	var managerName, creator sql.NullString
	var parentID sql.NullInt64
	var outputs, infoBackup []byte

	if err := row.Scan(&r.ID, &recordType, &status, &managerName, &r.SpecificationID, &creator,
		&parentID, &r.CreatedOn, &r.ModifiedOn, &outputs, &infoBackup); err != nil {
		return nil, err
	}
	r.RecordType = types.RecordType(recordType)
	r.Status = types.Status(status)
	r.ManagerName = managerName.String
	r.CreatorUser = creator.String
	if parentID.Valid {
		r.ParentID = &parentID.Int64
	}
	if err := unmarshalJSON(outputs, &r.Outputs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(infoBackup, &r.InfoBackup); err != nil {
		return nil, err
	}

	history, herr := b.loadComputeHistory(ctx, id)
	if herr != nil {
		return nil, herr
	}
	r.ComputeHistory = history

	if r.RecordType.IsLeaf() {
		task := &types.Task{}
		var args, kwargs, requiredPrograms []byte
		var available int64
		trow := b.DB.QueryRowContext(ctx, `SELECT id, function_name, args, kwargs, required_programs, compute_tag, compute_priority, available, created_on
			FROM task_queue WHERE record_id = ?`, id)
		if err := trow.Scan(&task.ID, &task.FunctionName, &args, &kwargs, &requiredPrograms, &task.ComputeTag, &task.ComputePriority, &available, &task.CreatedOn); err == nil {
			task.RecordID = id
			task.Available = intToBool(available)
			_ = unmarshalJSON(args, &task.Args)
			_ = unmarshalJSON(kwargs, &task.Kwargs)
			_ = unmarshalJSON(requiredPrograms, &task.RequiredPrograms)
			r.Task = task
		}
	} else {
		svc := &types.Service{}
		var state []byte
		var findExisting int64
		srow := b.DB.QueryRowContext(ctx, `SELECT id, service_state, compute_tag, compute_priority, find_existing, created_on
			FROM service_queue WHERE record_id = ?`, id)
		if err := srow.Scan(&svc.ID, &state, &svc.ComputeTag, &svc.ComputePriority, &findExisting, &svc.CreatedOn); err == nil {
			svc.RecordID = id
			svc.ServiceState = state
			svc.FindExisting = intToBool(findExisting)
			deps, derr := b.loadServiceDependencies(ctx, svc.ID)
			if derr == nil {
				svc.Dependencies = deps
			}
			r.Service = svc
		}
	}
	return r, nil
}

// loadComputeHistory reads every record_compute_history row for id in
// append order (spec §3: "append-only ... one entry per manager
// attempt"), the ordered list a Record carries alongside its current
// status.
func (b *Base) loadComputeHistory(ctx context.Context, id int64) ([]types.ComputeHistoryEntry, error) {
	rows, err := b.DB.QueryContext(ctx, `SELECT status, modified_on, manager_name, provenance, return_result, error_type, error_message, stdout, stderr
		FROM record_compute_history WHERE record_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load compute history %d: %w", id, err)
	}
	defer rows.Close()

	var out []types.ComputeHistoryEntry
	for rows.Next() {
		var status string
		var managerName, errorType, errorMessage sql.NullString
		var provenance, returnResult, stdout, stderr sql.NullString
		e := types.ComputeHistoryEntry{}
		if err := rows.Scan(&status, &e.ModifiedOn, &managerName, &provenance, &returnResult, &errorType, &errorMessage, &stdout, &stderr); err != nil {
			return nil, err
		}
		e.Status = types.Status(status)
		e.ManagerName = managerName.String
		e.ErrorType = errorType.String
		e.ErrorMessage = errorMessage.String
		if provenance.Valid && provenance.String != "" {
			if err := unmarshalJSON([]byte(provenance.String), &e.Provenance); err != nil {
				return nil, err
			}
		}
		if returnResult.Valid && returnResult.String != "" {
			if err := unmarshalJSON([]byte(returnResult.String), &e.ReturnResult); err != nil {
				return nil, err
			}
		}
		if stdout.Valid {
			s := stdout.String
			e.Stdout = &s
		}
		if stderr.Valid {
			s := stderr.String
			e.Stderr = &s
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *Base) loadServiceDependencies(ctx context.Context, serviceID int64) ([]types.ServiceDependency, error) {
	rows, err := b.DB.QueryContext(ctx, `SELECT record_id, status, extras FROM service_dependency WHERE service_id = ? ORDER BY position`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.ServiceDependency
	for rows.Next() {
		var d types.ServiceDependency
		var status string
		var extras []byte
		if err := rows.Scan(&d.RecordID, &status, &extras); err != nil {
			return nil, err
		}
		d.Status = types.Status(status)
		_ = unmarshalJSON(extras, &d.Extras)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (b *Base) GetRecords(ctx context.Context, ids []int64, proj types.Projection, missingOk bool) ([]*types.Record, error) {
	out := make([]*types.Record, 0, len(ids))
	for _, id := range ids {
		r, err := b.scanRecord(ctx, b.DB, id)
		if err == sql.ErrNoRows {
			if missingOk {
				out = append(out, nil)
				continue
			}
			return nil, fmt.Errorf("sqlstore: record %d not found: %w", id, types.ErrMissingData)
		}
		if err != nil {
			return nil, fmt.Errorf("sqlstore: get record %d: %w", id, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// QueryRecords builds a dynamic WHERE clause from filter, always
// parameterized — never string-interpolated — per the teacher's
// internal/storage/sqlite/issues.go query-builder convention.
func (b *Base) QueryRecords(ctx context.Context, filter types.RecordFilter) ([]*types.Record, types.QueryPage, error) {
	var where []string
	var args []interface{}

	if len(filter.RecordType) > 0 {
		where = append(where, inClause("record_type", len(filter.RecordType)))
		for _, t := range filter.RecordType {
			args = append(args, string(t))
		}
	}
	if len(filter.Status) > 0 {
		where = append(where, inClause("status", len(filter.Status)))
		for _, s := range filter.Status {
			args = append(args, string(s))
		}
	}
	if filter.OwnerUser != "" {
		where = append(where, "creator_user = ?")
		args = append(args, filter.OwnerUser)
	}
	if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if filter.SpecificationID != nil {
		where = append(where, "specification_id = ?")
		args = append(args, *filter.SpecificationID)
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_on < ?")
		args = append(args, *filter.CreatedBefore)
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_on > ?")
		args = append(args, *filter.CreatedAfter)
	}
	if filter.ModifiedBefore != nil {
		where = append(where, "modified_on < ?")
		args = append(args, *filter.ModifiedBefore)
	}
	if filter.ModifiedAfter != nil {
		where = append(where, "modified_on > ?")
		args = append(args, *filter.ModifiedAfter)
	}
	if filter.ChildID != nil {
		where = append(where, "id IN (SELECT parent_id FROM base_record WHERE id = ?)")
		args = append(args, *filter.ChildID)
	}

	query := "SELECT id FROM base_record"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	countQuery := "SELECT COUNT(*) FROM (" + query + ")"
	var nFound int
	if err := b.DB.QueryRowContext(ctx, countQuery, args...).Scan(&nFound); err != nil {
		return nil, types.QueryPage{}, fmt.Errorf("sqlstore: count records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Skip)

	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.QueryPage{}, fmt.Errorf("sqlstore: query records: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, types.QueryPage{}, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, types.QueryPage{}, err
	}

	records, err := b.GetRecords(ctx, ids, types.Projection{}, true)
	if err != nil {
		return nil, types.QueryPage{}, err
	}
	return records, types.QueryPage{NFound: nFound, NReturned: len(records)}, nil
}

// GetLatestResult returns the most recent compute_history row for
// recordID, the payload internal/service reads once a dependency's
// status turns complete/error.
func (b *Base) GetLatestResult(ctx context.Context, recordID int64) (*types.ComputeHistoryEntry, error) {
	row := b.DB.QueryRowContext(ctx, `SELECT status, modified_on, manager_name, provenance, return_result, error_type, error_message, stdout, stderr
		FROM record_compute_history WHERE record_id = ? ORDER BY id DESC LIMIT 1`, recordID)

	var status string
	var managerName, errorType, errorMessage sql.NullString
	var provenance, returnResult, stdout, stderr sql.NullString
	entry := &types.ComputeHistoryEntry{}
	if err := row.Scan(&status, &entry.ModifiedOn, &managerName, &provenance, &returnResult, &errorType, &errorMessage, &stdout, &stderr); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: record %d has no compute history", types.ErrMissingData, recordID)
		}
		return nil, fmt.Errorf("sqlstore: get latest result %d: %w", recordID, err)
	}
	entry.Status = types.Status(status)
	entry.ManagerName = managerName.String
	entry.ErrorType = errorType.String
	entry.ErrorMessage = errorMessage.String
	if provenance.Valid && provenance.String != "" {
		if err := unmarshalJSON([]byte(provenance.String), &entry.Provenance); err != nil {
			return nil, err
		}
	}
	if returnResult.Valid && returnResult.String != "" {
		if err := unmarshalJSON([]byte(returnResult.String), &entry.ReturnResult); err != nil {
			return nil, err
		}
	}
	if stdout.Valid {
		s := stdout.String
		entry.Stdout = &s
	}
	if stderr.Valid {
		s := stderr.String
		entry.Stderr = &s
	}
	return entry, nil
}

// CountComputeHistory counts the prior attempts recordID has accumulated
// with the given error_type, for the auto-reset sweep's max-attempts
// comparison (spec §4.7, §6).
func (b *Base) CountComputeHistory(ctx context.Context, recordID int64, errorType string) (int, error) {
	var n int
	row := b.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM record_compute_history WHERE record_id = ? AND error_type = ?`, recordID, errorType)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count compute history %d/%s: %w", recordID, errorType, err)
	}
	return n, nil
}

// AddRecordComment appends a record_comment row, the small always-on
// annotation channel base_record_socket.py's get_comments reads back
// (spec supplement: record comments).
func (b *Base) AddRecordComment(ctx context.Context, recordID int64, username, comment string) error {
	now := nowUTC()
	_, err := b.DB.ExecContext(ctx, `INSERT INTO record_comment (record_id, username, comment, created_on) VALUES (?, ?, ?, ?)`,
		recordID, nullIfEmpty(username), comment, now)
	if err != nil {
		return fmt.Errorf("sqlstore: add comment to record %d: %w", recordID, err)
	}
	return nil
}

// GetRecordComments returns every comment on recordID in insertion order.
func (b *Base) GetRecordComments(ctx context.Context, recordID int64) ([]types.RecordComment, error) {
	rows, err := b.DB.QueryContext(ctx, `SELECT id, username, comment, created_on FROM record_comment WHERE record_id = ? ORDER BY id ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get comments for record %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []types.RecordComment
	for rows.Next() {
		c := types.RecordComment{RecordID: recordID}
		var username sql.NullString
		if err := rows.Scan(&c.ID, &username, &c.Comment, &c.CreatedOn); err != nil {
			return nil, err
		}
		c.Username = username.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetWaitingReason implements `get_waiting_reason`: a diagnostic for a
// waiting record that explains why no manager has claimed it yet,
// grounded on original_source's test_record_client_waiting_reason.py.
// It runs the same program/tag eligibility check ClaimTasks uses
// against every active manager, without claiming anything.
func (b *Base) GetWaitingReason(ctx context.Context, recordID int64) (types.WaitingReason, error) {
	var recordType, status string
	row := b.DB.QueryRowContext(ctx, `SELECT record_type, status FROM base_record WHERE id = ?`, recordID)
	if err := row.Scan(&recordType, &status); err != nil {
		if err == sql.ErrNoRows {
			return types.WaitingReason{Reason: types.WaitingRecordNotFound}, nil
		}
		return types.WaitingReason{}, fmt.Errorf("sqlstore: get_waiting_reason record %d: %w", recordID, err)
	}
	if !types.RecordType(recordType).IsLeaf() {
		return types.WaitingReason{Reason: types.WaitingRecordIsService}, nil
	}
	if types.Status(status) != types.StatusWaiting {
		return types.WaitingReason{Reason: types.WaitingNotWaiting}, nil
	}

	var tag string
	var requiredRaw []byte
	trow := b.DB.QueryRowContext(ctx, `SELECT compute_tag, required_programs FROM task_queue WHERE record_id = ?`, recordID)
	if err := trow.Scan(&tag, &requiredRaw); err != nil {
		return types.WaitingReason{}, fmt.Errorf("sqlstore: get_waiting_reason task for record %d: %w", recordID, err)
	}
	var required map[string]string
	if err := unmarshalJSON(requiredRaw, &required); err != nil {
		return types.WaitingReason{}, fmt.Errorf("sqlstore: get_waiting_reason decode required_programs for record %d: %w", recordID, err)
	}

	active := string(types.ManagerActive)
	rows, err := b.DB.QueryContext(ctx, `SELECT `+managerColumns+` FROM compute_manager WHERE status = ? ORDER BY id`, active)
	if err != nil {
		return types.WaitingReason{}, fmt.Errorf("sqlstore: get_waiting_reason managers: %w", err)
	}
	defer rows.Close()

	details := map[string]string{}
	anyManager := false
	anyFreeMatch := false
	for rows.Next() {
		anyManager = true
		m := &types.Manager{}
		var mstatus string
		var version, username sql.NullString
		var programs, tags []byte
		if err := rows.Scan(&m.ID, &m.Cluster, &m.Hostname, &m.UUID, &m.Name, &version, &username,
			&programs, &tags, &mstatus,
			&m.Counters.TotalCPUHours, &m.Counters.ActiveTasks, &m.Counters.ActiveCores, &m.Counters.ActiveMemory,
			&m.Counters.Claimed, &m.Counters.Successes, &m.Counters.Failures, &m.Counters.Rejected,
			&m.CreatedOn, &m.ModifiedOn); err != nil {
			return types.WaitingReason{}, err
		}
		_ = unmarshalJSON(programs, &m.Programs)
		_ = unmarshalJSON(tags, &m.Tags)

		if missing := missingPrograms(m.Programs, required); len(missing) > 0 {
			details[m.Name] = "missing programs: " + strings.Join(missing, ", ")
			continue
		}
		if !matchesTag(m.Tags, tag) {
			details[m.Name] = "does not handle tag: " + tag
			continue
		}
		details[m.Name] = "Manager is busy"
		anyFreeMatch = true
	}
	if err := rows.Err(); err != nil {
		return types.WaitingReason{}, err
	}

	if !anyManager {
		return types.WaitingReason{Reason: types.WaitingNoActiveManagers}, nil
	}
	if anyFreeMatch {
		return types.WaitingReason{Reason: types.WaitingForFreeManager, Details: details}, nil
	}
	return types.WaitingReason{Reason: types.WaitingNoManagerMatches, Details: details}, nil
}

// missingPrograms returns, in required's iteration order stabilized by
// a sort, every program have can't satisfy — either absent, or present
// at a version other than the one required demands.
func missingPrograms(have, required map[string]string) []string {
	var missing []string
	for prog, wantVersion := range required {
		gotVersion, ok := have[prog]
		if !ok || (wantVersion != "" && wantVersion != gotVersion) {
			missing = append(missing, prog)
		}
	}
	sort.Strings(missing)
	return missing
}

func matchesTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == "*" || t == tag {
			return true
		}
	}
	return false
}

func inClause(column string, n int) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", n), ",")
	return fmt.Sprintf("%s IN (%s)", column, placeholders)
}

// ChildRecordIDs walks parent_id edges (trajectory/service-dependency
// children) breadth-first when recursive, matching the teacher's
// recursive blocked-issue walk in internal/storage/sqlite/blocked.go.
func (b *Base) ChildRecordIDs(ctx context.Context, parentID int64, recursive bool) ([]int64, error) {
	var out []int64
	frontier := []int64{parentID}
	seen := map[int64]bool{}

	for len(frontier) > 0 {
		rows, err := b.DB.QueryContext(ctx, "SELECT id FROM base_record WHERE parent_id = ?", frontier[0])
		if err != nil {
			return nil, fmt.Errorf("sqlstore: child records of %d: %w", frontier[0], err)
		}
		var next []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
				next = append(next, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		frontier = frontier[1:]
		if recursive {
			frontier = append(frontier, next...)
		}
	}
	return out, nil
}
