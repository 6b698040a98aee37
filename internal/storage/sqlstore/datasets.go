package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

func (b *Base) CreateDataset(ctx context.Context, d *types.Dataset) (int64, error) {
	now := nowUTC()
	var id int64
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO dataset (kind, name, description, created_on) VALUES (?, ?, ?, ?)`,
			string(d.Kind), d.Name, d.Description, now)
		if err != nil {
			if b.Dialect.IsUniqueViolation(err) {
				return fmt.Errorf("%w: dataset %q already exists", types.ErrStateConflict, d.Name)
			}
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	d.ID = id
	d.CreatedOn = now
	return id, nil
}

func (b *Base) AddDatasetEntries(ctx context.Context, datasetID int64, entries []types.DatasetEntry) (types.InsertMetadata, error) {
	meta := types.InsertMetadata{Errors: map[int]string{}}
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, e := range entries {
			attrs, _ := marshalJSON(e.Attributes)
			_, err := tx.ExecContext(ctx, `INSERT INTO dataset_entry (dataset_id, name, molecule_id, comment, attributes) VALUES (?, ?, ?, ?, ?)`,
				datasetID, e.Name, e.MoleculeID, e.Comment, attrs)
			if err != nil {
				if b.Dialect.IsUniqueViolation(err) {
					meta.ExistingIdx = append(meta.ExistingIdx, i)
					continue
				}
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = err.Error()
				continue
			}
			meta.InsertedIdx = append(meta.InsertedIdx, i)
		}
		return nil
	})
	return meta, err
}

func (b *Base) AddDatasetSpecifications(ctx context.Context, datasetID int64, specs []types.DatasetSpecification) (types.InsertMetadata, error) {
	meta := types.InsertMetadata{Errors: map[int]string{}}
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, s := range specs {
			_, err := tx.ExecContext(ctx, `INSERT INTO dataset_specification (dataset_id, name, specification_id) VALUES (?, ?, ?)`,
				datasetID, s.Name, s.SpecificationID)
			if err != nil {
				if b.Dialect.IsUniqueViolation(err) {
					meta.ExistingIdx = append(meta.ExistingIdx, i)
					continue
				}
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = err.Error()
				continue
			}
			meta.InsertedIdx = append(meta.InsertedIdx, i)
		}
		return nil
	})
	return meta, err
}

func datasetRecordType(kind types.DatasetKind) types.RecordType {
	switch kind {
	case types.DatasetOptimization:
		return types.RecordOptimization
	case types.DatasetTorsionDrive:
		return types.RecordTorsionDrive
	default:
		return types.RecordSinglepoint
	}
}

// SubmitDataset materializes one base_record per (entry, specification)
// pair not already submitted, and records the mapping in dataset_record
// (spec §4.8). Record creation reuses the same dedup-by-(specification,
// input_key) path AddRecords uses, keyed here by
// "dataset:<dataset id>:<entry name>" so two datasets sharing an entry
// name don't collide.
func (b *Base) SubmitDataset(ctx context.Context, datasetID int64, specificationNames []string) (types.InsertMetadata, error) {
	meta := types.InsertMetadata{Errors: map[int]string{}}

	var kind string
	if err := b.DB.QueryRowContext(ctx, `SELECT kind FROM dataset WHERE id = ?`, datasetID).Scan(&kind); err != nil {
		return types.InsertMetadata{}, fmt.Errorf("sqlstore: submit_dataset: dataset %d: %w", datasetID, err)
	}
	recordType := datasetRecordType(types.DatasetKind(kind))

	entryRows, err := b.queryEntries(ctx, datasetID)
	if err != nil {
		return types.InsertMetadata{}, err
	}

	idx := 0
	err = b.withTx(ctx, func(tx *sql.Tx) error {
		for _, specName := range specificationNames {
			var specID int64
			if serr := tx.QueryRowContext(ctx, `SELECT specification_id FROM dataset_specification WHERE dataset_id = ? AND name = ?`,
				datasetID, specName).Scan(&specID); serr != nil {
				return fmt.Errorf("submit_dataset: unknown specification %q: %w", specName, serr)
			}

			for _, e := range entryRows {
				inputKey := fmt.Sprintf("dataset:%d:%s", datasetID, e.name)

				var recordID int64
				existed := true
				lookupErr := tx.QueryRowContext(ctx, `SELECT id FROM base_record WHERE specification_id = ? AND input_key = ?`,
					specID, inputKey).Scan(&recordID)
				if lookupErr == sql.ErrNoRows {
					existed = false
					now := nowUTC()
					res, ierr := tx.ExecContext(ctx, `INSERT INTO base_record
						(record_type, status, manager_name, specification_id, creator_user, parent_id, input_key, created_on, modified_on, outputs, info_backup)
						VALUES (?, ?, NULL, ?, '', NULL, ?, ?, ?, NULL, ?)`,
						string(recordType), string(types.StatusWaiting), specID, inputKey, now, now, "[]")
					if ierr != nil {
						meta.ErrorIdx = append(meta.ErrorIdx, idx)
						meta.Errors[idx] = ierr.Error()
						idx++
						continue
					}
					recordID, ierr = res.LastInsertId()
					if ierr != nil {
						return ierr
					}
					if recordType.IsLeaf() {
						args, _ := marshalJSON(map[string]interface{}{"molecule_id": e.moleculeID})
						reqPrograms, rerr := requiredProgramsForLeaf(ctx, tx, recordType, specID)
						if rerr != nil {
							return fmt.Errorf("submit_dataset required_programs: %w", rerr)
						}
						requiredPrograms, _ := marshalJSON(reqPrograms)
						if _, terr := tx.ExecContext(ctx, `INSERT INTO task_queue
							(record_id, function_name, args, kwargs, required_programs, compute_tag, compute_priority, available, created_on)
							VALUES (?, ?, ?, '{}', ?, 'default', 0, 1, ?)`,
							recordID, string(recordType), args, requiredPrograms, now); terr != nil {
							return fmt.Errorf("submit_dataset task insert: %w", terr)
						}
					} else {
						state, _ := marshalJSON(map[string]interface{}{"molecule_id": e.moleculeID, "iteration": 0})
						if _, serr := tx.ExecContext(ctx, `INSERT INTO service_queue
							(record_id, service_state, compute_tag, compute_priority, find_existing, created_on)
							VALUES (?, ?, 'default', 0, 1, ?)`, recordID, state, now); serr != nil {
							return fmt.Errorf("submit_dataset service insert: %w", serr)
						}
					}
				} else if lookupErr != nil {
					return lookupErr
				}

				if _, merr := tx.ExecContext(ctx, `INSERT INTO dataset_record (dataset_id, entry_name, specification_name, record_id) VALUES (?, ?, ?, ?)`,
					datasetID, e.name, specName, recordID); merr != nil && !b.Dialect.IsUniqueViolation(merr) {
					return fmt.Errorf("submit_dataset mapping: %w", merr)
				}

				if existed {
					meta.ExistingIdx = append(meta.ExistingIdx, idx)
				} else {
					meta.InsertedIdx = append(meta.InsertedIdx, idx)
				}
				idx++
			}
		}
		return nil
	})
	if err != nil {
		return types.InsertMetadata{}, err
	}
	return meta, nil
}

// AddDatasetEntriesFrom implements `add_entries_from` (spec §4.8,
// grounded on original_source's singlepoint/test_dataset_entries_from.py):
// seed destDatasetID's entries from another dataset, identified either
// by id or by (kind, name) matched case-insensitively. A singlepoint
// source's entries are copied as-is; an optimization source contributes
// one entry per completed record's final molecule for
// req.SpecificationName, skipping anything not yet complete. Comment
// and attributes ride along from the source entry either way, and
// reuses AddDatasetEntries' own dedup-by-(dataset_id, name) path for
// idempotency on repeat calls.
func (b *Base) AddDatasetEntriesFrom(ctx context.Context, destDatasetID int64, req types.DatasetEntriesFromRequest) (types.InsertMetadata, error) {
	if req.SourceDatasetID == nil && (req.SourceDatasetKind == "" || req.SourceDatasetName == "") {
		return types.InsertMetadata{}, fmt.Errorf("%w: either dataset_id or dataset_type and dataset_name must be given", types.ErrInvalidPayload)
	}

	var srcID int64
	var srcKind string
	var lookupErr error
	if req.SourceDatasetID != nil {
		srcID = *req.SourceDatasetID
		lookupErr = b.DB.QueryRowContext(ctx, `SELECT kind FROM dataset WHERE id = ?`, srcID).Scan(&srcKind)
	} else {
		lookupErr = b.DB.QueryRowContext(ctx, `SELECT id, kind FROM dataset WHERE LOWER(name) = LOWER(?)`, req.SourceDatasetName).Scan(&srcID, &srcKind)
	}
	if lookupErr == sql.ErrNoRows {
		return types.InsertMetadata{}, fmt.Errorf("%w: cannot find source dataset", types.ErrMissingData)
	}
	if lookupErr != nil {
		return types.InsertMetadata{}, fmt.Errorf("sqlstore: add_dataset_entries_from source lookup: %w", lookupErr)
	}
	if req.SourceDatasetKind != "" && types.DatasetKind(srcKind) != req.SourceDatasetKind {
		return types.InsertMetadata{}, fmt.Errorf("%w: source dataset %d is not %s", types.ErrInvalidPayload, srcID, req.SourceDatasetKind)
	}

	var entries []types.DatasetEntry
	switch types.DatasetKind(srcKind) {
	case types.DatasetSinglepoint:
		rows, err := b.DB.QueryContext(ctx, `SELECT name, molecule_id, comment, attributes FROM dataset_entry WHERE dataset_id = ?`, srcID)
		if err != nil {
			return types.InsertMetadata{}, fmt.Errorf("sqlstore: add_dataset_entries_from singlepoint scan: %w", err)
		}
		for rows.Next() {
			var e types.DatasetEntry
			var comment sql.NullString
			var attrs []byte
			if err := rows.Scan(&e.Name, &e.MoleculeID, &comment, &attrs); err != nil {
				rows.Close()
				return types.InsertMetadata{}, err
			}
			e.Comment = comment.String
			_ = unmarshalJSON(attrs, &e.Attributes)
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return types.InsertMetadata{}, err
		}

	default:
		if req.SpecificationName == "" {
			return types.InsertMetadata{}, fmt.Errorf("%w: from_specification_name must be provided to seed from a %s dataset", types.ErrInvalidPayload, srcKind)
		}
		rows, err := b.DB.QueryContext(ctx, `SELECT de.name, de.comment, de.attributes, br.status, br.id
			FROM dataset_entry de
			JOIN dataset_record dr ON dr.dataset_id = de.dataset_id AND dr.entry_name = de.name AND dr.specification_name = ?
			JOIN base_record br ON br.id = dr.record_id
			WHERE de.dataset_id = ?`, req.SpecificationName, srcID)
		if err != nil {
			return types.InsertMetadata{}, fmt.Errorf("sqlstore: add_dataset_entries_from %s scan: %w", srcKind, err)
		}
		type sourced struct {
			name     string
			comment  sql.NullString
			attrs    []byte
			status   string
			recordID int64
		}
		var items []sourced
		for rows.Next() {
			var s sourced
			if err := rows.Scan(&s.name, &s.comment, &s.attrs, &s.status, &s.recordID); err != nil {
				rows.Close()
				return types.InsertMetadata{}, err
			}
			items = append(items, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return types.InsertMetadata{}, err
		}

		for _, it := range items {
			if types.Status(it.status) != types.StatusComplete {
				continue
			}
			result, rerr := b.GetLatestResult(ctx, it.recordID)
			if rerr != nil {
				continue
			}
			finalMol, ok := finalMoleculeIDFromResult(result)
			if !ok {
				continue
			}
			e := types.DatasetEntry{Name: it.name, MoleculeID: finalMol, Comment: it.comment.String}
			_ = unmarshalJSON(it.attrs, &e.Attributes)
			entries = append(entries, e)
		}
	}

	return b.AddDatasetEntries(ctx, destDatasetID, entries)
}

// finalMoleculeIDFromResult reads the "final_molecule_id" field an
// optimization leaf's return_result carries (the same wire convention
// internal/service's extractOptimizationResult reads).
func finalMoleculeIDFromResult(e *types.ComputeHistoryEntry) (int64, bool) {
	if e == nil {
		return 0, false
	}
	m, ok := e.ReturnResult.(map[string]interface{})
	if !ok {
		return 0, false
	}
	v, ok := m["final_molecule_id"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func (b *Base) queryEntries(ctx context.Context, datasetID int64) ([]struct {
	name       string
	moleculeID int64
}, error) {
	rows, err := b.DB.QueryContext(ctx, `SELECT name, molecule_id FROM dataset_entry WHERE dataset_id = ?`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []struct {
		name       string
		moleculeID int64
	}
	for rows.Next() {
		var e struct {
			name       string
			moleculeID int64
		}
		if err := rows.Scan(&e.name, &e.moleculeID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *Base) DatasetStatus(ctx context.Context, datasetID int64) ([]types.DatasetStatusBreakdown, error) {
	rows, err := b.DB.QueryContext(ctx, `SELECT dr.specification_name, br.status, COUNT(*)
		FROM dataset_record dr JOIN base_record br ON br.id = dr.record_id
		WHERE dr.dataset_id = ?
		GROUP BY dr.specification_name, br.status`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: dataset_status: %w", err)
	}
	defer rows.Close()

	bySpec := map[string]*types.DatasetStatusBreakdown{}
	var order []string
	for rows.Next() {
		var specName, status string
		var count int
		if err := rows.Scan(&specName, &status, &count); err != nil {
			return nil, err
		}
		b2, ok := bySpec[specName]
		if !ok {
			b2 = &types.DatasetStatusBreakdown{SpecificationName: specName, Counts: map[types.Status]int{}}
			bySpec[specName] = b2
			order = append(order, specName)
		}
		b2.Counts[types.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.DatasetStatusBreakdown, 0, len(order))
	for _, name := range order {
		out = append(out, *bySpec[name])
	}
	return out, nil
}

func (b *Base) FetchDatasetRecords(ctx context.Context, datasetID int64, specificationName string) ([]types.DatasetRecordItem, error) {
	rows, err := b.DB.QueryContext(ctx, `SELECT dataset_id, entry_name, specification_name, record_id FROM dataset_record
		WHERE dataset_id = ? AND specification_name = ?`, datasetID, specificationName)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: fetch_dataset_records: %w", err)
	}
	defer rows.Close()

	var out []types.DatasetRecordItem
	for rows.Next() {
		var item types.DatasetRecordItem
		if err := rows.Scan(&item.DatasetID, &item.EntryName, &item.SpecificationName, &item.RecordID); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
