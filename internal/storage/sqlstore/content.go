package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/hashutil"
	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// insertOrLookup runs the teacher's "INSERT, and on conflict fall back
// to SELECT" idiom (internal/storage/sqlite/issues.go's upsert helpers)
// inside the caller's transaction: try the insert, and on a unique
// violation look the row up by its content hash. This closes the race
// window without a database-specific upsert clause, since the two
// backends don't share upsert syntax.
func (b *Base) insertOrLookup(ctx context.Context, tx *sql.Tx, table, hash string, insert func() (sql.Result, error)) (id int64, existed bool, err error) {
	res, err := insert()
	if err == nil {
		id, err = res.LastInsertId()
		return id, false, err
	}
	if !b.Dialect.IsUniqueViolation(err) {
		return 0, false, err
	}
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM %s WHERE hash = ?", table), hash)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, false, fmt.Errorf("insertOrLookup: %s lookup after conflict: %w", table, scanErr)
	}
	return id, true, nil
}

// finalizeResults builds the per-item InsertResult slice and completes
// meta's Inserted/Existing index lists, skipping any index already
// recorded as an error in meta.Errors (those rows never produced a
// usable id/existed pair).
func finalizeResults(ids []int64, existed []bool, meta types.InsertMetadata) ([]types.InsertResult, types.InsertMetadata) {
	out := make([]types.InsertResult, len(ids))
	for i, id := range ids {
		if msg, isErr := meta.Errors[i]; isErr {
			out[i] = types.InsertResult{Status: types.InsertError, Err: fmt.Errorf("%s", msg)}
			continue
		}
		if existed[i] {
			out[i] = types.InsertResult{Status: types.InsertExisting, ID: id}
			meta.ExistingIdx = append(meta.ExistingIdx, i)
		} else {
			out[i] = types.InsertResult{Status: types.InsertInserted, ID: id}
			meta.InsertedIdx = append(meta.InsertedIdx, i)
		}
	}
	return out, meta
}

func (b *Base) InsertMolecules(ctx context.Context, inputs []storage.MoleculeInput) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, in := range inputs {
			if in.Molecule == nil {
				ids[i] = in.ExistingID
				existed[i] = true
				continue
			}
			if verr := in.Molecule.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.MoleculeHash(in.Molecule)
			if herr != nil {
				return fmt.Errorf("hashing molecule %d: %w", i, herr)
			}
			symbols, _ := marshalJSON(in.Molecule.Symbols)
			geometry, _ := marshalJSON(in.Molecule.Geometry)
			connectivity, _ := marshalJSON(in.Molecule.Connectivity)
			fragments, _ := marshalJSON(in.Molecule.Fragments)
			fragCharges, _ := marshalJSON(in.Molecule.FragmentCharges)
			fragMults, _ := marshalJSON(in.Molecule.FragmentMultiplicities)
			userIdents, _ := marshalJSON(in.Molecule.Identifiers.UserIdentifiers)

			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "molecules", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO molecules
					(hash, symbols, geometry, connectivity, charge, multiplicity, fragments, fragment_charges, fragment_multiplicities, id_name, id_comment, id_user_identifiers)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					hash, symbols, geometry, connectivity, in.Molecule.Charge, in.Molecule.Multiplicity,
					fragments, fragCharges, fragMults, in.Molecule.Identifiers.Name, in.Molecule.Identifiers.Comment, userIdents)
			})
			if ierr != nil {
				return fmt.Errorf("inserting molecule %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

func (b *Base) InsertKeywords(ctx context.Context, inputs []*types.KeywordSet) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, ks := range inputs {
			if verr := ks.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.KeywordSetHash(ks)
			if herr != nil {
				return fmt.Errorf("hashing keyword set %d: %w", i, herr)
			}
			payload, _ := marshalJSON(hashutil.SortedKeywordValues(ks.Values))
			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "keyword_sets", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO keyword_sets (hash, payload, comments) VALUES (?, ?, ?)`,
					hash, payload, ks.Comments)
			})
			if ierr != nil {
				return fmt.Errorf("inserting keyword set %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

// InsertQCSpecifications dedupes each spec on its full (program, driver,
// method, basis, keywords_id, protocols) tuple. Each spec's KeywordsID
// must already reference a row inserted via InsertKeywords —
// specifications compose content by id, the same bottom-up layering the
// content-addressed store uses throughout (spec §3): callers resolve a
// KeywordSet to an id first, then build the QCSpecification around it.
func (b *Base) InsertQCSpecifications(ctx context.Context, inputs []*types.QCSpecification) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, spec := range inputs {
			if verr := spec.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.QCSpecificationHash(spec)
			if herr != nil {
				return fmt.Errorf("hashing qc specification %d: %w", i, herr)
			}
			var basis interface{}
			if spec.Basis != nil {
				basis = *spec.Basis
			}
			protocols, _ := marshalJSON(spec.Protocols)

			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "qc_specifications", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO qc_specifications
					(hash, program, driver, method, basis, keywords_id, protocols) VALUES (?, ?, ?, ?, ?, ?, ?)`,
					hash, hashutil.NormalizeString(spec.Program), string(spec.Driver), hashutil.NormalizeString(spec.Method), basis, spec.KeywordsID, protocols)
			})
			if ierr != nil {
				return fmt.Errorf("inserting qc specification %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

// InsertOptimizationSpecifications dedupes on (program,
// qc_specification_id, opt_keywords, opt_protocols); QCSpecificationID
// must already reference a row from InsertQCSpecifications.
func (b *Base) InsertOptimizationSpecifications(ctx context.Context, inputs []*types.OptimizationSpecification) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, spec := range inputs {
			if verr := spec.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.OptimizationSpecificationHash(spec)
			if herr != nil {
				return fmt.Errorf("hashing optimization specification %d: %w", i, herr)
			}
			optKeywords, _ := marshalJSON(spec.OptKeywords)
			optProtocols, _ := marshalJSON(spec.OptProtocols)

			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "optimization_specifications", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO optimization_specifications
					(hash, program, qc_specification_id, opt_keywords, opt_protocols) VALUES (?, ?, ?, ?, ?)`,
					hash, hashutil.NormalizeString(spec.Program), spec.QCSpecificationID, optKeywords, optProtocols)
			})
			if ierr != nil {
				return fmt.Errorf("inserting optimization specification %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

// InsertTorsionDriveSpecifications dedupes on the full payload hash;
// OptimizationSpecificationID must already reference a row from
// InsertOptimizationSpecifications.
func (b *Base) InsertTorsionDriveSpecifications(ctx context.Context, inputs []*types.TorsionDriveSpecification) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, spec := range inputs {
			if verr := spec.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.ServiceSpecificationHash(spec)
			if herr != nil {
				return fmt.Errorf("hashing torsiondrive specification %d: %w", i, herr)
			}
			payload, _ := marshalJSON(spec)
			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "torsiondrive_specifications", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO torsiondrive_specifications
					(hash, optimization_specification_id, payload) VALUES (?, ?, ?)`, hash, spec.OptimizationSpecificationID, payload)
			})
			if ierr != nil {
				return fmt.Errorf("inserting torsiondrive specification %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

func (b *Base) InsertGridOptimizationSpecifications(ctx context.Context, inputs []*types.GridOptimizationSpecification) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, spec := range inputs {
			if verr := spec.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.ServiceSpecificationHash(spec)
			if herr != nil {
				return fmt.Errorf("hashing gridoptimization specification %d: %w", i, herr)
			}
			payload, _ := marshalJSON(spec)
			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "gridoptimization_specifications", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO gridoptimization_specifications
					(hash, optimization_specification_id, payload) VALUES (?, ?, ?)`, hash, spec.OptimizationSpecificationID, payload)
			})
			if ierr != nil {
				return fmt.Errorf("inserting gridoptimization specification %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

func (b *Base) InsertManybodySpecifications(ctx context.Context, inputs []*types.ManybodySpecification) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, spec := range inputs {
			if verr := spec.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.ServiceSpecificationHash(spec)
			if herr != nil {
				return fmt.Errorf("hashing manybody specification %d: %w", i, herr)
			}
			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "manybody_specifications", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO manybody_specifications
					(hash, qc_specification_id, bsse_correction, max_nbody) VALUES (?, ?, ?, ?)`,
					hash, spec.QCSpecificationID, string(spec.BSSECorrection), spec.MaxNBody)
			})
			if ierr != nil {
				return fmt.Errorf("inserting manybody specification %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

// InsertReactionSpecifications dedupes on the full payload hash. Each
// component references an already-inserted singlepoint and/or
// optimization specification by id (spec §3: ReactionComponent carries
// whichever of the two applies).
func (b *Base) InsertReactionSpecifications(ctx context.Context, inputs []*types.ReactionSpecification) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, spec := range inputs {
			if verr := spec.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.ServiceSpecificationHash(spec)
			if herr != nil {
				return fmt.Errorf("hashing reaction specification %d: %w", i, herr)
			}
			payload, _ := marshalJSON(spec)
			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "reaction_specifications", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO reaction_specifications (hash, payload) VALUES (?, ?)`, hash, payload)
			})
			if ierr != nil {
				return fmt.Errorf("inserting reaction specification %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

func (b *Base) InsertNEBSpecifications(ctx context.Context, inputs []*types.NEBSpecification) ([]types.InsertResult, types.InsertMetadata, error) {
	ids := make([]int64, len(inputs))
	existed := make([]bool, len(inputs))
	meta := types.InsertMetadata{Errors: map[int]string{}}

	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for i, spec := range inputs {
			if verr := spec.Validate(); verr != nil {
				meta.ErrorIdx = append(meta.ErrorIdx, i)
				meta.Errors[i] = verr.Error()
				continue
			}
			hash, herr := hashutil.ServiceSpecificationHash(spec)
			if herr != nil {
				return fmt.Errorf("hashing neb specification %d: %w", i, herr)
			}
			payload, _ := marshalJSON(spec)
			id, wasExisting, ierr := b.insertOrLookup(ctx, tx, "neb_specifications", hash, func() (sql.Result, error) {
				return tx.ExecContext(ctx, `INSERT INTO neb_specifications
					(hash, optimization_specification_id, qc_specification_id, payload) VALUES (?, ?, ?, ?)`,
					hash, spec.OptimizationSpecificationID, spec.QCSpecificationID, payload)
			})
			if ierr != nil {
				return fmt.Errorf("inserting neb specification %d: %w", i, ierr)
			}
			ids[i] = id
			existed[i] = wasExisting
		}
		return nil
	})
	if err != nil {
		return nil, types.InsertMetadata{}, err
	}
	out, meta := finalizeResults(ids, existed, meta)
	return out, meta, nil
}

func (b *Base) GetMolecule(ctx context.Context, id int64) (*types.Molecule, error) {
	row := b.DB.QueryRowContext(ctx, `SELECT hash, symbols, geometry, connectivity, charge, multiplicity,
		fragments, fragment_charges, fragment_multiplicities, id_name, id_comment, id_user_identifiers
		FROM molecules WHERE id = ?`, id)

	var hash string
	var symbols, geometry, connectivity, fragments, fragCharges, fragMults, userIdents []byte
	var name, comment sql.NullString
	m := &types.Molecule{ID: id}
	if err := row.Scan(&hash, &symbols, &geometry, &connectivity, &m.Charge, &m.Multiplicity,
		&fragments, &fragCharges, &fragMults, &name, &comment, &userIdents); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: molecule %d not found", types.ErrMissingData, id)
		}
		return nil, fmt.Errorf("sqlstore: get molecule %d: %w", id, err)
	}
	m.StructuralHash = hash
	m.Identifiers.Name = name.String
	m.Identifiers.Comment = comment.String
	if err := unmarshalJSON(symbols, &m.Symbols); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(geometry, &m.Geometry); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(connectivity, &m.Connectivity); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(fragments, &m.Fragments); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(fragCharges, &m.FragmentCharges); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(fragMults, &m.FragmentMultiplicities); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(userIdents, &m.Identifiers.UserIdentifiers); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *Base) GetQCSpecification(ctx context.Context, id int64) (*types.QCSpecification, error) {
	row := b.DB.QueryRowContext(ctx, `SELECT hash, program, driver, method, basis, keywords_id, protocols
		FROM qc_specifications WHERE id = ?`, id)

	spec := &types.QCSpecification{ID: id}
	var basis sql.NullString
	var driver string
	var protocols []byte
	if err := row.Scan(&spec.Hash, &spec.Program, &driver, &spec.Method, &basis, &spec.KeywordsID, &protocols); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: qc specification %d not found", types.ErrMissingData, id)
		}
		return nil, fmt.Errorf("sqlstore: get qc specification %d: %w", id, err)
	}
	spec.Driver = types.Driver(driver)
	if basis.Valid {
		spec.Basis = &basis.String
	}
	if err := unmarshalJSON(protocols, &spec.Protocols); err != nil {
		return nil, err
	}
	return spec, nil
}

func (b *Base) GetOptimizationSpecification(ctx context.Context, id int64) (*types.OptimizationSpecification, error) {
	row := b.DB.QueryRowContext(ctx, `SELECT hash, program, qc_specification_id, opt_keywords, opt_protocols
		FROM optimization_specifications WHERE id = ?`, id)

	spec := &types.OptimizationSpecification{ID: id}
	var optKeywords, optProtocols []byte
	if err := row.Scan(&spec.Hash, &spec.Program, &spec.QCSpecificationID, &optKeywords, &optProtocols); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: optimization specification %d not found", types.ErrMissingData, id)
		}
		return nil, fmt.Errorf("sqlstore: get optimization specification %d: %w", id, err)
	}
	if err := unmarshalJSON(optKeywords, &spec.OptKeywords); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(optProtocols, &spec.OptProtocols); err != nil {
		return nil, err
	}
	return spec, nil
}

// getPayloadSpecification is shared by the specification tables that
// store their full shape in a single payload JSON column (torsiondrive,
// gridoptimization, reaction, neb): scan hash+payload, unmarshal the
// payload directly into dst, then overwrite dst's ID/Hash since the
// payload was marshaled before those were known.
func (b *Base) getPayloadSpecification(ctx context.Context, table string, id int64, dst interface{}) (string, error) {
	row := b.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT hash, payload FROM %s WHERE id = ?`, table), id)
	var hash string
	var payload []byte
	if err := row.Scan(&hash, &payload); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: %s %d not found", types.ErrMissingData, table, id)
		}
		return "", fmt.Errorf("sqlstore: get %s %d: %w", table, id, err)
	}
	if err := unmarshalJSON(payload, dst); err != nil {
		return "", err
	}
	return hash, nil
}

func (b *Base) GetTorsionDriveSpecification(ctx context.Context, id int64) (*types.TorsionDriveSpecification, error) {
	spec := &types.TorsionDriveSpecification{}
	hash, err := b.getPayloadSpecification(ctx, "torsiondrive_specifications", id, spec)
	if err != nil {
		return nil, err
	}
	spec.ID, spec.Hash = id, hash
	return spec, nil
}

func (b *Base) GetGridOptimizationSpecification(ctx context.Context, id int64) (*types.GridOptimizationSpecification, error) {
	spec := &types.GridOptimizationSpecification{}
	hash, err := b.getPayloadSpecification(ctx, "gridoptimization_specifications", id, spec)
	if err != nil {
		return nil, err
	}
	spec.ID, spec.Hash = id, hash
	return spec, nil
}

func (b *Base) GetManybodySpecification(ctx context.Context, id int64) (*types.ManybodySpecification, error) {
	row := b.DB.QueryRowContext(ctx, `SELECT hash, qc_specification_id, bsse_correction, max_nbody
		FROM manybody_specifications WHERE id = ?`, id)

	spec := &types.ManybodySpecification{ID: id}
	var bsse string
	var maxNBody sql.NullInt64
	if err := row.Scan(&spec.Hash, &spec.QCSpecificationID, &bsse, &maxNBody); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: manybody specification %d not found", types.ErrMissingData, id)
		}
		return nil, fmt.Errorf("sqlstore: get manybody specification %d: %w", id, err)
	}
	spec.BSSECorrection = types.BSSEMode(bsse)
	if maxNBody.Valid {
		n := int(maxNBody.Int64)
		spec.MaxNBody = &n
	}
	return spec, nil
}

func (b *Base) GetReactionSpecification(ctx context.Context, id int64) (*types.ReactionSpecification, error) {
	spec := &types.ReactionSpecification{}
	hash, err := b.getPayloadSpecification(ctx, "reaction_specifications", id, spec)
	if err != nil {
		return nil, err
	}
	spec.ID, spec.Hash = id, hash
	return spec, nil
}

func (b *Base) GetNEBSpecification(ctx context.Context, id int64) (*types.NEBSpecification, error) {
	spec := &types.NEBSpecification{}
	hash, err := b.getPayloadSpecification(ctx, "neb_specifications", id, spec)
	if err != nil {
		return nil, err
	}
	spec.ID, spec.Hash = id, hash
	return spec, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// requiredProgramsForLeaf resolves the task_queue.required_programs a
// fresh leaf record needs (spec §4.3(b): "task.required_programs ⊆
// M.programs"), read inside the same transaction that inserts the task
// row so a claim can never observe an empty (vacuously-satisfied) set.
// Singlepoint requires only the QC program; optimization additionally
// requires the optimizer program driving the inner QC program.
func requiredProgramsForLeaf(ctx context.Context, q queryRower, recordType types.RecordType, specificationID int64) (map[string]string, error) {
	switch recordType {
	case types.RecordSinglepoint:
		var program string
		if err := q.QueryRowContext(ctx, `SELECT program FROM qc_specifications WHERE id = ?`, specificationID).Scan(&program); err != nil {
			return nil, fmt.Errorf("required_programs: qc specification %d: %w", specificationID, err)
		}
		return map[string]string{program: ""}, nil
	case types.RecordOptimization:
		var optProgram string
		var qcSpecID int64
		if err := q.QueryRowContext(ctx, `SELECT program, qc_specification_id FROM optimization_specifications WHERE id = ?`, specificationID).Scan(&optProgram, &qcSpecID); err != nil {
			return nil, fmt.Errorf("required_programs: optimization specification %d: %w", specificationID, err)
		}
		var qcProgram string
		if err := q.QueryRowContext(ctx, `SELECT program FROM qc_specifications WHERE id = ?`, qcSpecID).Scan(&qcProgram); err != nil {
			return nil, fmt.Errorf("required_programs: qc specification %d: %w", qcSpecID, err)
		}
		return map[string]string{optProgram: "", qcProgram: ""}, nil
	default:
		return map[string]string{}, nil
	}
}
