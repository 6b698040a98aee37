package service_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MolSSI/QCFractal-sub003/internal/service"
	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlitestore"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "service_test.db")
	st, err := sqlitestore.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mustMolecule(t *testing.T, st storage.Store, symbols []string, geometry []float64, fragments [][]int) int64 {
	t.Helper()
	ctx := context.Background()
	results, _, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: &types.Molecule{
		Symbols: symbols, Geometry: geometry, Multiplicity: 1, Fragments: fragments,
	}}})
	require.NoError(t, err)
	require.Equal(t, types.InsertInserted, results[0].Status)
	return results[0].ID
}

func mustQCSpec(t *testing.T, st storage.Store, keywordsID int64) int64 {
	t.Helper()
	ctx := context.Background()
	results, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", KeywordsID: keywordsID,
	}})
	require.NoError(t, err)
	return results[0].ID
}

func mustOptSpec(t *testing.T, st storage.Store, qcSpecID int64) int64 {
	t.Helper()
	ctx := context.Background()
	results, _, err := st.InsertOptimizationSpecifications(ctx, []*types.OptimizationSpecification{{
		Program: "geometric", QCSpecificationID: qcSpecID,
	}})
	require.NoError(t, err)
	return results[0].ID
}

func mustKeywords(t *testing.T, st storage.Store) int64 {
	t.Helper()
	ctx := context.Background()
	results, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	return results[0].ID
}

// completeAll claims and returns a successful result for every currently
// waiting dependency of svc, synthesizing an energy (and, for
// optimization-type dependencies, a final_molecule_id equal to
// seedMoleculeID so later phases have a molecule to chain off).
func completeAll(t *testing.T, st storage.Store, tag string, energy float64, seedMoleculeID int64) {
	t.Helper()
	ctx := context.Background()
	programs := map[string]string{"psi4": "", "geometric": ""}
	for {
		claimed, err := st.ClaimTasks(ctx, "test-manager", programs, []string{tag}, 100)
		require.NoError(t, err)
		if len(claimed) == 0 {
			return
		}
		envelopes := make(map[int64]types.ResultEnvelope, len(claimed))
		for _, c := range claimed {
			payload := map[string]interface{}{"energy": energy}
			if c.Function == string(types.RecordOptimization) {
				payload["final_molecule_id"] = float64(seedMoleculeID)
			}
			envelopes[c.RecordID] = types.ResultEnvelope{Success: &types.SuccessPayload{
				Provenance:   map[string]interface{}{},
				ReturnResult: payload,
			}}
		}
		_, err = st.ReturnResults(ctx, "test-manager", envelopes)
		require.NoError(t, err)
	}
}

func runToCompletion(t *testing.T, st storage.Store, e *service.Engine, recordID int64, tag string, seedMoleculeID int64, maxIterations int) *types.Record {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxIterations; i++ {
		require.NoError(t, e.Iterate(ctx, recordID))
		completeAll(t, st, tag, 1.0-float64(i)*0.01, seedMoleculeID)

		recs, err := st.GetRecords(ctx, []int64{recordID}, types.Projection{}, false)
		require.NoError(t, err)
		if recs[0].Status == types.StatusComplete || recs[0].Status == types.StatusError {
			require.NoError(t, e.Iterate(ctx, recordID)) // harmless no-op once terminal
			return recs[0]
		}
	}
	t.Fatalf("record %d did not reach a terminal status within %d iterations", recordID, maxIterations)
	return nil
}

func TestReactionServiceCompletesWithWeightedSum(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := &service.Engine{Store: st}

	kwID := mustKeywords(t, st)
	qcSpecID := mustQCSpec(t, st, kwID)
	optSpecID := mustOptSpec(t, st, qcSpecID)

	water := mustMolecule(t, st, []string{"O", "H", "H"}, make([]float64, 9), nil)
	hydroxide := mustMolecule(t, st, []string{"O", "H"}, make([]float64, 6), nil)

	specs, _, err := st.InsertReactionSpecifications(ctx, []*types.ReactionSpecification{{
		Components: []types.ReactionComponent{
			{Coefficient: 1, MoleculeID: water, SinglepointSpecificationID: &qcSpecID},
			{Coefficient: -1, MoleculeID: hydroxide, OptimizationSpecificationID: &optSpecID},
		},
	}})
	require.NoError(t, err)
	reactionSpecID := specs[0].ID

	meta, ids, err := st.AddRecords(ctx, types.RecordReaction, reactionSpecID,
		[]storage.RecordInput{{MoleculeIDs: []int64{water, hydroxide}, InputKey: "rxn:1"}}, "default", 0, "tester", false, nil)
	require.NoError(t, err)
	require.Empty(t, meta.Errors)
	recordID := ids[0]

	rec := runToCompletion(t, st, e, recordID, "default", water, 5)
	require.Equal(t, types.StatusComplete, rec.Status)
	require.Contains(t, rec.Outputs, "total_energy")
	require.Contains(t, rec.Outputs, "component_energies")
}

func TestManybodyServiceAppliesCounterpoiseCorrection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := &service.Engine{Store: st}

	kwID := mustKeywords(t, st)
	qcSpecID := mustQCSpec(t, st, kwID)

	dimer := mustMolecule(t, st, []string{"He", "He"}, []float64{0, 0, 0, 0, 0, 5}, [][]int{{0}, {1}})

	maxNBody := 2
	specs, _, err := st.InsertManybodySpecifications(ctx, []*types.ManybodySpecification{{
		QCSpecificationID: qcSpecID, BSSECorrection: types.BSSECP, MaxNBody: &maxNBody,
	}})
	require.NoError(t, err)
	mbSpecID := specs[0].ID

	meta, ids, err := st.AddRecords(ctx, types.RecordManybody, mbSpecID,
		[]storage.RecordInput{{MoleculeIDs: []int64{dimer}, InputKey: "mb:1"}}, "default", 0, "tester", false, nil)
	require.NoError(t, err)
	require.Empty(t, meta.Errors)
	recordID := ids[0]

	rec := runToCompletion(t, st, e, recordID, "default", dimer, 3)
	require.Equal(t, types.StatusComplete, rec.Status)
	require.Contains(t, rec.Outputs, "total_energy")
	require.Equal(t, "cp", rec.Outputs["bsse_correction"])
}

func TestTorsionDriveServiceRunsGridSweep(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := &service.Engine{Store: st}

	kwID := mustKeywords(t, st)
	qcSpecID := mustQCSpec(t, st, kwID)
	optSpecID := mustOptSpec(t, st, qcSpecID)

	mol := mustMolecule(t, st, []string{"H", "O", "O", "H"}, make([]float64, 12), nil)

	specs, _, err := st.InsertTorsionDriveSpecifications(ctx, []*types.TorsionDriveSpecification{{
		OptimizationSpecificationID: optSpecID,
		Dihedrals:                   [][4]int{{0, 1, 2, 3}},
		GridSpacing:                 []int{180},
	}})
	require.NoError(t, err)
	tdSpecID := specs[0].ID

	meta, ids, err := st.AddRecords(ctx, types.RecordTorsionDrive, tdSpecID,
		[]storage.RecordInput{{MoleculeIDs: []int64{mol}, InputKey: "td:1"}}, "default", 0, "tester", false, nil)
	require.NoError(t, err)
	require.Empty(t, meta.Errors)
	recordID := ids[0]

	rec := runToCompletion(t, st, e, recordID, "default", mol, 4)
	require.Equal(t, types.StatusComplete, rec.Status)
	require.Contains(t, rec.Outputs, "grid_minima")
	require.Contains(t, rec.Outputs, "global_minimum_key")
}

func TestGridOptimizationServiceWithPreoptimization(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := &service.Engine{Store: st}

	kwID := mustKeywords(t, st)
	qcSpecID := mustQCSpec(t, st, kwID)
	optSpecID := mustOptSpec(t, st, qcSpecID)

	mol := mustMolecule(t, st, []string{"H", "O", "O", "H"}, make([]float64, 12), nil)

	specs, _, err := st.InsertGridOptimizationSpecifications(ctx, []*types.GridOptimizationSpecification{{
		OptimizationSpecificationID: optSpecID,
		Scans: []types.GridScan{{
			Type: "dihedral", Indices: []int{0, 1, 2, 3}, Steps: []float64{-90, 0, 90}, StepType: types.StepAbsolute,
		}},
		Preoptimization: true,
	}})
	require.NoError(t, err)
	goSpecID := specs[0].ID

	meta, ids, err := st.AddRecords(ctx, types.RecordGridOptimization, goSpecID,
		[]storage.RecordInput{{MoleculeIDs: []int64{mol}, InputKey: "go:1"}}, "default", 0, "tester", false, nil)
	require.NoError(t, err)
	require.Empty(t, meta.Errors)
	recordID := ids[0]

	rec := runToCompletion(t, st, e, recordID, "default", mol, 4)
	require.Equal(t, types.StatusComplete, rec.Status)
	require.Contains(t, rec.Outputs, "minimum_key")
}

func TestNEBServiceWithEndpointOptimization(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := &service.Engine{Store: st}

	kwID := mustKeywords(t, st)
	qcSpecID := mustQCSpec(t, st, kwID)
	optSpecID := mustOptSpec(t, st, qcSpecID)

	var images []int64
	for i := 0; i < 3; i++ {
		images = append(images, mustMolecule(t, st, []string{"H", "H"}, []float64{0, 0, float64(i), 0, 0, float64(i) + 1}, nil))
	}

	specs, _, err := st.InsertNEBSpecifications(ctx, []*types.NEBSpecification{{
		OptimizationSpecificationID: optSpecID, QCSpecificationID: qcSpecID,
		Images: 3, SpringConstant: 1.0, OptimizeEndpoints: true,
	}})
	require.NoError(t, err)
	nebSpecID := specs[0].ID

	meta, ids, err := st.AddRecords(ctx, types.RecordNEB, nebSpecID,
		[]storage.RecordInput{{MoleculeIDs: images, InputKey: "neb:1"}}, "default", 0, "tester", false, nil)
	require.NoError(t, err)
	require.Empty(t, meta.Errors)
	recordID := ids[0]

	rec := runToCompletion(t, st, e, recordID, "default", images[0], 4)
	require.Equal(t, types.StatusComplete, rec.Status)
	require.Contains(t, rec.Outputs, "barrier_energy")
}
