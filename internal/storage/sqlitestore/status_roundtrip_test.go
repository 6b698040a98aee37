package sqlitestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// TestInsertMoleculeTwiceDeduplicates reproduces spec §8 scenario 1:
// inserting the same molecule twice must report one insert and one
// dedup hit, both resolving to the same id.
func TestInsertMoleculeTwiceDeduplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mol := &types.Molecule{Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, 2}, Multiplicity: 1}

	first, meta1, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: mol}})
	require.NoError(t, err)
	require.Len(t, meta1.InsertedIdx, 1)
	require.Len(t, meta1.ExistingIdx, 0)

	second, meta2, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: mol}})
	require.NoError(t, err)
	require.Len(t, meta2.InsertedIdx, 0)
	require.Len(t, meta2.ExistingIdx, 1)

	require.Equal(t, first[0].ID, second[0].ID)
}

// completeRecord claims and returns a successful result for recordID,
// tagged tag, driving it straight from waiting to complete.
func completeRecord(t *testing.T, st storage.Store, recordID int64, tag string, energy float64) {
	t.Helper()
	ctx := context.Background()
	claimed, err := st.ClaimTasks(ctx, "test-manager", map[string]string{"psi4": ""}, []string{tag}, 10)
	require.NoError(t, err)
	var taskRecordID int64
	for _, c := range claimed {
		if c.RecordID == recordID {
			taskRecordID = c.RecordID
		}
	}
	require.Equal(t, recordID, taskRecordID, "record must have been claimable under tag %q", tag)

	_, err = st.ReturnResults(ctx, "test-manager", map[int64]types.ResultEnvelope{
		recordID: {Success: &types.SuccessPayload{Provenance: map[string]interface{}{}, ReturnResult: map[string]interface{}{"energy": energy}}},
	})
	require.NoError(t, err)
}

func recordStatus(t *testing.T, st storage.Store, id int64) types.Status {
	t.Helper()
	recs, err := st.GetRecords(context.Background(), []int64{id}, types.Projection{}, false)
	require.NoError(t, err)
	return recs[0].Status
}

// TestSoftDeleteCascadeAndUndelete reproduces spec §8 scenario 6: a
// parent record with a 3-structure trajectory, soft-deleted with
// delete_children, then undeleted. The parent and its trajectory
// members are singlepoint records linked through parent_id.
func TestSoftDeleteCascadeAndUndelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: strp("6-31g"), KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)
	qcSpecID := specs[0].ID

	mols, _, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: &types.Molecule{
		Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, 1}, Multiplicity: 1,
	}}})
	require.NoError(t, err)

	_, optIDs, err := st.AddRecords(ctx, types.RecordSinglepoint, qcSpecID,
		[]storage.RecordInput{{MoleculeIDs: []int64{mols[0].ID}, InputKey: "opt:parent"}}, "tagO", 0, "tester", false, nil)
	require.NoError(t, err)
	optID := optIDs[0]

	var children []int64
	for i := 0; i < 3; i++ {
		cmol, _, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: &types.Molecule{
			Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, float64(2 + i)}, Multiplicity: 1,
		}}})
		require.NoError(t, err)
		_, ids, err := st.AddRecords(ctx, types.RecordSinglepoint, qcSpecID,
			[]storage.RecordInput{{MoleculeIDs: []int64{cmol[0].ID}, InputKey: "traj:" + string(rune('a'+i))}},
			"tagC", 0, "tester", false, &optID)
		require.NoError(t, err)
		children = append(children, ids[0])
	}

	completeRecord(t, st, optID, "tagO", 1.0)
	for _, c := range children {
		completeRecord(t, st, c, "tagC", 1.0)
	}
	require.Equal(t, types.StatusComplete, recordStatus(t, st, optID))
	for _, c := range children {
		require.Equal(t, types.StatusComplete, recordStatus(t, st, c))
	}

	kids, err := st.ChildRecordIDs(ctx, optID, false)
	require.NoError(t, err)
	require.ElementsMatch(t, children, kids)

	perID, err := st.Transition(ctx, storage.OpSoftDelete, []int64{optID}, true)
	require.NoError(t, err)
	require.Empty(t, perID)

	require.Equal(t, types.StatusDeleted, recordStatus(t, st, optID))
	for _, c := range children {
		require.Equal(t, types.StatusDeleted, recordStatus(t, st, c), "trajectory member %d must cascade to deleted", c)
	}

	perID, err = st.Transition(ctx, storage.OpUndelete, []int64{optID}, true)
	require.NoError(t, err)
	require.Empty(t, perID)

	require.Equal(t, types.StatusComplete, recordStatus(t, st, optID))
	for _, c := range children {
		require.Equal(t, types.StatusComplete, recordStatus(t, st, c), "trajectory member %d must cascade back to complete", c)
	}
}

// TestCancelUncancelRoundTrip exercises C5's narrow/revert pair against
// the actual sqlstore-backed Transition, not just statusengine.Resolve's
// pure rule table.
func TestCancelUncancelRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: strp("6-31g"), KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)
	recordID := submitLeaf(t, st, specs[0].ID, "tagW", 1)

	_, err = st.Transition(ctx, storage.OpCancel, []int64{recordID}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, recordStatus(t, st, recordID))

	_, err = st.Transition(ctx, storage.OpUncancel, []int64{recordID}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaiting, recordStatus(t, st, recordID))

	// The task row must have been restored and be claimable again.
	claimed, err := st.ClaimTasks(ctx, "test-manager", map[string]string{"psi4": ""}, []string{"tagW"}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, recordID, claimed[0].RecordID)
}

// TestInvalidateUninvalidateRoundTrip covers the complete<->invalid leg
// of C5, which only narrows from complete (spec §4.5).
func TestInvalidateUninvalidateRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: strp("6-31g"), KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)
	recordID := submitLeaf(t, st, specs[0].ID, "tagI", 1)
	completeRecord(t, st, recordID, "tagI", 1.0)
	require.Equal(t, types.StatusComplete, recordStatus(t, st, recordID))

	_, err = st.Transition(ctx, storage.OpInvalidate, []int64{recordID}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusInvalid, recordStatus(t, st, recordID))

	_, err = st.Transition(ctx, storage.OpUninvalidate, []int64{recordID}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusComplete, recordStatus(t, st, recordID))
}

// TestResetThenReturnResultsKeepsExactlyTwoComputeHistoryEntries covers
// the reset() leg: an errored record resets to waiting without touching
// info_backup, and a subsequent successful return_results finalizes the
// second compute_history row it claims rather than appending a third.
func TestResetThenReturnResultsKeepsExactlyTwoComputeHistoryEntries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: strp("6-31g"), KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)
	recordID := submitLeaf(t, st, specs[0].ID, "tagR", 1)

	claimed, err := st.ClaimTasks(ctx, "test-manager", map[string]string{"psi4": ""}, []string{"tagR"}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, err = st.ReturnResults(ctx, "test-manager", map[int64]types.ResultEnvelope{
		recordID: {Failure: &types.FailurePayload{ErrorType: "compute_error", ErrorMessage: "boom"}},
	})
	require.NoError(t, err)
	require.Equal(t, types.StatusError, recordStatus(t, st, recordID))

	_, err = st.Transition(ctx, storage.OpReset, []int64{recordID}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaiting, recordStatus(t, st, recordID))

	completeRecord(t, st, recordID, "tagR", 2.0)
	require.Equal(t, types.StatusComplete, recordStatus(t, st, recordID))

	recs, err := st.GetRecords(ctx, []int64{recordID}, types.Projection{}, false)
	require.NoError(t, err)
	require.Len(t, recs[0].ComputeHistory, 2, "one running-then-error entry from the first attempt, one running-then-complete entry from the second")
	require.Equal(t, types.StatusError, recs[0].ComputeHistory[0].Status)
	require.Equal(t, types.StatusComplete, recs[0].ComputeHistory[1].Status)
}
