package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlitestore"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

func TestExecuteStandInDeterministic(t *testing.T) {
	task := types.ClaimedTask{
		RecordID: 7,
		Args:     map[string]interface{}{"molecule_ids": []interface{}{float64(3), float64(-5)}},
	}
	a := executeStandIn(task)
	b := executeStandIn(task)
	require.NotNil(t, a.Success)
	require.NotNil(t, b.Success)
	require.Equal(t, a.Success.ReturnResult, b.Success.ReturnResult)
	require.InDelta(t, 0.08, a.Success.ReturnResult.(float64), 1e-9)
}

func TestExecuteStandInFailureNeverProduced(t *testing.T) {
	task := types.ClaimedTask{RecordID: 1, Args: map[string]interface{}{"molecule_id": float64(1)}}
	env := executeStandIn(task)
	require.Nil(t, env.Failure)
	require.NotNil(t, env.Success)
}

// TestManagerWireContractRoundTrip exercises the same leaf-task lifecycle
// the reference "manager" subcommand drives: activate, claim, execute,
// return (spec §8 scenario 2), using executeStandIn directly
// rather than shelling out to the CLI.
func TestManagerWireContractRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "manager_test.db"))
	require.NoError(t, err)
	defer st.Close()

	mols, _, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: &types.Molecule{
		Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, 2}, Multiplicity: 1,
	}}})
	require.NoError(t, err)

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: strptr("6-31g"), KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)

	_, ids, err := st.AddRecords(ctx, types.RecordSinglepoint, specs[0].ID,
		[]storage.RecordInput{{MoleculeIDs: []int64{mols[0].ID}, InputKey: "sp:tagX"}}, "tagX", 0, "tester", false, nil)
	require.NoError(t, err)
	recordID := ids[0]

	m := &types.Manager{
		Cluster: "cluster", Hostname: "host", UUID: "uuid",
		Programs: map[string]string{"psi4": "", "qcengine": ""}, Tags: []string{"tagX"},
	}
	require.NoError(t, st.ActivateManager(ctx, m))

	claimed, err := st.ClaimTasks(ctx, m.Name, m.Programs, m.Tags, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, recordID, claimed[0].RecordID)

	results := map[int64]types.ResultEnvelope{claimed[0].RecordID: executeStandIn(claimed[0])}
	outcomes, err := st.ReturnResults(ctx, m.Name, results)
	require.NoError(t, err)
	require.Empty(t, outcomes)

	recs, err := st.GetRecords(ctx, []int64{recordID}, types.Projection{}, false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, types.StatusComplete, recs[0].Status)
	require.Nil(t, recs[0].Task)
	require.Len(t, recs[0].ComputeHistory, 1, "claim's running entry should be finalized in place, not appended to")
	require.Equal(t, types.StatusComplete, recs[0].ComputeHistory[0].Status)

	latest, err := st.GetLatestResult(ctx, recordID)
	require.NoError(t, err)
	require.Equal(t, types.StatusComplete, latest.Status)
	require.Equal(t, m.Name, latest.ManagerName)
}

func strptr(s string) *string { return &s }
