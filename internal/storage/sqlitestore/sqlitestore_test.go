package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlitestore"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

func openTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	st, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "claim_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func strp(s string) *string { return &s }

// submitLeaf inserts a molecule plus a singlepoint record on tag,
// returning the record id. Each call gets its own molecule so the three
// records land at distinct, strictly increasing created_on timestamps.
func submitLeaf(t *testing.T, st storage.Store, qcSpecID int64, tag string, z float64) int64 {
	t.Helper()
	ctx := context.Background()
	mols, _, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: &types.Molecule{
		Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, z}, Multiplicity: 1,
	}}})
	require.NoError(t, err)

	_, ids, err := st.AddRecords(ctx, types.RecordSinglepoint, qcSpecID,
		[]storage.RecordInput{{MoleculeIDs: []int64{mols[0].ID}, InputKey: "sp:" + tag}}, tag, 0, "tester", false, nil)
	require.NoError(t, err)
	return ids[0]
}

// TestClaimTagPriorityWithWildcard reproduces spec §8 scenario 3: three
// waiting tasks tagged tag1/tag2/tag3 (submitted in that arrival order),
// claimed by a manager whose tags are [tag3, *]. The explicit tag3 task
// must come first; the remaining two, neither of which tag3 matches,
// fall to the wildcard bucket and keep their arrival order.
func TestClaimTagPriorityWithWildcard(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: strp("6-31g"), KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)
	qcSpecID := specs[0].ID

	id1 := submitLeaf(t, st, qcSpecID, "tag1", 1)
	id2 := submitLeaf(t, st, qcSpecID, "tag2", 2)
	id3 := submitLeaf(t, st, qcSpecID, "tag3", 3)

	claimed, err := st.ClaimTasks(ctx, "manager-1", map[string]string{"psi4": ""}, []string{"tag3", "*"}, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	require.Equal(t, id3, claimed[0].RecordID, "explicit tag3 match must be claimed first")
	require.Equal(t, id1, claimed[1].RecordID, "wildcard bucket preserves arrival order")
	require.Equal(t, id2, claimed[2].RecordID, "wildcard bucket preserves arrival order")
}

// TestClaimWildcardOnlyManagerMatchesAnyTag guards against a regression
// where a manager serving only "*" (the reference manager CLI's
// default, and spec §8 scenario 5's torsion-drive manager) could never
// claim a task because "*" never equals a task's literal compute_tag.
func TestClaimWildcardOnlyManagerMatchesAnyTag(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: strp("6-31g"), KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)
	qcSpecID := specs[0].ID

	id := submitLeaf(t, st, qcSpecID, "tagT", 1)

	claimed, err := st.ClaimTasks(ctx, "manager-1", map[string]string{"psi4": ""}, []string{"*"}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, id, claimed[0].RecordID)
}
