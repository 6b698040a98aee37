package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MolSSI/QCFractal-sub003/internal/config"
	"github.com/MolSSI/QCFractal-sub003/internal/orchestrator"
	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlitestore"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "orchestrator_test.db")
	st, err := sqlitestore.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mustActivateManager(t *testing.T, st storage.Store, name string) *types.Manager {
	t.Helper()
	ctx := context.Background()
	m := &types.Manager{
		Cluster: "cluster", Hostname: name, UUID: "uuid-" + name,
		Programs: map[string]string{"psi4": ""}, Tags: []string{"default"},
	}
	require.NoError(t, st.ActivateManager(ctx, m))
	return m
}

func mustMolecule(t *testing.T, st storage.Store) int64 {
	t.Helper()
	ctx := context.Background()
	results, _, err := st.InsertMolecules(ctx, []storage.MoleculeInput{{Molecule: &types.Molecule{
		Symbols: []string{"He"}, Geometry: []float64{0, 0, 0}, Multiplicity: 1,
	}}})
	require.NoError(t, err)
	return results[0].ID
}

func mustQCSpec(t *testing.T, st storage.Store) int64 {
	t.Helper()
	ctx := context.Background()
	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	specs, _, err := st.InsertQCSpecifications(ctx, []*types.QCSpecification{{
		Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", KeywordsID: kw[0].ID,
	}})
	require.NoError(t, err)
	return specs[0].ID
}

func mustSinglepointRecord(t *testing.T, st storage.Store, tag string) int64 {
	t.Helper()
	ctx := context.Background()
	molID := mustMolecule(t, st)
	qcSpecID := mustQCSpec(t, st)
	_, ids, err := st.AddRecords(ctx, types.RecordSinglepoint, qcSpecID,
		[]storage.RecordInput{{MoleculeIDs: []int64{molID}, InputKey: "sp:" + tag}}, tag, 0, "tester", false, nil)
	require.NoError(t, err)
	return ids[0]
}

func TestHeartbeatReapDeactivatesStaleManagersAndResetsTheirRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := orchestrator.New(st, config.Defaults())
	o.Config.HeartbeatTimeout = time.Millisecond

	mustActivateManager(t, st, "stale-host")
	recordID := mustSinglepointRecord(t, st, "default")

	claimed, err := st.ClaimTasks(ctx, "cluster-stale-host-uuid-stale-host", map[string]string{"psi4": ""}, []string{"default"}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	time.Sleep(5 * time.Millisecond)

	n, err := o.HeartbeatReap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recs, err := st.GetRecords(ctx, []int64{recordID}, types.Projection{}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaiting, recs[0].Status)

	m, err := st.GetManager(ctx, "cluster-stale-host-uuid-stale-host")
	require.NoError(t, err)
	require.Equal(t, types.ManagerInactive, m.Status)
}

func TestHeartbeatReapLeavesFreshManagersAlone(t *testing.T) {
	st := newTestStore(t)
	o := orchestrator.New(st, config.Defaults())
	o.Config.HeartbeatTimeout = time.Hour

	mustActivateManager(t, st, "fresh-host")

	n, err := o.HeartbeatReap(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSetConfigTakesEffectOnNextCall(t *testing.T) {
	st := newTestStore(t)
	o := orchestrator.New(st, config.Defaults())
	o.Config.HeartbeatTimeout = time.Hour

	m := mustActivateManager(t, st, "about-to-go-stale")
	require.NoError(t, st.Heartbeat(context.Background(), m.Name, types.ManagerCounters{}))

	n, err := o.HeartbeatReap(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "long timeout: manager should not be reaped yet")

	reloaded := config.Defaults()
	reloaded.HeartbeatTimeout = time.Millisecond
	o.SetConfig(reloaded)
	time.Sleep(5 * time.Millisecond)

	n, err = o.HeartbeatReap(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "short timeout installed via SetConfig should reap the manager")
}

func TestStaleRecordSweepResetsRecordsWithNoActiveManager(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := orchestrator.New(st, config.Defaults())

	mustActivateManager(t, st, "ghost-host")
	recordID := mustSinglepointRecord(t, st, "default")

	claimed, err := st.ClaimTasks(ctx, "cluster-ghost-host-uuid-ghost-host", map[string]string{"psi4": ""}, []string{"default"}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// The manager vanishes without ever being deactivated (killed process,
	// never hits the heartbeat timeout because it never heartbeats again
	// in this test either way) — simulate that by deactivating it directly
	// so it drops out of the active set the sweep checks against.
	_, err = st.DeactivateManagers(ctx, []string{"cluster-ghost-host-uuid-ghost-host"}, nil)
	require.NoError(t, err)

	n, err := o.StaleRecordSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recs, err := st.GetRecords(ctx, []int64{recordID}, types.Projection{}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaiting, recs[0].Status)
}

func TestStaleRecordSweepIgnoresRecordsWithActiveManagers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := orchestrator.New(st, config.Defaults())

	mustActivateManager(t, st, "live-host")
	recordID := mustSinglepointRecord(t, st, "default")

	claimed, err := st.ClaimTasks(ctx, "cluster-live-host-uuid-live-host", map[string]string{"psi4": ""}, []string{"default"}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := o.StaleRecordSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	recs, err := st.GetRecords(ctx, []int64{recordID}, types.Projection{}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, recs[0].Status)
}

func TestAutoResetSweepResetsUnderLimitAndLeavesOverLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.AutoReset.Enabled = true
	cfg.AutoReset.MaxAttempts = map[string]int{"compute_error": 2}
	o := orchestrator.New(st, cfg)

	underID := mustSinglepointRecord(t, st, "under")
	overID := mustSinglepointRecord(t, st, "over")

	errorOnce := func(recordID int64, tag string) {
		claimed, err := st.ClaimTasks(ctx, "test-manager", map[string]string{"psi4": ""}, []string{tag}, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		_, err = st.ReturnResults(ctx, "test-manager", map[int64]types.ResultEnvelope{
			recordID: {Failure: &types.FailurePayload{ErrorType: "compute_error", ErrorMessage: "boom"}},
		})
		require.NoError(t, err)
	}

	resetToWaiting := func(recordID int64) {
		results, err := st.Transition(ctx, storage.OpReset, []int64{recordID}, false)
		require.NoError(t, err)
		require.NoError(t, results[recordID])
	}

	// underID errors once, stays under the limit of 2.
	errorOnce(underID, "under")

	// overID errors twice (reset between attempts), reaching the limit.
	errorOnce(overID, "over")
	resetToWaiting(overID)
	errorOnce(overID, "over")

	n, err := o.AutoResetSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recs, err := st.GetRecords(ctx, []int64{underID, overID}, types.Projection{}, true)
	require.NoError(t, err)
	byID := map[int64]*types.Record{}
	for _, r := range recs {
		byID[r.ID] = r
	}
	require.Equal(t, types.StatusWaiting, byID[underID].Status)
	require.Equal(t, types.StatusError, byID[overID].Status)
}

func TestAutoResetSweepNoopWithoutConfiguredErrorType(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.AutoReset.Enabled = false
	o := orchestrator.New(st, cfg)

	recordID := mustSinglepointRecord(t, st, "default")
	claimed, err := st.ClaimTasks(ctx, "test-manager", map[string]string{"psi4": ""}, []string{"default"}, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, err = st.ReturnResults(ctx, "test-manager", map[int64]types.ResultEnvelope{
		recordID: {Failure: &types.FailurePayload{ErrorType: "compute_error", ErrorMessage: "boom"}},
	})
	require.NoError(t, err)

	// AutoResetSweep itself has no enabled check (that gating lives in
	// tick()); called directly it still resets, so this just confirms the
	// counting logic tolerates an unconfigured error type gracefully when
	// MaxAttempts has no entry for it.
	cfg.AutoReset.MaxAttempts = map[string]int{}
	n, err := o.AutoResetSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestScheduleAndRunDatasetSubmissionJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := orchestrator.New(st, config.Defaults())

	qcSpecID := mustQCSpec(t, st)
	datasetID, err := st.CreateDataset(ctx, &types.Dataset{Kind: types.DatasetSinglepoint, Name: "test-dataset"})
	require.NoError(t, err)

	molID := mustMolecule(t, st)
	_, err = st.AddDatasetEntries(ctx, datasetID, []types.DatasetEntry{{DatasetID: datasetID, Name: "entry-1", MoleculeID: molID}})
	require.NoError(t, err)
	_, err = st.AddDatasetSpecifications(ctx, datasetID, []types.DatasetSpecification{{DatasetID: datasetID, Name: "spec-1", SpecificationID: qcSpecID}})
	require.NoError(t, err)

	jobID, err := o.ScheduleDatasetSubmission(ctx, datasetID, []string{"spec-1"}, time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.NotZero(t, jobID)

	n, err := o.RunDueJobs(ctx, "test-runner")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	items, err := st.FetchDatasetRecords(ctx, datasetID, "spec-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRunDueJobsSkipsUnregisteredHandlerType(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := orchestrator.New(st, config.Defaults())

	_, err := st.ScheduleJob(ctx, "unknown_type:1", "group", time.Now().Add(-time.Second), nil)
	require.NoError(t, err)

	n, err := o.RunDueJobs(ctx, "test-runner")
	require.NoError(t, err)
	require.Equal(t, 1, n) // claimed, but handler missing leaves it uncompleted
}

func TestServiceTickDrivesDueServices(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := orchestrator.New(st, config.Defaults())

	kw, _, err := st.InsertKeywords(ctx, []*types.KeywordSet{{Values: map[string]interface{}{}}})
	require.NoError(t, err)
	qcSpecID := mustQCSpec(t, st)
	_ = kw

	water := mustMolecule(t, st)
	hydroxide := mustMolecule(t, st)
	specs, _, err := st.InsertReactionSpecifications(ctx, []*types.ReactionSpecification{{
		Components: []types.ReactionComponent{
			{Coefficient: 1, MoleculeID: water, SinglepointSpecificationID: &qcSpecID},
			{Coefficient: -1, MoleculeID: hydroxide, SinglepointSpecificationID: &qcSpecID},
		},
	}})
	require.NoError(t, err)

	_, ids, err := st.AddRecords(ctx, types.RecordReaction, specs[0].ID,
		[]storage.RecordInput{{MoleculeIDs: []int64{water, hydroxide}, InputKey: "rxn:tick"}}, "default", 0, "tester", false, nil)
	require.NoError(t, err)

	n, err := o.ServiceTick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recs, err := st.GetRecords(ctx, []int64{ids[0]}, types.Projection{}, false)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, recs[0].Status)
}
