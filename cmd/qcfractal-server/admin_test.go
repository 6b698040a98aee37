package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MolSSI/QCFractal-sub003/internal/storage/sqlitestore"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

func TestReapParserResolvesRelativeExpressions(t *testing.T) {
	ref := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	result, err := reapParser().Parse("3 days ago", ref)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.WithinDuration(t, ref.AddDate(0, 0, -3), result.Time, time.Minute)
}

func TestReapParserRejectsGarbage(t *testing.T) {
	result, err := reapParser().Parse("not a time expression at all", time.Now().UTC())
	require.NoError(t, err)
	require.Nil(t, result)
}

// TestReapChainDeactivatesManagersSeenBeforeCutoff exercises the
// deactivate+reset chain runReap drives (spec §4.7's manual counterpart)
// with a cutoff an hour ahead, so both freshly activated managers fall
// before it; neither holds a running record, so nothing is reset.
func TestReapChainDeactivatesManagersSeenBeforeCutoff(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "reap_test.db"))
	require.NoError(t, err)
	defer st.Close()

	stale := &types.Manager{Cluster: "c", Hostname: "stale-host", UUID: "stale-uuid", Programs: map[string]string{"psi4": ""}, Tags: []string{"default"}}
	fresh := &types.Manager{Cluster: "c", Hostname: "fresh-host", UUID: "fresh-uuid", Programs: map[string]string{"psi4": ""}, Tags: []string{"default"}}
	require.NoError(t, st.ActivateManager(ctx, stale))
	require.NoError(t, st.ActivateManager(ctx, fresh))

	cutoff := time.Now().UTC().Add(time.Hour)
	deactivated, err := st.DeactivateManagers(ctx, nil, &cutoff)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{stale.Name, fresh.Name}, deactivated, "both managers were last seen before an hour from now")

	reset, err := st.ResetAssigned(ctx, deactivated)
	require.NoError(t, err)
	require.Equal(t, 0, reset, "neither manager was holding a running record")
}
