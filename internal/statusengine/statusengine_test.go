package statusengine_test

import (
	"testing"

	"github.com/MolSSI/QCFractal-sub003/internal/statusengine"
	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNarrowOps(t *testing.T) {
	tests := []struct {
		op     storage.StatusOp
		target types.Status
		allow  []types.Status
		refuse []types.Status
	}{
		{
			op:     storage.OpCancel,
			target: types.StatusCancelled,
			allow:  []types.Status{types.StatusWaiting, types.StatusRunning, types.StatusError},
			refuse: []types.Status{types.StatusComplete, types.StatusCancelled},
		},
		{
			op:     storage.OpInvalidate,
			target: types.StatusInvalid,
			allow:  []types.Status{types.StatusComplete},
			refuse: []types.Status{types.StatusWaiting, types.StatusRunning},
		},
		{
			op:     storage.OpSoftDelete,
			target: types.StatusDeleted,
			allow:  []types.Status{types.StatusWaiting, types.StatusRunning, types.StatusError, types.StatusComplete, types.StatusCancelled, types.StatusInvalid},
			refuse: []types.Status{types.StatusDeleted},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			rule, err := statusengine.Resolve(tt.op)
			require.NoError(t, err)
			assert.Equal(t, statusengine.ActionNarrow, rule.Action)
			assert.Equal(t, tt.target, rule.Target)
			for _, s := range tt.allow {
				assert.Truef(t, rule.Allows(s), "expected %s to allow %s", tt.op, s)
			}
			for _, s := range tt.refuse {
				assert.Falsef(t, rule.Allows(s), "expected %s to refuse %s", tt.op, s)
			}
		})
	}
}

func TestResolveRevertOps(t *testing.T) {
	tests := []struct {
		op       storage.StatusOp
		required types.Status
	}{
		{storage.OpUncancel, types.StatusCancelled},
		{storage.OpUninvalidate, types.StatusInvalid},
		{storage.OpUndelete, types.StatusDeleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			rule, err := statusengine.Resolve(tt.op)
			require.NoError(t, err)
			assert.Equal(t, statusengine.ActionRevert, rule.Action)
			assert.Equal(t, tt.required, rule.RequiredStatus())
		})
	}
}

func TestResolveHardDeleteAndReset(t *testing.T) {
	rule, err := statusengine.Resolve(storage.OpHardDelete)
	require.NoError(t, err)
	assert.Equal(t, statusengine.ActionHardDelete, rule.Action)
	assert.Equal(t, types.StatusDeleted, rule.RequiredStatus())

	rule, err = statusengine.Resolve(storage.OpReset)
	require.NoError(t, err)
	assert.Equal(t, statusengine.ActionReset, rule.Action)
	assert.Equal(t, types.StatusError, rule.RequiredStatus())
}

func TestResolveUnknownOp(t *testing.T) {
	_, err := statusengine.Resolve(storage.StatusOp("bogus"))
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
}
