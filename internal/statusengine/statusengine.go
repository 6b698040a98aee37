// Package statusengine holds the C5 status transition table as a pure
// function of operation and current status, kept free of any database
// handle so it can be unit tested without a Store. Generalized from the
// open/in_progress/closed/blocked and soft-delete/restore rules scattered
// across beads' internal/storage/sqlite/issues.go and queries_delete.go
// into the full narrow/revert/hard-delete/reset machine spec §4.5 needs.
package statusengine

import (
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// Action is the kind of side effect a resolved operation requires.
type Action int

const (
	// ActionNarrow pushes current onto info_backup and moves to Target;
	// only legal when current is one of Rule.From.
	ActionNarrow Action = iota
	// ActionRevert pops info_backup and restores its prior status; only
	// legal when current equals Rule.From[0].
	ActionRevert
	// ActionHardDelete physically removes the record; only legal when
	// current equals Rule.From[0].
	ActionHardDelete
	// ActionReset retries an errored record without touching info_backup;
	// only legal when current equals Rule.From[0].
	ActionReset
)

// Rule is the resolved behavior for one storage.StatusOp.
type Rule struct {
	Action Action
	From   []types.Status // allowed/required source status set
	Target types.Status    // narrow-only: destination status
}

// Resolve returns the Rule governing op, or an error for an unknown op.
func Resolve(op storage.StatusOp) (Rule, error) {
	switch op {
	case storage.OpCancel:
		return Rule{Action: ActionNarrow, From: []types.Status{types.StatusWaiting, types.StatusRunning, types.StatusError}, Target: types.StatusCancelled}, nil
	case storage.OpInvalidate:
		return Rule{Action: ActionNarrow, From: []types.Status{types.StatusComplete}, Target: types.StatusInvalid}, nil
	case storage.OpSoftDelete:
		return Rule{Action: ActionNarrow, From: allNonDormantOrComplete(), Target: types.StatusDeleted}, nil
	case storage.OpUncancel:
		return Rule{Action: ActionRevert, From: []types.Status{types.StatusCancelled}}, nil
	case storage.OpUninvalidate:
		return Rule{Action: ActionRevert, From: []types.Status{types.StatusInvalid}}, nil
	case storage.OpUndelete:
		return Rule{Action: ActionRevert, From: []types.Status{types.StatusDeleted}}, nil
	case storage.OpHardDelete:
		return Rule{Action: ActionHardDelete, From: []types.Status{types.StatusDeleted}}, nil
	case storage.OpReset:
		return Rule{Action: ActionReset, From: []types.Status{types.StatusError}}, nil
	default:
		return Rule{}, fmt.Errorf("%w: unknown status operation %q", types.ErrInvalidPayload, op)
	}
}

func allNonDormantOrComplete() []types.Status {
	return []types.Status{
		types.StatusWaiting, types.StatusRunning, types.StatusError,
		types.StatusComplete, types.StatusCancelled, types.StatusInvalid,
	}
}

// Allows reports whether current is an acceptable source status for rule.
func (r Rule) Allows(current types.Status) bool {
	for _, f := range r.From {
		if f == current {
			return true
		}
	}
	return false
}

// RequiredStatus gives the single required current
// status for non-narrow rules, since those actions always have exactly
// one entry in From.
func (r Rule) RequiredStatus() types.Status {
	if len(r.From) == 0 {
		return ""
	}
	return r.From[0]
}
