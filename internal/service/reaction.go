package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

type reactionComponentState struct {
	Index       int     `json:"index"`
	Coefficient float64 `json:"coefficient"`
	IsOptimized bool    `json:"is_optimized"`
	RecordID    int64   `json:"record_id"`
	Energy      *float64 `json:"energy,omitempty"`
}

type reactionState struct {
	Components []reactionComponentState `json:"components"`
}

type reactionDriver struct{}

func (reactionDriver) start(ctx context.Context, store storage.Store, rec *types.Record) ([]byte, []types.ServiceDependency, error) {
	spec, err := store.GetReactionSpecification(ctx, rec.SpecificationID)
	if err != nil {
		return nil, nil, err
	}

	st := reactionState{Components: make([]reactionComponentState, len(spec.Components))}
	inputs := make([]storage.RecordInput, len(spec.Components))
	recordType := make([]types.RecordType, len(spec.Components))
	specID := make([]int64, len(spec.Components))

	// AddRecords takes one specification id per call, so components are
	// grouped by which specification they reference: one AddRecords
	// call per distinct (record type, specification id) pair below.
	for i, comp := range spec.Components {
		st.Components[i] = reactionComponentState{Index: i, Coefficient: comp.Coefficient}
		inputs[i] = storage.RecordInput{MoleculeIDs: []int64{comp.MoleculeID}, InputKey: fmt.Sprintf("reaction:%d:%d", rec.ID, i)}
		if comp.OptimizationSpecificationID != nil {
			recordType[i] = types.RecordOptimization
			specID[i] = *comp.OptimizationSpecificationID
			st.Components[i].IsOptimized = true
		} else {
			recordType[i] = types.RecordSinglepoint
			specID[i] = *comp.SinglepointSpecificationID
		}
	}

	var deps []types.ServiceDependency
	// Submit grouped by (recordType, specID) so each AddRecords call
	// stays within the one-specification-id-per-call contract.
	submitted := make(map[int]bool)
	for i := range spec.Components {
		if submitted[i] {
			continue
		}
		group := []int{i}
		for j := i + 1; j < len(spec.Components); j++ {
			if !submitted[j] && recordType[j] == recordType[i] && specID[j] == specID[i] {
				group = append(group, j)
			}
		}
		groupInputs := make([]storage.RecordInput, len(group))
		for k, idx := range group {
			groupInputs[k] = inputs[idx]
		}
		_, ids, err := store.AddRecords(ctx, recordType[i], specID[i], groupInputs,
			rec.Service.ComputeTag, rec.Service.ComputePriority, rec.CreatorUser, rec.Service.FindExisting, &rec.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("reaction: submit component group: %w", err)
		}
		for k, idx := range group {
			st.Components[idx].RecordID = ids[k]
			deps = append(deps, types.ServiceDependency{
				RecordID: ids[k], Status: types.StatusWaiting,
				Extras: map[string]interface{}{"index": idx, "coefficient": spec.Components[idx].Coefficient},
			})
			submitted[idx] = true
		}
	}

	state, _ := json.Marshal(st)
	return state, deps, nil
}

func (reactionDriver) update(ctx context.Context, store storage.Store, rec *types.Record, stateRaw []byte, results []dependencyResult) (updateResult, error) {
	var st reactionState
	if err := json.Unmarshal(stateRaw, &st); err != nil {
		return updateResult{}, fmt.Errorf("reaction: decode state: %w", err)
	}

	var total float64
	componentEnergies := map[string]interface{}{}
	for i := range st.Components {
		c := &st.Components[i]
		res := findResult(results, c.RecordID)
		var energy float64
		var err error
		if c.IsOptimized {
			_, energy, err = extractOptimizationResult(res)
		} else {
			energy, err = extractEnergy(res)
		}
		if err != nil {
			return updateResult{}, fmt.Errorf("reaction: result for component %d: %w", c.Index, err)
		}
		c.Energy = &energy
		total += c.Coefficient * energy
		componentEnergies[fmt.Sprint(c.Index)] = energy
	}

	state, _ := json.Marshal(st)
	outputs := map[string]interface{}{"total_energy": total, "component_energies": componentEnergies}
	return updateResult{State: state, Finished: true, Outputs: outputs}, nil
}
