package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

type gridScanPoint struct {
	Key             string   `json:"key"`
	Indices         []int    `json:"indices"` // index into each scan's Steps
	SeedMoleculeID  int64    `json:"seed_molecule_id"`
	RecordID        int64    `json:"record_id"`
	Energy          *float64 `json:"energy,omitempty"`
	FinalMoleculeID *int64   `json:"final_molecule_id,omitempty"`
}

type gridOptimizationState struct {
	OptimizationSpecificationID int64           `json:"optimization_specification_id"`
	Phase                       string          `json:"phase"` // "preopt" or "grid"
	Preopt                      *gridScanPoint  `json:"preopt,omitempty"`
	Grid                        []gridScanPoint `json:"grid,omitempty"`
}

type gridOptimizationDriver struct{}

// gridStepIndexCombos enumerates every index combination across spec's
// scans in nested-loop order, i.e. lexicographically over
// (scan0_index, scan1_index, ...) — the "orders scan steps
// lexicographically" rule spec §4.6 names.
func gridStepIndexCombos(spec *types.GridOptimizationSpecification) [][]int {
	combos := [][]int{{}}
	for _, scan := range spec.Scans {
		var next [][]int
		for _, c := range combos {
			for idx := range scan.Steps {
				point := make([]int, len(c), len(c)+1)
				copy(point, c)
				next = append(next, append(point, idx))
			}
		}
		combos = next
	}
	return combos
}

func buildGridScanPoints(spec *types.GridOptimizationSpecification, seedMoleculeID int64) []gridScanPoint {
	combos := gridStepIndexCombos(spec)
	points := make([]gridScanPoint, len(combos))
	for i, c := range combos {
		points[i] = gridScanPoint{Key: fmt.Sprint(c), Indices: c, SeedMoleculeID: seedMoleculeID}
	}
	return points
}

func submitGridScanPoints(ctx context.Context, store storage.Store, rec *types.Record, specID int64, phase string, points []gridScanPoint) ([]gridScanPoint, []types.ServiceDependency, error) {
	inputs := make([]storage.RecordInput, len(points))
	for i, p := range points {
		inputs[i] = storage.RecordInput{
			MoleculeIDs: []int64{p.SeedMoleculeID},
			InputKey:    fmt.Sprintf("gridoptimization:%d:%s:%s", rec.ID, phase, p.Key),
		}
	}
	_, ids, err := store.AddRecords(ctx, types.RecordOptimization, specID, inputs,
		rec.Service.ComputeTag, rec.Service.ComputePriority, rec.CreatorUser, rec.Service.FindExisting, &rec.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("gridoptimization: submit %s batch: %w", phase, err)
	}
	deps := make([]types.ServiceDependency, len(points))
	for i := range points {
		points[i].RecordID = ids[i]
		deps[i] = types.ServiceDependency{RecordID: ids[i], Status: types.StatusWaiting, Extras: map[string]interface{}{"phase": phase, "key": points[i].Key}}
	}
	return points, deps, nil
}

func (gridOptimizationDriver) start(ctx context.Context, store storage.Store, rec *types.Record) ([]byte, []types.ServiceDependency, error) {
	spec, err := store.GetGridOptimizationSpecification(ctx, rec.SpecificationID)
	if err != nil {
		return nil, nil, err
	}
	seeds, err := seedMoleculeIDs(rec.Service.ServiceState)
	if err != nil {
		return nil, nil, err
	}
	seed := seeds[0]

	st := gridOptimizationState{OptimizationSpecificationID: spec.OptimizationSpecificationID}

	if spec.Preoptimization {
		st.Phase = "preopt"
		points, deps, err := submitGridScanPoints(ctx, store, rec, spec.OptimizationSpecificationID, "preopt",
			[]gridScanPoint{{Key: "preopt", SeedMoleculeID: seed}})
		if err != nil {
			return nil, nil, err
		}
		st.Preopt = &points[0]
		state, _ := json.Marshal(st)
		return state, deps, nil
	}

	st.Phase = "grid"
	points, deps, err := submitGridScanPoints(ctx, store, rec, spec.OptimizationSpecificationID, "grid", buildGridScanPoints(spec, seed))
	if err != nil {
		return nil, nil, err
	}
	st.Grid = points
	state, _ := json.Marshal(st)
	return state, deps, nil
}

func (gridOptimizationDriver) update(ctx context.Context, store storage.Store, rec *types.Record, stateRaw []byte, results []dependencyResult) (updateResult, error) {
	var st gridOptimizationState
	if err := json.Unmarshal(stateRaw, &st); err != nil {
		return updateResult{}, fmt.Errorf("gridoptimization: decode state: %w", err)
	}

	switch st.Phase {
	case "preopt":
		finalID, energy, err := extractOptimizationResult(findResult(results, st.Preopt.RecordID))
		if err != nil {
			return updateResult{}, fmt.Errorf("gridoptimization: preopt result: %w", err)
		}
		st.Preopt.FinalMoleculeID, st.Preopt.Energy = &finalID, &energy

		spec, err := store.GetGridOptimizationSpecification(ctx, rec.SpecificationID)
		if err != nil {
			return updateResult{}, err
		}
		points, deps, err := submitGridScanPoints(ctx, store, rec, spec.OptimizationSpecificationID, "grid", buildGridScanPoints(spec, finalID))
		if err != nil {
			return updateResult{}, err
		}
		st.Phase = "grid"
		st.Grid = points
		state, _ := json.Marshal(st)
		return updateResult{State: state, Dependencies: deps}, nil

	case "grid":
		for i := range st.Grid {
			p := &st.Grid[i]
			finalID, energy, err := extractOptimizationResult(findResult(results, p.RecordID))
			if err != nil {
				return updateResult{}, fmt.Errorf("gridoptimization: result for key %s: %w", p.Key, err)
			}
			p.FinalMoleculeID, p.Energy = &finalID, &energy
		}

		var globalKey string
		var globalEnergy float64
		var globalFinal int64
		first := true
		scanValues := map[string]interface{}{}
		for _, p := range st.Grid {
			scanValues[p.Key] = map[string]interface{}{"energy": *p.Energy, "final_molecule_id": *p.FinalMoleculeID}
			if first || *p.Energy < globalEnergy {
				globalEnergy, globalKey, globalFinal, first = *p.Energy, p.Key, *p.FinalMoleculeID, false
			}
		}

		state, _ := json.Marshal(st)
		outputs := map[string]interface{}{
			"scan_values":             scanValues,
			"minimum_key":             globalKey,
			"minimum_energy":          globalEnergy,
			"minimum_final_molecule":  globalFinal,
		}
		return updateResult{State: state, Finished: true, Outputs: outputs}, nil
	}

	return updateResult{}, fmt.Errorf("gridoptimization: unknown phase %q", st.Phase)
}
