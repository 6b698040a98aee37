package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// torsionGridPoint is one grid optimization the drive is waiting on or
// has resolved.
type torsionGridPoint struct {
	Key             string   `json:"key"`
	Angles          []int    `json:"angles"`
	SeedMoleculeID  int64    `json:"seed_molecule_id"`
	RecordID        int64    `json:"record_id"`
	Energy          *float64 `json:"energy,omitempty"`
	FinalMoleculeID *int64   `json:"final_molecule_id,omitempty"`
}

// torsionDriveState is the opaque JSON persisted in service_state
// between iterations.
type torsionDriveState struct {
	OptimizationSpecificationID int64              `json:"optimization_specification_id"`
	Phase                       string             `json:"phase"` // "preopt" or "grid"
	Preopt                      []torsionGridPoint `json:"preopt,omitempty"`
	Grid                        []torsionGridPoint `json:"grid,omitempty"`
}

type torsionDriveDriver struct{}

func gridAngles(spacing int, lo, hi int) []int {
	if spacing <= 0 {
		spacing = 1
	}
	var out []int
	for a := lo; a <= hi; a += spacing {
		out = append(out, a)
	}
	return out
}

// torsionGridAngleSets returns, for each dihedral in turn, the ordered
// set of angles it scans.
func torsionGridAngleSets(spec *types.TorsionDriveSpecification) [][]int {
	dims := make([][]int, len(spec.Dihedrals))
	for i := range spec.Dihedrals {
		lo, hi := -180, 165
		if i < len(spec.DihedralRanges) {
			lo, hi = spec.DihedralRanges[i][0], spec.DihedralRanges[i][1]
		}
		dims[i] = gridAngles(spec.GridSpacing[i], lo, hi)
	}
	return dims
}

// cartesianProductInts enumerates the cartesian product of dims in
// nested-loop order, which is already lexicographic since each
// dimension is itself generated in increasing order.
func cartesianProductInts(dims [][]int) [][]int {
	if len(dims) == 0 {
		return nil
	}
	combos := [][]int{{}}
	for _, dim := range dims {
		var next [][]int
		for _, c := range combos {
			for _, v := range dim {
				point := make([]int, len(c), len(c)+1)
				copy(point, c)
				next = append(next, append(point, v))
			}
		}
		combos = next
	}
	return combos
}

func buildTorsionGridPoints(spec *types.TorsionDriveSpecification, seedMoleculeID int64) []torsionGridPoint {
	angleSets := torsionGridAngleSets(spec)
	combos := cartesianProductInts(angleSets)
	points := make([]torsionGridPoint, len(combos))
	for i, c := range combos {
		points[i] = torsionGridPoint{Key: fmt.Sprint(c), Angles: c, SeedMoleculeID: seedMoleculeID}
	}
	return points
}

func submitTorsionPoints(ctx context.Context, store storage.Store, rec *types.Record, specID int64, phase string, points []torsionGridPoint) ([]torsionGridPoint, []types.ServiceDependency, error) {
	inputs := make([]storage.RecordInput, len(points))
	for i, p := range points {
		inputs[i] = storage.RecordInput{
			MoleculeIDs: []int64{p.SeedMoleculeID},
			InputKey:    fmt.Sprintf("torsiondrive:%d:%s:%d:%s", rec.ID, phase, p.SeedMoleculeID, p.Key),
		}
	}
	_, ids, err := store.AddRecords(ctx, types.RecordOptimization, specID, inputs,
		rec.Service.ComputeTag, rec.Service.ComputePriority, rec.CreatorUser, rec.Service.FindExisting, &rec.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("torsiondrive: submit %s batch: %w", phase, err)
	}
	deps := make([]types.ServiceDependency, len(points))
	for i := range points {
		points[i].RecordID = ids[i]
		deps[i] = types.ServiceDependency{
			RecordID: ids[i],
			Status:   types.StatusWaiting,
			Extras:   map[string]interface{}{"phase": phase, "key": points[i].Key},
		}
	}
	return points, deps, nil
}

func (torsionDriveDriver) start(ctx context.Context, store storage.Store, rec *types.Record) ([]byte, []types.ServiceDependency, error) {
	spec, err := store.GetTorsionDriveSpecification(ctx, rec.SpecificationID)
	if err != nil {
		return nil, nil, err
	}
	seeds, err := seedMoleculeIDs(rec.Service.ServiceState)
	if err != nil {
		return nil, nil, err
	}
	sorted, err := sortMoleculesByHash(ctx, store, seeds)
	if err != nil {
		return nil, nil, err
	}

	st := torsionDriveState{OptimizationSpecificationID: spec.OptimizationSpecificationID}

	if spec.Preoptimization {
		st.Phase = "preopt"
		points := make([]torsionGridPoint, len(sorted))
		for i, mid := range sorted {
			points[i] = torsionGridPoint{Key: fmt.Sprintf("preopt:%d", mid), SeedMoleculeID: mid}
		}
		points, deps, err := submitTorsionPoints(ctx, store, rec, spec.OptimizationSpecificationID, "preopt", points)
		if err != nil {
			return nil, nil, err
		}
		st.Preopt = points
		state, _ := json.Marshal(st)
		return state, deps, nil
	}

	st.Phase = "grid"
	var points []torsionGridPoint
	for _, mid := range sorted {
		points = append(points, buildTorsionGridPoints(spec, mid)...)
	}
	points, deps, err := submitTorsionPoints(ctx, store, rec, spec.OptimizationSpecificationID, "grid", points)
	if err != nil {
		return nil, nil, err
	}
	st.Grid = points
	state, _ := json.Marshal(st)
	return state, deps, nil
}

func (torsionDriveDriver) update(ctx context.Context, store storage.Store, rec *types.Record, stateRaw []byte, results []dependencyResult) (updateResult, error) {
	var st torsionDriveState
	if err := json.Unmarshal(stateRaw, &st); err != nil {
		return updateResult{}, fmt.Errorf("torsiondrive: decode state: %w", err)
	}

	switch st.Phase {
	case "preopt":
		for i := range st.Preopt {
			p := &st.Preopt[i]
			finalID, energy, err := extractOptimizationResult(findResult(results, p.RecordID))
			if err != nil {
				return updateResult{}, fmt.Errorf("torsiondrive: preopt result for molecule %d: %w", p.SeedMoleculeID, err)
			}
			p.FinalMoleculeID, p.Energy = &finalID, &energy
		}

		spec, err := store.GetTorsionDriveSpecification(ctx, rec.SpecificationID)
		if err != nil {
			return updateResult{}, err
		}
		var points []torsionGridPoint
		for _, p := range st.Preopt {
			points = append(points, buildTorsionGridPoints(spec, *p.FinalMoleculeID)...)
		}
		points, deps, err := submitTorsionPoints(ctx, store, rec, spec.OptimizationSpecificationID, "grid", points)
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
				return updateResult{}, fmt.Errorf("torsiondrive: grid result for key %s: %w", p.Key, err)
			}
			p.FinalMoleculeID, p.Energy = &finalID, &energy
		}

		minima := map[string]interface{}{}
		var globalKey string
		var globalEnergy float64
		first := true
		for _, p := range st.Grid {
			if cur, ok := minima[p.Key].(map[string]interface{}); !ok || *p.Energy < cur["energy"].(float64) {
				minima[p.Key] = map[string]interface{}{
					"energy":            *p.Energy,
					"final_molecule_id": *p.FinalMoleculeID,
					"angles":            p.Angles,
				}
			}
			if first || *p.Energy < globalEnergy {
				globalEnergy, globalKey, first = *p.Energy, p.Key, false
			}
		}

		state, _ := json.Marshal(st)
		outputs := map[string]interface{}{
			"grid_minima":           minima,
			"global_minimum_key":    globalKey,
			"global_minimum_energy": globalEnergy,
		}
		return updateResult{State: state, Finished: true, Outputs: outputs}, nil
	}

	return updateResult{}, fmt.Errorf("torsiondrive: unknown phase %q", st.Phase)
}
