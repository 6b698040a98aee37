package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

type nebImage struct {
	Index           int      `json:"index"`
	MoleculeID      int64    `json:"molecule_id"`
	RecordID        int64    `json:"record_id"`
	Energy          *float64 `json:"energy,omitempty"`
	FinalMoleculeID *int64   `json:"final_molecule_id,omitempty"`
}

type nebState struct {
	QCSpecificationID           int64      `json:"qc_specification_id"`
	OptimizationSpecificationID int64      `json:"optimization_specification_id"`
	OptimizeEndpoints           bool       `json:"optimize_endpoints"`
	Phase                       string     `json:"phase"` // "singlepoints" or "endpoints"
	Images                      []nebImage `json:"images"`
}

type nebDriver struct{}

func (nebDriver) start(ctx context.Context, store storage.Store, rec *types.Record) ([]byte, []types.ServiceDependency, error) {
	spec, err := store.GetNEBSpecification(ctx, rec.SpecificationID)
	if err != nil {
		return nil, nil, err
	}
	seeds, err := seedMoleculeIDs(rec.Service.ServiceState)
	if err != nil {
		return nil, nil, err
	}
	if len(seeds) != spec.Images {
		return nil, nil, fmt.Errorf("%w: neb specification declares %d images but %d seed molecules were given",
			types.ErrInvalidPayload, spec.Images, len(seeds))
	}

	images := make([]nebImage, len(seeds))
	inputs := make([]storage.RecordInput, len(seeds))
	for i, mid := range seeds {
		images[i] = nebImage{Index: i, MoleculeID: mid}
		inputs[i] = storage.RecordInput{MoleculeIDs: []int64{mid}, InputKey: fmt.Sprintf("neb:%d:singlepoint:%d", rec.ID, i)}
	}
	_, ids, err := store.AddRecords(ctx, types.RecordSinglepoint, spec.QCSpecificationID, inputs,
		rec.Service.ComputeTag, rec.Service.ComputePriority, rec.CreatorUser, rec.Service.FindExisting, &rec.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("neb: submit chain singlepoints: %w", err)
	}
	deps := make([]types.ServiceDependency, len(images))
	for i := range images {
		images[i].RecordID = ids[i]
		deps[i] = types.ServiceDependency{RecordID: ids[i], Status: types.StatusWaiting, Extras: map[string]interface{}{"index": i}}
	}

	st := nebState{
		QCSpecificationID:           spec.QCSpecificationID,
		OptimizationSpecificationID: spec.OptimizationSpecificationID,
		OptimizeEndpoints:           spec.OptimizeEndpoints,
		Phase:                       "singlepoints",
		Images:                      images,
	}
	state, _ := json.Marshal(st)
	return state, deps, nil
}

func (nebDriver) update(ctx context.Context, store storage.Store, rec *types.Record, stateRaw []byte, results []dependencyResult) (updateResult, error) {
	var st nebState
	if err := json.Unmarshal(stateRaw, &st); err != nil {
		return updateResult{}, fmt.Errorf("neb: decode state: %w", err)
	}

	switch st.Phase {
	case "singlepoints":
		for i := range st.Images {
			img := &st.Images[i]
			energy, err := extractEnergy(findResult(results, img.RecordID))
			if err != nil {
				return updateResult{}, fmt.Errorf("neb: result for image %d: %w", img.Index, err)
			}
			img.Energy = &energy
		}

		if !st.OptimizeEndpoints {
			return finishNEB(st)
		}

		first, last := &st.Images[0], &st.Images[len(st.Images)-1]
		inputs := []storage.RecordInput{
			{MoleculeIDs: []int64{first.MoleculeID}, InputKey: fmt.Sprintf("neb:%d:endpoint:0", rec.ID)},
			{MoleculeIDs: []int64{last.MoleculeID}, InputKey: fmt.Sprintf("neb:%d:endpoint:%d", rec.ID, last.Index)},
		}
		_, ids, err := store.AddRecords(ctx, types.RecordOptimization, st.OptimizationSpecificationID, inputs,
			rec.Service.ComputeTag, rec.Service.ComputePriority, rec.CreatorUser, rec.Service.FindExisting, &rec.ID)
		if err != nil {
			return updateResult{}, fmt.Errorf("neb: submit endpoint optimizations: %w", err)
		}
		first.RecordID, last.RecordID = ids[0], ids[1]
		st.Phase = "endpoints"
		deps := []types.ServiceDependency{
			{RecordID: ids[0], Status: types.StatusWaiting, Extras: map[string]interface{}{"index": first.Index}},
			{RecordID: ids[1], Status: types.StatusWaiting, Extras: map[string]interface{}{"index": last.Index}},
		}
		state, _ := json.Marshal(st)
		return updateResult{State: state, Dependencies: deps}, nil

	case "endpoints":
		first, last := &st.Images[0], &st.Images[len(st.Images)-1]
		for _, img := range []*nebImage{first, last} {
			finalID, energy, err := extractOptimizationResult(findResult(results, img.RecordID))
			if err != nil {
				return updateResult{}, fmt.Errorf("neb: endpoint result for image %d: %w", img.Index, err)
			}
			img.FinalMoleculeID, img.Energy = &finalID, &energy
		}
		return finishNEB(st)
	}

	return updateResult{}, fmt.Errorf("neb: unknown phase %q", st.Phase)
}

func finishNEB(st nebState) (updateResult, error) {
	imageEnergies := make([]interface{}, len(st.Images))
	var barrier, minEnergy float64
	first := true
	for i, img := range st.Images {
		imageEnergies[i] = map[string]interface{}{"index": img.Index, "energy": *img.Energy}
		if first || *img.Energy < minEnergy {
			minEnergy = *img.Energy
		}
		if first || *img.Energy > barrier {
			barrier = *img.Energy
		}
		first = false
	}
	state, _ := json.Marshal(st)
	outputs := map[string]interface{}{
		"image_energies":    imageEnergies,
		"barrier_energy":    barrier - minEnergy,
		"minimum_energy":    minEnergy,
	}
	return updateResult{State: state, Finished: true, Outputs: outputs}, nil
}
