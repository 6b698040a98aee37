package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// manybodyCluster is one fragment cluster the decomposition computes, or
// (for cp/vmfc correction) one monomer computed in a larger cluster's
// basis.
type manybodyCluster struct {
	Key            string  `json:"key"`
	RealFragments  []int   `json:"real_fragments"`
	BasisFragments []int   `json:"basis_fragments"`
	Ghost          bool    `json:"ghost"`
	RecordID       int64   `json:"record_id"`
	Energy         *float64 `json:"energy,omitempty"`
}

type manybodyState struct {
	QCSpecificationID int64             `json:"qc_specification_id"`
	MoleculeID        int64             `json:"molecule_id"`
	BSSECorrection    types.BSSEMode    `json:"bsse_correction"`
	Clusters          []manybodyCluster `json:"clusters"`
}

type manybodyDriver struct{}

func ghostKey(real, basis []int) string { return fmt.Sprintf("ghost:%v:in:%v", real, basis) }

func (manybodyDriver) start(ctx context.Context, store storage.Store, rec *types.Record) ([]byte, []types.ServiceDependency, error) {
	spec, err := store.GetManybodySpecification(ctx, rec.SpecificationID)
	if err != nil {
		return nil, nil, err
	}
	seeds, err := seedMoleculeIDs(rec.Service.ServiceState)
	if err != nil {
		return nil, nil, err
	}
	mol, err := store.GetMolecule(ctx, seeds[0])
	if err != nil {
		return nil, nil, err
	}
	nFrag := len(mol.Fragments)
	if nFrag < 2 {
		return nil, nil, fmt.Errorf("%w: manybody requires at least 2 molecule fragments, got %d", types.ErrInvalidPayload, nFrag)
	}
	maxNBody := nFrag
	if spec.MaxNBody != nil && *spec.MaxNBody < maxNBody {
		maxNBody = *spec.MaxNBody
	}

	var clusters []manybodyCluster
	for _, c := range combinations(nFrag, maxNBody) {
		clusters = append(clusters, manybodyCluster{Key: clusterKey(c), RealFragments: c, BasisFragments: c})
		if len(c) >= 2 && spec.BSSECorrection != types.BSSENone {
			for _, f := range c {
				clusters = append(clusters, manybodyCluster{Key: ghostKey([]int{f}, c), RealFragments: []int{f}, BasisFragments: c, Ghost: true})
			}
		}
	}

	inputs := make([]storage.RecordInput, len(clusters))
	for i, c := range clusters {
		inputs[i] = storage.RecordInput{MoleculeIDs: []int64{mol.ID}, InputKey: fmt.Sprintf("manybody:%d:%s", rec.ID, c.Key)}
	}
	_, ids, err := store.AddRecords(ctx, types.RecordSinglepoint, spec.QCSpecificationID, inputs,
		rec.Service.ComputeTag, rec.Service.ComputePriority, rec.CreatorUser, rec.Service.FindExisting, &rec.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("manybody: submit clusters: %w", err)
	}
	deps := make([]types.ServiceDependency, len(clusters))
	for i := range clusters {
		clusters[i].RecordID = ids[i]
		deps[i] = types.ServiceDependency{RecordID: ids[i], Status: types.StatusWaiting, Extras: map[string]interface{}{"key": clusters[i].Key}}
	}

	st := manybodyState{QCSpecificationID: spec.QCSpecificationID, MoleculeID: mol.ID, BSSECorrection: spec.BSSECorrection, Clusters: clusters}
	state, _ := json.Marshal(st)
	return state, deps, nil
}

func (manybodyDriver) update(ctx context.Context, store storage.Store, rec *types.Record, stateRaw []byte, results []dependencyResult) (updateResult, error) {
	var st manybodyState
	if err := json.Unmarshal(stateRaw, &st); err != nil {
		return updateResult{}, fmt.Errorf("manybody: decode state: %w", err)
	}

	byKey := map[string]*manybodyCluster{}
	for i := range st.Clusters {
		c := &st.Clusters[i]
		energy, err := extractEnergy(findResult(results, c.RecordID))
		if err != nil {
			return updateResult{}, fmt.Errorf("manybody: result for cluster %s: %w", c.Key, err)
		}
		c.Energy = &energy
		byKey[c.Key] = c
	}

	// Apply the counterpoise correction: for every real cluster of size
	// >= 2, subtract each fragment's ghost-vs-alone difference from its
	// raw energy before the many-body recursion runs.
	corrected := map[string]float64{}
	var realClusters [][]int
	clusterEnergy := map[string]float64{}
	for _, c := range st.Clusters {
		if c.Ghost {
			continue
		}
		realClusters = append(realClusters, c.RealFragments)
		clusterEnergy[clusterKey(c.RealFragments)] = *c.Energy
	}
	for _, c := range st.Clusters {
		if c.Ghost || len(c.RealFragments) < 2 || st.BSSECorrection == types.BSSENone {
			continue
		}
		e := *c.Energy
		for _, f := range c.RealFragments {
			ghost := byKey[ghostKey([]int{f}, c.RealFragments)]
			alone := byKey[clusterKey([]int{f})]
			if ghost != nil && alone != nil {
				e -= (*ghost.Energy - *alone.Energy)
			}
		}
		corrected[clusterKey(c.RealFragments)] = e
	}
	for k, v := range corrected {
		clusterEnergy[k] = v
	}

	delta := map[string]float64{}
	var total float64
	clusterEnergies := map[string]interface{}{}
	for _, c := range realClusters {
		key := clusterKey(c)
		var sub float64
		for _, s := range nonEmptyProperSubsets(c) {
			sub += delta[clusterKey(s)]
		}
		delta[key] = clusterEnergy[key] - sub
		total += delta[key]
		clusterEnergies[key] = clusterEnergy[key]
	}

	state, _ := json.Marshal(st)
	outputs := map[string]interface{}{
		"cluster_energies": clusterEnergies,
		"bsse_correction":  string(st.BSSECorrection),
		"total_energy":     total,
	}
	return updateResult{State: state, Finished: true, Outputs: outputs}, nil
}
