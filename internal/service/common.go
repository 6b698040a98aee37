package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/MolSSI/QCFractal-sub003/internal/storage"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// seedState is the shape AddRecords seeds a service's initial
// service_state with (sqlstore/records.go): the molecule(s) the
// submission named.
type seedState struct {
	MoleculeIDs []int64 `json:"molecule_ids"`
}

func seedMoleculeIDs(raw []byte) ([]int64, error) {
	var s seedState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("service: decode seed state: %w", err)
	}
	if len(s.MoleculeIDs) == 0 {
		return nil, fmt.Errorf("%w: service has no seed molecules", types.ErrInvalidPayload)
	}
	return s.MoleculeIDs, nil
}

// sortMoleculesByHash resolves each id and returns them ordered by
// structural hash, the deterministic molecule ordering spec §4.6 names
// for torsion drive's multi-conformer case.
func sortMoleculesByHash(ctx context.Context, store storage.Store, ids []int64) ([]int64, error) {
	type keyed struct {
		id   int64
		hash string
	}
	ks := make([]keyed, len(ids))
	for i, id := range ids {
		m, err := store.GetMolecule(ctx, id)
		if err != nil {
			return nil, err
		}
		ks[i] = keyed{id: id, hash: m.StructuralHash}
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].hash < ks[j].hash })
	out := make([]int64, len(ks))
	for i, k := range ks {
		out[i] = k.id
	}
	return out, nil
}

func findResult(results []dependencyResult, recordID int64) *types.ComputeHistoryEntry {
	for _, r := range results {
		if r.RecordID == recordID {
			return r.Result
		}
	}
	return nil
}

// resultNumber reads a numeric field out of a compute result's free-form
// ReturnResult bag. The wire convention every leaf computation in this
// module follows: a JSON object with at least "energy", and
// "final_molecule_id" when the record was an optimization.
func resultNumber(res *types.ComputeHistoryEntry, key string) (float64, bool) {
	if res == nil {
		return 0, false
	}
	m, ok := res.ReturnResult.(map[string]interface{})
	if !ok {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// extractEnergy reads the "energy" field common to every leaf result.
func extractEnergy(res *types.ComputeHistoryEntry) (float64, error) {
	f, ok := resultNumber(res, "energy")
	if !ok {
		return 0, fmt.Errorf("%w: compute result missing energy", types.ErrInvalidPayload)
	}
	return f, nil
}

// extractOptimizationResult reads the "energy" and "final_molecule_id"
// fields an optimization record's result carries.
func extractOptimizationResult(res *types.ComputeHistoryEntry) (finalMoleculeID int64, energy float64, err error) {
	energy, err = extractEnergy(res)
	if err != nil {
		return 0, 0, err
	}
	f, ok := resultNumber(res, "final_molecule_id")
	if !ok {
		return 0, 0, fmt.Errorf("%w: optimization result missing final_molecule_id", types.ErrInvalidPayload)
	}
	return int64(f), energy, nil
}

// nonEmptyProperSubsets enumerates every non-empty subset of c other
// than c itself, in ascending-size, lexicographic order — used by the
// many-body expansion to recurse into a cluster's sub-clusters.
func nonEmptyProperSubsets(c []int) [][]int {
	n := len(c)
	var out [][]int
	for mask := 1; mask < (1 << n) - 1; mask++ {
		var sub []int
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				sub = append(sub, c[i])
			}
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return fmt.Sprint(out[i]) < fmt.Sprint(out[j])
	})
	return out
}

// combinations enumerates every non-empty subset of {0,...,n-1} with
// size at most maxSize, ordered by size ascending then lexicographically
// within a size — the "fixed combinatorial order" spec §4.6 requires for
// manybody's fragment-cluster enumeration.
func combinations(n, maxSize int) [][]int {
	if maxSize > n {
		maxSize = n
	}
	var out [][]int
	for size := 1; size <= maxSize; size++ {
		size := size
		var build func(start int, cur []int)
		build = func(start int, cur []int) {
			if len(cur) == size {
				out = append(out, cur)
				return
			}
			for i := start; i < n; i++ {
				next := make([]int, len(cur), len(cur)+1)
				copy(next, cur)
				build(i+1, append(next, i))
			}
		}
		build(0, nil)
	}
	return out
}

func clusterKey(c []int) string { return fmt.Sprint(c) }
