package types

import "time"

// InsertStatus is the per-item outcome of a C1/C2 batch insert (spec §4.1/§4.2).
type InsertStatus string

const (
	InsertInserted InsertStatus = "inserted"
	InsertExisting InsertStatus = "existing"
	InsertError    InsertStatus = "error"
)

// InsertMetadata reports the per-item classification of a batch insert,
// separately from the returned ids, per spec §4.2.
type InsertMetadata struct {
	InsertedIdx []int            `json:"inserted_idx"`
	ExistingIdx []int            `json:"existing_idx"`
	ErrorIdx    []int            `json:"error_idx"`
	Errors      map[int]string   `json:"errors,omitempty"` // index -> message, correlated with ErrorIdx
}

// InsertResult is the per-input result row C1 returns, in input order.
type InsertResult struct {
	Status InsertStatus
	ID     int64 // 0 if Status == InsertError
	Err    error
}

// RecordFilter selects records for C2.query (spec §4.2).
type RecordFilter struct {
	RecordType      []RecordType
	Status          []Status
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	ModifiedAfter   *time.Time
	ModifiedBefore  *time.Time
	OwnerUser       string
	ParentID        *int64
	ChildID         *int64
	SpecificationID *int64
	Limit           int
	Skip            int
}

// ManagerFilter selects managers for C4.query (spec §4.4).
type ManagerFilter struct {
	Cluster        string
	Hostname       string
	Status         *ManagerStatus
	ModifiedAfter  *time.Time
	ModifiedBefore *time.Time
	Limit          int
	Skip           int
}

// QueryPage is the paginated result envelope shared by C2.query and
// C4.query (spec §4.2: "returning n_found (unpaged) and n_returned").
type QueryPage struct {
	NFound    int
	NReturned int
}

// Projection controls C2.get's column/relationship selection (spec §4.2).
type Projection struct {
	Include []string
	Exclude []string
}

// Includes reports whether a named field should be returned under the
// spec §4.2 projection rules: nil or ["*"] means the default column set;
// named columns are always permitted; id and record_type are never
// omitted.
func (p Projection) Includes(field string, defaultIncluded bool) bool {
	if field == "id" || field == "record_type" {
		return true
	}
	for _, e := range p.Exclude {
		if e == field {
			return false
		}
	}
	if len(p.Include) == 0 {
		return defaultIncluded
	}
	if len(p.Include) == 1 && p.Include[0] == "*" {
		return defaultIncluded
	}
	for _, inc := range p.Include {
		if inc == field {
			return true
		}
	}
	return false
}
