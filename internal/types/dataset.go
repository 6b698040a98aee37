package types

import "time"

// DatasetKind mirrors RecordType for the purposes of choosing the
// per-entry specification shape (spec §4.8).
type DatasetKind string

const (
	DatasetSinglepoint  DatasetKind = "singlepoint"
	DatasetOptimization DatasetKind = "optimization"
	DatasetTorsionDrive DatasetKind = "torsiondrive"
)

// Dataset is a named collection of (entry x specification) -> record
// (spec §3, §4.8).
type Dataset struct {
	ID          int64       `json:"id"`
	Kind        DatasetKind `json:"kind"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	CreatedOn   time.Time   `json:"created_on"`
}

// DatasetEntry names one input (typically a molecule) within a dataset.
type DatasetEntry struct {
	DatasetID  int64                  `json:"dataset_id"`
	Name       string                 `json:"name"`
	MoleculeID int64                  `json:"molecule_id"`
	Comment    string                 `json:"comment,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// DatasetSpecification names one specification slot within a dataset.
type DatasetSpecification struct {
	DatasetID       int64  `json:"dataset_id"`
	Name            string `json:"name"`
	SpecificationID int64  `json:"specification_id"`
}

// DatasetRecordItem binds (dataset_id, entry_name, specification_name)
// to the deduplicated record_id that computes it.
type DatasetRecordItem struct {
	DatasetID       int64  `json:"dataset_id"`
	EntryName       string `json:"entry_name"`
	SpecificationName string `json:"specification_name"`
	RecordID        int64  `json:"record_id"`
}

// DatasetEntriesFromRequest names the source dataset to seed a
// destination dataset's entries from (`add_entries_from`, spec §4.8:
// "Entries may be added from another dataset"). The source is
// identified either by SourceDatasetID, or by the
// (SourceDatasetKind, SourceDatasetName) pair (name matched
// case-insensitively); SpecificationName is required only when the
// source turns out to be a non-singlepoint (e.g. optimization) dataset,
// since seeding then means reading each completed record's final
// molecule for that specification.
type DatasetEntriesFromRequest struct {
	SourceDatasetID   *int64
	SourceDatasetKind DatasetKind
	SourceDatasetName string
	SpecificationName string
}

// DatasetStatusBreakdown counts records by status for one specification
// slot of a dataset (spec §4.8: "aggregates child record statuses broken
// down by specification").
type DatasetStatusBreakdown struct {
	SpecificationName string           `json:"specification_name"`
	Counts            map[Status]int   `json:"counts"`
}
