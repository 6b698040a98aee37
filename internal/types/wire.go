package types

// ClaimedTask is one entry of the list a successful claim() call returns
// to a manager (spec §6).
type ClaimedTask struct {
	TaskID           int64             `json:"task_id"`
	RecordID         int64             `json:"record_id"`
	Function         string            `json:"function"`
	Args             interface{}       `json:"args"`
	Kwargs           map[string]interface{} `json:"kwargs,omitempty"`
	RequiredPrograms map[string]string `json:"required_programs"`
	Tag              string            `json:"tag"`
	Priority         int               `json:"priority"`
}

// CompressionInfo records how a result field is compressed, per spec §6
// ("Both forms carry compression metadata per field").
type CompressionInfo struct {
	Algorithm string `json:"algorithm,omitempty"` // "", "lzma", "zstd", ...
	Level     int    `json:"level,omitempty"`
}

// SuccessPayload is the success form of a manager's result envelope
// (spec §6).
type SuccessPayload struct {
	Provenance     map[string]interface{} `json:"provenance"`
	ReturnResult   interface{}            `json:"return_result"`
	Stdout         *string                `json:"stdout,omitempty"`
	Stderr         *string                `json:"stderr,omitempty"`
	Wavefunction   map[string]interface{} `json:"wavefunction,omitempty"`
	NativeFiles    map[string][]byte      `json:"native_files,omitempty"`
	Compression    map[string]CompressionInfo `json:"compression,omitempty"`
	// ChildRecords declares additional records the return handler should
	// insert and link as children (spec §4.3, §9: e.g. an optimization's
	// trajectory).
	ChildRecords []ChildRecordDeclaration `json:"child_records,omitempty"`
}

// FailurePayload is the failure form of a manager's result envelope
// (spec §6).
type FailurePayload struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Compression  map[string]CompressionInfo `json:"compression,omitempty"`
}

// ResultEnvelope is exactly one of Success or Failure (spec §6, §5:
// "Returning a result is all-or-nothing per task").
type ResultEnvelope struct {
	Success *SuccessPayload `json:"success,omitempty"`
	Failure *FailurePayload `json:"failure,omitempty"`
}

// ChildRecordDeclaration is one auto-generated child a leaf success
// declares (spec §9 "Auto-generated tasks from completed results").
type ChildRecordDeclaration struct {
	RecordType      RecordType  `json:"record_type"`
	Relationship    string      `json:"relationship"` // "trajectory", "component", ...
	MoleculeID      int64       `json:"molecule_id"`
	SpecificationID int64       `json:"specification_id"`
	Position        int         `json:"position"`
}

// HeartbeatPayload is what a manager reports on heartbeat (spec §6).
type HeartbeatPayload struct {
	TotalCPUHours float64 `json:"total_cpu_hours"`
	ActiveTasks   int     `json:"active_tasks"`
	ActiveCores   int     `json:"active_cores"`
	ActiveMemory  float64 `json:"active_memory"`
	Status        string  `json:"status,omitempty"`
}
