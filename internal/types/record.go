package types

import (
	"fmt"
	"time"
)

// RecordType is the polymorphic discriminator on base_record (spec §6).
type RecordType string

const (
	RecordSinglepoint      RecordType = "singlepoint"
	RecordOptimization     RecordType = "optimization"
	RecordTorsionDrive     RecordType = "torsiondrive"
	RecordGridOptimization RecordType = "gridoptimization"
	RecordManybody         RecordType = "manybody"
	RecordReaction         RecordType = "reaction"
	RecordNEB              RecordType = "neb"
)

// IsLeaf reports whether this record type attaches a Task (true) or a
// Service (false).
func (t RecordType) IsLeaf() bool {
	return t == RecordSinglepoint || t == RecordOptimization
}

func (t RecordType) valid() bool {
	switch t {
	case RecordSinglepoint, RecordOptimization, RecordTorsionDrive,
		RecordGridOptimization, RecordManybody, RecordReaction, RecordNEB:
		return true
	}
	return false
}

// Status is a record's place in the state machine of spec §4.5.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusInvalid   Status = "invalid"
	StatusDeleted   Status = "deleted"
)

func (s Status) valid() bool {
	switch s {
	case StatusWaiting, StatusRunning, StatusComplete, StatusError,
		StatusCancelled, StatusInvalid, StatusDeleted:
		return true
	}
	return false
}

// IsDormant reports whether a record in this status has its task/service
// row retained rather than available for claim/iteration (spec §4.5:
// cancelled/invalid/deleted are dormant; waiting/running/error are active).
func (s Status) IsDormant() bool {
	return s == StatusCancelled || s == StatusInvalid || s == StatusDeleted
}

// ComputeHistoryEntry is one append-only manager-attempt record (spec §3).
type ComputeHistoryEntry struct {
	Status      Status    `json:"status"`
	ModifiedOn  time.Time `json:"modified_on"`
	ManagerName string    `json:"manager_name,omitempty"`
	Provenance  map[string]interface{} `json:"provenance,omitempty"`
	ReturnResult interface{}           `json:"return_result,omitempty"`
	ErrorType    string               `json:"error_type,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Stdout      *string   `json:"stdout,omitempty"`
	Stderr      *string   `json:"stderr,omitempty"`
}

// RecordComment is one free-text annotation attached to a record,
// independent of its compute history (`record_comment`).
type RecordComment struct {
	ID        int64     `json:"id"`
	RecordID  int64     `json:"record_id"`
	Username  string    `json:"username,omitempty"`
	Comment   string    `json:"comment"`
	CreatedOn time.Time `json:"created_on"`
}

// InfoBackupEntry is one pushed snapshot on the record's LIFO revert
// stack (spec §4.5, §8, §9). It captures exactly enough to restore a
// narrowed status: the prior status, and the attached task/service row
// at that time (re-serialized verbatim, never recomputed).
type InfoBackupEntry struct {
	PriorStatus Status           `json:"prior_status"`
	Task        *Task            `json:"task,omitempty"`
	Service     *Service         `json:"service,omitempty"`
	PushedBy    string           `json:"pushed_by"` // operation name: cancel, invalidate, soft_delete
	PushedOn    time.Time        `json:"pushed_on"`
}

// Task is the concrete job payload a manager executes for a leaf record
// (spec §3).
type Task struct {
	ID                int64             `json:"id"`
	RecordID          int64             `json:"record_id"`
	FunctionName      string            `json:"function"`
	Args              interface{}       `json:"args"`
	Kwargs            map[string]interface{} `json:"kwargs,omitempty"`
	RequiredPrograms  map[string]string `json:"required_programs"` // program -> version ("" = any)
	ComputeTag        string            `json:"compute_tag"`
	ComputePriority   int               `json:"compute_priority"`
	Available         bool              `json:"available"`
	CreatedOn         time.Time         `json:"created_on"`
}

// Service holds the opaque, type-specific iteration state for a service
// record (spec §3, §4.6).
type Service struct {
	ID            int64              `json:"id"`
	RecordID      int64              `json:"record_id"`
	ServiceState  []byte             `json:"service_state"` // opaque JSON, see internal/service
	ComputeTag    string             `json:"compute_tag"`
	ComputePriority int              `json:"compute_priority"`
	FindExisting  bool               `json:"find_existing"`
	Dependencies  []ServiceDependency `json:"dependencies"`
	CreatedOn     time.Time          `json:"created_on"`
}

// ServiceDependency is one child record a service is waiting on, with
// per-dependency extras (position, iteration, grid key, ...).
type ServiceDependency struct {
	RecordID int64                  `json:"record_id"`
	Status   Status                 `json:"status"` // cached, refreshed each iteration
	Extras   map[string]interface{} `json:"extras,omitempty"`
}

// Record is the polymorphic header shared by every record type
// (spec §3). Exactly one of Task/Service is non-nil, gated by
// RecordType.IsLeaf() and Status (invariant 1/2).
type Record struct {
	ID             int64      `json:"id"`
	RecordType     RecordType `json:"record_type"`
	Status         Status     `json:"status"`
	ManagerName    string     `json:"manager_name,omitempty"`
	SpecificationID int64     `json:"specification_id"`
	CreatorUser    string     `json:"creator_user,omitempty"`
	ParentID       *int64     `json:"parent_id,omitempty"`
	CreatedOn      time.Time  `json:"created_on"`
	ModifiedOn     time.Time  `json:"modified_on"`
	ComputeHistory []ComputeHistoryEntry `json:"compute_history"`
	InfoBackup     []InfoBackupEntry     `json:"info_backup"`
	Task           *Task      `json:"task,omitempty"`
	Service        *Service   `json:"service,omitempty"`
	Outputs        map[string]interface{} `json:"outputs,omitempty"`
}

// Validate checks invariants 1, 2, 5, and 6 of spec §3 that can be
// checked without a database round trip.
func (r *Record) Validate() error {
	if !r.RecordType.valid() {
		return fmt.Errorf("%w: invalid record_type %q", ErrInvalidPayload, r.RecordType)
	}
	if !r.Status.valid() {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidPayload, r.Status)
	}

	leafActive := r.RecordType.IsLeaf() &&
		(r.Status == StatusWaiting || r.Status == StatusRunning || r.Status == StatusError)
	serviceActive := !r.RecordType.IsLeaf() &&
		(r.Status == StatusWaiting || r.Status == StatusRunning || r.Status == StatusError)

	if leafActive && r.Task == nil {
		return fmt.Errorf("%w: leaf record in status %q has no task row", ErrInvalidPayload, r.Status)
	}
	if !leafActive && r.Task != nil && r.RecordType.IsLeaf() {
		return fmt.Errorf("%w: leaf record in status %q must not have a task row", ErrInvalidPayload, r.Status)
	}
	if serviceActive && r.Service == nil {
		return fmt.Errorf("%w: service record in status %q has no service row", ErrInvalidPayload, r.Status)
	}

	if r.Status == StatusRunning && r.ManagerName == "" {
		return fmt.Errorf("%w: running record has no manager_name", ErrInvalidPayload)
	}
	if r.Status == StatusWaiting && r.ManagerName != "" {
		return fmt.Errorf("%w: waiting record has a manager_name", ErrInvalidPayload)
	}
	if r.Task != nil {
		wantAvailable := r.Status == StatusWaiting
		if r.Task.Available != wantAvailable {
			return fmt.Errorf("%w: task.available=%v inconsistent with status %q", ErrInvalidPayload, r.Task.Available, r.Status)
		}
	}
	return nil
}
