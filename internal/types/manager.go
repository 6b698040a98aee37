package types

import (
	"fmt"
	"strings"
	"time"
)

// ManagerStatus is the activation state of a compute manager.
type ManagerStatus string

const (
	ManagerActive   ManagerStatus = "active"
	ManagerInactive ManagerStatus = "inactive"
)

// ManagerCounters are the activity counters reported on heartbeat and
// updated per-task on return_results (spec §3, §4.3).
type ManagerCounters struct {
	TotalCPUHours float64 `json:"total_cpu_hours"`
	ActiveTasks   int     `json:"active_tasks"`
	ActiveCores   int     `json:"active_cores"`
	ActiveMemory  float64 `json:"active_memory"`
	Claimed       int64   `json:"claimed"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
	Rejected      int64   `json:"rejected"`
}

// Manager is an external compute-manager process (spec §3).
type Manager struct {
	ID         int64             `json:"id"`
	Cluster    string            `json:"cluster"`
	Hostname   string            `json:"hostname"`
	UUID       string            `json:"uuid"`
	Name       string            `json:"name"` // "cluster-hostname-uuid"
	Version    string            `json:"version,omitempty"`
	Username   string            `json:"username,omitempty"`
	Programs   map[string]string `json:"programs"` // name -> version ("" = any)
	Tags       []string          `json:"tags"`      // ordered, first-appearance deduped
	Status     ManagerStatus     `json:"status"`
	Counters   ManagerCounters   `json:"counters"`
	CreatedOn  time.Time         `json:"created_on"`
	ModifiedOn time.Time         `json:"modified_on"`
}

// WaitingReason explains why a waiting record hasn't been claimed yet
// (`get_waiting_reason`, a diagnostic supplementing spec §4.3's claim
// model). Details is keyed by manager name, one entry per active
// manager: why it doesn't match, or "Manager is busy" for one that
// does.
type WaitingReason struct {
	Reason  string            `json:"reason"`
	Details map[string]string `json:"details,omitempty"`
}

const (
	WaitingNoActiveManagers   = "No active managers"
	WaitingNoManagerMatches   = "No manager matches programs & tags"
	WaitingForFreeManager     = "Waiting for a free manager"
	WaitingNotWaiting         = "Record is not waiting"
	WaitingRecordNotFound     = "Record does not exist"
	WaitingRecordIsService    = "Record is a service"
)

// NormalizeAndValidate lowercases program keys and tag values, dedupes
// tags preserving first-appearance order, and applies the spec §4.4
// activate() validation (non-empty tags/programs after removing
// zero-length entries).
func (m *Manager) NormalizeAndValidate() error {
	if m.Cluster == "" || m.Hostname == "" || m.UUID == "" {
		return fmt.Errorf("%w: manager triplet requires cluster, hostname, and uuid", ErrInvalidPayload)
	}

	programs := make(map[string]string, len(m.Programs))
	for name, version := range m.Programs {
		lname := strings.TrimSpace(strings.ToLower(name))
		if lname == "" {
			continue
		}
		programs[lname] = version
	}
	if len(programs) == 0 {
		return fmt.Errorf("%w: manager has no non-empty programs", ErrInvalidPayload)
	}
	m.Programs = programs

	seen := make(map[string]bool, len(m.Tags))
	tags := make([]string, 0, len(m.Tags))
	for _, t := range m.Tags {
		lt := strings.TrimSpace(strings.ToLower(t))
		if lt == "" || seen[lt] {
			continue
		}
		seen[lt] = true
		tags = append(tags, lt)
	}
	if len(tags) == 0 {
		return fmt.Errorf("%w: manager has no non-empty tags", ErrInvalidPayload)
	}
	m.Tags = tags

	m.Name = m.Cluster + "-" + m.Hostname + "-" + m.UUID
	return nil
}
