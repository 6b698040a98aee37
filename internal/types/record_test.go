package types

import (
	"errors"
	"testing"
	"time"
)

func TestRecordValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		record  Record
		wantErr bool
	}{
		{
			name: "valid waiting leaf",
			record: Record{
				RecordType: RecordSinglepoint,
				Status:     StatusWaiting,
				Task:       &Task{Available: true},
				CreatedOn:  now,
				ModifiedOn: now,
			},
		},
		{
			name: "valid running leaf",
			record: Record{
				RecordType:  RecordSinglepoint,
				Status:      StatusRunning,
				ManagerName: "cluster-host-uuid",
				Task:        &Task{Available: false},
			},
		},
		{
			name: "waiting leaf without task row",
			record: Record{
				RecordType: RecordSinglepoint,
				Status:     StatusWaiting,
			},
			wantErr: true,
		},
		{
			name: "running leaf without manager_name",
			record: Record{
				RecordType: RecordSinglepoint,
				Status:     StatusRunning,
				Task:       &Task{Available: false},
			},
			wantErr: true,
		},
		{
			name: "waiting leaf with manager_name set",
			record: Record{
				RecordType:  RecordSinglepoint,
				Status:      StatusWaiting,
				ManagerName: "cluster-host-uuid",
				Task:        &Task{Available: true},
			},
			wantErr: true,
		},
		{
			name: "waiting leaf task.available mismatch",
			record: Record{
				RecordType: RecordSinglepoint,
				Status:     StatusWaiting,
				Task:       &Task{Available: false},
			},
			wantErr: true,
		},
		{
			name: "complete leaf has no task row",
			record: Record{
				RecordType: RecordSinglepoint,
				Status:     StatusComplete,
			},
		},
		{
			name: "complete leaf retains task row is invalid",
			record: Record{
				RecordType: RecordSinglepoint,
				Status:     StatusComplete,
				Task:       &Task{},
			},
			wantErr: true,
		},
		{
			name: "service record waiting needs service row",
			record: Record{
				RecordType: RecordTorsionDrive,
				Status:     StatusWaiting,
			},
			wantErr: true,
		},
		{
			name: "invalid record_type",
			record: Record{
				RecordType: RecordType("bogus"),
				Status:     StatusWaiting,
			},
			wantErr: true,
		},
		{
			name: "invalid status",
			record: Record{
				RecordType: RecordSinglepoint,
				Status:     Status("bogus"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestRecordTypeIsLeaf(t *testing.T) {
	leaf := []RecordType{RecordSinglepoint, RecordOptimization}
	service := []RecordType{RecordTorsionDrive, RecordGridOptimization, RecordManybody, RecordReaction, RecordNEB}

	for _, rt := range leaf {
		if !rt.IsLeaf() {
			t.Errorf("%s should be a leaf record type", rt)
		}
	}
	for _, rt := range service {
		if rt.IsLeaf() {
			t.Errorf("%s should not be a leaf record type", rt)
		}
	}
}

func TestStatusIsDormant(t *testing.T) {
	dormant := []Status{StatusCancelled, StatusInvalid, StatusDeleted}
	active := []Status{StatusWaiting, StatusRunning, StatusComplete, StatusError}

	for _, s := range dormant {
		if !s.IsDormant() {
			t.Errorf("%s should be dormant", s)
		}
	}
	for _, s := range active {
		if s.IsDormant() {
			t.Errorf("%s should not be dormant", s)
		}
	}
}
