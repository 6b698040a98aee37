package queue_test

import (
	"testing"

	"github.com/MolSSI/QCFractal-sub003/internal/queue"
	"github.com/stretchr/testify/assert"
)

func TestProgramsSatisfy(t *testing.T) {
	tests := []struct {
		name     string
		have     map[string]string
		required map[string]string
		want     bool
	}{
		{
			name:     "no requirements",
			have:     map[string]string{"psi4": "1.9"},
			required: map[string]string{},
			want:     true,
		},
		{
			name:     "exact version match",
			have:     map[string]string{"psi4": "1.9"},
			required: map[string]string{"psi4": "1.9"},
			want:     true,
		},
		{
			name:     "version mismatch",
			have:     map[string]string{"psi4": "1.9"},
			required: map[string]string{"psi4": "1.8"},
			want:     false,
		},
		{
			name:     "any version accepted",
			have:     map[string]string{"psi4": "1.9"},
			required: map[string]string{"psi4": ""},
			want:     true,
		},
		{
			name:     "missing program",
			have:     map[string]string{"geometric": "1.0"},
			required: map[string]string{"psi4": ""},
			want:     false,
		},
		{
			name:     "multiple requirements all satisfied",
			have:     map[string]string{"psi4": "1.9", "geometric": "1.0"},
			required: map[string]string{"psi4": "", "geometric": "1.0"},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queue.ProgramsSatisfy(tt.have, tt.required))
		})
	}
}
