package types

import "testing"

func TestManagerNormalizeAndValidate(t *testing.T) {
	m := Manager{
		Cluster:  "cluster1",
		Hostname: "node01",
		UUID:     "abc-123",
		Programs: map[string]string{" PSI4 ": "1.5", "": "ignored", "QCEngine": ""},
		Tags:     []string{"TagX", "tagx", " tagY ", ""},
	}
	if err := m.NormalizeAndValidate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "cluster1-node01-abc-123" {
		t.Errorf("unexpected manager name: %q", m.Name)
	}
	if _, ok := m.Programs["psi4"]; !ok {
		t.Errorf("expected lowercased program key psi4, got %v", m.Programs)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "tagx" || m.Tags[1] != "tagy" {
		t.Errorf("expected deduped lowercased tags [tagx tagy], got %v", m.Tags)
	}
}

func TestManagerNormalizeAndValidateEmptyProgramsRejected(t *testing.T) {
	m := Manager{
		Cluster:  "c",
		Hostname: "h",
		UUID:     "u",
		Programs: map[string]string{"": "x"},
		Tags:     []string{"tag1"},
	}
	if err := m.NormalizeAndValidate(); err == nil {
		t.Fatal("expected error for all-empty programs")
	}
}

func TestManagerNormalizeAndValidateEmptyTagsRejected(t *testing.T) {
	m := Manager{
		Cluster:  "c",
		Hostname: "h",
		UUID:     "u",
		Programs: map[string]string{"psi4": ""},
		Tags:     []string{"", "  "},
	}
	if err := m.NormalizeAndValidate(); err == nil {
		t.Fatal("expected error for all-empty tags")
	}
}
