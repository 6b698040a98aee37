package types

import "testing"

func TestMoleculeValidate(t *testing.T) {
	valid := Molecule{
		Symbols:      []string{"H", "H"},
		Geometry:     []float64{0, 0, 0, 0, 0, 2},
		Multiplicity: 1,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Molecule{
		Symbols:      []string{"H", "H"},
		Geometry:     []float64{0, 0, 0}, // wrong length
		Multiplicity: 1,
	}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected geometry-length error")
	}

	noSymbols := Molecule{Geometry: []float64{}, Multiplicity: 1}
	if err := noSymbols.Validate(); err == nil {
		t.Fatal("expected missing-symbols error")
	}

	badFragment := Molecule{
		Symbols:      []string{"H", "H"},
		Geometry:     []float64{0, 0, 0, 0, 0, 2},
		Multiplicity: 1,
		Fragments:    [][]int{{0, 5}},
	}
	if err := badFragment.Validate(); err == nil {
		t.Fatal("expected out-of-range fragment index error")
	}
}
