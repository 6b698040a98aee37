package hashutil

import (
	"testing"

	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

func TestMoleculeHashDedup(t *testing.T) {
	m1 := &types.Molecule{Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, 2}, Multiplicity: 1}
	m2 := &types.Molecule{Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, 2}, Multiplicity: 1}

	h1, err := MoleculeHash(m1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := MoleculeHash(m2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("identical molecules hashed differently: %s != %s", h1, h2)
	}

	m3 := &types.Molecule{Symbols: []string{"H", "H"}, Geometry: []float64{0, 0, 0, 0, 0, 2.1}, Multiplicity: 1}
	h3, err := MoleculeHash(m3)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Fatal("distinct geometries hashed identically")
	}
}

func TestMoleculeHashToleratesFloatNoise(t *testing.T) {
	m1 := &types.Molecule{Symbols: []string{"H"}, Geometry: []float64{0, 0, 1.0}, Multiplicity: 1}
	m2 := &types.Molecule{Symbols: []string{"H"}, Geometry: []float64{0, 0, 1.0 + 1e-12}, Multiplicity: 1}

	h1, _ := MoleculeHash(m1)
	h2, _ := MoleculeHash(m2)
	if h1 != h2 {
		t.Fatal("sub-tolerance float noise should not change the hash")
	}
}

func TestQCSpecificationHashNormalizesCase(t *testing.T) {
	s1 := &types.QCSpecification{Program: "PSI4", Driver: types.DriverEnergy, Method: "B3LYP", KeywordsID: 1}
	s2 := &types.QCSpecification{Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", KeywordsID: 1}

	h1, err := QCSpecificationHash(s1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := QCSpecificationHash(s2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("case-insensitive program/method should hash identically")
	}
}

func TestQCSpecificationHashEmptyBasisNormalizesToNil(t *testing.T) {
	empty := ""
	s1 := &types.QCSpecification{Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: &empty, KeywordsID: 1}
	s2 := &types.QCSpecification{Program: "psi4", Driver: types.DriverEnergy, Method: "b3lyp", Basis: nil, KeywordsID: 1}

	h1, err := QCSpecificationHash(s1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := QCSpecificationHash(s2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("empty-string basis should hash the same as nil basis")
	}
}

func TestKeywordSetHashOrderIndependent(t *testing.T) {
	k1 := &types.KeywordSet{Values: map[string]interface{}{"E_CONVERGENCE": 1e-8, "maxiter": float64(100)}}
	k2 := &types.KeywordSet{Values: map[string]interface{}{"maxiter": float64(100), "e_convergence": 1e-8}}

	h1, err := KeywordSetHash(k1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := KeywordSetHash(k2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("keyword set hash should be insensitive to key case/order")
	}
}
