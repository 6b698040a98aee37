package hashutil

import (
	"fmt"

	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

// canonicalMolecule is the hash input for types.Molecule: symbols,
// geometry, connectivity, charge, multiplicity and fragment layout.
// MoleculeIdentifiers is deliberately excluded (spec §3: "Immutable
// after insert except for a small mutable identifiers sub-record ...
// that never affects the hash").
type canonicalMolecule struct {
	Symbols                []string     `json:"symbols"`
	Geometry               []float64    `json:"geometry"`
	Connectivity           [][3]float64 `json:"connectivity"`
	Charge                 float64      `json:"charge"`
	Multiplicity           int          `json:"multiplicity"`
	Fragments              [][]int      `json:"fragments"`
	FragmentCharges        []float64    `json:"fragment_charges"`
	FragmentMultiplicities []int        `json:"fragment_multiplicities"`
}

// MoleculeHash computes the structural hash of spec §3.
func MoleculeHash(m *types.Molecule) (string, error) {
	symbols := make([]string, len(m.Symbols))
	for i, s := range m.Symbols {
		symbols[i] = NormalizeString(s)
	}
	geometry := make([]float64, len(m.Geometry))
	for i, g := range m.Geometry {
		geometry[i] = RoundFloat(g)
	}
	fragCharges := make([]float64, len(m.FragmentCharges))
	for i, c := range m.FragmentCharges {
		fragCharges[i] = RoundFloat(c)
	}

	canon := canonicalMolecule{
		Symbols:                symbols,
		Geometry:               geometry,
		Connectivity:           m.Connectivity,
		Charge:                 RoundFloat(m.Charge),
		Multiplicity:           m.Multiplicity,
		Fragments:              m.Fragments,
		FragmentCharges:        fragCharges,
		FragmentMultiplicities: m.FragmentMultiplicities,
	}
	h, err := Hash(canon)
	if err != nil {
		return "", fmt.Errorf("hashutil: molecule: %w", err)
	}
	return h, nil
}

// KeywordSetHash computes the canonical hash of spec §3: sorted keys,
// normalized numeric tolerance.
func KeywordSetHash(k *types.KeywordSet) (string, error) {
	canon := SortedKeywordValues(k.Values)
	h, err := Hash(canon)
	if err != nil {
		return "", fmt.Errorf("hashutil: keyword set: %w", err)
	}
	return h, nil
}

type canonicalQCSpecification struct {
	Program    string      `json:"program"`
	Driver     string      `json:"driver"`
	Method     string      `json:"method"`
	Basis      *string     `json:"basis"`
	KeywordsID int64       `json:"keywords_id"`
	Protocols  interface{} `json:"protocols"`
}

// QCSpecificationHash computes the canonical hash of spec §3/§4.1: the
// full (program, driver, method, basis, keywords_id, protocols) tuple,
// with basis normalized to nil when empty.
func QCSpecificationHash(s *types.QCSpecification) (string, error) {
	var basis *string
	if s.Basis != nil {
		basis = NormalizeBasis(*s.Basis)
	}
	canon := canonicalQCSpecification{
		Program:    NormalizeString(s.Program),
		Driver:     string(s.Driver),
		Method:     NormalizeString(s.Method),
		Basis:      basis,
		KeywordsID: s.KeywordsID,
		Protocols:  s.Protocols,
	}
	h, err := Hash(canon)
	if err != nil {
		return "", fmt.Errorf("hashutil: qc specification: %w", err)
	}
	return h, nil
}

type canonicalOptimizationSpecification struct {
	Program           string      `json:"program"`
	QCSpecificationID int64       `json:"qc_specification_id"`
	OptKeywords       interface{} `json:"opt_keywords"`
	OptProtocols      interface{} `json:"opt_protocols"`
}

// OptimizationSpecificationHash computes the canonical hash of spec §3.
func OptimizationSpecificationHash(s *types.OptimizationSpecification) (string, error) {
	canon := canonicalOptimizationSpecification{
		Program:           NormalizeString(s.Program),
		QCSpecificationID: s.QCSpecificationID,
		OptKeywords:       SortedKeywordValues(s.OptKeywords),
		OptProtocols:      s.OptProtocols,
	}
	h, err := Hash(canon)
	if err != nil {
		return "", fmt.Errorf("hashutil: optimization specification: %w", err)
	}
	return h, nil
}

// ServiceSpecificationHash computes the stable hash for any of the
// compound service specifications (spec §3: "plus a JSON keyword block
// with a stable hash"). The caller supplies the already-built canonical
// value (a struct with the type-specific fields); this just centralizes
// the hashing call so every service spec type uses the same tolerance
// and error wrapping.
func ServiceSpecificationHash(canon interface{}) (string, error) {
	h, err := Hash(canon)
	if err != nil {
		return "", fmt.Errorf("hashutil: service specification: %w", err)
	}
	return h, nil
}
