package types

import "fmt"

// Driver enumerates the kind of quantity a QCSpecification asks an
// engine to compute.
type Driver string

const (
	DriverEnergy     Driver = "energy"
	DriverGradient   Driver = "gradient"
	DriverHessian    Driver = "hessian"
	DriverProperties Driver = "properties"
	DriverDeferred   Driver = "deferred"
)

func (d Driver) valid() bool {
	switch d {
	case DriverEnergy, DriverGradient, DriverHessian, DriverProperties, DriverDeferred:
		return true
	}
	return false
}

// Protocols controls what ancillary output a record keeps (wavefunction,
// native files, stdout, ...). Left as a free-form bag: the exact knob
// set is engine-specific and outside this module's scope.
type Protocols map[string]interface{}

// QCSpecification is the leaf specification (spec §3): deduplicated on
// the full (program, driver, method, basis, keywords_id, protocols) tuple.
type QCSpecification struct {
	ID          int64     `json:"id"`
	Hash        string    `json:"hash"`
	Program     string    `json:"program"`
	Driver      Driver    `json:"driver"`
	Method      string    `json:"method"`
	Basis       *string   `json:"basis"` // nil after empty-string normalization
	KeywordsID  int64     `json:"keywords_id"`
	Protocols   Protocols `json:"protocols,omitempty"`
}

// Validate applies spec §4.1 InvalidPayload checks.
func (s *QCSpecification) Validate() error {
	if s.Program == "" {
		return fmt.Errorf("%w: qc specification has empty program", ErrInvalidPayload)
	}
	if s.Method == "" {
		return fmt.Errorf("%w: qc specification has empty method", ErrInvalidPayload)
	}
	if !s.Driver.valid() {
		return fmt.Errorf("%w: invalid driver %q", ErrInvalidPayload, s.Driver)
	}
	return nil
}

// OptimizationSpecification wraps an inner QCSpecification with geometry
// optimizer settings.
type OptimizationSpecification struct {
	ID                int64     `json:"id"`
	Hash              string    `json:"hash"`
	Program           string    `json:"program"`
	QCSpecificationID int64     `json:"qc_specification_id"`
	OptKeywords       map[string]interface{} `json:"opt_keywords,omitempty"`
	OptProtocols      Protocols `json:"opt_protocols,omitempty"`
}

func (s *OptimizationSpecification) Validate() error {
	if s.Program == "" {
		return fmt.Errorf("%w: optimization specification has empty program", ErrInvalidPayload)
	}
	if s.QCSpecificationID == 0 {
		return fmt.Errorf("%w: optimization specification missing qc_specification_id", ErrInvalidPayload)
	}
	return nil
}

// StepType is the kind of scan step a GridOptimization performs.
type StepType string

const (
	StepRelative StepType = "relative"
	StepAbsolute StepType = "absolute"
)

// BSSEMode is the Manybody basis-set-superposition-error correction mode.
// Closed enumeration per the Open Question decision recorded in
// DESIGN.md: callers supply this explicitly, no legacy name sniffing.
type BSSEMode string

const (
	BSSENone BSSEMode = "none"
	BSSECP   BSSEMode = "cp"
	BSSEVMFC BSSEMode = "vmfc"
)

// TorsionDriveSpecification bundles the inner optimization spec with
// dihedral/grid keywords (spec §3, §4.6).
type TorsionDriveSpecification struct {
	ID                          int64   `json:"id"`
	Hash                        string  `json:"hash"`
	OptimizationSpecificationID int64   `json:"optimization_specification_id"`
	Dihedrals                   [][4]int `json:"dihedrals"`
	GridSpacing                 []int   `json:"grid_spacing"`
	DihedralRanges              [][2]int `json:"dihedral_ranges,omitempty"`
	EnergyUpperLimit            *float64 `json:"energy_upper_limit,omitempty"`
	EnergyDecrease              *float64 `json:"energy_decrease_thresh,omitempty"`
	Preoptimization              bool    `json:"preoptimization"`
}

func (s *TorsionDriveSpecification) Validate() error {
	if len(s.Dihedrals) == 0 {
		return fmt.Errorf("%w: torsion drive specification has no dihedrals", ErrInvalidPayload)
	}
	if len(s.GridSpacing) != len(s.Dihedrals) {
		return fmt.Errorf("%w: grid_spacing length must match dihedrals length", ErrInvalidPayload)
	}
	return nil
}

// GridScan is one scan dimension of a GridOptimization.
type GridScan struct {
	Type     string   `json:"type"` // "dihedral", "distance", "angle", ...
	Indices  []int    `json:"indices"`
	Steps    []float64 `json:"steps"`
	StepType StepType `json:"step_type"`
}

// GridOptimizationSpecification bundles the inner optimization spec with
// a set of scans plus an optional preoptimization stage.
type GridOptimizationSpecification struct {
	ID                          int64      `json:"id"`
	Hash                        string     `json:"hash"`
	OptimizationSpecificationID int64      `json:"optimization_specification_id"`
	Scans                       []GridScan `json:"scans"`
	Preoptimization              bool      `json:"preoptimization"`
}

func (s *GridOptimizationSpecification) Validate() error {
	if len(s.Scans) == 0 {
		return fmt.Errorf("%w: grid optimization specification has no scans", ErrInvalidPayload)
	}
	for _, sc := range s.Scans {
		if sc.StepType != StepRelative && sc.StepType != StepAbsolute {
			return fmt.Errorf("%w: invalid step_type %q", ErrInvalidPayload, sc.StepType)
		}
	}
	return nil
}

// ManybodySpecification decomposes a molecule's fragments into clusters
// and applies a BSSE correction.
type ManybodySpecification struct {
	ID                int64    `json:"id"`
	Hash              string   `json:"hash"`
	QCSpecificationID int64    `json:"qc_specification_id"`
	BSSECorrection    BSSEMode `json:"bsse_correction"`
	MaxNBody          *int     `json:"max_nbody,omitempty"`
}

func (s *ManybodySpecification) Validate() error {
	switch s.BSSECorrection {
	case BSSENone, BSSECP, BSSEVMFC:
	default:
		return fmt.Errorf("%w: invalid bsse_correction %q", ErrInvalidPayload, s.BSSECorrection)
	}
	return nil
}

// ReactionComponent is one stoichiometric term of a Reaction.
type ReactionComponent struct {
	Coefficient              float64 `json:"coefficient"`
	MoleculeID               int64   `json:"molecule_id"`
	SinglepointSpecificationID *int64 `json:"singlepoint_specification_id,omitempty"`
	OptimizationSpecificationID *int64 `json:"optimization_specification_id,omitempty"`
}

// ReactionSpecification sums component energies with stoichiometric
// coefficients: total_energy = Σ coeff · component_energy.
type ReactionSpecification struct {
	ID         int64               `json:"id"`
	Hash       string              `json:"hash"`
	Components []ReactionComponent `json:"components"`
}

func (s *ReactionSpecification) Validate() error {
	if len(s.Components) == 0 {
		return fmt.Errorf("%w: reaction specification has no components", ErrInvalidPayload)
	}
	for _, c := range s.Components {
		if c.SinglepointSpecificationID == nil && c.OptimizationSpecificationID == nil {
			return fmt.Errorf("%w: reaction component has neither singlepoint nor optimization spec", ErrInvalidPayload)
		}
	}
	return nil
}

// NEBSpecification drives a nudged-elastic-band chain optimization.
type NEBSpecification struct {
	ID                          int64   `json:"id"`
	Hash                        string  `json:"hash"`
	OptimizationSpecificationID int64   `json:"optimization_specification_id"`
	QCSpecificationID           int64   `json:"qc_specification_id"`
	Images                      int     `json:"images"`
	SpringConstant              float64 `json:"spring_constant"`
	OptimizeEndpoints           bool    `json:"optimize_endpoints"`
}

func (s *NEBSpecification) Validate() error {
	if s.Images < 3 {
		return fmt.Errorf("%w: neb specification needs at least 3 chain images", ErrInvalidPayload)
	}
	return nil
}
