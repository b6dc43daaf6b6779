package evaluator

import (
	"fmt"

	"github.com/saddle-opt/saddle/internal/expr"
)

// LinearTerm is one coefficient of an affine objective part.
type LinearTerm struct {
	Variable    int
	Coefficient float64
}

// QuadTerm is one closed-form quadratic term c*x_i*x_j. Terms are stored in
// lower-triangular convention: I >= J.
type QuadTerm struct {
	I, J        int
	Coefficient float64
}

// LinearMatrix stores the linear constraint coefficients in compressed
// sparse column form, matching the column-major order of the Jacobian
// structure's linear block.
type LinearMatrix struct {
	NumRows, NumCols int
	ColStart         []int // len NumCols+1
	RowIndex         []int // len NNZ
	Values           []float64
}

// NNZ returns the number of stored coefficients.
func (m *LinearMatrix) NNZ() int {
	if m == nil {
		return 0
	}
	return len(m.Values)
}

func (m *LinearMatrix) validate() error {
	if m == nil {
		return nil
	}
	if len(m.ColStart) != m.NumCols+1 {
		return fmt.Errorf("evaluator: linear matrix has %d column starts, want %d", len(m.ColStart), m.NumCols+1)
	}
	if len(m.RowIndex) != len(m.Values) {
		return fmt.Errorf("evaluator: linear matrix has %d row indices for %d values", len(m.RowIndex), len(m.Values))
	}
	for j := 0; j < m.NumCols; j++ {
		if m.ColStart[j] > m.ColStart[j+1] {
			return fmt.Errorf("evaluator: linear matrix column %d has negative extent", j)
		}
	}
	for _, r := range m.RowIndex {
		if r < 0 || r >= m.NumRows {
			return fmt.Errorf("evaluator: linear matrix row index %d outside %d rows", r, m.NumRows)
		}
	}
	return nil
}

// AddMulVec accumulates y += A*x.
func (m *LinearMatrix) AddMulVec(y, x []float64) {
	if m == nil {
		return
	}
	for j := 0; j < m.NumCols; j++ {
		xj := x[j]
		if xj == 0 {
			continue
		}
		for k := m.ColStart[j]; k < m.ColStart[j+1]; k++ {
			y[m.RowIndex[k]] += m.Values[k] * xj
		}
	}
}

// Parameters is the external parameter vector consumed by Parameter nodes.
// The version counter advances on every Set and backs the stale-data guard.
type Parameters struct {
	values  []float64
	version uint64
}

// NewParameters returns a zero-valued parameter vector of length n.
func NewParameters(n int) *Parameters {
	return &Parameters{values: make([]float64, n)}
}

// Len returns the number of parameters.
func (p *Parameters) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// Get returns the value of parameter handle h.
func (p *Parameters) Get(h int) float64 { return p.values[h] }

// Set updates parameter handle h and advances the version.
func (p *Parameters) Set(h int, v float64) {
	p.values[h] = v
	p.version++
}

// Version returns the mutation counter.
func (p *Parameters) Version() uint64 {
	if p == nil {
		return 0
	}
	return p.version
}

// Values exposes the backing slice for the evaluation sweeps.
func (p *Parameters) Values() []float64 {
	if p == nil {
		return nil
	}
	return p.values
}

// Objective describes the objective function: closed-form affine and
// quadratic parts plus an optional nonlinear tape.
type Objective struct {
	Constant  float64
	Linear    []LinearTerm
	Quadratic []QuadTerm
	Expr      *expr.Expression
}

// Constraint describes one constraint row. Its affine part lives in the
// model's LinearMatrix; the quadratic part and the optional nonlinear tape
// are row-local. Bounds follow the usual l <= g(x) <= u convention.
type Constraint struct {
	Quadratic []QuadTerm
	Expr      *expr.Expression
	Lower     float64
	Upper     float64
}

// Model is everything the modeling front-end hands to the evaluator: tape
// definitions for objective, constraints and shared subexpressions, the
// linear coefficient matrix, variable bounds, a warm start, and the
// parameter vector. The front-end owns the definitions; the evaluator builds
// derived storage referencing them for its lifetime.
type Model struct {
	NumVariables  int
	VariableLower []float64
	VariableUpper []float64
	Start         []float64

	Parameters *Parameters

	Objective      Objective
	Linear         *LinearMatrix // nil when no affine constraint part exists
	Constraints    []Constraint
	Subexpressions []expr.Expression
}

// NumConstraints returns the number of constraint rows.
func (m *Model) NumConstraints() int { return len(m.Constraints) }

func (m *Model) validate() error {
	if m.NumVariables < 0 {
		return fmt.Errorf("evaluator: negative variable count %d", m.NumVariables)
	}
	if err := m.Linear.validate(); err != nil {
		return err
	}
	if m.Linear != nil {
		if m.Linear.NumCols != m.NumVariables {
			return fmt.Errorf("evaluator: linear matrix has %d columns for %d variables", m.Linear.NumCols, m.NumVariables)
		}
		if m.Linear.NumRows != len(m.Constraints) {
			return fmt.Errorf("evaluator: linear matrix has %d rows for %d constraints", m.Linear.NumRows, len(m.Constraints))
		}
	}
	for _, qs := range [][]QuadTerm{m.Objective.Quadratic} {
		if err := validateQuad(qs, m.NumVariables); err != nil {
			return err
		}
	}
	for i := range m.Constraints {
		if err := validateQuad(m.Constraints[i].Quadratic, m.NumVariables); err != nil {
			return fmt.Errorf("constraint %d: %w", i, err)
		}
	}
	return nil
}

func validateQuad(terms []QuadTerm, numVars int) error {
	for _, q := range terms {
		if q.I < q.J {
			return fmt.Errorf("evaluator: quadratic term (%d,%d) is not lower-triangular", q.I, q.J)
		}
		if q.I >= numVars || q.J < 0 {
			return fmt.Errorf("evaluator: quadratic term (%d,%d) outside %d variables", q.I, q.J, numVars)
		}
	}
	return nil
}
