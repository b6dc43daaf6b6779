// Package evaluator implements the NLP callback protocol over expression
// tapes: capability negotiation, point-based caching, closed-form
// linear/quadratic dispatch, automatic-differentiation sweeps for gradients
// and Jacobians, and coloring-accelerated sparse Hessian recovery.
//
// An Evaluator is single-threaded, synchronous state: the last-point cache
// and the scratch buffers belong to one instance and calls must be
// serialized, matching the usual solver callback pattern.
package evaluator

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"

	"github.com/saddle-opt/saddle/internal/coloring"
	"github.com/saddle-opt/saddle/internal/expr"
	"github.com/saddle-opt/saddle/internal/ring"
	"github.com/saddle-opt/saddle/internal/subexpr"
	"github.com/saddle-opt/saddle/internal/sweep"
)

// Config carries construction-time policy. No process-wide state: the
// stale-parameter opt-in travels with the evaluator instance.
type Config struct {
	// AllowStaleParameters permits re-solves after parameter mutations
	// even when some parameters are referenced by no tape.
	AllowStaleParameters bool

	// Oracle supplies the Hessian coloring; nil selects coloring.Direct.
	Oracle coloring.Oracle
}

// Evaluator owns the derived storage for one model instance: the analyzed
// objective and constraint tapes, the shared subexpression store, and all
// per-point scratch.
type Evaluator struct {
	model  *Model
	cfg    Config
	oracle coloring.Oracle

	caps        Capability
	initialized bool

	store       *subexpr.Store
	objective   *expr.FuncTape   // nil when the objective has no tape
	constraints []*expr.FuncTape // index-aligned with model.Constraints, nil entries allowed

	// Last-point cache. Any new point invalidates every memoized forward
	// value below.
	lastX        []float64
	pointValid   bool
	forwardCount int
	objValue     float64
	conValues    []float64

	// Stale-parameter guard state.
	buildVersion    uint64
	hasUnusedParams bool

	// Shared dense scratch sized to the variable count.
	realGrad   []float64
	dualX      []dual.Number
	dualParams []dual.Number
	dualGrad   []dual.Number

	// Structure caches (see structure.go).
	jacRows, jacCols   []int
	hessRows, hessCols []int

	subTrees map[int]*expr.Tree
}

// New creates an evaluator over a model. The heavy preprocessing happens in
// the first Initialize call.
func New(m *Model, cfg Config) *Evaluator {
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = coloring.Direct{}
	}
	return &Evaluator{model: m, cfg: cfg, oracle: oracle}
}

// Initialize negotiates capabilities and performs all preprocessing: the
// problem-wide topological order over subexpressions, every tape's sparsity
// and coloring metadata, and the scratch allocations. The first call does the
// work; a repeated call asking for nothing new is a no-op, and a repeated
// call asking for more fails with ErrCapabilityMismatch (the grant cannot
// grow once buffers and metadata are sized).
func (e *Evaluator) Initialize(caps Capability) error {
	if caps&^Supported != 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFeature, caps&^Supported)
	}
	if e.initialized {
		if caps&^e.caps != 0 {
			return fmt.Errorf("%w: additionally requested %s", ErrCapabilityMismatch, caps&^e.caps)
		}
		return nil
	}
	if err := e.model.validate(); err != nil {
		return err
	}
	e.caps = caps
	secondOrder := caps.Has(Hessian) || caps.Has(HessianVectorProduct)

	if err := e.buildTapes(secondOrder); err != nil {
		return err
	}
	if caps.Has(Hessian) {
		if err := e.buildColoring(); err != nil {
			return err
		}
	}
	e.buildStructure()

	n := e.model.NumVariables
	e.lastX = make([]float64, n)
	e.conValues = make([]float64, e.model.NumConstraints())
	e.realGrad = make([]float64, n)
	if secondOrder {
		e.dualX = make([]dual.Number, n)
		e.dualParams = make([]dual.Number, e.model.Parameters.Len())
		e.dualGrad = make([]dual.Number, n)
	}

	e.buildVersion = e.model.Parameters.Version()
	e.hasUnusedParams = e.countUsedParams() < e.model.Parameters.Len()
	e.subTrees = make(map[int]*expr.Tree)
	e.initialized = true
	return nil
}

// buildTapes analyzes subexpressions in dependency order, then the objective
// and constraint tapes, and wires each function tape's transitive
// subexpression closure.
func (e *Evaluator) buildTapes(secondOrder bool) error {
	refs := make([][]int, len(e.model.Subexpressions))
	for i, ex := range e.model.Subexpressions {
		refs[i] = ex.SubexpressionRefs()
	}
	order, err := subexpr.TopoOrder(refs)
	if err != nil {
		return err
	}

	subTapes := make([]*expr.FuncTape, len(e.model.Subexpressions))
	subinfo := func(i int) *expr.SubexprInfo {
		t := subTapes[i]
		if t == nil {
			return nil
		}
		return &expr.SubexprInfo{Linearity: t.Linearity, GradSparsity: t.GradSparsity, HessEdges: t.HessEdges}
	}
	for _, i := range order {
		t, err := expr.NewFuncTape(e.model.Subexpressions[i], e.model.NumVariables, secondOrder, subinfo)
		if err != nil {
			return fmt.Errorf("subexpression %d: %w", i, err)
		}
		subTapes[i] = t
	}
	e.store, err = subexpr.New(subTapes, refs, secondOrder)
	if err != nil {
		return err
	}

	if e.model.Objective.Expr != nil {
		t, err := expr.NewFuncTape(*e.model.Objective.Expr, e.model.NumVariables, secondOrder, subinfo)
		if err != nil {
			return fmt.Errorf("objective: %w", err)
		}
		t.Subexpressions = e.store.Closure(t.Refs)
		e.objective = t
	}
	e.constraints = make([]*expr.FuncTape, e.model.NumConstraints())
	for i := range e.model.Constraints {
		ce := e.model.Constraints[i].Expr
		if ce == nil {
			continue
		}
		t, err := expr.NewFuncTape(*ce, e.model.NumVariables, secondOrder, subinfo)
		if err != nil {
			return fmt.Errorf("constraint %d: %w", i, err)
		}
		t.Subexpressions = e.store.Closure(t.Refs)
		e.constraints[i] = t
	}
	return nil
}

// buildColoring asks the oracle for each nonlinear tape's coordinate list,
// seed matrix and recovery plan. Tapes without second-order edges (linear, or
// flat almost everywhere) skip coloring entirely.
func (e *Evaluator) buildColoring() error {
	for _, t := range e.allTapes() {
		if len(t.HessEdges) == 0 {
			continue
		}
		rows, cols, info, err := e.oracle.Preprocess(t.HessEdges, e.model.NumVariables)
		if err != nil {
			return err
		}
		t.HessRows, t.HessCols, t.Recovery = rows, cols, info
		t.Seed = e.oracle.SeedMatrix(info)
		local := info.LocalVariables()
		_, colors := t.Seed.Dims()
		t.Compressed = mat.NewDense(len(local), colors, nil)
	}
	return nil
}

// allTapes lists the function tapes in protocol order: objective first, then
// constraints.
func (e *Evaluator) allTapes() []*expr.FuncTape {
	tapes := make([]*expr.FuncTape, 0, 1+len(e.constraints))
	if e.objective != nil {
		tapes = append(tapes, e.objective)
	}
	for _, t := range e.constraints {
		if t != nil {
			tapes = append(tapes, t)
		}
	}
	return tapes
}

func (e *Evaluator) countUsedParams() int {
	used := make(map[int32]bool)
	mark := func(ex expr.Expression) {
		for _, n := range ex.Nodes {
			if n.Kind == expr.KindParameter {
				used[n.Index] = true
			}
		}
	}
	for _, ex := range e.model.Subexpressions {
		mark(ex)
	}
	if e.model.Objective.Expr != nil {
		mark(*e.model.Objective.Expr)
	}
	for i := range e.model.Constraints {
		if e.model.Constraints[i].Expr != nil {
			mark(*e.model.Constraints[i].Expr)
		}
	}
	return len(used)
}

// AvailableFeatures returns the full capability set this evaluator supports.
func (e *Evaluator) AvailableFeatures() Capability { return Supported }

// Capabilities returns the set granted at initialization.
func (e *Evaluator) Capabilities() Capability { return e.caps }

// ForwardEvaluations returns how many underlying forward sweeps over the
// model have run; two calls at an identical point share a single sweep.
func (e *Evaluator) ForwardEvaluations() int { return e.forwardCount }

// Reset invalidates the last-point cache for a re-solve of the same
// structural problem, applying the stale-parameter guard.
func (e *Evaluator) Reset() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if v := e.model.Parameters.Version(); v != e.buildVersion {
		if e.hasUnusedParams && !e.cfg.AllowStaleParameters {
			return ErrStaleParameters
		}
		e.buildVersion = v
	}
	e.pointValid = false
	return nil
}

// refreshPoint runs the memoized forward pass: subexpressions in topological
// order, then every function tape, but only when the point differs by value
// from the cached last point.
func (e *Evaluator) refreshPoint(x []float64) {
	if e.pointValid && floats.Equal(x, e.lastX) {
		return
	}
	e.forwardCount++
	rg := ring.Real{}
	params := e.model.Parameters.Values()
	e.store.ForwardReal(x, params)
	if e.objective != nil {
		t := e.objective
		e.objValue = sweep.Forward(rg, t.Tape, t.Vals, x, params, e.store.Values())
	}
	for i, t := range e.constraints {
		if t != nil {
			e.conValues[i] = sweep.Forward(rg, t.Tape, t.Vals, x, params, e.store.Values())
		}
	}
	copy(e.lastX, x)
	e.pointValid = true
}

// EvalObjective returns the objective value at x. Closed-form linear and
// quadratic terms are computed directly from stored coefficients; only the
// nonlinear part goes through the tape.
func (e *Evaluator) EvalObjective(x []float64) (float64, error) {
	if !e.initialized {
		return 0, ErrNotInitialized
	}
	e.refreshPoint(x)
	obj := &e.model.Objective
	v := obj.Constant
	for _, lt := range obj.Linear {
		v += lt.Coefficient * x[lt.Variable]
	}
	for _, q := range obj.Quadratic {
		v += q.Coefficient * x[q.I] * x[q.J]
	}
	if e.objective != nil {
		v += e.objValue
	}
	return v, nil
}

// EvalGradient writes the dense objective gradient into grad.
func (e *Evaluator) EvalGradient(x, grad []float64) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	e.refreshPoint(x)
	for i := range grad {
		grad[i] = 0
	}
	obj := &e.model.Objective
	for _, lt := range obj.Linear {
		grad[lt.Variable] += lt.Coefficient
	}
	addQuadGradient(grad, obj.Quadratic, x, 1)
	if e.objective != nil {
		e.reverseInto(e.objective, 1, grad)
	}
	return nil
}

// EvalConstraints writes the constraint values into g.
func (e *Evaluator) EvalConstraints(x, g []float64) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	e.refreshPoint(x)
	for i := range g {
		g[i] = 0
	}
	e.model.Linear.AddMulVec(g, x)
	for i := range e.model.Constraints {
		for _, q := range e.model.Constraints[i].Quadratic {
			g[i] += q.Coefficient * x[q.I] * x[q.J]
		}
		if e.constraints[i] != nil {
			g[i] += e.conValues[i]
		}
	}
	return nil
}

// EvalJacobian writes the Jacobian values into jac, aligned with
// JacobianStructure: the constant linear block, the quadratic block, then one
// reverse sweep per nonlinear constraint tape.
func (e *Evaluator) EvalJacobian(x, jac []float64) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	e.refreshPoint(x)
	off := 0
	if e.model.Linear != nil {
		off = copy(jac, e.model.Linear.Values)
	}
	for i := range e.model.Constraints {
		for _, q := range e.model.Constraints[i].Quadratic {
			if q.I == q.J {
				jac[off] = 2 * q.Coefficient * x[q.I]
				off++
				continue
			}
			jac[off] = q.Coefficient * x[q.J]
			jac[off+1] = q.Coefficient * x[q.I]
			off += 2
		}
	}
	for _, t := range e.constraints {
		if t == nil {
			continue
		}
		for _, v := range t.GradSparsity {
			e.realGrad[v] = 0
		}
		e.reverseInto(t, 1, e.realGrad)
		for _, v := range t.GradSparsity {
			jac[off] = e.realGrad[v]
			off++
		}
	}
	return nil
}

// reverseInto runs one real reverse sweep for a scalar function: the tape
// deposits variable adjoints into grad and subexpression adjoints into the
// shared accumulator, which is then flushed over the tape's dependency
// closure in reverse topological order.
func (e *Evaluator) reverseInto(t *expr.FuncTape, seed float64, grad []float64) {
	rg := ring.Real{}
	sweep.Reverse(rg, t.Tape, t.Vals, t.Adj, seed,
		func(idx int32, a float64) { grad[idx] += a },
		func(j int32, a float64) { e.store.Deposit(int(j), a) })
	e.store.FlushReverse(t.Subexpressions, func(idx int32, a float64) { grad[idx] += a })
}

// IsObjectiveLinear reports whether the objective is affine.
func (e *Evaluator) IsObjectiveLinear() bool {
	return len(e.model.Objective.Quadratic) == 0 &&
		(e.objective == nil || e.objective.Linearity != expr.LinearityNonlinear)
}

// IsObjectiveQuadratic reports whether the objective is at most quadratic.
func (e *Evaluator) IsObjectiveQuadratic() bool {
	return e.objective == nil || e.objective.Linearity != expr.LinearityNonlinear
}

// IsConstraintLinear reports whether constraint row i is affine.
func (e *Evaluator) IsConstraintLinear(i int) bool {
	return len(e.model.Constraints[i].Quadratic) == 0 &&
		(e.constraints[i] == nil || e.constraints[i].Linearity != expr.LinearityNonlinear)
}

// addQuadGradient accumulates factor * d/dx of the quadratic form.
func addQuadGradient(grad []float64, terms []QuadTerm, x []float64, factor float64) {
	for _, q := range terms {
		if q.I == q.J {
			grad[q.I] += 2 * factor * q.Coefficient * x[q.I]
			continue
		}
		grad[q.I] += factor * q.Coefficient * x[q.J]
		grad[q.J] += factor * q.Coefficient * x[q.I]
	}
}
