package evaluator

import (
	"fmt"

	"gonum.org/v1/gonum/num/dual"

	"github.com/saddle-opt/saddle/internal/coloring"
	"github.com/saddle-opt/saddle/internal/expr"
	"github.com/saddle-opt/saddle/internal/ring"
	"github.com/saddle-opt/saddle/internal/sweep"
)

// EvalHessianLagrangian writes the sparse Hessian of
// objFactor*f + sum_i multipliers[i]*g_i into h, aligned with
// HessianStructure: the closed-form quadratic block first, then one
// coloring-recovered block per nonlinear tape. Duplicate coordinates across
// blocks are summed by the consumer, per the usual solver convention.
func (e *Evaluator) EvalHessianLagrangian(x []float64, objFactor float64, multipliers, h []float64) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if !e.caps.Has(Hessian) {
		return fmt.Errorf("%w: hessian", ErrCapabilityNotRequested)
	}
	off := 0
	for _, q := range e.model.Objective.Quadratic {
		h[off] = objFactor * quadSecond(q)
		off++
	}
	for i := range e.model.Constraints {
		for _, q := range e.model.Constraints[i].Quadratic {
			h[off] = multipliers[i] * quadSecond(q)
			off++
		}
	}
	if e.objective != nil {
		n, err := e.recoverTape(e.objective, x, objFactor, h[off:])
		if err != nil {
			return err
		}
		off += n
	}
	for i, t := range e.constraints {
		if t == nil {
			continue
		}
		n, err := e.recoverTape(t, x, multipliers[i], h[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// quadSecond is the second derivative of one closed-form term c*x_i*x_j at
// its (i,j) coordinate: 2c on the diagonal, c off it.
func quadSecond(q QuadTerm) float64 {
	if q.I == q.J {
		return 2 * q.Coefficient
	}
	return q.Coefficient
}

// recoverTape runs the coloring-driven dual sweeps for one tape: per color,
// seed the dual input with unit directional derivatives on every local
// variable of that color, forward the tape's dependency closure and the tape,
// reverse with adjoint seed 1, and record the epsilon component per local
// variable as one compressed column. The oracle then expands the columns to
// the coordinate list; entries are scaled by factor and written at the
// block's offset. Returns the block length.
func (e *Evaluator) recoverTape(t *expr.FuncTape, x []float64, factor float64, out []float64) (int, error) {
	n := len(t.HessRows)
	if n == 0 {
		return 0, nil
	}
	for k := 0; k < n; k++ {
		out[k] = 0
	}
	if factor == 0 {
		return n, nil
	}

	info := t.Recovery.(coloring.Info)
	local := info.LocalVariables()
	_, colors := t.Seed.Dims()
	rg := ring.Dual{}
	params := e.model.Parameters.Values()
	for i, p := range params {
		e.dualParams[i] = dual.Number{Real: p}
	}

	for k := 0; k < colors; k++ {
		for i, xi := range x {
			e.dualX[i] = dual.Number{Real: xi}
		}
		for li, g := range local {
			e.dualX[g] = dual.Number{Real: x[g], Emag: t.Seed.At(li, k)}
		}
		e.store.ForwardDual(t.Subexpressions, e.dualX, e.dualParams)
		sweep.Forward(rg, t.Tape, t.DualVals, e.dualX, e.dualParams, e.store.DualValues())

		for _, v := range t.GradSparsity {
			e.dualGrad[v] = dual.Number{}
		}
		sweep.Reverse(rg, t.Tape, t.DualVals, t.DualAdj, dual.Number{Real: 1},
			func(idx int32, a dual.Number) { e.dualGrad[idx] = dual.Add(e.dualGrad[idx], a) },
			func(j int32, a dual.Number) { e.store.DepositDual(int(j), a) })
		e.store.FlushReverseDual(t.Subexpressions, func(idx int32, a dual.Number) { e.dualGrad[idx] = dual.Add(e.dualGrad[idx], a) })

		for li, g := range local {
			t.Compressed.Set(li, k, e.dualGrad[g].Emag)
		}
	}

	vals, err := e.oracle.Recover(t.Compressed, info)
	if err != nil {
		return 0, err
	}
	for k, v := range vals {
		out[k] = factor * v
	}
	return n, nil
}

// EvalHessianVectorProduct accumulates (objFactor*H_f + sum multipliers[i]*H_gi) * v
// into out without building the sparse Hessian: quadratic terms contribute in
// closed form, and every nonlinear tape runs a single dual forward+reverse
// sweep seeded with the direction vector. All tapes deposit into the shared
// accumulator before the subexpression store flushes once, since the
// Lagrangian is a single scalar.
func (e *Evaluator) EvalHessianVectorProduct(x, v []float64, objFactor float64, multipliers, out []float64) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if !e.caps.Has(HessianVectorProduct) {
		return fmt.Errorf("%w: hessian-vector product", ErrCapabilityNotRequested)
	}
	for i := range out {
		out[i] = 0
	}
	addQuadHessVec(out, e.model.Objective.Quadratic, v, objFactor)
	for i := range e.model.Constraints {
		addQuadHessVec(out, e.model.Constraints[i].Quadratic, v, multipliers[i])
	}

	rg := ring.Dual{}
	for i, xi := range x {
		e.dualX[i] = dual.Number{Real: xi, Emag: v[i]}
	}
	for i, p := range e.model.Parameters.Values() {
		e.dualParams[i] = dual.Number{Real: p}
	}
	for i := range e.dualGrad {
		e.dualGrad[i] = dual.Number{}
	}
	e.store.ForwardDual(e.store.Order(), e.dualX, e.dualParams)

	deposit := func(j int32, a dual.Number) { e.store.DepositDual(int(j), a) }
	accumulate := func(idx int32, a dual.Number) { e.dualGrad[idx] = dual.Add(e.dualGrad[idx], a) }
	seedTape := func(t *expr.FuncTape, factor float64) {
		if t == nil || factor == 0 {
			return
		}
		sweep.Forward(rg, t.Tape, t.DualVals, e.dualX, e.dualParams, e.store.DualValues())
		sweep.Reverse(rg, t.Tape, t.DualVals, t.DualAdj, dual.Number{Real: factor}, accumulate, deposit)
	}
	seedTape(e.objective, objFactor)
	for i, t := range e.constraints {
		seedTape(t, multipliers[i])
	}
	e.store.FlushReverseDual(e.store.Order(), accumulate)

	for i := range out {
		out[i] += e.dualGrad[i].Emag
	}
	return nil
}

// addQuadHessVec accumulates factor * H_quad * v in closed form.
func addQuadHessVec(out []float64, terms []QuadTerm, v []float64, factor float64) {
	if factor == 0 {
		return
	}
	for _, q := range terms {
		if q.I == q.J {
			out[q.I] += 2 * factor * q.Coefficient * v[q.I]
			continue
		}
		out[q.I] += factor * q.Coefficient * v[q.J]
		out[q.J] += factor * q.Coefficient * v[q.I]
	}
}
