package evaluator_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saddle-opt/saddle/internal/evaluator"
	"github.com/saddle-opt/saddle/internal/expr"
)

func compiled(tree *expr.Tree) *expr.Expression {
	ex := expr.Compile(tree)
	return &ex
}

// scenarioModel builds
//
//	min  sin(x0*x1) + x0^2
//	s.t. x0 + x1^2 <= 1
func scenarioModel() *evaluator.Model {
	return &evaluator.Model{
		NumVariables: 2,
		Objective: evaluator.Objective{
			Expr: compiled(expr.Call(expr.OpAdd,
				expr.Unary(expr.UnarySin, expr.Call(expr.OpMul, expr.Var(0), expr.Var(1))),
				expr.Call(expr.OpPow, expr.Var(0), expr.Const(2)))),
		},
		Constraints: []evaluator.Constraint{
			{
				Expr: compiled(expr.Call(expr.OpAdd,
					expr.Var(0),
					expr.Call(expr.OpPow, expr.Var(1), expr.Const(2)))),
				Lower: math.Inf(-1),
				Upper: 1,
			},
		},
	}
}

func newScenario(t *testing.T, caps evaluator.Capability) *evaluator.Evaluator {
	t.Helper()
	ev := evaluator.New(scenarioModel(), evaluator.Config{})
	require.NoError(t, ev.Initialize(caps))
	return ev
}

var scenarioX = []float64{1.0, 0.5}

func TestEvaluator_ObjectiveAndGradient(t *testing.T) {
	ev := newScenario(t, evaluator.Value|evaluator.Gradient)

	f, err := ev.EvalObjective(scenarioX)
	require.NoError(t, err)
	assert.InDelta(t, 1.479425538604203, f, 1e-14)

	grad := make([]float64, 2)
	require.NoError(t, ev.EvalGradient(scenarioX, grad))
	assert.InDelta(t, 2.4387912809451864, grad[0], 1e-14)
	assert.InDelta(t, 0.8775825618903728, grad[1], 1e-14)
}

func TestEvaluator_ConstraintsAndJacobian(t *testing.T) {
	ev := newScenario(t, evaluator.Value|evaluator.Jacobian)

	g := make([]float64, 1)
	require.NoError(t, ev.EvalConstraints(scenarioX, g))
	assert.InDelta(t, 1.25, g[0], 1e-14)

	rows, cols := ev.JacobianStructure()
	assert.Equal(t, []int{0, 0}, rows)
	assert.Equal(t, []int{0, 1}, cols)

	jac := make([]float64, len(rows))
	require.NoError(t, ev.EvalJacobian(scenarioX, jac))
	assert.InDelta(t, 1.0, jac[0], 1e-14)
	assert.InDelta(t, 1.0, jac[1], 1e-14)
}

func TestEvaluator_HessianLagrangian(t *testing.T) {
	ev := newScenario(t, evaluator.Value|evaluator.Hessian)

	rows, cols := ev.HessianStructure()
	assert.Equal(t, []int{0, 1, 1, 1}, rows)
	assert.Equal(t, []int{0, 0, 1, 1}, cols)

	h := make([]float64, len(rows))
	require.NoError(t, ev.EvalHessianLagrangian(scenarioX, 1, []float64{1}, h))
	assert.InDelta(t, 1.8801436153489492, h[0], 1e-12) // -x1^2*sin + 2
	assert.InDelta(t, 0.6378697925882713, h[1], 1e-12) // cos - x0*x1*sin
	assert.InDelta(t, -0.479425538604203, h[2], 1e-12) // -x0^2*sin
	assert.InDelta(t, 2.0, h[3], 1e-12)                // d2(x1^2)/dx1^2

	// Factors scale their blocks independently.
	require.NoError(t, ev.EvalHessianLagrangian(scenarioX, 0.5, []float64{3}, h))
	assert.InDelta(t, 0.5*1.8801436153489492, h[0], 1e-12)
	assert.InDelta(t, 6.0, h[3], 1e-12)

	// A zero factor zeroes the block without running its sweeps.
	require.NoError(t, ev.EvalHessianLagrangian(scenarioX, 0, []float64{1}, h))
	assert.Zero(t, h[0])
	assert.InDelta(t, 2.0, h[3], 1e-12)
}

func TestEvaluator_HessianVectorProduct(t *testing.T) {
	ev := newScenario(t, evaluator.Value|evaluator.Hessian|evaluator.HessianVectorProduct)

	objFactor, multipliers := 1.0, []float64{0.8}

	// Assemble the dense Lagrangian Hessian from the sparse callback and
	// compare against the matrix-free product for a few directions.
	rows, cols := ev.HessianStructure()
	h := make([]float64, len(rows))
	require.NoError(t, ev.EvalHessianLagrangian(scenarioX, objFactor, multipliers, h))
	var dense [2][2]float64
	for k := range rows {
		dense[rows[k]][cols[k]] += h[k]
		if rows[k] != cols[k] {
			dense[cols[k]][rows[k]] += h[k]
		}
	}

	out := make([]float64, 2)
	for _, v := range [][]float64{{1, 0}, {0, 1}, {0.3, -0.7}} {
		require.NoError(t, ev.EvalHessianVectorProduct(scenarioX, v, objFactor, multipliers, out))
		for i := 0; i < 2; i++ {
			want := dense[i][0]*v[0] + dense[i][1]*v[1]
			assert.InDeltaf(t, want, out[i], 1e-12, "direction %v, row %d", v, i)
		}
	}
}

func TestEvaluator_PointCache(t *testing.T) {
	ev := newScenario(t, evaluator.Value|evaluator.Gradient|evaluator.Jacobian)

	grad := make([]float64, 2)
	g := make([]float64, 1)
	_, err := ev.EvalObjective(scenarioX)
	require.NoError(t, err)
	require.NoError(t, ev.EvalGradient(scenarioX, grad))
	require.NoError(t, ev.EvalConstraints(scenarioX, g))
	assert.Equal(t, 1, ev.ForwardEvaluations(), "repeated queries at one point share a forward sweep")

	// Same values, fresh backing array: still one sweep.
	_, err = ev.EvalObjective([]float64{1.0, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ForwardEvaluations())

	_, err = ev.EvalObjective([]float64{2.0, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2, ev.ForwardEvaluations())

	// Reset invalidates the cache even at an identical point.
	require.NoError(t, ev.Reset())
	_, err = ev.EvalObjective([]float64{2.0, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 3, ev.ForwardEvaluations())
}

// TestEvaluator_ClosedFormBlocks exercises the linear/quadratic fast paths:
//
//	f(x)  = 1 + 3*x0 + 2*x0*x1
//	g0(x) = 2*x0 + 3*x1
//	g1(x) = x1 + x0^2
func TestEvaluator_ClosedFormBlocks(t *testing.T) {
	m := &evaluator.Model{
		NumVariables: 2,
		Objective: evaluator.Objective{
			Constant:  1,
			Linear:    []evaluator.LinearTerm{{Variable: 0, Coefficient: 3}},
			Quadratic: []evaluator.QuadTerm{{I: 1, J: 0, Coefficient: 2}},
		},
		Linear: &evaluator.LinearMatrix{
			NumRows:  2,
			NumCols:  2,
			ColStart: []int{0, 1, 3},
			RowIndex: []int{0, 0, 1},
			Values:   []float64{2, 3, 1},
		},
		Constraints: []evaluator.Constraint{
			{Lower: math.Inf(-1), Upper: 4},
			{Quadratic: []evaluator.QuadTerm{{I: 0, J: 0, Coefficient: 1}}, Lower: 0, Upper: 8},
		},
	}
	ev := evaluator.New(m, evaluator.Config{})
	require.NoError(t, ev.Initialize(evaluator.Supported))

	x := []float64{2, -1}
	f, err := ev.EvalObjective(x)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, f, 1e-14)

	grad := make([]float64, 2)
	require.NoError(t, ev.EvalGradient(x, grad))
	assert.InDelta(t, 1.0, grad[0], 1e-14)
	assert.InDelta(t, 4.0, grad[1], 1e-14)

	g := make([]float64, 2)
	require.NoError(t, ev.EvalConstraints(x, g))
	assert.InDelta(t, 1.0, g[0], 1e-14)
	assert.InDelta(t, 3.0, g[1], 1e-14)

	// Linear block in stored column-major order, then the quadratic block.
	rows, cols := ev.JacobianStructure()
	assert.Equal(t, []int{0, 0, 1, 1}, rows)
	assert.Equal(t, []int{0, 1, 1, 0}, cols)
	jac := make([]float64, len(rows))
	require.NoError(t, ev.EvalJacobian(x, jac))
	assert.Equal(t, []float64{2, 3, 1, 4}, jac)

	// Hessian: objective quadratic term, then the constraint one. No
	// tapes, so no coloring blocks.
	rows, cols = ev.HessianStructure()
	assert.Equal(t, []int{1, 0}, rows)
	assert.Equal(t, []int{0, 0}, cols)
	h := make([]float64, len(rows))
	require.NoError(t, ev.EvalHessianLagrangian(x, 2, []float64{0, 3}, h))
	assert.Equal(t, []float64{4, 6}, h)

	assert.False(t, ev.IsObjectiveLinear())
	assert.True(t, ev.IsObjectiveQuadratic())
	assert.True(t, ev.IsConstraintLinear(0))
	assert.False(t, ev.IsConstraintLinear(1))
}

// TestEvaluator_SharedSubexpression registers s0 = x0*x1 and evaluates
// f = sin(s0) + s0, whose adjoints reach s0 from two paths of one tape.
func TestEvaluator_SharedSubexpression(t *testing.T) {
	m := &evaluator.Model{
		NumVariables:   2,
		Subexpressions: []expr.Expression{*compiled(expr.Call(expr.OpMul, expr.Var(0), expr.Var(1)))},
		Objective: evaluator.Objective{
			Expr: compiled(expr.Call(expr.OpAdd,
				expr.Unary(expr.UnarySin, expr.Subexpr(0)),
				expr.Subexpr(0))),
		},
	}
	ev := evaluator.New(m, evaluator.Config{})
	require.NoError(t, ev.Initialize(evaluator.Supported))

	f, err := ev.EvalObjective(scenarioX)
	require.NoError(t, err)
	assert.InDelta(t, 0.979425538604203, f, 1e-14)

	grad := make([]float64, 2)
	require.NoError(t, ev.EvalGradient(scenarioX, grad))
	assert.InDelta(t, 0.9387912809451864, grad[0], 1e-14) // (cos(s0)+1)*x1
	assert.InDelta(t, 1.8775825618903728, grad[1], 1e-14) // (cos(s0)+1)*x0

	// The subexpression's curvature survives the chain rule: both the
	// sin composition and s0's own bilinear edge appear.
	rows, cols := ev.HessianStructure()
	assert.Equal(t, []int{0, 1, 1}, rows)
	assert.Equal(t, []int{0, 0, 1}, cols)
	h := make([]float64, len(rows))
	require.NoError(t, ev.EvalHessianLagrangian(scenarioX, 1, nil, h))
	assert.InDelta(t, -0.11985638465105075, h[0], 1e-12) // -x1^2*sin(s0)
	assert.InDelta(t, 1.6378697925882713, h[1], 1e-12)   // cos(s0) - x0*x1*sin(s0) + 1
	assert.InDelta(t, -0.479425538604203, h[2], 1e-12)   // -x0^2*sin(s0)

	assert.Equal(t, 1, ev.ForwardEvaluations(), "subexpression and tape share the memoized sweep")
}

// TestEvaluator_CrossTapeSubexpression shares s0 = x0*x1 between two tapes,
// objective sin(s0) and constraint s0 + x1^2: one memoized forward sweep
// serves both, each tape's reverse pass sees its own fully summed adjoint,
// and s0's bilinear edge reaches both Hessian blocks.
func TestEvaluator_CrossTapeSubexpression(t *testing.T) {
	m := &evaluator.Model{
		NumVariables:   2,
		Subexpressions: []expr.Expression{*compiled(expr.Call(expr.OpMul, expr.Var(0), expr.Var(1)))},
		Objective: evaluator.Objective{
			Expr: compiled(expr.Unary(expr.UnarySin, expr.Subexpr(0))),
		},
		Constraints: []evaluator.Constraint{
			{
				Expr: compiled(expr.Call(expr.OpAdd,
					expr.Subexpr(0),
					expr.Call(expr.OpPow, expr.Var(1), expr.Const(2)))),
				Lower: math.Inf(-1),
				Upper: 1,
			},
		},
	}
	ev := evaluator.New(m, evaluator.Config{})
	require.NoError(t, ev.Initialize(evaluator.Supported))

	x := []float64{0.9, -0.4}
	s, c := math.Sin(x[0]*x[1]), math.Cos(x[0]*x[1])

	f, err := ev.EvalObjective(x)
	require.NoError(t, err)
	assert.InDelta(t, s, f, 1e-14)

	grad := make([]float64, 2)
	require.NoError(t, ev.EvalGradient(x, grad))
	assert.InDelta(t, c*x[1], grad[0], 1e-14)
	assert.InDelta(t, c*x[0], grad[1], 1e-14)

	g := make([]float64, 1)
	require.NoError(t, ev.EvalConstraints(x, g))
	assert.InDelta(t, x[0]*x[1]+x[1]*x[1], g[0], 1e-14)

	jrows, jcols := ev.JacobianStructure()
	assert.Equal(t, []int{0, 0}, jrows)
	assert.Equal(t, []int{0, 1}, jcols)
	jac := make([]float64, len(jrows))
	require.NoError(t, ev.EvalJacobian(x, jac))
	assert.InDelta(t, x[1], jac[0], 1e-14)
	assert.InDelta(t, x[0]+2*x[1], jac[1], 1e-14)

	assert.Equal(t, 1, ev.ForwardEvaluations(), "both tapes share one memoized sweep")

	// Objective block inherits s0's (1,0) edge through sin; the constraint
	// block carries it alongside its own (1,1) diagonal.
	hrows, hcols := ev.HessianStructure()
	assert.Equal(t, []int{0, 1, 1, 1, 1}, hrows)
	assert.Equal(t, []int{0, 0, 1, 0, 1}, hcols)

	// Assemble the sparse blocks, duplicates summed, and compare against
	// the analytic Lagrangian Hessian sigma*H_f + lambda*H_g.
	sigma, lambda := 1.0, 0.7
	h := make([]float64, len(hrows))
	require.NoError(t, ev.EvalHessianLagrangian(x, sigma, []float64{lambda}, h))
	var dense [2][2]float64
	for k := range hrows {
		dense[hrows[k]][hcols[k]] += h[k]
	}
	want := [2][2]float64{
		{sigma * -s * x[1] * x[1], 0},
		{sigma*(c-s*x[0]*x[1]) + lambda, sigma*-s*x[0]*x[0] + 2*lambda},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j <= i; j++ {
			assert.InDeltaf(t, want[i][j], dense[i][j], 1e-12, "entry (%d,%d)", i, j)
		}
	}

	// The matrix-free product agrees with the assembled matrix.
	v := []float64{-0.6, 1.1}
	out := make([]float64, 2)
	require.NoError(t, ev.EvalHessianVectorProduct(x, v, sigma, []float64{lambda}, out))
	assert.InDelta(t, want[0][0]*v[0]+want[1][0]*v[1], out[0], 1e-12)
	assert.InDelta(t, want[1][0]*v[0]+want[1][1]*v[1], out[1], 1e-12)
}

func TestEvaluator_CapabilityNegotiation(t *testing.T) {
	ev := evaluator.New(scenarioModel(), evaluator.Config{})
	assert.Equal(t, evaluator.Supported, ev.AvailableFeatures())

	// Nothing works before Initialize.
	_, err := ev.EvalObjective(scenarioX)
	require.ErrorIs(t, err, evaluator.ErrNotInitialized)
	require.ErrorIs(t, ev.Reset(), evaluator.ErrNotInitialized)

	// Unknown bits are rejected outright.
	require.ErrorIs(t, ev.Initialize(evaluator.Capability(1<<6)), evaluator.ErrUnsupportedFeature)

	require.NoError(t, ev.Initialize(evaluator.Value|evaluator.Gradient))
	assert.Equal(t, evaluator.Value|evaluator.Gradient, ev.Capabilities())

	// Re-initializing with a subset is a no-op; asking for more fails.
	require.NoError(t, ev.Initialize(evaluator.Value))
	require.ErrorIs(t, ev.Initialize(evaluator.Value|evaluator.Hessian), evaluator.ErrCapabilityMismatch)

	// Ungranted capabilities are refused at call time.
	h := make([]float64, 4)
	require.ErrorIs(t, ev.EvalHessianLagrangian(scenarioX, 1, []float64{1}, h), evaluator.ErrCapabilityNotRequested)
	require.ErrorIs(t, ev.EvalHessianVectorProduct(scenarioX, scenarioX, 1, []float64{1}, h), evaluator.ErrCapabilityNotRequested)
	_, err = ev.ObjectiveExpression()
	require.ErrorIs(t, err, evaluator.ErrCapabilityNotRequested)
}

func paramModel(numParams int) *evaluator.Model {
	// f = p0 * x0; any parameter beyond p0 is unused.
	m := &evaluator.Model{
		NumVariables: 1,
		Parameters:   evaluator.NewParameters(numParams),
		Objective: evaluator.Objective{
			Expr: compiled(expr.Call(expr.OpMul, expr.Param(0), expr.Var(0))),
		},
	}
	m.Parameters.Set(0, 3)
	return m
}

func TestEvaluator_StaleParameterGuard(t *testing.T) {
	m := paramModel(2)
	ev := evaluator.New(m, evaluator.Config{})
	require.NoError(t, ev.Initialize(evaluator.Value))

	f, err := ev.EvalObjective([]float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 6.0, f, 1e-14)

	// An untouched parameter vector resets cleanly.
	require.NoError(t, ev.Reset())

	// Any mutation is suspect while unused parameters exist: the change
	// cannot be proven to reach the tapes.
	m.Parameters.Set(1, 9)
	require.ErrorIs(t, ev.Reset(), evaluator.ErrStaleParameters)
}

func TestEvaluator_StaleParametersAllowed(t *testing.T) {
	m := paramModel(2)
	ev := evaluator.New(m, evaluator.Config{AllowStaleParameters: true})
	require.NoError(t, ev.Initialize(evaluator.Value))

	m.Parameters.Set(0, 5)
	require.NoError(t, ev.Reset())
	f, err := ev.EvalObjective([]float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, f, 1e-14, "reset must pick up the new parameter value")
}

func TestEvaluator_FullyUsedParametersReset(t *testing.T) {
	m := paramModel(1)
	ev := evaluator.New(m, evaluator.Config{})
	require.NoError(t, ev.Initialize(evaluator.Value))

	m.Parameters.Set(0, 5)
	require.NoError(t, ev.Reset(), "every parameter reaches a tape, so the mutation is safe")
	f, err := ev.EvalObjective([]float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, f, 1e-14)
}

func TestEvaluator_Introspection(t *testing.T) {
	m := &evaluator.Model{
		NumVariables:   2,
		Subexpressions: []expr.Expression{*compiled(expr.Call(expr.OpMul, expr.Var(0), expr.Var(1)))},
		Objective: evaluator.Objective{
			Constant: 1,
			Linear:   []evaluator.LinearTerm{{Variable: 1, Coefficient: 3}},
			Expr:     compiled(expr.Unary(expr.UnarySin, expr.Subexpr(0))),
		},
		Linear: &evaluator.LinearMatrix{
			NumRows:  1,
			NumCols:  2,
			ColStart: []int{0, 1, 2},
			RowIndex: []int{0, 0},
			Values:   []float64{2, 3},
		},
		Constraints: []evaluator.Constraint{
			{Quadratic: []evaluator.QuadTerm{{I: 1, J: 1, Coefficient: 4}}, Lower: 0, Upper: 10},
		},
	}
	ev := evaluator.New(m, evaluator.Config{})
	require.NoError(t, ev.Initialize(evaluator.Value|evaluator.ExpressionIntrospection))

	x := []float64{1.0, 0.5}

	// The reconstructed trees must agree with the callback values, with
	// subexpression references substituted by their definitions.
	objTree, err := ev.ObjectiveExpression()
	require.NoError(t, err)
	f, err := ev.EvalObjective(x)
	require.NoError(t, err)
	assert.InDelta(t, f, objTree.Eval(x, nil, nil), 1e-14)
	assert.Contains(t, objTree.String(), "sin((x[0] * x[1]))")

	conTree, err := ev.ConstraintExpression(0)
	require.NoError(t, err)
	g := make([]float64, 1)
	require.NoError(t, ev.EvalConstraints(x, g))
	assert.InDelta(t, g[0], conTree.Eval(x, nil, nil), 1e-14)

	_, err = ev.ConstraintExpression(5)
	require.Error(t, err)
}

func TestEvaluator_RejectsBadModel(t *testing.T) {
	tests := []struct {
		name string
		m    *evaluator.Model
	}{
		{
			"upper-triangular quadratic term",
			&evaluator.Model{
				NumVariables: 2,
				Objective:    evaluator.Objective{Quadratic: []evaluator.QuadTerm{{I: 0, J: 1, Coefficient: 1}}},
			},
		},
		{
			"linear matrix column mismatch",
			&evaluator.Model{
				NumVariables: 2,
				Linear:       &evaluator.LinearMatrix{NumRows: 0, NumCols: 1, ColStart: []int{0, 0}},
			},
		},
		{
			"cyclic subexpressions",
			&evaluator.Model{
				NumVariables:   1,
				Subexpressions: []expr.Expression{*compiled(expr.Unary(expr.UnaryNeg, expr.Subexpr(0)))},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := evaluator.New(tt.m, evaluator.Config{})
			require.Error(t, ev.Initialize(evaluator.Value))
		})
	}
}
