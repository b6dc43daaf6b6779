package subexpr_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/saddle-opt/saddle/internal/expr"
	"github.com/saddle-opt/saddle/internal/subexpr"
)

func TestTopoOrder(t *testing.T) {
	tests := []struct {
		name string
		refs [][]int
		want []int
	}{
		{"empty", nil, []int{}},
		{"independent", [][]int{{}, {}}, []int{0, 1}},
		{"chain", [][]int{{1}, {2}, {}}, []int{2, 1, 0}},
		{"diamond", [][]int{{}, {0}, {0}, {1, 2}}, []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := subexpr.TopoOrder(tt.refs)
			if err != nil {
				t.Fatalf("TopoOrder: %v", err)
			}
			if !reflect.DeepEqual(order, tt.want) {
				t.Errorf("order = %v, want %v", order, tt.want)
			}
		})
	}
}

func TestTopoOrder_RejectsCycle(t *testing.T) {
	if _, err := subexpr.TopoOrder([][]int{{1}, {0}}); err == nil {
		t.Error("TopoOrder accepted a cycle")
	}
	if _, err := subexpr.TopoOrder([][]int{{0}}); err == nil {
		t.Error("TopoOrder accepted a self-reference")
	}
}

func TestTopoOrder_RejectsOutOfRange(t *testing.T) {
	if _, err := subexpr.TopoOrder([][]int{{3}}); err == nil {
		t.Error("TopoOrder accepted a reference outside the store")
	}
}

// buildStore compiles s0 = x0*x1 and s1 = s0 + x0 into an analyzed store.
func buildStore(t *testing.T, secondOrder bool) *subexpr.Store {
	t.Helper()
	exprs := []expr.Expression{
		expr.Compile(expr.Call(expr.OpMul, expr.Var(0), expr.Var(1))),
		expr.Compile(expr.Call(expr.OpAdd, expr.Subexpr(0), expr.Var(0))),
	}
	refs := [][]int{nil, {0}}

	tapes := make([]*expr.FuncTape, len(exprs))
	subinfo := func(i int) *expr.SubexprInfo {
		ft := tapes[i]
		if ft == nil {
			return nil
		}
		return &expr.SubexprInfo{Linearity: ft.Linearity, GradSparsity: ft.GradSparsity, HessEdges: ft.HessEdges}
	}
	for _, i := range []int{0, 1} {
		ft, err := expr.NewFuncTape(exprs[i], 2, secondOrder, subinfo)
		if err != nil {
			t.Fatalf("NewFuncTape(%d): %v", i, err)
		}
		tapes[i] = ft
	}
	s, err := subexpr.New(tapes, refs, secondOrder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_Closure(t *testing.T) {
	s := buildStore(t, false)
	if got := s.Closure(nil); got != nil {
		t.Errorf("Closure(nil) = %v, want nil", got)
	}
	if got, want := s.Closure([]int{0}), []int{0}; !reflect.DeepEqual(got, want) {
		t.Errorf("Closure([0]) = %v, want %v", got, want)
	}
	// Referencing s1 pulls in s0 transitively, dependencies first.
	if got, want := s.Closure([]int{1}), []int{0, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("Closure([1]) = %v, want %v", got, want)
	}
}

func TestStore_ForwardMemoizesRoots(t *testing.T) {
	s := buildStore(t, false)
	s.ForwardReal([]float64{2, 3}, nil)
	vals := s.Values()
	if vals[0] != 6 || vals[1] != 8 {
		t.Errorf("values = %v, want [6 8]", vals)
	}
}

// TestStore_FlushSumsAdjoints deposits into the dependent subexpression and
// checks that the flush propagates through the chain: d(s1)/dx0 = x1 + 1,
// d(s1)/dx1 = x0.
func TestStore_FlushSumsAdjoints(t *testing.T) {
	s := buildStore(t, false)
	s.ForwardReal([]float64{2, 3}, nil)

	grad := make([]float64, 2)
	s.Deposit(1, 1)
	s.FlushReverse(s.Order(), func(idx int32, a float64) { grad[idx] += a })

	if want := []float64{4, 2}; !reflect.DeepEqual(grad, want) {
		t.Errorf("grad = %v, want %v", grad, want)
	}

	// Accumulators were cleared: a second flush is a no-op.
	grad[0], grad[1] = 0, 0
	s.FlushReverse(s.Order(), func(idx int32, a float64) { grad[idx] += a })
	if grad[0] != 0 || grad[1] != 0 {
		t.Errorf("second flush produced %v, want zeros", grad)
	}
}

// TestStore_SharedReferenceAccumulates models two referrers of s0 depositing
// before the flush: the store must sum the contributions, not run s0's
// reverse pass twice.
func TestStore_SharedReferenceAccumulates(t *testing.T) {
	s := buildStore(t, false)
	s.ForwardReal([]float64{2, 3}, nil)

	grad := make([]float64, 2)
	s.Deposit(0, 0.25)
	s.Deposit(0, 0.75)
	s.FlushReverse(s.Order(), func(idx int32, a float64) { grad[idx] += a })

	// d(s0)/dx = (x1, x0) scaled by the summed adjoint 1.
	if math.Abs(grad[0]-3) > 1e-15 || math.Abs(grad[1]-2) > 1e-15 {
		t.Errorf("grad = %v, want [3 2]", grad)
	}
}

// TestStore_FlushScopedToClosure flushes only a depositing tape's dependency
// closure: the result matches a whole-store flush, and entries outside the
// closure are never visited.
func TestStore_FlushScopedToClosure(t *testing.T) {
	s := buildStore(t, false)
	s.ForwardReal([]float64{2, 3}, nil)

	grad := make([]float64, 2)
	s.Deposit(0, 1)
	s.FlushReverse(s.Closure([]int{0}), func(idx int32, a float64) { grad[idx] += a })

	if want := []float64{3, 2}; !reflect.DeepEqual(grad, want) {
		t.Errorf("grad = %v, want %v", grad, want)
	}
}
