// Package subexpr implements the shared subexpression store: an arena of
// analyzed tapes addressed by index, one problem-wide topological evaluation
// order, per-point memoized forward values, and the cross-tape pending-adjoint
// accumulators that make reverse passes over a multiply-referenced DAG
// correct. A subexpression's own reverse pass runs only after every
// referencing tape has deposited its adjoint contribution.
package subexpr

import (
	"fmt"

	"gonum.org/v1/gonum/num/dual"

	"github.com/saddle-opt/saddle/internal/expr"
	"github.com/saddle-opt/saddle/internal/ring"
	"github.com/saddle-opt/saddle/internal/sweep"
)

// Store owns the subexpression tapes for one evaluator instance.
type Store struct {
	tapes []*expr.FuncTape
	refs  [][]int // direct references per tape
	order []int   // topological order, dependencies first

	vals    []float64 // memoized root values, by subexpression index
	adjoint []float64 // pending adjoints, by subexpression index

	dualVals []dual.Number
	dualAdj  []dual.Number
}

// New builds a store over already-analyzed tapes. refs[i] lists the
// subexpressions tape i references directly; the store derives the
// problem-wide topological order from them and rejects cycles.
func New(tapes []*expr.FuncTape, refs [][]int, secondOrder bool) (*Store, error) {
	order, err := TopoOrder(refs)
	if err != nil {
		return nil, err
	}
	s := &Store{
		tapes:   tapes,
		refs:    refs,
		order:   order,
		vals:    make([]float64, len(tapes)),
		adjoint: make([]float64, len(tapes)),
	}
	if secondOrder {
		s.dualVals = make([]dual.Number, len(tapes))
		s.dualAdj = make([]dual.Number, len(tapes))
	}
	return s, nil
}

// TopoOrder returns an order listing every index after all its references.
// It is exported so tapes can be analyzed in dependency order before the
// store itself exists.
func TopoOrder(refs [][]int) ([]int, error) {
	const (
		unvisited = 0
		active    = 1
		done      = 2
	)
	state := make([]uint8, len(refs))
	order := make([]int, 0, len(refs))
	// Iterative DFS; the explicit stack holds (node, next-ref cursor).
	type frame struct{ node, next int }
	for root := range refs {
		if state[root] != unvisited {
			continue
		}
		stack := []frame{{root, 0}}
		state[root] = active
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next < len(refs[f.node]) {
				dep := refs[f.node][f.next]
				f.next++
				switch {
				case dep < 0 || dep >= len(refs):
					return nil, fmt.Errorf("subexpr: reference %d outside store of %d", dep, len(refs))
				case state[dep] == active:
					return nil, fmt.Errorf("subexpr: cycle through subexpression %d", dep)
				case state[dep] == unvisited:
					state[dep] = active
					stack = append(stack, frame{dep, 0})
				}
				continue
			}
			state[f.node] = done
			order = append(order, f.node)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

// Len returns the number of stored subexpressions.
func (s *Store) Len() int { return len(s.tapes) }

// Tape returns the analyzed tape at index i.
func (s *Store) Tape(i int) *expr.FuncTape { return s.tapes[i] }

// Order returns the problem-wide topological order, dependencies first.
func (s *Store) Order() []int { return s.order }

// Closure returns the topologically ordered transitive closure of the given
// direct references.
func (s *Store) Closure(direct []int) []int {
	if len(direct) == 0 {
		return nil
	}
	needed := make(map[int]bool)
	var mark func(i int)
	mark = func(i int) {
		if needed[i] {
			return
		}
		needed[i] = true
		for _, dep := range s.refs[i] {
			mark(dep)
		}
	}
	for _, i := range direct {
		mark(i)
	}
	closure := make([]int, 0, len(needed))
	for _, i := range s.order {
		if needed[i] {
			closure = append(closure, i)
		}
	}
	return closure
}

// ForwardReal evaluates every subexpression in topological order, memoizing
// root values for the given point. Each tape's node values remain valid for a
// later reverse pass at the same point.
func (s *Store) ForwardReal(x, params []float64) {
	forward(ring.Real{}, s.tapes, s.order, s.vals, x, params, realVals)
}

// ForwardDual evaluates the given topologically ordered subset (a tape's
// dependency closure) over the dual ring.
func (s *Store) ForwardDual(indices []int, x, params []dual.Number) {
	forward(ring.Dual{}, s.tapes, indices, s.dualVals, x, params, dualVals)
}

// Values returns the memoized real root values, indexed by subexpression.
func (s *Store) Values() []float64 { return s.vals }

// DualValues returns the dual root values, indexed by subexpression.
func (s *Store) DualValues() []dual.Number { return s.dualVals }

// Deposit accumulates an adjoint contribution from a referencing tape.
func (s *Store) Deposit(i int, a float64) { s.adjoint[i] += a }

// DepositDual is Deposit over the dual ring.
func (s *Store) DepositDual(i int, a dual.Number) { s.dualAdj[i] = dual.Add(s.dualAdj[i], a) }

// FlushReverse runs the deferred reverse passes over the given topologically
// ordered indices, in reverse: by the time a subexpression is reached, every
// referrer (tapes and later subexpressions alike) has deposited, so its
// external adjoint is fully summed. Callers pass the depositing tape's
// dependency closure, or Order for a whole-store sweep; deposits never land
// outside the depositor's closure. Variable-leaf contributions go to
// variable; accumulators are cleared on the way.
func (s *Store) FlushReverse(indices []int, variable func(idx int32, a float64)) {
	flush(ring.Real{}, s.tapes, indices, s.adjoint, realVals, realAdj, variable)
}

// FlushReverseDual is FlushReverse over the dual ring.
func (s *Store) FlushReverseDual(indices []int, variable func(idx int32, a dual.Number)) {
	flush(ring.Dual{}, s.tapes, indices, s.dualAdj, dualVals, dualAdj, variable)
}

func forward[T any](rg ring.Ring[T], tapes []*expr.FuncTape, order []int, roots []T, x, params []T, buf func(*expr.FuncTape) []T) {
	for _, i := range order {
		t := tapes[i]
		roots[i] = sweep.Forward(rg, t.Tape, buf(t), x, params, roots)
	}
}

func flush[T any](rg ring.Ring[T], tapes []*expr.FuncTape, order []int, pending []T,
	vals, adj func(*expr.FuncTape) []T, variable func(idx int32, a T)) {

	zero := rg.FromReal(0)
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		seed := pending[i]
		if rg.Real(seed) == 0 && rg.Emag(seed) == 0 {
			continue
		}
		pending[i] = zero
		t := tapes[i]
		sweep.Reverse(rg, t.Tape, vals(t), adj(t), seed, variable, func(j int32, a T) {
			pending[j] = rg.Add(pending[j], a)
		})
	}
}

func realVals(t *expr.FuncTape) []float64 { return t.Vals }
func realAdj(t *expr.FuncTape) []float64 { return t.Adj }
func dualVals(t *expr.FuncTape) []dual.Number { return t.DualVals }
func dualAdj(t *expr.FuncTape) []dual.Number { return t.DualAdj }
