package expr

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"
)

// Tape is an immutable, flattened expression: the node sequence, the
// compressed parent-to-children adjacency derived from it, and the constant
// pool. Children of a node are stored in argument order.
type Tape struct {
	Nodes     []Node
	Constants []float64

	childStart []int32
	children   []int32
}

// NewTape validates an expression and derives its adjacency. The expression
// must be non-empty, rooted at position 0, and ordered so every child follows
// its parent.
func NewTape(ex Expression) (*Tape, error) {
	if len(ex.Nodes) == 0 {
		return nil, fmt.Errorf("expr: empty node sequence")
	}
	if ex.Nodes[0].Parent != -1 {
		return nil, fmt.Errorf("expr: root node must have parent -1, got %d", ex.Nodes[0].Parent)
	}
	counts := make([]int32, len(ex.Nodes)+1)
	for i, n := range ex.Nodes {
		if i == 0 {
			continue
		}
		if n.Parent < 0 || int(n.Parent) >= i {
			return nil, fmt.Errorf("expr: node %d has parent %d, want a smaller position", i, n.Parent)
		}
		counts[n.Parent+1]++
	}
	for i := 1; i <= len(ex.Nodes); i++ {
		counts[i] += counts[i-1]
	}
	t := &Tape{
		Nodes:      ex.Nodes,
		Constants:  ex.Constants,
		childStart: counts,
		children:   make([]int32, len(ex.Nodes)-1),
	}
	next := make([]int32, len(ex.Nodes))
	copy(next, counts[:len(ex.Nodes)])
	for i, n := range ex.Nodes {
		if i == 0 {
			continue
		}
		t.children[next[n.Parent]] = int32(i)
		next[n.Parent]++
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Children returns the child positions of node i in argument order.
func (t *Tape) Children(i int) []int32 {
	return t.children[t.childStart[i]:t.childStart[i+1]]
}

// Len returns the number of nodes.
func (t *Tape) Len() int { return len(t.Nodes) }

func (t *Tape) validate() error {
	for i, n := range t.Nodes {
		nc := len(t.Children(i))
		switch n.Kind {
		case KindVariable, KindParameter, KindSubexpression:
			if nc != 0 {
				return fmt.Errorf("expr: %v node %d has %d children", n.Kind, i, nc)
			}
		case KindConstant:
			if nc != 0 {
				return fmt.Errorf("expr: %v node %d has %d children", n.Kind, i, nc)
			}
			if n.Index < 0 || int(n.Index) >= len(t.Constants) {
				return fmt.Errorf("expr: node %d references constant %d outside pool of %d", i, n.Index, len(t.Constants))
			}
		case KindCall:
			op := Op(n.Index)
			if a := op.Arity(); (a >= 0 && nc != a) || (a < 0 && nc < 1) {
				return fmt.Errorf("expr: operator %q at node %d has %d children", op, i, nc)
			}
		case KindUnaryCall:
			if nc != 1 {
				return fmt.Errorf("expr: unary operator at node %d has %d children", i, nc)
			}
		case KindComparison, KindLogic:
			if nc != 2 {
				return fmt.Errorf("expr: %v at node %d has %d children", n.Kind, i, nc)
			}
		default:
			return fmt.Errorf("expr: node %d has unknown kind %d", i, n.Kind)
		}
	}
	return nil
}

// Tree expands the tape back into a symbolic tree rooted at position 0.
// subexpr supplies the (already expanded) tree for a referenced
// subexpression; it may be nil when the tape references none.
func (t *Tape) Tree(subexpr func(i int) *Tree) *Tree {
	return t.tree(0, subexpr)
}

func (t *Tape) tree(pos int, subexpr func(i int) *Tree) *Tree {
	n := t.Nodes[pos]
	switch n.Kind {
	case KindVariable:
		return Var(int(n.Index))
	case KindConstant:
		return Const(t.Constants[n.Index])
	case KindParameter:
		return Param(int(n.Index))
	case KindSubexpression:
		return subexpr(int(n.Index))
	}
	args := make([]*Tree, 0, len(t.Children(pos)))
	for _, c := range t.Children(pos) {
		args = append(args, t.tree(int(c), subexpr))
	}
	return &Tree{Kind: n.Kind, Op: uint8(n.Index), Args: args}
}

// Linearity classifies a tape for derivative pruning.
type Linearity uint8

// Linearity tags, ordered so the maximum of two tags is the weaker guarantee.
const (
	LinearityConstant Linearity = iota
	LinearityLinear
	LinearityNonlinear
)

// String returns a human-readable tag name.
func (l Linearity) String() string {
	switch l {
	case LinearityConstant:
		return "constant"
	case LinearityLinear:
		return "linear"
	case LinearityNonlinear:
		return "nonlinear"
	default:
		return "unknown"
	}
}

// SubexprInfo is the already-resolved analysis summary of a subexpression,
// made available to tapes that reference it. Subexpressions are analyzed in
// dependency order, so referenced summaries always exist.
type SubexprInfo struct {
	Linearity    Linearity
	GradSparsity []int
	HessEdges    [][2]int
}

// FuncTape is an analyzed objective, constraint, or subexpression tape. On
// top of the node sequence it owns the gradient sparsity, the linearity tag,
// the Hessian coordinate list, the coloring artifacts (when second
// derivatives were requested and the tape is nonlinear), and per-evaluation
// scratch buffers.
type FuncTape struct {
	*Tape

	Linearity    Linearity
	GradSparsity []int    // sorted, deduplicated variable indices
	HessEdges    [][2]int // (row, col) with row >= col, sorted

	// Refs holds the directly referenced subexpression indices;
	// Subexpressions the topologically ordered transitive closure,
	// filled in by the evaluator once the store's order is known.
	Refs           []int
	Subexpressions []int

	// Coloring artifacts, populated by the evaluator from the oracle.
	HessRows, HessCols []int
	Seed               *mat.Dense
	Compressed         *mat.Dense
	Recovery           any

	// Scratch, allocated once at construction. The dual buffers exist
	// only when second derivatives were requested.
	Vals     []float64
	Adj      []float64
	DualVals []dual.Number
	DualAdj  []dual.Number
}
