// Package expr provides the expression-tape intermediate representation used
// by the evaluator: a flat, immutable node sequence with parent pointers, a
// derived parent-to-children adjacency, and a constant pool.
//
// Tape invariant: the root occupies position 0 and every child's position is
// strictly greater than its parent's. A single descending index loop therefore
// visits children before parents (forward evaluation) and a single ascending
// loop visits parents before children (adjoint propagation), with no recursion
// and no explicit stack.
package expr

import "sort"

// NodeKind discriminates the variants of a tape node.
type NodeKind uint8

// Node kinds.
const (
	KindVariable      NodeKind = iota // decision variable, Index into the point vector
	KindConstant                      // literal, Index into the constant pool
	KindParameter                     // fixed external value, Index into the parameter vector
	KindSubexpression                 // shared tape, Index into the subexpression store
	KindCall                          // n-ary operator, Index holds an Op
	KindUnaryCall                     // univariate operator, Index holds a UnaryOp
	KindComparison                    // 0/1-valued comparison, Index holds a CmpOp
	KindLogic                         // 0/1-valued connective, Index holds a LogicOp
)

// String returns a human-readable kind name.
func (k NodeKind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindConstant:
		return "constant"
	case KindParameter:
		return "parameter"
	case KindSubexpression:
		return "subexpression"
	case KindCall:
		return "call"
	case KindUnaryCall:
		return "unary call"
	case KindComparison:
		return "comparison"
	case KindLogic:
		return "logic"
	default:
		return "unknown"
	}
}

// Node is one entry of an expression tape. The meaning of Index depends on
// Kind: a variable/parameter/subexpression handle, a constant-pool position,
// or an operator code. Parent is the position of the parent node, -1 for the
// root.
type Node struct {
	Kind   NodeKind
	Index  int32
	Parent int32
}

// Expression is an un-analyzed node sequence plus its constant pool, the form
// in which the modeling front-end hands expressions to the evaluator.
type Expression struct {
	Nodes     []Node
	Constants []float64
}

// SubexpressionRefs returns the sorted, deduplicated indices of
// subexpressions referenced directly by this expression.
func (e Expression) SubexpressionRefs() []int {
	var refs []int
	seen := make(map[int32]bool)
	for _, n := range e.Nodes {
		if n.Kind == KindSubexpression && !seen[n.Index] {
			seen[n.Index] = true
			refs = append(refs, int(n.Index))
		}
	}
	sort.Ints(refs)
	return refs
}
