package expr

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/num/dual"
)

// NewFuncTape analyzes an expression into a function tape: adjacency,
// gradient sparsity, linearity tag, and (when secondOrder is set) the Hessian
// edge list and dual-number scratch. subinfo resolves the analysis summary of
// a referenced subexpression and may be nil when the expression references
// none; summaries must already be fully resolved (dependency order).
func NewFuncTape(ex Expression, numVars int, secondOrder bool, subinfo func(i int) *SubexprInfo) (*FuncTape, error) {
	tape, err := NewTape(ex)
	if err != nil {
		return nil, err
	}
	ft := &FuncTape{Tape: tape, Refs: ex.SubexpressionRefs()}

	a := analysis{tape: tape, refs: ft.Refs, numVars: numVars, subinfo: subinfo}
	if err := a.run(secondOrder); err != nil {
		return nil, err
	}
	ft.Linearity = a.tags[0]
	ft.GradSparsity = toInts(a.varsets[0])
	if secondOrder {
		ft.HessEdges = a.edgeList()
		if ft.Linearity != LinearityNonlinear && len(ft.HessEdges) > 0 {
			// Construction bug, not bad input: a tape tagged linear or
			// constant must have an empty Hessian coordinate list.
			panic(fmt.Sprintf("expr: %v tape with %d Hessian edges", ft.Linearity, len(ft.HessEdges)))
		}
	}

	ft.Vals = make([]float64, tape.Len())
	ft.Adj = make([]float64, tape.Len())
	if secondOrder {
		ft.DualVals = make([]dual.Number, tape.Len())
		ft.DualAdj = make([]dual.Number, tape.Len())
	}
	return ft, nil
}

// analysis carries the bottom-up per-node state: linearity tags, reachable
// variable sets, and the accumulated Hessian edge set.
type analysis struct {
	tape    *Tape
	refs    []int // directly referenced subexpression indices
	numVars int
	subinfo func(i int) *SubexprInfo

	tags    []Linearity
	varsets [][]int32
	edges   map[[2]int32]struct{}
}

func (a *analysis) run(secondOrder bool) error {
	n := a.tape.Len()
	a.tags = make([]Linearity, n)
	a.varsets = make([][]int32, n)
	if secondOrder {
		a.edges = make(map[[2]int32]struct{})
	}

	// Children live at higher positions than parents, so a single
	// descending loop resolves children before parents.
	for i := n - 1; i >= 0; i-- {
		node := a.tape.Nodes[i]
		switch node.Kind {
		case KindVariable:
			if node.Index < 0 || int(node.Index) >= a.numVars {
				return fmt.Errorf("expr: node %d references variable %d of %d", i, node.Index, a.numVars)
			}
			a.tags[i] = LinearityLinear
			a.varsets[i] = []int32{node.Index}
		case KindConstant, KindParameter:
			// Parameters are fixed for an evaluation session.
			a.tags[i] = LinearityConstant
		case KindSubexpression:
			info := a.lookupSub(int(node.Index))
			if info == nil {
				return fmt.Errorf("expr: node %d references unresolved subexpression %d", i, node.Index)
			}
			a.tags[i] = info.Linearity
			a.varsets[i] = toInt32s(info.GradSparsity)
		case KindCall:
			a.analyzeCall(i, Op(node.Index), secondOrder)
		case KindUnaryCall:
			a.analyzeUnary(i, UnaryOp(node.Index), secondOrder)
		case KindComparison, KindLogic:
			// 0/1-valued and flat almost everywhere: no second-order
			// interactions, but not an affine combination either.
			a.foldChildren(i)
			if a.tags[i] != LinearityConstant {
				a.tags[i] = LinearityNonlinear
			}
		}
	}

	// Every referenced subexpression contributes its own (already resolved)
	// edge list: the chain rule keeps its internal curvature alive in any
	// referencing tape.
	if secondOrder {
		for _, ref := range a.refs {
			info := a.lookupSub(ref)
			for _, e := range info.HessEdges {
				a.addEdge(int32(e[0]), int32(e[1]))
			}
		}
	}
	return nil
}

func (a *analysis) lookupSub(i int) *SubexprInfo {
	if a.subinfo == nil {
		return nil
	}
	return a.subinfo(i)
}

// foldChildren sets node i's variable set to the union of its children's sets
// and its tag to the weakest child tag.
func (a *analysis) foldChildren(i int) {
	for _, c := range a.tape.Children(i) {
		a.varsets[i] = unionSorted(a.varsets[i], a.varsets[c])
		if a.tags[c] > a.tags[i] {
			a.tags[i] = a.tags[c]
		}
	}
}

func (a *analysis) analyzeCall(i int, op Op, secondOrder bool) {
	children := a.tape.Children(i)
	a.foldChildren(i) // varset union; tag refined below

	switch op {
	case OpAdd, OpSub:
		// Affine combination: tag is already the fold of the children.

	case OpMul:
		nonConst := 0
		linearOnly := true
		for _, c := range children {
			if a.tags[c] != LinearityConstant {
				nonConst++
				if a.tags[c] != LinearityLinear {
					linearOnly = false
				}
			}
		}
		switch {
		case nonConst == 0:
			a.tags[i] = LinearityConstant
		case nonConst == 1 && linearOnly:
			a.tags[i] = LinearityLinear
		default:
			a.tags[i] = LinearityNonlinear
		}
		if secondOrder {
			for j := 0; j < len(children); j++ {
				for k := j + 1; k < len(children); k++ {
					a.cross(a.varsets[children[j]], a.varsets[children[k]])
				}
			}
		}

	case OpDiv:
		num, den := children[0], children[1]
		if a.tags[den] == LinearityConstant {
			a.tags[i] = a.tags[num]
		} else {
			a.tags[i] = LinearityNonlinear
		}
		if secondOrder {
			a.cross(a.varsets[num], a.varsets[den])
			a.cross(a.varsets[den], a.varsets[den])
		}

	case OpPow:
		base, exp := children[0], children[1]
		if p, ok := a.literal(exp); ok && a.tags[exp] == LinearityConstant {
			switch {
			case p == 0:
				a.tags[i] = LinearityConstant
			case p == 1:
				a.tags[i] = a.tags[base]
			default:
				if a.tags[base] == LinearityConstant {
					a.tags[i] = LinearityConstant
				} else {
					a.tags[i] = LinearityNonlinear
					if secondOrder {
						a.cross(a.varsets[base], a.varsets[base])
					}
				}
			}
			return
		}
		if a.tags[base] == LinearityConstant && a.tags[exp] == LinearityConstant {
			a.tags[i] = LinearityConstant
			return
		}
		a.tags[i] = LinearityNonlinear
		if secondOrder {
			a.cross(a.varsets[base], a.varsets[base])
			a.cross(a.varsets[base], a.varsets[exp])
			a.cross(a.varsets[exp], a.varsets[exp])
		}

	case OpMin, OpMax, OpIfelse:
		// Piecewise selection: second partials vanish almost everywhere,
		// so no edges, but the result is not affine in its arguments.
		if a.tags[i] != LinearityConstant {
			a.tags[i] = LinearityNonlinear
		}
	}
}

func (a *analysis) analyzeUnary(i int, op UnaryOp, secondOrder bool) {
	c := a.tape.Children(i)[0]
	a.varsets[i] = a.varsets[c]
	switch {
	case op == UnaryNeg:
		a.tags[i] = a.tags[c]
	case a.tags[c] == LinearityConstant:
		a.tags[i] = LinearityConstant
	default:
		a.tags[i] = LinearityNonlinear
		if secondOrder && op != UnaryAbs {
			a.cross(a.varsets[c], a.varsets[c])
		}
	}
}

// literal reports the value of a constant-pool leaf, when node c is one.
func (a *analysis) literal(c int32) (float64, bool) {
	n := a.tape.Nodes[c]
	if n.Kind != KindConstant {
		return 0, false
	}
	return a.tape.Constants[n.Index], true
}

// cross records a potentially nonzero second partial between every variable
// reachable from one child and every variable reachable from another.
func (a *analysis) cross(s, t []int32) {
	for _, r := range s {
		for _, c := range t {
			a.addEdge(r, c)
		}
	}
}

func (a *analysis) addEdge(r, c int32) {
	if r < c {
		r, c = c, r
	}
	a.edges[[2]int32{r, c}] = struct{}{}
}

func (a *analysis) edgeList() [][2]int {
	if len(a.edges) == 0 {
		return nil
	}
	out := make([][2]int, 0, len(a.edges))
	for e := range a.edges {
		out = append(out, [2]int{int(e[0]), int(e[1])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// unionSorted merges two sorted, deduplicated index slices.
func unionSorted(a, b []int32) []int32 {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]int32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func toInts(s []int32) []int {
	if len(s) == 0 {
		return nil
	}
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

func toInt32s(s []int) []int32 {
	if len(s) == 0 {
		return nil
	}
	out := make([]int32, len(s))
	for i, v := range s {
		out[i] = int32(v)
	}
	return out
}
