package evaluator

import (
	"fmt"

	"github.com/saddle-opt/saddle/internal/expr"
)

// ObjectiveExpression reconstructs the objective as a symbolic tree: the
// closed-form constant, linear and quadratic terms plus the expanded tape.
// Informational only, never on the evaluation path.
func (e *Evaluator) ObjectiveExpression() (*expr.Tree, error) {
	if err := e.introspectable(); err != nil {
		return nil, err
	}
	var terms []*expr.Tree
	obj := &e.model.Objective
	if obj.Constant != 0 {
		terms = append(terms, expr.Const(obj.Constant))
	}
	for _, lt := range obj.Linear {
		terms = append(terms, expr.Call(expr.OpMul, expr.Const(lt.Coefficient), expr.Var(lt.Variable)))
	}
	terms = append(terms, quadTrees(obj.Quadratic)...)
	if e.objective != nil {
		terms = append(terms, e.expandTape(e.objective.Tape))
	}
	return sumTrees(terms), nil
}

// ConstraintExpression reconstructs constraint row i: its linear matrix row,
// quadratic terms, and expanded tape.
func (e *Evaluator) ConstraintExpression(i int) (*expr.Tree, error) {
	if err := e.introspectable(); err != nil {
		return nil, err
	}
	if i < 0 || i >= e.model.NumConstraints() {
		return nil, fmt.Errorf("evaluator: constraint %d outside %d rows", i, e.model.NumConstraints())
	}
	var terms []*expr.Tree
	if a := e.model.Linear; a != nil {
		for j := 0; j < a.NumCols; j++ {
			for k := a.ColStart[j]; k < a.ColStart[j+1]; k++ {
				if a.RowIndex[k] == i {
					terms = append(terms, expr.Call(expr.OpMul, expr.Const(a.Values[k]), expr.Var(j)))
				}
			}
		}
	}
	terms = append(terms, quadTrees(e.model.Constraints[i].Quadratic)...)
	if e.constraints[i] != nil {
		terms = append(terms, e.expandTape(e.constraints[i].Tape))
	}
	return sumTrees(terms), nil
}

func (e *Evaluator) introspectable() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if !e.caps.Has(ExpressionIntrospection) {
		return fmt.Errorf("%w: expression introspection", ErrCapabilityNotRequested)
	}
	return nil
}

// expandTape expands a tape from its root, substituting already-expanded,
// memoized subexpression trees.
func (e *Evaluator) expandTape(t *expr.Tape) *expr.Tree {
	return t.Tree(e.subTree)
}

func (e *Evaluator) subTree(i int) *expr.Tree {
	if t, ok := e.subTrees[i]; ok {
		return t
	}
	t := e.store.Tape(i).Tape.Tree(e.subTree)
	e.subTrees[i] = t
	return t
}

func quadTrees(terms []QuadTerm) []*expr.Tree {
	var out []*expr.Tree
	for _, q := range terms {
		out = append(out, expr.Call(expr.OpMul, expr.Const(q.Coefficient), expr.Var(q.I), expr.Var(q.J)))
	}
	return out
}

func sumTrees(terms []*expr.Tree) *expr.Tree {
	switch len(terms) {
	case 0:
		return expr.Const(0)
	case 1:
		return terms[0]
	default:
		return expr.Call(expr.OpAdd, terms...)
	}
}
