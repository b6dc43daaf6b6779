package expr

import (
	"fmt"
	"math"
	"strings"
)

// Tree is a symbolic expression node. Trees are the construction-side and
// introspection-side view of an expression: the front-end builds them, Compile
// flattens them into a tape, and the evaluator's expression queries expand
// tapes back into them.
type Tree struct {
	Kind  NodeKind
	Op    uint8   // operator code for call/unary/comparison/logic kinds
	Value float64 // literal value for KindConstant
	Index int     // handle for variable/parameter/subexpression kinds
	Args  []*Tree
}

// Var returns a decision-variable leaf.
func Var(i int) *Tree { return &Tree{Kind: KindVariable, Index: i} }

// Const returns a literal leaf.
func Const(v float64) *Tree { return &Tree{Kind: KindConstant, Value: v} }

// Param returns a parameter leaf.
func Param(i int) *Tree { return &Tree{Kind: KindParameter, Index: i} }

// Subexpr returns a reference to entry i of the shared subexpression store.
func Subexpr(i int) *Tree { return &Tree{Kind: KindSubexpression, Index: i} }

// Call returns an n-ary operator application. Panics if the argument count
// does not match the operator's arity; that is a construction bug, not input.
func Call(op Op, args ...*Tree) *Tree {
	if a := op.Arity(); a >= 0 && len(args) != a {
		panic(fmt.Sprintf("expr: operator %q wants %d arguments, got %d", op, a, len(args)))
	}
	if op.Arity() < 0 && len(args) < 1 {
		panic(fmt.Sprintf("expr: operator %q wants at least one argument", op))
	}
	return &Tree{Kind: KindCall, Op: uint8(op), Args: args}
}

// Unary returns a univariate operator application.
func Unary(op UnaryOp, arg *Tree) *Tree {
	return &Tree{Kind: KindUnaryCall, Op: uint8(op), Args: []*Tree{arg}}
}

// Compare returns a 0/1-valued comparison.
func Compare(op CmpOp, left, right *Tree) *Tree {
	return &Tree{Kind: KindComparison, Op: uint8(op), Args: []*Tree{left, right}}
}

// Logical returns a 0/1-valued boolean connective.
func Logical(op LogicOp, left, right *Tree) *Tree {
	return &Tree{Kind: KindLogic, Op: uint8(op), Args: []*Tree{left, right}}
}

// Compile flattens a tree into an Expression in preorder, so that the root
// lands at position 0 and every child's position exceeds its parent's.
// Constants are pooled and deduplicated by value.
func Compile(t *Tree) Expression {
	var ex Expression
	pool := make(map[float64]int32)
	var emit func(t *Tree, parent int32)
	emit = func(t *Tree, parent int32) {
		pos := int32(len(ex.Nodes))
		n := Node{Kind: t.Kind, Parent: parent}
		switch t.Kind {
		case KindConstant:
			idx, ok := pool[t.Value]
			if !ok {
				idx = int32(len(ex.Constants))
				ex.Constants = append(ex.Constants, t.Value)
				pool[t.Value] = idx
			}
			n.Index = idx
		case KindVariable, KindParameter, KindSubexpression:
			n.Index = int32(t.Index)
		default:
			n.Index = int32(t.Op)
		}
		ex.Nodes = append(ex.Nodes, n)
		for _, arg := range t.Args {
			emit(arg, pos)
		}
	}
	emit(t, -1)
	return ex
}

// Eval evaluates the tree at a point. subexpr resolves subexpression
// references and may be nil when the tree contains none.
func (t *Tree) Eval(x, params []float64, subexpr func(i int) float64) float64 {
	switch t.Kind {
	case KindVariable:
		return x[t.Index]
	case KindConstant:
		return t.Value
	case KindParameter:
		return params[t.Index]
	case KindSubexpression:
		return subexpr(t.Index)
	case KindCall:
		return t.evalCall(x, params, subexpr)
	case KindUnaryCall:
		return evalUnary(UnaryOp(t.Op), t.Args[0].Eval(x, params, subexpr))
	case KindComparison:
		a := t.Args[0].Eval(x, params, subexpr)
		b := t.Args[1].Eval(x, params, subexpr)
		if evalCompare(CmpOp(t.Op), a, b) {
			return 1
		}
		return 0
	case KindLogic:
		a := t.Args[0].Eval(x, params, subexpr) != 0
		b := t.Args[1].Eval(x, params, subexpr) != 0
		if (LogicOp(t.Op) == LogicAnd && a && b) || (LogicOp(t.Op) == LogicOr && (a || b)) {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("expr: cannot evaluate node kind %v", t.Kind))
	}
}

func (t *Tree) evalCall(x, params []float64, subexpr func(i int) float64) float64 {
	args := make([]float64, len(t.Args))
	for i, a := range t.Args {
		args[i] = a.Eval(x, params, subexpr)
	}
	switch Op(t.Op) {
	case OpAdd:
		s := 0.0
		for _, v := range args {
			s += v
		}
		return s
	case OpSub:
		return args[0] - args[1]
	case OpMul:
		p := 1.0
		for _, v := range args {
			p *= v
		}
		return p
	case OpDiv:
		return args[0] / args[1]
	case OpPow:
		return math.Pow(args[0], args[1])
	case OpMin:
		m := args[0]
		for _, v := range args[1:] {
			m = math.Min(m, v)
		}
		return m
	case OpMax:
		m := args[0]
		for _, v := range args[1:] {
			m = math.Max(m, v)
		}
		return m
	case OpIfelse:
		if args[0] != 0 {
			return args[1]
		}
		return args[2]
	default:
		panic(fmt.Sprintf("expr: cannot evaluate operator %v", Op(t.Op)))
	}
}

func evalUnary(op UnaryOp, v float64) float64 {
	switch op {
	case UnaryNeg:
		return -v
	case UnaryAbs:
		return math.Abs(v)
	case UnarySqrt:
		return math.Sqrt(v)
	case UnaryExp:
		return math.Exp(v)
	case UnaryLog:
		return math.Log(v)
	case UnarySin:
		return math.Sin(v)
	case UnaryCos:
		return math.Cos(v)
	case UnaryTan:
		return math.Tan(v)
	case UnaryTanh:
		return math.Tanh(v)
	case UnaryAsin:
		return math.Asin(v)
	case UnaryAcos:
		return math.Acos(v)
	case UnaryAtan:
		return math.Atan(v)
	default:
		panic(fmt.Sprintf("expr: cannot evaluate operator %v", op))
	}
}

func evalCompare(op CmpOp, a, b float64) bool {
	switch op {
	case CmpLT:
		return a < b
	case CmpLE:
		return a <= b
	case CmpGT:
		return a > b
	case CmpGE:
		return a >= b
	case CmpEQ:
		return a == b
	case CmpNE:
		return a != b
	default:
		panic(fmt.Sprintf("expr: cannot evaluate operator %v", op))
	}
}

// String renders the tree in infix form, fully parenthesized.
func (t *Tree) String() string {
	var b strings.Builder
	t.render(&b)
	return b.String()
}

func (t *Tree) render(b *strings.Builder) {
	switch t.Kind {
	case KindVariable:
		fmt.Fprintf(b, "x[%d]", t.Index)
	case KindConstant:
		fmt.Fprintf(b, "%g", t.Value)
	case KindParameter:
		fmt.Fprintf(b, "p[%d]", t.Index)
	case KindSubexpression:
		fmt.Fprintf(b, "s[%d]", t.Index)
	case KindCall:
		op := Op(t.Op)
		switch op {
		case OpAdd, OpSub, OpMul, OpDiv, OpPow:
			b.WriteByte('(')
			for i, a := range t.Args {
				if i > 0 {
					fmt.Fprintf(b, " %s ", op)
				}
				a.render(b)
			}
			b.WriteByte(')')
		default:
			b.WriteString(op.String())
			b.WriteByte('(')
			for i, a := range t.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				a.render(b)
			}
			b.WriteByte(')')
		}
	case KindUnaryCall:
		if UnaryOp(t.Op) == UnaryNeg {
			b.WriteString("(-")
			t.Args[0].render(b)
			b.WriteByte(')')
			return
		}
		b.WriteString(UnaryOp(t.Op).String())
		b.WriteByte('(')
		t.Args[0].render(b)
		b.WriteByte(')')
	case KindComparison, KindLogic:
		var op fmt.Stringer = CmpOp(t.Op)
		if t.Kind == KindLogic {
			op = LogicOp(t.Op)
		}
		b.WriteByte('(')
		t.Args[0].render(b)
		fmt.Fprintf(b, " %s ", op)
		t.Args[1].render(b)
		b.WriteByte(')')
	}
}
