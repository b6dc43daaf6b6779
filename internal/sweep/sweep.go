// Package sweep implements the two tape-evaluation passes as flat index loops
// over the node sequence: forward (descending positions, children before
// parents) computes node values bottom-up; reverse (ascending positions,
// parents before children) propagates adjoints top-down by the chain rule.
// Both passes are generic over a numeric ring, so the same code computes
// plain values, directional derivatives, and the dual sweeps behind sparse
// Hessian recovery.
package sweep

import (
	"fmt"

	"github.com/saddle-opt/saddle/internal/expr"
	"github.com/saddle-opt/saddle/internal/ring"
)

// Forward evaluates the tape bottom-up, filling vals with one value per node
// and returning the root value (position 0). x, params and subvals supply the
// leaf values; subvals is indexed by global subexpression index and must hold
// memoized values for every subexpression the tape references.
func Forward[T any](rg ring.Ring[T], t *expr.Tape, vals []T, x, params, subvals []T) T {
	for i := t.Len() - 1; i >= 0; i-- {
		n := t.Nodes[i]
		switch n.Kind {
		case expr.KindVariable:
			vals[i] = x[n.Index]
		case expr.KindConstant:
			vals[i] = rg.FromReal(t.Constants[n.Index])
		case expr.KindParameter:
			vals[i] = params[n.Index]
		case expr.KindSubexpression:
			vals[i] = subvals[n.Index]
		case expr.KindCall:
			vals[i] = forwardCall(rg, t, expr.Op(n.Index), i, vals)
		case expr.KindUnaryCall:
			c := t.Children(i)[0]
			vals[i] = rg.Unary(expr.UnaryOp(n.Index), vals[c])
		case expr.KindComparison:
			ch := t.Children(i)
			vals[i] = fromBool(rg, compare(expr.CmpOp(n.Index), rg.Real(vals[ch[0]]), rg.Real(vals[ch[1]])))
		case expr.KindLogic:
			ch := t.Children(i)
			a := rg.Real(vals[ch[0]]) != 0
			b := rg.Real(vals[ch[1]]) != 0
			if expr.LogicOp(n.Index) == expr.LogicAnd {
				vals[i] = fromBool(rg, a && b)
			} else {
				vals[i] = fromBool(rg, a || b)
			}
		}
	}
	return vals[0]
}

func forwardCall[T any](rg ring.Ring[T], t *expr.Tape, op expr.Op, i int, vals []T) T {
	ch := t.Children(i)
	switch op {
	case expr.OpAdd:
		acc := vals[ch[0]]
		for _, c := range ch[1:] {
			acc = rg.Add(acc, vals[c])
		}
		return acc
	case expr.OpSub:
		return rg.Sub(vals[ch[0]], vals[ch[1]])
	case expr.OpMul:
		acc := vals[ch[0]]
		for _, c := range ch[1:] {
			acc = rg.Mul(acc, vals[c])
		}
		return acc
	case expr.OpDiv:
		return rg.Div(vals[ch[0]], vals[ch[1]])
	case expr.OpPow:
		// A literal exponent takes the real-power path, which stays
		// defined for negative bases with integer exponents.
		if p, ok := literal(t, ch[1]); ok {
			return rg.PowReal(vals[ch[0]], p)
		}
		return rg.Pow(vals[ch[0]], vals[ch[1]])
	case expr.OpMin:
		best := vals[ch[0]]
		for _, c := range ch[1:] {
			if rg.Real(vals[c]) < rg.Real(best) {
				best = vals[c]
			}
		}
		return best
	case expr.OpMax:
		best := vals[ch[0]]
		for _, c := range ch[1:] {
			if rg.Real(vals[c]) > rg.Real(best) {
				best = vals[c]
			}
		}
		return best
	case expr.OpIfelse:
		if rg.Real(vals[ch[0]]) != 0 {
			return vals[ch[1]]
		}
		return vals[ch[2]]
	default:
		panic(fmt.Sprintf("sweep: unknown operator %v", op))
	}
}

// Reverse propagates adjoints top-down. The root's adjoint is initialized to
// seed; every operator node scales its adjoint by the local partial
// derivative toward each child. Variable leaves report to variable,
// subexpression leaves to subexpr (deferred cross-tape accumulation; the
// subexpression's own reverse pass must not run until every referrer has
// reported). vals must hold the node values of a matching forward pass.
func Reverse[T any](rg ring.Ring[T], t *expr.Tape, vals, adj []T, seed T,
	variable func(idx int32, a T), subexpr func(idx int32, a T)) {

	zero := rg.FromReal(0)
	for i := range adj {
		adj[i] = zero
	}
	adj[0] = seed

	for i := 0; i < t.Len(); i++ {
		a := adj[i]
		if rg.Real(a) == 0 && rg.Emag(a) == 0 {
			continue
		}
		n := t.Nodes[i]
		switch n.Kind {
		case expr.KindVariable:
			variable(n.Index, a)
		case expr.KindSubexpression:
			subexpr(n.Index, a)
		case expr.KindConstant, expr.KindParameter, expr.KindComparison, expr.KindLogic:
			// No derivative flows through these.
		case expr.KindCall:
			reverseCall(rg, t, expr.Op(n.Index), i, vals, adj, a)
		case expr.KindUnaryCall:
			c := t.Children(i)[0]
			d := rg.UnaryDeriv(expr.UnaryOp(n.Index), vals[c])
			adj[c] = rg.Add(adj[c], rg.Mul(d, a))
		}
	}
}

func reverseCall[T any](rg ring.Ring[T], t *expr.Tape, op expr.Op, i int, vals, adj []T, a T) {
	ch := t.Children(i)
	switch op {
	case expr.OpAdd:
		for _, c := range ch {
			adj[c] = rg.Add(adj[c], a)
		}
	case expr.OpSub:
		adj[ch[0]] = rg.Add(adj[ch[0]], a)
		adj[ch[1]] = rg.Sub(adj[ch[1]], a)
	case expr.OpMul:
		// Partial toward child j is the product of the other children.
		for j, c := range ch {
			part := a
			for k, o := range ch {
				if k != j {
					part = rg.Mul(part, vals[o])
				}
			}
			adj[c] = rg.Add(adj[c], part)
		}
	case expr.OpDiv:
		num, den := ch[0], ch[1]
		adj[num] = rg.Add(adj[num], rg.Div(a, vals[den]))
		// d(u/v)/dv = -u/v^2 = -(u/v)/v.
		adj[den] = rg.Sub(adj[den], rg.Mul(a, rg.Div(vals[i], vals[den])))
	case expr.OpPow:
		base, exp := ch[0], ch[1]
		if p, ok := literal(t, exp); ok {
			if p != 0 {
				d := rg.Mul(rg.FromReal(p), rg.PowReal(vals[base], p-1))
				adj[base] = rg.Add(adj[base], rg.Mul(d, a))
			}
			return
		}
		// d(b^e)/db = e*b^(e-1), d(b^e)/de = b^e*log(b).
		db := rg.Mul(vals[exp], rg.Pow(vals[base], rg.Sub(vals[exp], rg.FromReal(1))))
		adj[base] = rg.Add(adj[base], rg.Mul(db, a))
		de := rg.Mul(vals[i], rg.Unary(expr.UnaryLog, vals[base]))
		adj[exp] = rg.Add(adj[exp], rg.Mul(de, a))
	case expr.OpMin, expr.OpMax:
		// The adjoint flows to the first argument attaining the result.
		sel := ch[0]
		for _, c := range ch[1:] {
			v, best := rg.Real(vals[c]), rg.Real(vals[sel])
			if (op == expr.OpMin && v < best) || (op == expr.OpMax && v > best) {
				sel = c
			}
		}
		adj[sel] = rg.Add(adj[sel], a)
	case expr.OpIfelse:
		if rg.Real(vals[ch[0]]) != 0 {
			adj[ch[1]] = rg.Add(adj[ch[1]], a)
		} else {
			adj[ch[2]] = rg.Add(adj[ch[2]], a)
		}
	default:
		panic(fmt.Sprintf("sweep: unknown operator %v", op))
	}
}

func literal(t *expr.Tape, c int32) (float64, bool) {
	n := t.Nodes[c]
	if n.Kind != expr.KindConstant {
		return 0, false
	}
	return t.Constants[n.Index], true
}

func fromBool[T any](rg ring.Ring[T], b bool) T {
	if b {
		return rg.FromReal(1)
	}
	return rg.FromReal(0)
}

func compare(op expr.CmpOp, a, b float64) bool {
	switch op {
	case expr.CmpLT:
		return a < b
	case expr.CmpLE:
		return a <= b
	case expr.CmpGT:
		return a > b
	case expr.CmpGE:
		return a >= b
	case expr.CmpEQ:
		return a == b
	case expr.CmpNE:
		return a != b
	default:
		panic(fmt.Sprintf("sweep: unknown operator %v", op))
	}
}
