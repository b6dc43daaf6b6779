// Package ring abstracts the arithmetic the evaluation sweeps run over, so a
// single sweep implementation serves both plain values and first-order dual
// numbers. A ring supplies the field operations, the unary operator table and
// its derivative table, and access to the epsilon (directional-derivative)
// component, which is identically zero in the real ring.
package ring

import (
	"math"

	"gonum.org/v1/gonum/num/dual"

	"github.com/saddle-opt/saddle/internal/expr"
)

// Ring is the minimal numeric capability the forward and reverse sweeps need.
type Ring[T any] interface {
	// FromReal lifts a plain value into the ring.
	FromReal(v float64) T
	// Real extracts the value component.
	Real(v T) float64
	// Emag extracts the epsilon component; zero in the real ring.
	Emag(v T) float64

	Add(a, b T) T
	Sub(a, b T) T
	Mul(a, b T) T
	Div(a, b T) T
	Neg(a T) T
	Pow(a, b T) T
	PowReal(a T, p float64) T

	// Unary applies a univariate operator.
	Unary(op expr.UnaryOp, v T) T
	// UnaryDeriv evaluates the operator's first derivative at v. In the
	// dual ring the result's epsilon component carries the second
	// derivative along the seeded direction.
	UnaryDeriv(op expr.UnaryOp, v T) T
}

// Real is the plain float64 ring.
type Real struct{}

func (Real) FromReal(v float64) float64 { return v }
func (Real) Real(v float64) float64 { return v }
func (Real) Emag(float64) float64 { return 0 }

func (Real) Add(a, b float64) float64 { return a + b }
func (Real) Sub(a, b float64) float64 { return a - b }
func (Real) Mul(a, b float64) float64 { return a * b }
func (Real) Div(a, b float64) float64 { return a / b }
func (Real) Neg(a float64) float64 { return -a }
func (Real) Pow(a, b float64) float64 { return math.Pow(a, b) }
func (Real) PowReal(a float64, p float64) float64 { return math.Pow(a, p) }

func (Real) Unary(op expr.UnaryOp, v float64) float64 {
	switch op {
	case expr.UnaryNeg:
		return -v
	case expr.UnaryAbs:
		return math.Abs(v)
	case expr.UnarySqrt:
		return math.Sqrt(v)
	case expr.UnaryExp:
		return math.Exp(v)
	case expr.UnaryLog:
		return math.Log(v)
	case expr.UnarySin:
		return math.Sin(v)
	case expr.UnaryCos:
		return math.Cos(v)
	case expr.UnaryTan:
		return math.Tan(v)
	case expr.UnaryTanh:
		return math.Tanh(v)
	case expr.UnaryAsin:
		return math.Asin(v)
	case expr.UnaryAcos:
		return math.Acos(v)
	case expr.UnaryAtan:
		return math.Atan(v)
	default:
		panic("ring: unknown unary operator")
	}
}

func (Real) UnaryDeriv(op expr.UnaryOp, v float64) float64 {
	switch op {
	case expr.UnaryNeg:
		return -1
	case expr.UnaryAbs:
		if v < 0 {
			return -1
		}
		return 1
	case expr.UnarySqrt:
		return 0.5 / math.Sqrt(v)
	case expr.UnaryExp:
		return math.Exp(v)
	case expr.UnaryLog:
		return 1 / v
	case expr.UnarySin:
		return math.Cos(v)
	case expr.UnaryCos:
		return -math.Sin(v)
	case expr.UnaryTan:
		t := math.Tan(v)
		return 1 + t*t
	case expr.UnaryTanh:
		t := math.Tanh(v)
		return 1 - t*t
	case expr.UnaryAsin:
		return 1 / math.Sqrt(1-v*v)
	case expr.UnaryAcos:
		return -1 / math.Sqrt(1-v*v)
	case expr.UnaryAtan:
		return 1 / (1 + v*v)
	default:
		panic("ring: unknown unary operator")
	}
}

// Dual is the first-order dual-number ring over gonum's dual.Number. The
// epsilon component carries one directional derivative, which is what turns a
// reverse sweep into a Hessian-vector product.
type Dual struct{}

func (Dual) FromReal(v float64) dual.Number { return dual.Number{Real: v} }
func (Dual) Real(v dual.Number) float64 { return v.Real }
func (Dual) Emag(v dual.Number) float64 { return v.Emag }

func (Dual) Add(a, b dual.Number) dual.Number { return dual.Add(a, b) }
func (Dual) Sub(a, b dual.Number) dual.Number { return dual.Sub(a, b) }
func (Dual) Mul(a, b dual.Number) dual.Number { return dual.Mul(a, b) }
func (Dual) Div(a, b dual.Number) dual.Number { return dual.Mul(a, dual.Inv(b)) }
func (Dual) Neg(a dual.Number) dual.Number { return dual.Scale(-1, a) }
func (Dual) Pow(a, b dual.Number) dual.Number { return dual.Pow(a, b) }

func (Dual) PowReal(a dual.Number, p float64) dual.Number { return dual.PowReal(a, p) }

func (Dual) Unary(op expr.UnaryOp, v dual.Number) dual.Number {
	switch op {
	case expr.UnaryNeg:
		return dual.Scale(-1, v)
	case expr.UnaryAbs:
		if v.Real < 0 {
			return dual.Scale(-1, v)
		}
		return v
	case expr.UnarySqrt:
		return dual.Sqrt(v)
	case expr.UnaryExp:
		return dual.Exp(v)
	case expr.UnaryLog:
		return dual.Log(v)
	case expr.UnarySin:
		return dual.Sin(v)
	case expr.UnaryCos:
		return dual.Cos(v)
	case expr.UnaryTan:
		return dual.Tan(v)
	case expr.UnaryTanh:
		return dual.Tanh(v)
	case expr.UnaryAsin:
		return dual.Asin(v)
	case expr.UnaryAcos:
		return dual.Acos(v)
	case expr.UnaryAtan:
		return dual.Atan(v)
	default:
		panic("ring: unknown unary operator")
	}
}

func (d Dual) UnaryDeriv(op expr.UnaryOp, v dual.Number) dual.Number {
	one := dual.Number{Real: 1}
	switch op {
	case expr.UnaryNeg:
		return dual.Number{Real: -1}
	case expr.UnaryAbs:
		if v.Real < 0 {
			return dual.Number{Real: -1}
		}
		return one
	case expr.UnarySqrt:
		return dual.Scale(0.5, dual.Inv(dual.Sqrt(v)))
	case expr.UnaryExp:
		return dual.Exp(v)
	case expr.UnaryLog:
		return dual.Inv(v)
	case expr.UnarySin:
		return dual.Cos(v)
	case expr.UnaryCos:
		return dual.Scale(-1, dual.Sin(v))
	case expr.UnaryTan:
		t := dual.Tan(v)
		return dual.Add(one, dual.Mul(t, t))
	case expr.UnaryTanh:
		t := dual.Tanh(v)
		return dual.Sub(one, dual.Mul(t, t))
	case expr.UnaryAsin:
		return dual.Inv(dual.Sqrt(dual.Sub(one, dual.Mul(v, v))))
	case expr.UnaryAcos:
		return dual.Scale(-1, dual.Inv(dual.Sqrt(dual.Sub(one, dual.Mul(v, v)))))
	case expr.UnaryAtan:
		return dual.Inv(dual.Add(one, dual.Mul(v, v)))
	default:
		panic("ring: unknown unary operator")
	}
}
