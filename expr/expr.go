// Copyright 2026 Saddle Optimization. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package expr provides symbolic expression trees and their compiled tape
// form.
//
// Expressions are built as trees and compiled into flat node tapes the
// evaluator differentiates:
//
//	import "github.com/saddle-opt/saddle/expr"
//
//	// f(x1, x2) = sin(x1*x2) + x1^2
//	f := expr.Call(expr.OpAdd,
//	    expr.Unary(expr.UnarySin, expr.Call(expr.OpMul, expr.Var(0), expr.Var(1))),
//	    expr.Call(expr.OpPow, expr.Var(0), expr.Const(2)))
//	compiled := expr.Compile(f)
package expr

import (
	"github.com/saddle-opt/saddle/internal/expr"
)

// Tree is a symbolic expression node.
type Tree = expr.Tree

// Expression is a compiled node tape plus its constant pool.
type Expression = expr.Expression

// Node is one tape entry.
type Node = expr.Node

// NodeKind discriminates tape node variants.
type NodeKind = expr.NodeKind

// Node kinds.
const (
	KindVariable      = expr.KindVariable
	KindConstant      = expr.KindConstant
	KindParameter     = expr.KindParameter
	KindSubexpression = expr.KindSubexpression
	KindCall          = expr.KindCall
	KindUnaryCall     = expr.KindUnaryCall
	KindComparison    = expr.KindComparison
	KindLogic         = expr.KindLogic
)

// Op identifies an n-ary call operator.
type Op = expr.Op

// Call operators.
const (
	OpAdd    = expr.OpAdd
	OpSub    = expr.OpSub
	OpMul    = expr.OpMul
	OpDiv    = expr.OpDiv
	OpPow    = expr.OpPow
	OpMin    = expr.OpMin
	OpMax    = expr.OpMax
	OpIfelse = expr.OpIfelse
)

// UnaryOp identifies a univariate operator.
type UnaryOp = expr.UnaryOp

// Unary operators.
const (
	UnaryNeg  = expr.UnaryNeg
	UnaryAbs  = expr.UnaryAbs
	UnarySqrt = expr.UnarySqrt
	UnaryExp  = expr.UnaryExp
	UnaryLog  = expr.UnaryLog
	UnarySin  = expr.UnarySin
	UnaryCos  = expr.UnaryCos
	UnaryTan  = expr.UnaryTan
	UnaryTanh = expr.UnaryTanh
	UnaryAsin = expr.UnaryAsin
	UnaryAcos = expr.UnaryAcos
	UnaryAtan = expr.UnaryAtan
)

// CmpOp identifies a comparison operator.
type CmpOp = expr.CmpOp

// Comparison operators.
const (
	CmpLT = expr.CmpLT
	CmpLE = expr.CmpLE
	CmpGT = expr.CmpGT
	CmpGE = expr.CmpGE
	CmpEQ = expr.CmpEQ
	CmpNE = expr.CmpNE
)

// LogicOp identifies a boolean connective.
type LogicOp = expr.LogicOp

// Logic operators.
const (
	LogicAnd = expr.LogicAnd
	LogicOr  = expr.LogicOr
)

// Var returns a decision-variable leaf.
func Var(i int) *Tree { return expr.Var(i) }

// Const returns a literal leaf.
func Const(v float64) *Tree { return expr.Const(v) }

// Param returns a parameter leaf.
func Param(i int) *Tree { return expr.Param(i) }

// Subexpr returns a shared subexpression reference.
func Subexpr(i int) *Tree { return expr.Subexpr(i) }

// Call returns an n-ary operator application.
func Call(op Op, args ...*Tree) *Tree { return expr.Call(op, args...) }

// Unary returns a univariate operator application.
func Unary(op UnaryOp, arg *Tree) *Tree { return expr.Unary(op, arg) }

// Compare returns a 0/1-valued comparison.
func Compare(op CmpOp, left, right *Tree) *Tree { return expr.Compare(op, left, right) }

// Logical returns a 0/1-valued boolean connective.
func Logical(op LogicOp, left, right *Tree) *Tree { return expr.Logical(op, left, right) }

// Compile flattens a tree into a tape rooted at position 0.
func Compile(t *Tree) Expression { return expr.Compile(t) }
