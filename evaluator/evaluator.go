// Copyright 2026 Saddle Optimization. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package evaluator exposes the NLP callback evaluator: values, gradients,
// Jacobians, and coloring-accelerated sparse Hessians of nonlinear models.
//
// Example:
//
//	m := &evaluator.Model{NumVariables: 2}
//	m.Objective.Expr = &compiled // from expr.Compile
//	ev := evaluator.New(m, evaluator.Config{})
//	if err := ev.Initialize(evaluator.Value | evaluator.Gradient); err != nil {
//	    // handle
//	}
//	f, _ := ev.EvalObjective([]float64{1, 0.5})
package evaluator

import (
	"github.com/saddle-opt/saddle/internal/evaluator"
)

// Evaluator implements the solver callback protocol for one model instance.
type Evaluator = evaluator.Evaluator

// Config carries construction-time policy.
type Config = evaluator.Config

// Model is the front-end description the evaluator consumes.
type Model = evaluator.Model

// Objective describes the objective function.
type Objective = evaluator.Objective

// Constraint describes one constraint row.
type Constraint = evaluator.Constraint

// LinearTerm is one affine objective coefficient.
type LinearTerm = evaluator.LinearTerm

// QuadTerm is one closed-form quadratic term (lower-triangular).
type QuadTerm = evaluator.QuadTerm

// LinearMatrix stores linear constraint coefficients in CSC form.
type LinearMatrix = evaluator.LinearMatrix

// Parameters is the external parameter vector.
type Parameters = evaluator.Parameters

// Capability flags requestable evaluator features.
type Capability = evaluator.Capability

// Capabilities.
const (
	Value                   = evaluator.Value
	Gradient                = evaluator.Gradient
	Jacobian                = evaluator.Jacobian
	Hessian                 = evaluator.Hessian
	HessianVectorProduct    = evaluator.HessianVectorProduct
	ExpressionIntrospection = evaluator.ExpressionIntrospection
	Supported               = evaluator.Supported
)

// Error kinds of the callback protocol.
var (
	ErrUnsupportedFeature     = evaluator.ErrUnsupportedFeature
	ErrCapabilityNotRequested = evaluator.ErrCapabilityNotRequested
	ErrCapabilityMismatch     = evaluator.ErrCapabilityMismatch
	ErrStaleParameters        = evaluator.ErrStaleParameters
	ErrNotInitialized         = evaluator.ErrNotInitialized
)

// New creates an evaluator over a model.
func New(m *Model, cfg Config) *Evaluator { return evaluator.New(m, cfg) }

// NewParameters returns a zero-valued parameter vector of length n.
func NewParameters(n int) *Parameters { return evaluator.NewParameters(n) }
