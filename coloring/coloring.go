// Copyright 2026 Saddle Optimization. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package coloring exposes the Hessian graph-coloring oracle contract. The
// evaluator consumes any Oracle; the bundled Direct oracle performs no
// compression and works for every sparsity pattern.
package coloring

import (
	"github.com/saddle-opt/saddle/internal/coloring"
)

// Oracle compresses a symmetric sparsity pattern for recovery from
// Hessian-vector products.
type Oracle = coloring.Oracle

// Info is an oracle's opaque recovery plan.
type Info = coloring.Info

// Direct is the identity-seeding oracle: one color per relevant variable.
type Direct = coloring.Direct
