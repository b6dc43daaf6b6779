// Package coloring defines the contract between the evaluator and a Hessian
// graph-coloring oracle, plus a direct (uncompressed) oracle usable out of the
// box. The oracle turns a tape's Hessian edge list into a seed matrix and a
// recovery plan: variables sharing a color never co-occur as an edge, so
// seeding all same-colored variables with simultaneous unit directional
// derivatives yields an un-mixed second directional derivative per column.
package coloring

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Info is the opaque recovery plan produced by an oracle's Preprocess and
// consumed by its SeedMatrix and Recover. It exposes only the local-to-global
// variable map the evaluator needs to seed dual forward inputs.
type Info interface {
	// LocalVariables maps local (plan-relative) variable positions to
	// global variable indices, sorted ascending.
	LocalVariables() []int
}

// Oracle compresses a symmetric sparsity pattern for recovery from
// Hessian-vector products.
type Oracle interface {
	// Preprocess analyzes an edge list (pairs with row >= col, diagonal
	// allowed) over numVars variables and returns the Hessian coordinate
	// list the recovery will produce, in a fixed deterministic order,
	// together with the plan.
	Preprocess(edges [][2]int, numVars int) (rows, cols []int, info Info, err error)

	// SeedMatrix returns the dense seed matrix of shape
	// (#local variables) x (#colors).
	SeedMatrix(info Info) *mat.Dense

	// Recover expands the compressed columns — one Hessian-vector product
	// per color, rows aligned with LocalVariables — into values aligned
	// with the coordinate list returned by Preprocess.
	Recover(compressed *mat.Dense, info Info) ([]float64, error)
}

// Direct is the identity-seeding oracle: every locally relevant variable gets
// its own color. It performs no compression, satisfies the contract for any
// pattern, and keeps the coloring algorithm itself out of this module.
type Direct struct{}

type directInfo struct {
	local      []int
	localIndex map[int]int
	rows, cols []int
}

func (d *directInfo) LocalVariables() []int { return d.local }

// Preprocess implements Oracle.
func (Direct) Preprocess(edges [][2]int, numVars int) ([]int, []int, Info, error) {
	info := &directInfo{localIndex: make(map[int]int)}
	seen := make(map[[2]int]bool)
	for _, e := range edges {
		r, c := e[0], e[1]
		if r < c {
			r, c = c, r
		}
		if r >= numVars || c < 0 {
			return nil, nil, nil, fmt.Errorf("coloring: edge (%d,%d) outside %d variables", e[0], e[1], numVars)
		}
		for _, v := range []int{r, c} {
			if _, ok := info.localIndex[v]; !ok {
				info.localIndex[v] = 0 // position assigned after sort
				info.local = append(info.local, v)
			}
		}
		if !seen[[2]int{r, c}] {
			seen[[2]int{r, c}] = true
			info.rows = append(info.rows, r)
			info.cols = append(info.cols, c)
		}
	}
	sort.Ints(info.local)
	for i, v := range info.local {
		info.localIndex[v] = i
	}
	sort.Sort(&coordSort{info.rows, info.cols})
	return info.rows, info.cols, info, nil
}

// SeedMatrix implements Oracle: the identity over local variables.
func (Direct) SeedMatrix(in Info) *mat.Dense {
	d := in.(*directInfo)
	n := len(d.local)
	if n == 0 {
		return nil
	}
	seed := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		seed.Set(i, i, 1)
	}
	return seed
}

// Recover implements Oracle: column j of the compressed matrix is the exact
// Hessian column of local variable j, so every coordinate is read directly.
func (Direct) Recover(compressed *mat.Dense, in Info) ([]float64, error) {
	d := in.(*directInfo)
	r, c := compressed.Dims()
	if r != len(d.local) || c != len(d.local) {
		return nil, fmt.Errorf("coloring: compressed matrix is %dx%d, want %dx%d", r, c, len(d.local), len(d.local))
	}
	out := make([]float64, len(d.rows))
	for k := range d.rows {
		out[k] = compressed.At(d.localIndex[d.rows[k]], d.localIndex[d.cols[k]])
	}
	return out, nil
}

type coordSort struct {
	rows, cols []int
}

func (s *coordSort) Len() int { return len(s.rows) }
func (s *coordSort) Less(i, j int) bool {
	if s.rows[i] != s.rows[j] {
		return s.rows[i] < s.rows[j]
	}
	return s.cols[i] < s.cols[j]
}
func (s *coordSort) Swap(i, j int) {
	s.rows[i], s.rows[j] = s.rows[j], s.rows[i]
	s.cols[i], s.cols[j] = s.cols[j], s.cols[i]
}
