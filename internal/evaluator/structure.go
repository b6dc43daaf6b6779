package evaluator

// buildStructure computes the deterministic coordinate lists once at
// initialization. Jacobian order: the linear block column-major over the
// stored coefficient matrix, the quadratic block in row-then-term order, then
// one block per nonlinear constraint tape in the tape's own sparsity order.
// Hessian order: the quadratic block (objective then constraints, terms
// lower-triangular as stored), then one block per nonlinear tape in protocol
// order (objective first).
func (e *Evaluator) buildStructure() {
	if a := e.model.Linear; a != nil {
		for j := 0; j < a.NumCols; j++ {
			for k := a.ColStart[j]; k < a.ColStart[j+1]; k++ {
				e.jacRows = append(e.jacRows, a.RowIndex[k])
				e.jacCols = append(e.jacCols, j)
			}
		}
	}
	for i := range e.model.Constraints {
		for _, q := range e.model.Constraints[i].Quadratic {
			e.jacRows = append(e.jacRows, i)
			e.jacCols = append(e.jacCols, q.I)
			if q.I != q.J {
				e.jacRows = append(e.jacRows, i)
				e.jacCols = append(e.jacCols, q.J)
			}
		}
	}
	for i, t := range e.constraints {
		if t == nil {
			continue
		}
		for _, v := range t.GradSparsity {
			e.jacRows = append(e.jacRows, i)
			e.jacCols = append(e.jacCols, v)
		}
	}

	for _, q := range e.model.Objective.Quadratic {
		e.hessRows = append(e.hessRows, q.I)
		e.hessCols = append(e.hessCols, q.J)
	}
	for i := range e.model.Constraints {
		for _, q := range e.model.Constraints[i].Quadratic {
			e.hessRows = append(e.hessRows, q.I)
			e.hessCols = append(e.hessCols, q.J)
		}
	}
	for _, t := range e.allTapes() {
		e.hessRows = append(e.hessRows, t.HessRows...)
		e.hessCols = append(e.hessCols, t.HessCols...)
	}
}

// JacobianStructure returns the Jacobian coordinate list. The returned slices
// are owned by the evaluator and must not be mutated.
func (e *Evaluator) JacobianStructure() (rows, cols []int) {
	return e.jacRows, e.jacCols
}

// HessianStructure returns the lower-triangular Hessian coordinate list.
// Meaningful only when the Hessian capability was requested; duplicate
// coordinates across blocks are summed by the consumer. The returned slices
// are owned by the evaluator and must not be mutated.
func (e *Evaluator) HessianStructure() (rows, cols []int) {
	return e.hessRows, e.hessCols
}
