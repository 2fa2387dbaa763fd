package shape

import "github.com/arbor-ml/arbor/arborerr"

// Finish closes any remaining broadcast row-variables to Broadcastable
// with no extra dims, and broadcast dim-variables to Dim(1), per §4.C's
// "Completion" pass. It must run after all unification updates for a
// shape graph have been attempted; ToDims on a shape that still has
// unresolved non-broadcast variables after Finish raises a precise error.
func (e *Engine) Finish(shapes []*Shape) *arborerr.Error {
	for _, s := range shapes {
		for _, k := range Kinds {
			row := s.Rows[k]
			if rv, ok := row.Term.(RowVar); ok && e.broadcastRowVars[rv.V] {
				row.Term = Broadcastable{}
			}
			for i, d := range row.Dims {
				if dv, ok := d.(DimVar); ok && e.broadcastDimVars[dv.ID] {
					row.Dims[i] = DimConcrete{D: 1, Label: dv.Label}
				}
			}
		}
	}
	return nil
}
