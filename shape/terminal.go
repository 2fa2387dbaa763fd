package shape

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/index"
)

// InferTerminal implements §4.C's "Terminal-driven inference": when an
// init-op's flattened length is known and the non-batch (input ++ output)
// dims are already concrete, assert a Total-elems(batch_elems) constraint
// on the batch row, where batch_elems = len / product(io dims).
func (e *Engine) InferTerminal(s *Shape) *arborerr.Error {
	term, ok := s.Logic.(Terminal)
	if !ok {
		return arborerr.Invariant("InferTerminal called on a shape whose logic is not Terminal")
	}
	n, known := term.Op.KnownLen()
	if !known {
		return nil
	}

	ioElems := 1
	allConcrete := true
	for _, k := range [2]AxisKind{Input, Output} {
		for _, d := range s.Rows[k].Dims {
			dc, ok := d.(DimConcrete)
			if !ok {
				allConcrete = false
				break
			}
			ioElems *= dc.D
		}
	}
	if !allConcrete || ioElems == 0 {
		return nil
	}
	if n%ioElems != 0 {
		return withShapeTrace(
			arborerr.Shape("Terminal: init-op length %d does not divide evenly by input*output elems %d", n, ioElems),
			s)
	}
	batchElems := n / ioElems
	row := s.Rows[Batch]
	row.Constraint = TotalElems{N: batchElems}
	return e.solveTotalElems(s, Batch)
}

// solveTotalElems is rule 5: when a row has a concrete Total-elems
// terminator/constraint and all but at most one dim is concrete, solve
// for the remaining variable; if every dim is concrete, check the product
// matches.
func (e *Engine) solveTotalElems(s *Shape, k AxisKind) *arborerr.Error {
	row := s.Rows[k]
	te, ok := row.Constraint.(TotalElems)
	if !ok {
		return nil
	}

	var unresolved *DimVar
	var unresolvedIdx int
	product := 1
	for i, d := range row.Dims {
		switch dv := d.(type) {
		case DimConcrete:
			product *= dv.D
		case DimVar:
			if unresolved != nil {
				// More than one free variable: nothing to solve yet.
				return nil
			}
			cp := dv
			unresolved = &cp
			unresolvedIdx = i
		}
	}

	if unresolved == nil {
		if product != te.N {
			return withShapeTrace(
				arborerr.Shape("Total-elems(%d) mismatch: %s row product is %d", te.N, k, product), s)
		}
		return nil
	}

	if product == 0 || te.N%product != 0 {
		return withShapeTrace(
			arborerr.Shape("Total-elems(%d) does not divide evenly by known %s row product %d", te.N, k, product), s)
	}
	solved := DimConcrete{D: te.N / product, Proj: index.ProjID(e.alloc.NextShapeID())}
	row.Dims[unresolvedIdx] = solved
	return nil
}
