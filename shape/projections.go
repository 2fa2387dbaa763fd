package shape

import (
	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/index"
)

// Projections is the output of shape -> plan: it names one loop iterator
// per deduplicated product-space dim, and gives lhs/rhs index arrays that
// map each operand's concrete dims through its equivalence-class
// iterator, for the HL->LL lowering pass (component E) to build nested
// For-loops from.
type Projections struct {
	ProductSpace     []Dim
	ProductIterators []index.Symbol
	LHSDims          []Dim
	ProjectLHS       []index.AxisIndex
	RHSDims          [][]Dim
	ProjectRHS       [][]index.AxisIndex
	DebugInfo        string
}

// DeriveProjections implements §4.C's "Projection derivation": after all
// row/dim variables are resolved, walk lhs and every rhs operand's rows,
// assigning one iterator per distinct projection class among dims of
// size>1 and Fixed-idx to every size-1 dim; no other dim is fixed.
func DeriveProjections(alloc index.Allocator, lhs *Shape, rhs []*Shape, debugInfo string) (*Projections, *arborerr.Error) {
	lhsDims, lerr := lhs.ToDims()
	if lerr != nil {
		return nil, arborerr.Shape("derive-projections: %v", lerr).WithFrame("lhs " + lhs.Name)
	}
	_ = lhsDims

	lhsConcrete, err := concreteDims(lhs)
	if err != nil {
		return nil, err.WithFrame("derive-projections / lhs " + lhs.Name)
	}

	rhsConcrete := make([][]DimConcrete, len(rhs))
	for i, r := range rhs {
		rc, rerr := concreteDims(r)
		if rerr != nil {
			return nil, rerr.WithFrame("derive-projections / rhs " + r.Name)
		}
		rhsConcrete[i] = rc
	}

	// Assign one iterator per union-find representative across lhs and
	// every rhs, in lhs-then-rhs, left-to-right order, skipping size-1 and
	// already Fixed-idx dims.
	iterFor := map[index.ProjID]index.Symbol{}
	var productSpace []Dim
	var productIterators []index.Symbol

	assign := func(dc DimConcrete) index.AxisIndex {
		if dc.D <= 1 {
			return index.FixedIdx{I: dc.D}
		}
		sym, ok := iterFor[dc.Proj]
		if !ok {
			sym = index.NewSymbol(alloc, "")
			iterFor[dc.Proj] = sym
			productSpace = append(productSpace, dc)
			productIterators = append(productIterators, sym)
		}
		return index.Iterator{Sym: sym}
	}

	projectLHS := make([]index.AxisIndex, len(lhsConcrete))
	for i, dc := range lhsConcrete {
		projectLHS[i] = assign(dc)
	}

	projectRHS := make([][]index.AxisIndex, len(rhsConcrete))
	for i, dims := range rhsConcrete {
		out := make([]index.AxisIndex, len(dims))
		for j, dc := range dims {
			out[j] = assign(dc)
		}
		projectRHS[i] = out
	}

	lhsDimIfaces := make([]Dim, len(lhsConcrete))
	for i, dc := range lhsConcrete {
		lhsDimIfaces[i] = dc
	}
	rhsDimIfaces := make([][]Dim, len(rhsConcrete))
	for i, dims := range rhsConcrete {
		out := make([]Dim, len(dims))
		for j, dc := range dims {
			out[j] = dc
		}
		rhsDimIfaces[i] = out
	}

	return &Projections{
		ProductSpace:     productSpace,
		ProductIterators: productIterators,
		LHSDims:          lhsDimIfaces,
		ProjectLHS:       projectLHS,
		RHSDims:          rhsDimIfaces,
		ProjectRHS:       projectRHS,
		DebugInfo:        debugInfo,
	}, nil
}

func concreteDims(s *Shape) ([]DimConcrete, *arborerr.Error) {
	var out []DimConcrete
	for _, k := range Kinds {
		for _, d := range s.Rows[k].Dims {
			dc, ok := d.(DimConcrete)
			if !ok {
				return nil, shapeErrorf(s, "concreteDims: shape %q has an unresolved dim in %s row", s.Name, k)
			}
			out = append(out, dc)
		}
	}
	return out, nil
}
