package index

// AxisIndex is one of the five index forms an axis position may carry
// through the IR, per §4.B.
type AxisIndex interface {
	isAxisIndex()
}

// FixedIdx pins an axis to a concrete, statically known position.
type FixedIdx struct{ I int }

func (FixedIdx) isAxisIndex() {}

// Iterator binds an axis to a loop iterator symbol.
type Iterator struct{ Sym Symbol }

func (Iterator) isAxisIndex() {}

// DynamicRecipient marks an axis whose concrete value is supplied at
// runtime by a Dynamic-indices block (the reading side).
type DynamicRecipient struct{ Sym Symbol }

func (DynamicRecipient) isAxisIndex() {}

// FrozenRecipient marks an axis pinned to a dedicated "frozen slice"
// symbol, not substitutable during inlining.
type FrozenRecipient struct{ Sym Symbol }

func (FrozenRecipient) isAxisIndex() {}

// DynamicProvider marks the axis of the tensor that *supplies* runtime
// indices to a Dynamic-indices block (the writing side); TargetDims names
// the dims of the tensor being dynamically indexed.
type DynamicProvider struct {
	Idcs       []AxisIndex
	TargetDims []int
}

func (DynamicProvider) isAxisIndex() {}
