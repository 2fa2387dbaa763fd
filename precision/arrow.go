package precision

import (
	"github.com/apache/arrow/go/arrow/array"
	"github.com/apache/arrow/go/arrow/memory"

	"github.com/arbor-ml/arbor/arborerr"
)

// ExportArrow copies b's cells (row-major, the same order §6's
// File-mapped contract uses) into a new Arrow array, for callers that
// want to hand a host-staged buffer to an external Arrow-consuming tool
// (e.g. the scheduler's needed_on_host path, §4.H). Only Single and
// Double precisions have a matching Arrow numeric type; Byte/Half
// buffers are widened to Single rather than failing, since Arrow has no
// float16/uint8-as-sample type that round-trips this contract's byte
// buffers losslessly either way.
//
// The returned array.Interface is caller-owned: call Release() on it
// once done, per Arrow's refcounted-allocator convention.
func (b *Buffer) ExportArrow() (array.Interface, error) {
	pool := memory.NewGoAllocator()
	n := b.Size()
	switch b.precision {
	case Double:
		bld := array.NewFloat64Builder(pool)
		defer bld.Release()
		vals := make([]float64, n)
		for i := 0; i < n; i++ {
			v, err := b.getFloatLinear(i)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		bld.AppendValues(vals, nil)
		return bld.NewFloat64Array(), nil
	default:
		bld := array.NewFloat32Builder(pool)
		defer bld.Release()
		vals := make([]float32, n)
		for i := 0; i < n; i++ {
			v, err := b.getFloatLinear(i)
			if err != nil {
				return nil, err
			}
			vals[i] = float32(v)
		}
		bld.AppendValues(vals, nil)
		return bld.NewFloat32Array(), nil
	}
}

// ImportArrow fills b (which must already be sized to match arr's
// length) from a Float32Array or Float64Array in row-major order,
// converting (and, for Byte precision, rounding) the way SetFromFloat
// does for every other value source.
func (b *Buffer) ImportArrow(arr array.Interface) error {
	switch a := arr.(type) {
	case *array.Float64:
		if a.Len() != b.Size() {
			return arborerr.User("precision: ImportArrow length %d does not match buffer size %d", a.Len(), b.Size())
		}
		for i := 0; i < a.Len(); i++ {
			if err := b.setFromFloatLinear(i, a.Value(i)); err != nil {
				return err
			}
		}
		return nil
	case *array.Float32:
		if a.Len() != b.Size() {
			return arborerr.User("precision: ImportArrow length %d does not match buffer size %d", a.Len(), b.Size())
		}
		for i := 0; i < a.Len(); i++ {
			if err := b.setFromFloatLinear(i, float64(a.Value(i))); err != nil {
				return err
			}
		}
		return nil
	default:
		return arborerr.User("precision: ImportArrow: unsupported arrow array type %T", arr)
	}
}
