package precision

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arbor-ml/arbor/arborerr"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// Buffer is a dense row-major multi-dimensional array tagged with its
// precision. A size-zero buffer ("void") is legal per §3.
type Buffer struct {
	precision Precision
	dims      []int
	dense     *tensor.Dense
}

// Create builds a new buffer of the given precision and dims, applying
// initOp to populate it.
func Create(p Precision, dims []int, initOp InitOp) (*Buffer, error) {
	b := &Buffer{precision: p, dims: append([]int{}, dims...)}
	n := product(dims)
	if n == 0 {
		b.dense = tensor.New(tensor.Of(p.dtype()), tensor.WithShape(0))
	} else {
		b.dense = tensor.New(tensor.Of(p.dtype()), tensor.WithShape(dims...))
	}
	if initOp != nil {
		if err := b.apply(initOp); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if len(dims) == 0 {
		return 0
	}
	return n
}

// Precision reports the buffer's tagged precision.
func (b *Buffer) Precision() Precision { return b.precision }

// Dense exposes the buffer's backing gorgonia.org/tensor storage directly,
// for backends (the cpu-jit Staged-compilation fallback) that delegate an
// op to a tensor.Engine instead of walking cells one at a time.
func (b *Buffer) Dense() *tensor.Dense { return b.dense }

// Dims reports the buffer's declared dims.
func (b *Buffer) Dims() []int { return append([]int{}, b.dims...) }

// Size is the product of dims (0 for a void buffer).
func (b *Buffer) Size() int { return product(b.dims) }

// SizeInBytes is Size() * the precision's element width.
func (b *Buffer) SizeInBytes() int64 {
	return int64(b.Size()) * int64(b.precision.WidthBytes())
}

// Reset re-applies an init-op over the existing storage.
func (b *Buffer) Reset(initOp InitOp) error { return b.apply(initOp) }

// linearOffset computes the row-major linear offset of idcs.
func (b *Buffer) linearOffset(idcs []int) (int, error) {
	if len(idcs) != len(b.dims) {
		return 0, arborerr.Invariant(
			"precision: index arity %d does not match buffer rank %d", len(idcs), len(b.dims))
	}
	off := 0
	for axis, idx := range idcs {
		if idx < 0 || idx >= b.dims[axis] {
			return 0, arborerr.Runtime("buffer", idcs, b.header())
		}
		off = off*b.dims[axis] + idx
	}
	return off, nil
}

// GetAsFloat reads the cell at idcs, converting from the buffer's native
// precision to float64.
func (b *Buffer) GetAsFloat(idcs []int) (float64, error) {
	off, err := b.linearOffset(idcs)
	if err != nil {
		return 0, err
	}
	return b.getFloatLinear(off)
}

// SetFromFloat writes v into the cell at idcs, converting (and, for Byte
// precision, rounding) from float64 to the buffer's native precision.
func (b *Buffer) SetFromFloat(idcs []int, v float64) error {
	off, err := b.linearOffset(idcs)
	if err != nil {
		return err
	}
	return b.setFromFloatLinear(off, v)
}

// FillFromFloat sets every cell to v.
func (b *Buffer) FillFromFloat(v float64) error {
	for i := 0; i < b.Size(); i++ {
		if err := b.setFromFloatLinear(i, v); err != nil {
			return err
		}
	}
	return nil
}

// Fold reduces every cell through f, starting from init, in row-major
// order.
func (b *Buffer) Fold(init float64, f func(acc, x float64) float64) (float64, error) {
	acc := init
	for i := 0; i < b.Size(); i++ {
		v, err := b.getFloatLinear(i)
		if err != nil {
			return 0, err
		}
		acc = f(acc, v)
	}
	return acc, nil
}

// Sum is the common case of Fold(0, +), delegating to gonum/floats.Sum
// instead of a manual accumulation loop.
func (b *Buffer) Sum() (float64, error) {
	n := b.Size()
	xs := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := b.getFloatLinear(i)
		if err != nil {
			return 0, err
		}
		xs[i] = v
	}
	return floats.Sum(xs), nil
}

// Retrieve1D extracts a 1-d slice along axis with the other axes pinned at
// fixed, for plotting.
func (b *Buffer) Retrieve1D(axis int, fixed []int) ([]float64, error) {
	n := b.dims[axis]
	out := make([]float64, n)
	idcs := append([]int{}, fixed...)
	for i := 0; i < n; i++ {
		idcs[axis] = i
		v, err := b.GetAsFloat(idcs)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Retrieve2D extracts a 2-d slice along (rowAxis, colAxis) with the other
// axes pinned at fixed, for plotting.
func (b *Buffer) Retrieve2D(rowAxis, colAxis int, fixed []int) ([][]float64, error) {
	rows, cols := b.dims[rowAxis], b.dims[colAxis]
	out := make([][]float64, rows)
	idcs := append([]int{}, fixed...)
	for r := 0; r < rows; r++ {
		row := make([]float64, cols)
		idcs[rowAxis] = r
		for c := 0; c < cols; c++ {
			idcs[colAxis] = c
			v, err := b.GetAsFloat(idcs)
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		out[r] = row
	}
	return out, nil
}

func (b *Buffer) getFloatLinear(off int) (float64, error) {
	v, err := b.dense.At(unravel(off, b.dims)...)
	if err != nil {
		return 0, arborerr.Invariant("precision: dense.At(%d): %v", off, err)
	}
	switch b.precision {
	case Byte:
		return float64(v.(uint8)), nil
	case Half:
		return float64(half16ToFloat32(v.(uint16))), nil
	case Single:
		return float64(v.(float32)), nil
	case Double:
		return v.(float64), nil
	default:
		return 0, arborerr.Invariant("precision: unknown precision %v", b.precision)
	}
}

func (b *Buffer) setFromFloatLinear(off int, v float64) error {
	coords := unravel(off, b.dims)
	switch b.precision {
	case Byte:
		r := math.Round(v)
		if r < 0 || r > 255 {
			return arborerr.User("precision: byte overflow writing %v (rounded %v) out of [0,255]", v, r)
		}
		return b.dense.SetAt(uint8(r), coords...)
	case Half:
		return b.dense.SetAt(float32ToHalf16(float32(v)), coords...)
	case Single:
		return b.dense.SetAt(float32(v), coords...)
	case Double:
		return b.dense.SetAt(v, coords...)
	default:
		return arborerr.Invariant("precision: unknown precision %v", b.precision)
	}
}

func unravel(off int, dims []int) []int {
	coords := make([]int, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		coords[i] = off % dims[i]
		off /= dims[i]
	}
	return coords
}

// loadLittleEndianBytes decodes a raw little-endian dump (the §6
// File-mapped format) into the buffer's storage in row-major order.
func (b *Buffer) loadLittleEndianBytes(raw []byte) error {
	n := b.Size()
	w := b.precision.WidthBytes()
	for i := 0; i < n; i++ {
		chunk := raw[i*w : (i+1)*w]
		var v float64
		switch b.precision {
		case Byte:
			v = float64(chunk[0])
		case Half:
			v = float64(half16ToFloat32(binary.LittleEndian.Uint16(chunk)))
		case Single:
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case Double:
			v = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		}
		if err := b.setFromFloatLinear(i, v); err != nil {
			return err
		}
	}
	return nil
}

// header renders a short pretty-printed tensor header for runtime error
// messages (§7's out-of-bounds contract), deliberately terse — full
// tensor pretty-printing is out of scope.
func (b *Buffer) header() string {
	return fmt.Sprintf("<buffer precision=%s dims=%v>", b.precision, b.dims)
}
