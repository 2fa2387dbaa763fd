package precision

import (
	"os"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/session"
)

// InitOp is a variant over the ways a buffer's contents may be produced,
// per §4.A.
type InitOp interface {
	isInitOp()
}

// ConstantFill writes Values into the buffer. When Strict, len(Values)
// must equal the product of the buffer's dims or Apply fails with a
// descriptive error; otherwise Values is cycled modulo its length.
type ConstantFill struct {
	Values []float64
	Strict bool
}

func (ConstantFill) isInitOp() {}

// RangeOverOffsets writes the linear row-major offset of each cell.
type RangeOverOffsets struct{}

func (RangeOverOffsets) isInitOp() {}

// StandardUniform draws IID U[0,1) using the session's RNG, which is
// seeded deterministically when fixed_state_for_init is set.
type StandardUniform struct {
	Session *session.Session
}

func (StandardUniform) isInitOp() {}

// FileMapped memory-maps Path read-only; the file's on-disk precision
// must equal the buffer's own and its byte length must match the declared
// dims, checked before any mapping per §6's Init-op file format.
type FileMapped struct {
	Path      string
	Precision Precision
}

func (FileMapped) isInitOp() {}

// apply executes an InitOp against b, filling b's dense storage in row-major order.
func (b *Buffer) apply(op InitOp) error {
	switch o := op.(type) {
	case ConstantFill:
		return b.applyConstantFill(o)
	case RangeOverOffsets:
		return b.applyRangeOverOffsets()
	case StandardUniform:
		return b.applyStandardUniform(o)
	case FileMapped:
		return b.applyFileMapped(o)
	default:
		return arborerr.Invariant("precision: unknown init-op %T", op)
	}
}

func (b *Buffer) applyConstantFill(o ConstantFill) error {
	n := b.Size()
	if len(o.Values) == 0 {
		if n == 0 {
			return nil
		}
		return arborerr.User("precision: Constant-fill with no values for a non-void buffer of size %d", n)
	}
	if o.Strict && len(o.Values) != n {
		return arborerr.User(
			"precision: Constant-fill{strict=true} expects %d values (product of dims %v) but got %d",
			n, b.dims, len(o.Values))
	}
	for i := 0; i < n; i++ {
		v := o.Values[i%len(o.Values)]
		if err := b.setFromFloatLinear(i, v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) applyRangeOverOffsets() error {
	n := b.Size()
	for i := 0; i < n; i++ {
		if err := b.setFromFloatLinear(i, float64(i)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) applyStandardUniform(o StandardUniform) error {
	sess := o.Session
	if sess == nil {
		sess = session.Default()
	}
	rng := sess.UniformRNG()
	n := b.Size()
	for i := 0; i < n; i++ {
		if err := b.setFromFloatLinear(i, rng.Float64()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) applyFileMapped(o FileMapped) error {
	if o.Precision != b.precision {
		return arborerr.User(
			"precision: File-mapped declares precision %s but buffer is %s", o.Precision, b.precision)
	}
	info, err := os.Stat(o.Path)
	if err != nil {
		return arborerr.Userf(err, "precision: stat %q", o.Path)
	}
	wantBytes := int64(b.Size()) * int64(b.precision.WidthBytes())
	if info.Size() != wantBytes {
		return arborerr.User(
			"precision: File-mapped %q has %d bytes, buffer of dims %v at %s precision expects %d",
			o.Path, info.Size(), b.dims, b.precision, wantBytes)
	}
	f, err := os.Open(o.Path)
	if err != nil {
		return arborerr.Userf(err, "precision: open %q", o.Path)
	}
	defer f.Close()
	raw, err := mmapReadOnly(f, int(info.Size()))
	if err != nil {
		return arborerr.Userf(err, "precision: mmap %q", o.Path)
	}
	return b.loadLittleEndianBytes(raw)
}
