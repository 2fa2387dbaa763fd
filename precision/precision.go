// Package precision implements component A: typed dense n-dimensional
// buffers at four precisions (byte, half, single, double), their init-ops,
// and element access. It wraps gorgonia.org/tensor's Dense storage rather
// than hand-rolling row-major arrays, following the teacher's own choice
// of tensor.Dense as the buffer primitive (csotherden-gorgonia-mps/mps
// wraps tensor.Engine the same way this package wraps tensor.Dense).
package precision

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Precision is a variant over the four element widths arbor buffers may be
// tagged with.
type Precision int

const (
	Byte Precision = iota
	Half
	Single
	Double
)

// String names a precision for error messages and debug dumps.
func (p Precision) String() string {
	switch p {
	case Byte:
		return "byte"
	case Half:
		return "half"
	case Single:
		return "single"
	case Double:
		return "double"
	default:
		return fmt.Sprintf("precision(%d)", int(p))
	}
}

// WidthBytes is the element width in bytes associated with a precision.
func (p Precision) WidthBytes() int {
	switch p {
	case Byte:
		return 1
	case Half:
		return 2
	case Single:
		return 4
	case Double:
		return 8
	default:
		return 0
	}
}

// dtype maps a precision to the gorgonia.org/tensor.Dtype backing its
// Dense storage. Half precision is stored as raw uint16 bit patterns
// (binary16) since tensor has no native half-float dtype; conversion to
// and from float32/float64 happens at the Buffer boundary (float16.go).
func (p Precision) dtype() tensor.Dtype {
	switch p {
	case Byte:
		return tensor.Uint8
	case Half:
		return tensor.Uint16
	case Single:
		return tensor.Float32
	case Double:
		return tensor.Float64
	default:
		return tensor.Float64
	}
}
