package precision

import (
	"testing"

	"github.com/apache/arrow/go/arrow/array"
	"github.com/stretchr/testify/require"
)

func TestExportArrowDoubleRoundTrips(t *testing.T) {
	b, err := Create(Double, []int{3}, ConstantFill{Values: []float64{1, 2, 3}, Strict: true})
	require.NoError(t, err)

	arr, err := b.ExportArrow()
	require.NoError(t, err)
	defer arr.Release()

	fa, ok := arr.(*array.Float64)
	require.True(t, ok)
	require.Equal(t, []float64{1, 2, 3}, fa.Float64Values())
}

func TestExportArrowSingleWidensByte(t *testing.T) {
	b, err := Create(Byte, []int{2}, ConstantFill{Values: []float64{7, 250}, Strict: true})
	require.NoError(t, err)

	arr, err := b.ExportArrow()
	require.NoError(t, err)
	defer arr.Release()

	fa, ok := arr.(*array.Float32)
	require.True(t, ok)
	require.Equal(t, []float32{7, 250}, fa.Float32Values())
}

func TestImportArrowFillsBuffer(t *testing.T) {
	b, err := Create(Double, []int{2}, nil)
	require.NoError(t, err)

	src, err := Create(Double, []int{2}, ConstantFill{Values: []float64{4, 5}, Strict: true})
	require.NoError(t, err)
	arr, err := src.ExportArrow()
	require.NoError(t, err)
	defer arr.Release()

	require.NoError(t, b.ImportArrow(arr))
	v0, err := b.GetAsFloat([]int{0})
	require.NoError(t, err)
	require.Equal(t, 4.0, v0)
	v1, err := b.GetAsFloat([]int{1})
	require.NoError(t, err)
	require.Equal(t, 5.0, v1)
}

func TestImportArrowLengthMismatch(t *testing.T) {
	b, err := Create(Double, []int{3}, nil)
	require.NoError(t, err)

	src, err := Create(Double, []int{2}, ConstantFill{Values: []float64{1, 2}, Strict: true})
	require.NoError(t, err)
	arr, err := src.ExportArrow()
	require.NoError(t, err)
	defer arr.Release()

	require.Error(t, b.ImportArrow(arr))
}
