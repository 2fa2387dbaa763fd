package ops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinOpApply(t *testing.T) {
	require.Equal(t, 7.0, Add.Apply(3, 4))
	require.Equal(t, 12.0, Mul.Apply(3, 4))
	require.Equal(t, 3.0, Arg1.Apply(3, 4))
	require.Equal(t, 4.0, Arg2.Apply(3, 4))
	require.InDelta(t, 9.0, ToPowOf.Apply(3, 2), 1e-4)
}

func TestReluGate(t *testing.T) {
	require.Equal(t, 5.0, ReluGate.Apply(1, 5))
	require.Equal(t, 0.0, ReluGate.Apply(-1, 5))
}

func TestIsIdentityOver(t *testing.T) {
	require.True(t, Add.IsIdentityOver(0))
	require.False(t, Add.IsIdentityOver(1))
	require.True(t, Mul.IsIdentityOver(1))
	require.False(t, Mul.IsIdentityOver(0))
}

func TestUnOpApply(t *testing.T) {
	require.Equal(t, 5.0, Identity.Apply(5))
	require.Equal(t, 5.0, Relu.Apply(5))
	require.Equal(t, 0.0, Relu.Apply(-5))
}
