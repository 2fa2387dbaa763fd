package debugdump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arbor-ml/arbor/hlir"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
	"github.com/arbor-ml/arbor/precision"
	"github.com/arbor-ml/arbor/session"
	"github.com/stretchr/testify/require"
)

func TestRenderHLAccumBinop(t *testing.T) {
	sess := session.New()
	lhs := node.New(sess, precision.Single, nil, "lhs")
	rhs1 := node.New(sess, precision.Single, nil, "rhs1")
	rhs2 := node.New(sess, precision.Single, nil, "rhs2")

	code := hlir.AccumBinop{
		ZeroOut: true,
		Accum:   ops.Add,
		Op:      ops.Mul,
		LHS:     lhs,
		RHS1:    rhs1,
		RHS2:    rhs2,
	}
	text := RenderHL(code)
	require.Contains(t, text, "accum-binop")
	require.Contains(t, text, "lhs")
	require.Contains(t, text, "mul")
}

func TestRenderLLZeroOutAndSet(t *testing.T) {
	sess := session.New()
	x := node.New(sess, precision.Single, nil, "x")

	zero := llir.ZeroOut{Ptr: x}
	require.Contains(t, RenderLL(zero), "zero-out")

	set := llir.Set{Ptr: x, Expr: llir.Constant{C: 5}}
	require.Contains(t, RenderLL(set), "set")
	require.Contains(t, RenderLL(set), "5")
}

func TestWriteArtifactsSkippedWhenDebugFilesOff(t *testing.T) {
	sess := session.New()
	dir := t.TempDir()

	x := node.New(sess, precision.Single, nil, "x")
	hl := hlir.Fetch{Target: x, Op: hlir.ConstantFetch{C: 0}}
	ll := llir.ZeroOut{Ptr: x}

	err := WriteArtifacts(sess, dir, "prog", hl, ll, ll)
	require.Nil(t, err)

	entries, rerr := os.ReadDir(dir)
	require.NoError(t, rerr)
	require.Empty(t, entries)
}

func TestWriteArtifactsWritesTextFiles(t *testing.T) {
	sess := session.New()
	sess.SetDebugFiles(true)
	dir := t.TempDir()

	x := node.New(sess, precision.Single, nil, "x")
	hl := hlir.Fetch{Target: x, Op: hlir.ConstantFetch{C: 0}}
	ll := llir.ZeroOut{Ptr: x}

	err := WriteArtifacts(sess, dir, "prog", hl, ll, ll)
	require.Nil(t, err)

	for _, name := range []string{"prog.hlc", "prog-unoptimized.llc", "prog.llc"} {
		_, serr := os.Stat(filepath.Join(dir, name))
		require.NoError(t, serr, "expected %s to exist", name)
	}
}

func TestWriteArtifactsWritesDotWhenEnabled(t *testing.T) {
	sess := session.New()
	sess.SetDebugFiles(true)
	sess.EnableDebugFormat("dot")
	dir := t.TempDir()

	x := node.New(sess, precision.Single, nil, "x")
	hl := hlir.Fetch{Target: x, Op: hlir.ConstantFetch{C: 0}}
	ll := llir.ZeroOut{Ptr: x}

	err := WriteArtifacts(sess, dir, "prog", hl, ll, ll)
	require.Nil(t, err)

	_, serr := os.Stat(filepath.Join(dir, "prog.dot"))
	require.NoError(t, serr)
}

func TestToProtoEncodesText(t *testing.T) {
	raw, err := ToProto("hl", "prog", "(noop)")
	require.Nil(t, err)
	require.NotEmpty(t, raw)
}

func TestWriteCUDAArtifactsSkipsEmptyOptional(t *testing.T) {
	sess := session.New()
	sess.SetDebugFiles(true)
	dir := t.TempDir()

	err := WriteCUDAArtifacts(sess, dir, "prog", "__global__ void k() {}", "", "")
	require.Nil(t, err)

	_, serr := os.Stat(filepath.Join(dir, "prog-cudajit-debug.cu"))
	require.NoError(t, serr)
	_, serr = os.Stat(filepath.Join(dir, "prog-cudajit-debug.ptx"))
	require.True(t, os.IsNotExist(serr))
}
