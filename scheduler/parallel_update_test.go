package scheduler

import (
	"testing"

	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/precision"
	"github.com/stretchr/testify/require"
)

type idAlloc struct{ n int64 }

func (a *idAlloc) NextTensorID() int64 { a.n++; return a.n }
func (a *idAlloc) NextSymbolID() int64 { a.n++; return a.n }

// TestParallelUpdateConvergesParamsAcrossDevices exercises §8 invariant 7
// (every device holds the identical parameter value after a sync step) for
// a 2-device round: each device contributes a different gradient, the
// pairwise-halving merge sums them into device 0, sgd_update steps device
// 0's parameter, and the broadcast copies the result back out.
func TestParallelUpdateConvergesParamsAcrossDevices(t *testing.T) {
	alloc := &idAlloc{}
	fb := newFakeBackend(2)
	pool, err := NewPool(fb, 2)
	require.Nil(t, err)
	defer pool.Shutdown()

	ctxs := make([]backend.Context, 2)
	for i := 0; i < 2; i++ {
		dev, derr := fb.GetDevice(i)
		require.Nil(t, derr)
		c, ierr := fb.Init(dev)
		require.Nil(t, ierr)
		ctxs[i] = c
	}

	p := node.New(alloc, precision.Double, nil, "w")
	g := node.New(alloc, precision.Double, nil, "w_grad")
	p.Grad = g
	loss := node.New(alloc, precision.Double, nil, "loss")

	// Both devices start with the same parameter value.
	for _, c := range ctxs {
		c.(*fakeContext).set(p.ID, 10)
	}

	gradContribs := []float64{1, 2}
	lossContribs := []float64{10, 20}
	gradUpdates := make([]*backend.Compiled, 2)
	for i := 0; i < 2; i++ {
		i := i
		gradUpdates[i] = compileStep(ctxs[i], func(fc *fakeContext) {
			fc.set(g.ID, fc.get(g.ID)+gradContribs[i])
			fc.set(loss.ID, fc.get(loss.ID)+lossContribs[i])
		})
	}

	const lr = 0.1
	sgdUpdate := compileStep(ctxs[0], func(fc *fakeContext) {
		fc.set(p.ID, fc.get(p.ID)-lr*fc.get(g.ID))
	})

	syncCount := 0
	cfg := &ParallelUpdateConfig{
		Pool:         pool,
		Backend:      fb,
		Contexts:     ctxs,
		GradUpdates:  gradUpdates,
		SGDUpdate:    sgdUpdate,
		LossTensor:   loss,
		GradTensors:  []*node.Node{g},
		ParamTensors: []*node.Node{p},
		Bindings:     index.EmptyContext().Extend(index.NewBinding(index.NewSymbol(alloc, "sample"), intPtr(2), 0)),
		PostSync:     func(n int) { syncCount++ },
	}

	require.Nil(t, ParallelUpdate(cfg))
	require.Equal(t, 1, syncCount)

	wantGrad := 1.0 + 2.0
	wantLoss := 10.0 + 20.0
	wantParam := 10.0 - lr*wantGrad

	require.InDelta(t, wantGrad, ctxs[0].(*fakeContext).get(g.ID), 1e-6)
	require.InDelta(t, wantLoss, ctxs[0].(*fakeContext).get(loss.ID), 1e-6)
	require.InDelta(t, wantParam, ctxs[0].(*fakeContext).get(p.ID), 1e-6)
	require.InDelta(t, wantParam, ctxs[1].(*fakeContext).get(p.ID), 1e-6)
}

// TestParallelUpdateHandlesUnevenFinalRound exercises the "final partial
// round still syncs" branch of ParallelUpdate (§4.H: a round need not be
// full to trigger a sync) with 2 devices and 3 combos, so the second round
// only has device 0 participating.
func TestParallelUpdateHandlesUnevenFinalRound(t *testing.T) {
	alloc := &idAlloc{}
	fb := newFakeBackend(2)
	pool, err := NewPool(fb, 2)
	require.Nil(t, err)
	defer pool.Shutdown()

	ctxs := make([]backend.Context, 2)
	for i := 0; i < 2; i++ {
		dev, derr := fb.GetDevice(i)
		require.Nil(t, derr)
		c, ierr := fb.Init(dev)
		require.Nil(t, ierr)
		ctxs[i] = c
	}

	p := node.New(alloc, precision.Double, nil, "w")
	g := node.New(alloc, precision.Double, nil, "w_grad")
	p.Grad = g
	loss := node.New(alloc, precision.Double, nil, "loss")
	for _, c := range ctxs {
		c.(*fakeContext).set(p.ID, 0)
	}

	gradUpdates := make([]*backend.Compiled, 2)
	for i := 0; i < 2; i++ {
		gradUpdates[i] = compileStep(ctxs[i], func(fc *fakeContext) {
			fc.set(g.ID, fc.get(g.ID)+1)
		})
	}
	sgdUpdate := compileStep(ctxs[0], func(fc *fakeContext) {
		fc.set(p.ID, fc.get(p.ID)+fc.get(g.ID))
	})

	var syncSizes []int
	cfg := &ParallelUpdateConfig{
		Pool:         pool,
		Backend:      fb,
		Contexts:     ctxs,
		GradUpdates:  gradUpdates,
		SGDUpdate:    sgdUpdate,
		LossTensor:   loss,
		GradTensors:  []*node.Node{g},
		ParamTensors: []*node.Node{p},
		Bindings:     index.EmptyContext().Extend(index.NewBinding(index.NewSymbol(alloc, "sample"), intPtr(3), 0)),
		PostSync:     func(n int) { syncSizes = append(syncSizes, n) },
	}

	require.Nil(t, ParallelUpdate(cfg))
	require.Equal(t, []int{2, 1}, syncSizes)
}

func intPtr(v int) *int { return &v }
