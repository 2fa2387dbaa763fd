package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/ops"
)

// maxConcurrentCompiles/maxConcurrentTransfers bound, respectively, how
// many merge-kernel compiles PrepareSync requests from the backend at
// once and how many host<->device transfers a broadcast fallback round
// keeps in flight, so a large device count doesn't open an unbounded
// number of simultaneous backend calls.
const (
	maxConcurrentCompiles  = 8
	maxConcurrentTransfers = 4
)

// ParallelUpdateConfig bundles everything §4.H's round-robin parallel
// update needs: one grad_update compiled per device, one sgd_update
// compiled on device 0, the tensors a sync step must merge/broadcast,
// and the static bindings the round-robin pass iterates.
type ParallelUpdateConfig struct {
	Pool    *Pool
	Backend backend.Backend
	// Contexts holds one context per pool position; Contexts[0] is
	// always the authoritative device per the §9 open-question decision.
	Contexts []backend.Context
	// GradUpdates holds one compiled grad_update kernel per pool
	// position, same IR compiled to each position's context.
	GradUpdates []*backend.Compiled
	// SGDUpdate is compiled on Contexts[0].
	SGDUpdate *backend.Compiled
	// LossTensor and GradTensors are merged every sync (accumulated
	// device-to-device); ParamTensors are broadcast from device 0 after
	// sgd_update runs.
	LossTensor  *node.Node
	GradTensors []*node.Node
	ParamTensors []*node.Node
	// Bindings drives the round-robin: ranged bindings are enumerated
	// over their full Cartesian product (§8 invariant 8); unranged
	// bindings retain their initial cell value across the whole pass.
	Bindings index.Context
	// PostSync is called after every sync step completes, with the
	// number of devices that participated that round.
	PostSync func(numSynced int)
}

type mergeKey struct {
	to, from int
	tensor   int64
}

type broadcastKey struct {
	to     int
	tensor int64
}

// syncCaches holds the pre-compiled kernels §4.H steps 2/3 build before
// the main round-robin loop starts, plus the needed_on_host sets step
// 3/d/e fall back to.
type syncCaches struct {
	merge           map[mergeKey]*backend.Compiled
	broadcast       map[broadcastKey]*backend.Compiled
	broadcastOnHost map[broadcastKey]bool
}

// halvingPairs returns the (to, from) reduction pairs the pairwise
// halving merge tree visits for a round with k participating devices,
// per §4.H: "pair (i, i+half) reduces into i, halve, recurse until
// reaching 0." half is rounded up, so an odd width still pairs its last
// device.
func halvingPairs(k int) [][2]int {
	var pairs [][2]int
	for width := k; width > 1; width = (width + 1) / 2 {
		half := (width + 1) / 2
		for i := 0; i < half; i++ {
			from := i + half
			if from < width {
				pairs = append(pairs, [2]int{i, from})
			}
		}
	}
	return pairs
}

// PrepareSync implements §4.H steps 1-3: a dry run of the occupancy map
// across every possible round size (1..N), pre-compiling merge kernels
// per (to, from, tensor) and broadcast kernels per (to, tensor), caching
// each exactly once. The merge-kernel compiles themselves (one backend
// call per unique (to, from, tensor) triple) run concurrently, bounded by
// maxConcurrentCompiles via errgroup/semaphore — the dry run over every
// round size from 1..N can name dozens of distinct kernels on a
// many-device pool, and nothing about compiling kernel A depends on
// kernel B.
func PrepareSync(cfg *ParallelUpdateConfig) (*syncCaches, *arborerr.Error) {
	n := cfg.Pool.N()
	caches := &syncCaches{
		merge:           map[mergeKey]*backend.Compiled{},
		broadcast:       map[broadcastKey]*backend.Compiled{},
		broadcastOnHost: map[broadcastKey]bool{},
	}

	mergeTensors := dedupeTensors(append(append([]*node.Node{}, cfg.GradTensors...), cfg.LossTensor))
	tensorByID := make(map[int64]*node.Node, len(mergeTensors))
	for _, t := range mergeTensors {
		tensorByID[t.ID] = t
	}

	seen := map[mergeKey]bool{}
	var keys []mergeKey
	for k := 1; k <= n; k++ {
		for _, pair := range halvingPairs(k) {
			to, from := pair[0], pair[1]
			for _, t := range mergeTensors {
				key := mergeKey{to: to, from: from, tensor: t.ID}
				if seen[key] {
					continue
				}
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}

	compiled := make([]*backend.Compiled, len(keys))
	sem := semaphore.NewWeighted(maxConcurrentCompiles)
	g, gctx := errgroup.WithContext(context.Background())
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			t := tensorByID[key.tensor]
			c, err := cfg.Backend.Merge(t, cfg.Contexts[key.to], ops.Add, cfg.Contexts[key.from],
				fmt.Sprintf("merge_%d_from_%d_t%d", key.to, key.from, t.ID))
			if err != nil {
				return err
			}
			if c == nil {
				return arborerr.Compile(fmt.Sprintf("merge(%d<-%d, tensor %d)", key.to, key.from, t.ID),
					fmt.Errorf("no device merge kernel available and gradient accumulation has no host fallback"))
			}
			compiled[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if aerr, ok := err.(*arborerr.Error); ok {
			return nil, aerr
		}
		return nil, arborerr.Invariant("scheduler: PrepareSync: %v", err)
	}
	for i, key := range keys {
		caches.merge[key] = compiled[i]
	}

	for to := 1; to < n; to++ {
		for _, t := range cfg.ParamTensors {
			key := broadcastKey{to: to, tensor: t.ID}
			compiled, err := cfg.Backend.Merge(t, cfg.Contexts[to], ops.Arg2, cfg.Contexts[0],
				fmt.Sprintf("broadcast_%d_t%d", to, t.ID))
			if err != nil {
				return nil, err
			}
			if compiled == nil {
				caches.broadcastOnHost[key] = true
				continue
			}
			caches.broadcast[key] = compiled
		}
	}

	return caches, nil
}

// ranged bindings drive the Cartesian product round-robin iterates;
// unranged bindings are left untouched across the whole pass.
func rangedIndices(ctx index.Context) []int {
	var out []int
	for i, b := range ctx.Bindings() {
		if b.Range != nil {
			out = append(out, i)
		}
	}
	return out
}

// combos enumerates the full Cartesian product of the ranged bindings'
// [0, r) ranges, in row-major order over the ranged-binding list.
func combos(ctx index.Context, ranged []int) [][]int {
	bindings := ctx.Bindings()
	if len(ranged) == 0 {
		return [][]int{{}}
	}
	sizes := make([]int, len(ranged))
	total := 1
	for i, idx := range ranged {
		sizes[i] = *bindings[idx].Range
		total *= sizes[i]
	}
	out := make([][]int, total)
	for c := 0; c < total; c++ {
		vals := make([]int, len(ranged))
		rem := c
		for i := len(ranged) - 1; i >= 0; i-- {
			vals[i] = rem % sizes[i]
			rem /= sizes[i]
		}
		out[c] = vals
	}
	return out
}

func applyCombo(ctx index.Context, ranged []int, combo []int) {
	bindings := ctx.Bindings()
	for i, idx := range ranged {
		*bindings[idx].Cell = combo[i]
	}
}

// ParallelUpdate runs §4.H's round-robin parallel update loop: for every
// combination in the Cartesian product of cfg.Bindings' ranged bindings,
// submit grad_update to device (pos mod N); after every complete round
// of N submissions (and once more for a final partial round), run a
// sync step.
func ParallelUpdate(cfg *ParallelUpdateConfig) *arborerr.Error {
	caches, err := PrepareSync(cfg)
	if err != nil {
		return err
	}

	n := cfg.Pool.N()
	ranged := rangedIndices(cfg.Bindings)
	all := combos(cfg.Bindings, ranged)

	pos := 0
	for _, combo := range all {
		applyCombo(cfg.Bindings, ranged, combo)

		devIdx := pos % n
		if err := scheduleAndSubmit(cfg.Pool, devIdx, cfg.GradUpdates[devIdx]); err != nil {
			return err
		}
		pos++

		if pos%n == 0 {
			if err := runSyncStep(cfg, n, caches); err != nil {
				return err
			}
		}
	}
	if rem := pos % n; rem != 0 {
		if err := runSyncStep(cfg, rem, caches); err != nil {
			return err
		}
	}
	return nil
}

// scheduleAndSubmit asks a compiled kernel for a fresh Work handle and
// submits its Run to the pool at pos. A launch failure poisons the
// device (worker.loop latches it) rather than propagating synchronously;
// callers observe it at the next Await on that position.
func scheduleAndSubmit(pool *Pool, pos int, compiled *backend.Compiled) *arborerr.Error {
	work, err := compiled.Schedule()
	if err != nil {
		return err
	}
	return pool.Submit(pos, func() *arborerr.Error {
		if runErr := work.Run(); runErr != nil {
			return arborerr.Compile(fmt.Sprintf("device %d", pool.Device(pos).Ordinal), runErr)
		}
		return nil
	})
}

// runSyncStep implements §4.H's synchronization step for a round with k
// participating devices: pairwise-halving gradient/loss merge, sgd_update
// on device 0, parameter broadcast to devices 1..k-1, then PostSync.
func runSyncStep(cfg *ParallelUpdateConfig, k int, caches *syncCaches) *arborerr.Error {
	mergeTensors := dedupeTensors(append(append([]*node.Node{}, cfg.GradTensors...), cfg.LossTensor))

	for width := k; width > 1; width = (width + 1) / 2 {
		half := (width + 1) / 2
		for i := 0; i < half; i++ {
			from := i + half
			if from >= width {
				continue
			}
			to := i
			if err := cfg.Pool.Await(from); err != nil {
				return err
			}
			for _, t := range mergeTensors {
				compiled := caches.merge[mergeKey{to: to, from: from, tensor: t.ID}]
				if err := scheduleAndSubmit(cfg.Pool, to, compiled); err != nil {
					return err
				}
			}
			if err := cfg.Pool.Await(to); err != nil {
				return err
			}
		}
	}

	if err := cfg.Pool.Await(0); err != nil {
		return err
	}
	if err := scheduleAndSubmit(cfg.Pool, 0, cfg.SGDUpdate); err != nil {
		return err
	}
	if err := cfg.Pool.Await(0); err != nil {
		return err
	}

	// Host-staged broadcasts (no device broadcast kernel available) share
	// one host buffer per tensor (the backend contract's single
	// FromHost/ToHost slot — see §9 open question 3), so staging it out
	// of device 0 must happen once, sequentially, before any fan-out; the
	// per-target FromHost calls that follow only read that staged buffer,
	// so they run concurrently across target devices, bounded by
	// maxConcurrentTransfers — the "cap in-flight host<->device
	// transfers" contract.
	sem := semaphore.NewWeighted(maxConcurrentTransfers)
	g, gctx := errgroup.WithContext(context.Background())
	for _, t := range cfg.ParamTensors {
		staged := false
		for to := 1; to < k; to++ {
			key := broadcastKey{to: to, tensor: t.ID}
			if !caches.broadcastOnHost[key] {
				if err := scheduleAndSubmit(cfg.Pool, to, caches.broadcast[key]); err != nil {
					return err
				}
				continue
			}
			if !staged {
				if _, err := cfg.Backend.ToHost(cfg.Contexts[0], t); err != nil {
					return err
				}
				staged = true
			}
			t, to := t, to
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				if _, err := cfg.Backend.FromHost(cfg.Contexts[to], t); err != nil {
					return err
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		if aerr, ok := err.(*arborerr.Error); ok {
			return aerr
		}
		return arborerr.Invariant("scheduler: runSyncStep: host broadcast: %v", err)
	}
	for to := 1; to < k; to++ {
		if err := cfg.Pool.Await(to); err != nil {
			return err
		}
	}

	if cfg.PostSync != nil {
		cfg.PostSync(k)
	}
	return nil
}
