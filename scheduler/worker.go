// Package scheduler implements component H: one worker thread per device
// behind a single-slot mailbox, and the round-robin multi-device update
// loop with its pairwise-halving gradient-merge tree and parameter
// broadcast, per §4.H and §5. The single-slot-mailbox/spin design is
// grounded on go-highway's persistent-goroutine
// `hwy/contrib/workerpool.Pool` (spawn once, reuse across many
// operations) — adapted from its channel-backed work-stealing queue to
// the exact single-slot/spin contract §5 requires (a task is either
// installed or not; `Await` must observe "currently executing" without
// an extra completion signal, which a buffered channel alone can't give
// the submitter).
package scheduler

import (
	"runtime"
	"sync/atomic"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/backend"
)

// task is the closure a worker's mailbox holds: zero-argument, run to
// completion before the slot clears. It returns an error instead of
// panicking so a failed kernel launch can poison the device (§7: "the
// scheduler does not recover from kernel launch failures — the device
// is considered poisoned and the main thread errors out of the current
// step") without taking down the whole process.
type task func() *arborerr.Error

// worker owns one device's single-slot mailbox and keep_spinning flag,
// per §4.H: "Each worker owns a single-slot mailbox next_task: ()→() |
// null and a spin-controlled keep_spinning flag."
type worker struct {
	device       backend.Device
	next         atomic.Pointer[task]
	keepSpinning atomic.Bool
	stopped      chan struct{}

	// poisoned latches the first task error; once set, every subsequent
	// Submit on this worker fails fast rather than launching more work
	// on a device §7 considers unrecoverable.
	poisoned atomic.Pointer[arborerr.Error]
}

func newWorker(d backend.Device) *worker {
	w := &worker{device: d, stopped: make(chan struct{})}
	w.keepSpinning.Store(true)
	go w.loop()
	return w
}

// loop is the cooperative spin: poll the slot, run to completion, clear
// it. A condition variable could replace the spin for power, provided
// wake-up stays edge-triggered on task installation (§9's design note);
// this implementation keeps the spin for simplicity.
func (w *worker) loop() {
	defer close(w.stopped)
	for w.keepSpinning.Load() {
		t := w.next.Load()
		if t == nil {
			runtime.Gosched()
			continue
		}
		if err := (*t)(); err != nil {
			w.poisoned.Store(err)
		}
		w.next.Store(nil)
	}
}

// submit installs t if the slot is clear, per §4.H: "Submitting work
// installs a non-null task; the worker polls, executes, clears the
// slot." Returns an invariant error if the slot is still occupied — the
// main thread is the sole submitter and must await before resubmitting —
// or the latched poison error if a prior task on this device failed.
func (w *worker) submit(t task) *arborerr.Error {
	if err := w.poisoned.Load(); err != nil {
		return err
	}
	if !w.next.CompareAndSwap(nil, &t) {
		return arborerr.Invariant("scheduler: device %s: submit while a task is still in flight", w.device.Name)
	}
	return nil
}

// await spin-waits until the slot is clear, §4.H's "await(device)
// spin-waits until the slot is clear."
func (w *worker) await() {
	for w.next.Load() != nil {
		runtime.Gosched()
	}
}

// stop sets keep_spinning false and joins the worker goroutine, the
// cooperative-shutdown half of §5's cancellation model.
func (w *worker) stop() {
	w.keepSpinning.Store(false)
	<-w.stopped
}

// Pool owns one worker per scheduled device and is the scheduler's
// submitter/awaiter-facing handle; the main thread is always the sole
// caller into a Pool, matching §5's single-submitter rule.
type Pool struct {
	backend backend.Backend
	workers []*worker
}

// NewPool constructs N = min(backend.NumDevices(), requested) worker
// threads, one per device ordinal 0..N-1, per §4.H's opening line.
func NewPool(b backend.Backend, requested int) (*Pool, *arborerr.Error) {
	n := requested
	if nd := b.NumDevices(); nd < n {
		n = nd
	}
	if n <= 0 {
		return nil, arborerr.User("scheduler: no devices available (backend reports %d, requested %d)", b.NumDevices(), requested)
	}
	workers := make([]*worker, n)
	for i := 0; i < n; i++ {
		dev, err := b.GetDevice(i)
		if err != nil {
			for _, w := range workers[:i] {
				if w != nil {
					w.stop()
				}
			}
			return nil, err
		}
		workers[i] = newWorker(dev)
	}
	return &Pool{backend: b, workers: workers}, nil
}

// N is the number of worker threads (devices) this pool scheduled.
func (p *Pool) N() int { return len(p.workers) }

// Device returns the backend device at pool position pos.
func (p *Pool) Device(pos int) backend.Device { return p.workers[pos].device }

// Submit installs fn on the worker at pool position pos.
func (p *Pool) Submit(pos int, fn func() *arborerr.Error) *arborerr.Error {
	return p.workers[pos].submit(task(fn))
}

// Await blocks until the worker at pool position pos has cleared its
// mailbox, then reports the device's poison error, if any.
func (p *Pool) Await(pos int) *arborerr.Error {
	p.workers[pos].await()
	return p.workers[pos].poisoned.Load()
}

// Shutdown stops every worker (cooperative: keep_spinning=false, join)
// then calls the backend's UnsafeCleanup, per §5's shutdown sequence.
func (p *Pool) Shutdown() *arborerr.Error {
	for _, w := range p.workers {
		w.stop()
	}
	return p.backend.UnsafeCleanup()
}
