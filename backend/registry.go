package backend

import (
	"sort"
	"sync"

	"github.com/arbor-ml/arbor/arborerr"
)

// Constructor builds a fresh Backend instance by name, e.g. a cpu-jit or
// cuda backend's zero-config constructor.
type Constructor func() Backend

var (
	registryMu sync.Mutex
	registry   = map[string]Constructor{}
)

// Register adds a named backend constructor to the global registry;
// backend/cpujit and backend/cuda call this from their package init so
// importing either is enough to make the name available, matching the
// teacher's pattern of build-tag-gated engine construction.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New constructs the named backend, per §6's "unknown name is a hard
// error at construction".
func New(name string) (Backend, *arborerr.Error) {
	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, arborerr.User("backend: unknown backend %q (known: %v)", name, Names())
	}
	return ctor(), nil
}

// Names lists every currently registered backend name, sorted.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
