// Package session encapsulates the process-wide mutable state the rest of
// arbor would otherwise scatter across package-level globals: id
// allocators for tensors/shapes/scopes/symbols, the init-op RNG seed, debug
// flags, and the backend device table. A *Session is the single owner;
// package-level statics (Default) are thin accessors for callers that
// don't need more than one session, matching §9's "Global mutable state"
// design note.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	rng "github.com/leesper/go_rng"
)

// Session owns every piece of process-wide mutable state arbor needs.
type Session struct {
	// ID is a UUID used to correlate debug artifacts and logs from this
	// session; it is not used for tensor/shape identity (those stay
	// monotonic ints per the data model's lifetime rules).
	ID uuid.UUID

	tensorIDs atomic.Uint64
	shapeIDs  atomic.Uint64
	scopeIDs  atomic.Uint64
	symbolIDs atomic.Uint64
	projIDs   atomic.Uint64

	mu              sync.Mutex
	fixedInitSeed   *int64
	uniformRNG      *rng.UniformGenerator
	debugFiles      bool
	debugFormats    map[string]bool
	backendRegistry map[string]Backend
}

// Backend is the minimal handle a session's device table needs to keep: a
// name. The concrete interface (compile/schedule/...)
// lives in package backend; session only needs to name and hold
// instances, never to know their shape.
type Backend interface {
	Name() string
}

// New creates a fresh session with its own id allocators starting at zero.
func New() *Session {
	return &Session{
		ID:              uuid.New(),
		debugFormats:    map[string]bool{},
		backendRegistry: map[string]Backend{},
	}
}

var defaultOnce sync.Once
var defaultSession *Session

// Default returns a process-wide singleton session, created lazily.
func Default() *Session {
	defaultOnce.Do(func() { defaultSession = New() })
	return defaultSession
}

// NextTensorID allocates a monotonically increasing tensor node id.
func (s *Session) NextTensorID() int64 { return int64(s.tensorIDs.Add(1)) }

// NextShapeID allocates a monotonically increasing shape id.
func (s *Session) NextShapeID() int64 { return int64(s.shapeIDs.Add(1)) }

// NextScopeID allocates a monotonically increasing local-scope id.
func (s *Session) NextScopeID() int64 { return int64(s.scopeIDs.Add(1)) }

// NextSymbolID allocates a monotonically increasing iteration-symbol id.
func (s *Session) NextSymbolID() int64 { return int64(s.symbolIDs.Add(1)) }

// NextProjID allocates a fresh projection-class id before it is possibly
// unioned with another by the shape inference engine's union-find.
func (s *Session) NextProjID() int64 { return int64(s.projIDs.Add(1)) }

// SetFixedInitSeed seeds the Standard-uniform init-op RNG deterministically.
// Passing nil restores non-deterministic seeding on next use.
func (s *Session) SetFixedInitSeed(seed *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixedInitSeed = seed
	s.uniformRNG = nil // re-created lazily with the new seed
}

// UniformRNG returns the process-global uniform RNG used by
// Standard-uniform init-ops, creating it (seeded from fixed_state_for_init
// if set) on first use.
func (s *Session) UniformRNG() *rng.UniformGenerator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uniformRNG == nil {
		if s.fixedInitSeed != nil {
			s.uniformRNG = rng.NewUniformGenerator(*s.fixedInitSeed)
		} else {
			s.uniformRNG = rng.NewUniformGenerator(time.Now().UnixNano())
		}
	}
	return s.uniformRNG
}

// SetDebugFiles toggles output_debug_files_in_run_directory.
func (s *Session) SetDebugFiles(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debugFiles = on
}

// DebugFiles reports whether output_debug_files_in_run_directory is set.
func (s *Session) DebugFiles() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debugFiles
}

// EnableDebugFormat turns on an additional debug artifact encoding
// ("proto", "dot") alongside the mandatory text form.
func (s *Session) EnableDebugFormat(format string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debugFormats[format] = true
}

// HasDebugFormat reports whether the named optional debug encoding is on.
func (s *Session) HasDebugFormat(format string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debugFormats[format]
}

// RegisterBackend installs a backend under a name recognized by §6's
// backend-selection contract ("cpu-jit", "cuda", ...). Re-registering the
// same name replaces the previous instance.
func (s *Session) RegisterBackend(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backendRegistry[b.Name()] = b
}

// GetBackend looks up a registered backend by name. An unknown name is a hard
// error at construction per §6 — callers should wrap this with
// arborerr.User when nil is returned.
func (s *Session) GetBackend(name string) (Backend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backendRegistry[name]
	return b, ok
}
