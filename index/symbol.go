// Package index implements component B: axis indices, iterator symbols,
// static bindings, and the union-find that backs projection-class
// deduplication.
package index

import "fmt"

// Symbol is a unique iteration symbol, optionally labeled. "Dedicated"
// flavors (task-id, sample-num, frozen) are not substitutable during
// inlining — see DedicatedKind.
type Symbol struct {
	ID        int64
	Label     string
	Dedicated DedicatedKind
}

// DedicatedKind names the reserved scheduling roles a symbol may be
// pinned to; DedicatedNone means the symbol is an ordinary, substitutable
// loop iterator.
type DedicatedKind int

const (
	DedicatedNone DedicatedKind = iota
	DedicatedTaskID
	DedicatedSampleNum
	DedicatedFrozen
)

func (d DedicatedKind) String() string {
	switch d {
	case DedicatedTaskID:
		return "task-id"
	case DedicatedSampleNum:
		return "sample-num"
	case DedicatedFrozen:
		return "frozen"
	default:
		return "none"
	}
}

// IsSubstitutable reports whether this symbol may be renamed/substituted
// during virtualization inlining; dedicated axes never are.
func (s Symbol) IsSubstitutable() bool { return s.Dedicated == DedicatedNone }

func (s Symbol) String() string {
	if s.Label != "" {
		return s.Label
	}
	return fmt.Sprintf("i%d", s.ID)
}

// Allocator hands out fresh symbol ids; *session.Session satisfies this
// via NextSymbolID, kept as a narrow interface here so package index does
// not import package session.
type Allocator interface {
	NextSymbolID() int64
}

// NewSymbol allocates a fresh, ordinary (non-dedicated) symbol.
func NewSymbol(a Allocator, label string) Symbol {
	return Symbol{ID: a.NextSymbolID(), Label: label}
}

// NewDedicatedSymbol allocates a symbol reserved for a scheduling role.
func NewDedicatedSymbol(a Allocator, label string, kind DedicatedKind) Symbol {
	return Symbol{ID: a.NextSymbolID(), Label: label, Dedicated: kind}
}
