package index

// Binding pairs a symbol with an optional range and a mutable int cell,
// the cell being set by the scheduler between kernel launches (§5's
// "Static index bindings").
type Binding struct {
	Sym   Symbol
	Range *int // nil means unranged: retains its initial value across a round-robin pass
	Cell  *int
}

// Context is an ordered list of bindings composing the kernel-launch
// environment; Empty/Extend build contexts without mutating a shared one.
type Context struct {
	bindings []Binding
}

// EmptyContext returns a context with no bindings.
func EmptyContext() Context { return Context{} }

// Extend returns a new context with b appended, leaving the receiver
// untouched (bindings are value types internally, so this never aliases
// another context's slice backing array across callers).
func (c Context) Extend(b Binding) Context {
	out := make([]Binding, len(c.bindings)+1)
	copy(out, c.bindings)
	out[len(c.bindings)] = b
	return Context{bindings: out}
}

// Bindings returns the ordered binding list.
func (c Context) Bindings() []Binding { return c.bindings }

// Lookup finds the binding for sym, if any.
func (c Context) Lookup(sym Symbol) (Binding, bool) {
	for _, b := range c.bindings {
		if b.Sym.ID == sym.ID {
			return b, true
		}
	}
	return Binding{}, false
}

// NewBinding creates a binding with a fresh mutable cell initialized to
// init, and an optional range [0, r).
func NewBinding(sym Symbol, rnge *int, init int) Binding {
	cell := new(int)
	*cell = init
	return Binding{Sym: sym, Range: rnge, Cell: cell}
}
