package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnionFindMergesClasses(t *testing.T) {
	uf := NewUnionFind()
	uf.Union(1, 2)
	uf.Union(2, 3)
	require.True(t, uf.Same(1, 3))
	require.False(t, uf.Same(1, 4))

	classes := uf.Classes()
	var found bool
	for _, members := range classes {
		if len(members) == 3 {
			found = true
		}
	}
	require.True(t, found, "expected one class with three members")
}

func TestContextExtendDoesNotAliasParent(t *testing.T) {
	sym := Symbol{ID: 1, Label: "i"}
	b := NewBinding(sym, nil, 0)
	base := EmptyContext()
	c1 := base.Extend(b)
	c2 := base.Extend(b)

	require.Len(t, base.Bindings(), 0)
	require.Len(t, c1.Bindings(), 1)
	require.Len(t, c2.Bindings(), 1)
}
