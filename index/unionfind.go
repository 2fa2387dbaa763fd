package index

import "github.com/samber/lo"

// ProjID identifies a projection equivalence class: when unification
// proves two dims equal in size, their proj-ids are unioned so the loop
// planner emits a single iterator for both.
type ProjID int64

// UnionFind is a disjoint-set over ProjIDs, path-compressing on Find and
// unioning by rank. Each shape-inference propagation step owns its own
// UnionFind (the stepUF argument of shape's Engine.UnifyRows and
// UnifyDim); only the
// resulting dim/row substitutions are merged back into global state
// afterwards, per §4.C's "Row preservation across propagation steps".
type UnionFind struct {
	parent map[ProjID]ProjID
	rank   map[ProjID]int
}

// NewUnionFind returns an empty union-find; ids are added lazily on first
// use via Find.
func NewUnionFind() *UnionFind {
	return &UnionFind{parent: map[ProjID]ProjID{}, rank: map[ProjID]int{}}
}

// Find returns the representative of id's class, registering id as its
// own singleton class on first sight.
func (u *UnionFind) Find(id ProjID) ProjID {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		u.rank[id] = 0
		return id
	}
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	// path compression
	for u.parent[id] != root {
		next := u.parent[id]
		u.parent[id] = root
		id = next
	}
	return root
}

// Union merges a's and b's classes, returning the surviving
// representative.
func (u *UnionFind) Union(a, b ProjID) ProjID {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return ra
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
	return ra
}

// Same reports whether a and b are in the same class.
func (u *UnionFind) Same(a, b ProjID) bool { return u.Find(a) == u.Find(b) }

// Classes groups every id seen so far by its representative.
func (u *UnionFind) Classes() map[ProjID][]ProjID {
	out := map[ProjID][]ProjID{}
	for id := range u.parent {
		r := u.Find(id)
		out[r] = append(out[r], id)
	}
	for r, members := range out {
		out[r] = lo.Uniq(members)
	}
	return out
}
