package scheduler

import (
	"sort"

	"github.com/xtgo/set"

	"github.com/arbor-ml/arbor/node"
)

// byTensorID sorts tensors by id so xtgo/set's Uniq can collapse adjacent
// duplicates; the merge-tensor list (grad tensors plus the loss tensor)
// occasionally names the same node twice when a caller's loss is itself
// one of the tracked gradients.
type byTensorID []*node.Node

func (s byTensorID) Len() int           { return len(s) }
func (s byTensorID) Less(i, j int) bool { return s[i].ID < s[j].ID }
func (s byTensorID) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// dedupeTensors returns nodes with duplicate ids collapsed, using
// xtgo/set (teacher's indirect dependency) for the occupancy-map dedup
// §4.H's dry-run pass needs instead of a second map-based pass.
func dedupeTensors(nodes []*node.Node) []*node.Node {
	data := append([]*node.Node{}, nodes...)
	sort.Sort(byTensorID(data))
	n := set.Uniq(byTensorID(data))
	return data[:n]
}
