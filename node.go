package undotree

import (
	"slices"
	"time"
)

type NodeID uint64

// Stamp is one entry of a node's visit history.
type Stamp struct {
	Time   int64 `msgpack:"t"` // unix nanoseconds
	Active bool  `msgpack:"a,omitempty"`
	// Branch is the child index that was active when the node was left.
	// Branch points keep at most one stamp per branch.
	Branch int `msgpack:"b,omitempty"`
}

func (s Stamp) At() time.Time {
	return time.Unix(0, s.Time)
}

type Span struct {
	Beg int `msgpack:"b"`
	End int `msgpack:"e"`
}

// RegionMarks remember the boundaries of the region operation that created
// a node, so that repeating the same operation extends it instead of adding
// another branch.
type RegionMarks struct {
	Undo *Span `msgpack:"u,omitempty"`
	Redo *Span `msgpack:"r,omitempty"`

	// PriorActive is the parent's active child index before the node was
	// attached.
	PriorActive int `msgpack:"pa"`

	// Origin and Graft are set on the leaf of an undo-in-region branch:
	// Origin is the node whose state the leaf repeats, Graft the node the
	// branch hangs from.
	Origin NodeID `msgpack:"o,omitempty"`
	Graft  NodeID `msgpack:"g,omitempty"`
}

func (m *RegionMarks) matches(dir direction, s Span) bool {
	if m == nil {
		return false
	}
	if dir == undoDir {
		return m.Undo != nil && *m.Undo == s
	}
	return m.Redo != nil && *m.Redo == s
}

// Node is one document state. The undo changeset moves the document to the
// parent's state, the redo changeset moves it from the parent's state to
// this one.
type Node struct {
	id       NodeID
	parent   *Node
	children []*Node
	active   int

	undo ChangeSet
	redo ChangeSet

	history  []Stamp
	region   *RegionMarks
	register string

	size int
}

func (n *Node) ID() NodeID {
	return n.id
}

func (n *Node) Parent() *Node {
	return n.parent
}

func (n *Node) Children() []*Node {
	return slices.Clone(n.children)
}

func (n *Node) ChildCount() int {
	return len(n.children)
}

// ActiveIndex returns the child index redo descends into, or -1 for leaves.
func (n *Node) ActiveIndex() int {
	if len(n.children) == 0 {
		return -1
	}
	return n.active
}

func (n *Node) ActiveChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[n.active]
}

func (n *Node) UndoChangeSet() ChangeSet {
	return n.undo.Clone()
}

func (n *Node) RedoChangeSet() ChangeSet {
	return n.redo.Clone()
}

func (n *Node) History() []Stamp {
	return slices.Clone(n.history)
}

func (n *Node) Region() *RegionMarks {
	if n.region == nil {
		return nil
	}
	m := *n.region
	return &m
}

// Register returns the name of the register bound to the node, if any.
func (n *Node) Register() string {
	return n.register
}

// Size returns the cached byte size of both changesets.
func (n *Node) Size() int {
	return n.size
}

func (n *Node) IsLeaf() bool {
	return len(n.children) == 0
}

func (n *Node) IsBranchPoint() bool {
	return len(n.children) > 1
}

// LastVisit returns the time of the most recent stamp.
func (n *Node) LastVisit() time.Time {
	return time.Unix(0, n.latest())
}

func (n *Node) latest() int64 {
	var t int64
	for _, s := range n.history {
		if s.Time > t {
			t = s.Time
		}
	}
	return t
}

func (n *Node) activeStamp() int {
	for i, s := range n.history {
		if s.Active {
			return i
		}
	}
	return -1
}

func (n *Node) clearActive() {
	for i := range n.history {
		n.history[i].Active = false
	}
}

func (n *Node) childIndex(c *Node) int {
	for i, cc := range n.children {
		if cc == c {
			return i
		}
	}
	return -1
}

// computeSize returns the difference between the new and the cached size
// and updates the cache.
func (n *Node) computeSize() int {
	sz := n.undo.Size() + n.redo.Size()
	delta := sz - n.size
	n.size = sz
	return delta
}

// compactHistory keeps only the newest stamp per branch on branch points.
// The active stamp always survives.
func (n *Node) compactHistory() {
	if len(n.children) < 2 || len(n.history) < 2 {
		return
	}
	keep := make(map[int]int, len(n.children))
	for i, s := range n.history {
		j, ok := keep[s.Branch]
		if !ok || s.Active || (!n.history[j].Active && s.Time > n.history[j].Time) {
			keep[s.Branch] = i
		}
	}
	out := n.history[:0]
	for i, s := range n.history {
		if keep[s.Branch] == i {
			out = append(out, s)
		}
	}
	n.history = out
}

// retagActive records the node's current active branch on its active stamp.
func (n *Node) retagActive() {
	if i := n.activeStamp(); i >= 0 {
		n.history[i].Branch = n.active
	}
	n.compactHistory()
}
