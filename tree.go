package undotree

import (
	"fmt"
	"log/slog"
	"slices"
)

// stampEpsilon separates the stamps of a fragment built in one go.
const stampEpsilon = 1

// Tree is the complete history of one document. A Tree is not safe for
// concurrent use; hosts serialize all access to it.
type Tree struct {
	id  string
	doc Document
	opt Options

	root     *Node
	current  *Node
	previous *Node

	size  int64
	count int

	nodes     map[NodeID]*Node
	nextID    NodeID
	registers map[string]*Node
	lastTime  int64

	logger *slog.Logger
}

// New starts tracking history for doc. The tree consists of a single root
// node standing for the document's present content.
func New(doc Document, opt Options) *Tree {
	t := newTree(doc, opt)
	t.root = t.newNode(nil, nil)
	t.adopt(t.root)
	t.current = t.root
	t.stampVisit(t.root, t.nextTime(1))
	return t
}

func newTree(doc Document, opt Options) *Tree {
	opt = opt.withDefaults()
	return &Tree{
		id:        opt.DocumentID,
		doc:       doc,
		opt:       opt,
		nodes:     make(map[NodeID]*Node),
		registers: make(map[string]*Node),
		logger:    opt.Logger,
	}
}

func (t *Tree) DocumentID() string {
	return t.id
}

func (t *Tree) Document() Document {
	return t.doc
}

func (t *Tree) Root() *Node {
	return t.root
}

func (t *Tree) Current() *Node {
	return t.current
}

func (t *Tree) CurrentID() NodeID {
	return t.current.id
}

// Size returns the total byte size of all changesets in the tree.
func (t *Tree) Size() int64 {
	return t.size
}

// Count returns the number of live nodes, root included.
func (t *Tree) Count() int {
	return t.count
}

// Node looks up a live node.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *Tree) CanUndo() bool {
	return t.current.parent != nil
}

func (t *Tree) CanRedo() bool {
	return len(t.current.children) > 0
}

func (t *Tree) BranchCount() int {
	return len(t.current.children)
}

func (t *Tree) IsBranchPoint() bool {
	return t.current.IsBranchPoint()
}

// Record attaches cs as a new child of the current node and makes it
// current. cs must hold the undo records of the edits just performed on the
// document. Empty changesets are ignored.
func (t *Tree) Record(cs ChangeSet) error {
	if len(cs) == 0 {
		return nil
	}
	n := t.newNode(cs.Clone(), nil)
	t.previous = t.current
	t.attach(t.current, n)
	t.moveTo(n, t.nextTime(1))
	t.observe("record", n)
	if t.opt.AutoDiscard {
		if _, err := t.DiscardHistory(); err != nil {
			return err
		}
	}
	return nil
}

// RecordBatch records several consecutive changesets at once, oldest first.
// The fragment is grown upward from the newest changeset and attached under
// the current node in a single step.
func (t *Tree) RecordBatch(batch []ChangeSet) error {
	batch = slices.DeleteFunc(slices.Clone(batch), func(cs ChangeSet) bool { return len(cs) == 0 })
	if len(batch) == 0 {
		return nil
	}
	ts := t.nextTime(len(batch))
	leaf := t.newNode(batch[len(batch)-1].Clone(), nil)
	leaf.history = []Stamp{{Time: ts}}
	top := leaf
	for i := len(batch) - 2; i >= 0; i-- {
		ts -= stampEpsilon
		var err error
		top, err = t.GrowBackward(top, batch[i].Clone(), nil, ts)
		if err != nil {
			return err
		}
	}
	t.previous = t.current
	t.attach(t.current, top)
	t.current.clearActive()
	leaf.history[0].Active = true
	t.current = leaf
	t.observe("record", leaf)
	if t.opt.AutoDiscard {
		if _, err := t.DiscardHistory(); err != nil {
			return err
		}
	}
	return nil
}

// Detached creates a node outside the tree, to be built upon with
// GrowBackward and attached with Splice.
func (t *Tree) Detached(undo, redo ChangeSet, ts int64) *Node {
	n := t.newNode(undo.Clone(), redo.Clone())
	n.history = []Stamp{{Time: ts}}
	return n
}

// GrowBackward creates a detached node above node, which must itself be the
// top of a detached fragment. ts is the creation stamp of the new node.
func (t *Tree) GrowBackward(node *Node, undo, redo ChangeSet, ts int64) (*Node, error) {
	if node.parent != nil || t.nodes[node.id] == node {
		return nil, structErrf("grow backward", node.id, "node is not the top of a detached fragment")
	}
	p := t.newNode(undo, redo)
	p.children = []*Node{node}
	p.active = 0
	p.history = []Stamp{{Time: ts}}
	node.parent = p
	return p, nil
}

// Splice inserts the detached childless node directly below below. node
// becomes the only child of below and takes over below's previous children
// and active index.
func (t *Tree) Splice(node, below *Node) error {
	if t.nodes[below.id] != below {
		return structErrf("splice", below.id, "splice point is not in the tree")
	}
	if node.parent != nil || t.nodes[node.id] == node {
		return structErrf("splice", node.id, "node is not detached")
	}
	if len(node.children) > 0 {
		return structErrf("splice", node.id, "node already has children")
	}
	node.children = below.children
	node.active = below.active
	for _, c := range node.children {
		c.parent = node
	}
	node.parent = below
	below.children = []*Node{node}
	below.active = 0
	t.register(node)
	if below == t.current {
		below.retagActive()
	}
	return nil
}

// Snip removes node from the tree and hands its children to its parent in
// its place. The parent's active index keeps pointing at the same branch.
func (t *Tree) Snip(node *Node) error {
	if t.nodes[node.id] != node {
		return structErrf("snip", node.id, "node is not in the tree")
	}
	if node == t.root {
		return structErrf("snip", node.id, "cannot snip the root")
	}
	if node == t.current {
		return structErrf("snip", node.id, "cannot snip the current node")
	}
	t.unlink(node)
	return nil
}

func (t *Tree) unlink(node *Node) {
	parent := node.parent
	k := parent.childIndex(node)
	if k < 0 {
		panic(fmt.Sprintf("undotree: node %d missing from its parent", node.id))
	}
	wasActive := parent.active == k

	if len(parent.children) == 1 && len(node.children) == 0 {
		parent.children = parent.children[:0]
		parent.active = 0
	} else {
		kids := make([]*Node, 0, len(parent.children)-1+len(node.children))
		kids = append(kids, parent.children[:k]...)
		kids = append(kids, node.children...)
		kids = append(kids, parent.children[k+1:]...)
		for _, c := range node.children {
			c.parent = parent
		}
		switch {
		case wasActive && len(node.children) > 0:
			parent.active = k + node.active
		case parent.active > k:
			parent.active += len(node.children) - 1
		}
		parent.children = kids
		if parent.active >= len(kids) {
			parent.active = max(len(kids)-1, 0)
		}
	}

	for i, s := range parent.history {
		switch {
		case s.Branch == k:
			parent.history[i].Branch = parent.active
		case s.Branch > k:
			parent.history[i].Branch += len(node.children) - 1
		}
	}
	parent.compactHistory()

	node.parent = nil
	node.children = nil
	t.unregister(node)
}

// attach adds child, with its whole detached subtree, as the active child
// of parent.
func (t *Tree) attach(parent, child *Node) {
	child.parent = parent
	parent.children = append(parent.children, child)
	parent.active = len(parent.children) - 1
	parent.region = nil
	t.adopt(child)
	if parent == t.current {
		parent.retagActive()
	}
}

func (t *Tree) newNode(undo, redo ChangeSet) *Node {
	t.nextID++
	n := &Node{id: t.nextID, undo: undo, redo: redo}
	n.computeSize()
	return n
}

// adopt registers a detached subtree with the tree and adds it to the
// size and count caches.
func (t *Tree) adopt(n *Node) {
	stack := []*Node{n}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.register(x)
		stack = append(stack, x.children...)
	}
}

func (t *Tree) register(n *Node) {
	t.nodes[n.id] = n
	t.size += int64(n.size)
	t.count++
}

func (t *Tree) unregister(n *Node) {
	delete(t.nodes, n.id)
	t.size -= int64(n.size)
	t.count--
	if n.register != "" {
		delete(t.registers, n.register)
		n.register = ""
	}
	if t.previous == n {
		t.previous = nil
	}
}

func (t *Tree) setUndo(n *Node, cs ChangeSet) {
	n.undo = cs
	t.resized(n)
}

func (t *Tree) setRedo(n *Node, cs ChangeSet) {
	n.redo = cs
	t.resized(n)
}

func (t *Tree) resized(n *Node) {
	d := n.computeSize()
	if t.nodes[n.id] == n {
		t.size += int64(d)
	}
}

// nextTime reserves k strictly increasing stamps and returns the last one.
func (t *Tree) nextTime(k int) int64 {
	now := t.opt.Now().UnixNano()
	if floor := t.lastTime + int64(k)*stampEpsilon; now < floor {
		now = floor
	}
	t.lastTime = now
	return now
}

// moveTo makes n current as a user-visible visit stamped at ts.
func (t *Tree) moveTo(n *Node, ts int64) {
	if t.previous != nil {
		t.previous.clearActive()
	}
	t.current = n
	t.stampVisit(n, ts)
}

func (t *Tree) stampVisit(n *Node, ts int64) {
	n.clearActive()
	n.history = append(n.history, Stamp{Time: ts, Active: true, Branch: n.active})
	n.compactHistory()
}

// ensureActive guarantees the current node carries an active stamp.
func (t *Tree) ensureActive() int {
	c := t.current
	if i := c.activeStamp(); i >= 0 {
		return i
	}
	if len(c.history) == 0 {
		c.history = append(c.history, Stamp{Time: t.nextTime(1), Branch: c.active})
	}
	i := 0
	for j, s := range c.history {
		if s.Time > c.history[i].Time {
			i = j
		}
	}
	c.history[i].Active = true
	return i
}

func (t *Tree) observe(kind string, n *Node) {
	t.opt.Metrics.transition(kind)
	t.opt.Metrics.treeShape(t.size, t.count)
	if t.opt.Verbose {
		t.logger.LogAttrs(t.opt.Context, slog.LevelDebug, "undotree: "+kind,
			slog.String("doc", t.id),
			slog.Uint64("node", uint64(n.id)),
			slog.Int64("size", t.size),
			slog.Int("count", t.count))
	}
}

// Verify checks every structural invariant and cache of the tree.
func (t *Tree) Verify() error {
	if t.root == nil || t.root.parent != nil {
		return structErrf("verify", 0, "root missing or has a parent")
	}
	seen := make(map[*Node]bool, t.count)
	var size int64
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			return structErrf("verify", n.id, "node reached twice")
		}
		seen[n] = true
		if t.nodes[n.id] != n {
			return structErrf("verify", n.id, "node not registered")
		}
		if len(n.children) > 0 && (n.active < 0 || n.active >= len(n.children)) {
			return structErrf("verify", n.id, "active index %d out of range [0, %d)", n.active, len(n.children))
		}
		if sz := n.undo.Size() + n.redo.Size(); sz != n.size {
			return structErrf("verify", n.id, "cached size %d, actual %d", n.size, sz)
		}
		var active int
		for _, s := range n.history {
			if s.Active {
				active++
			}
		}
		if active > 1 {
			return structErrf("verify", n.id, "%d active stamps", active)
		}
		size += int64(n.size)
		for _, c := range n.children {
			if c.parent != n {
				return structErrf("verify", c.id, "parent link does not match")
			}
			stack = append(stack, c)
		}
	}
	if !seen[t.current] {
		return structErrf("verify", t.current.id, "current node unreachable from root")
	}
	if len(seen) != t.count || len(t.nodes) != t.count {
		return structErrf("verify", 0, "count %d, reachable %d, registered %d", t.count, len(seen), len(t.nodes))
	}
	if size != t.size {
		return structErrf("verify", 0, "cached size %d, actual %d", t.size, size)
	}
	for name, n := range t.registers {
		if !seen[n] || n.register != name {
			return structErrf("verify", n.id, "register %q is stale", name)
		}
	}
	return nil
}
