package undotree

import (
	"log/slog"
)

// DiscardStats summarizes one run of the discard policy.
type DiscardStats struct {
	Nodes     int
	Bytes     int64
	Wholesale bool
}

// Discard permanently removes n, which must be either a leaf or a root with
// a single child, and returns the next node that can be discarded cheaply,
// or nil. Discarding the root promotes its child to root.
func (t *Tree) Discard(n *Node) (*Node, error) {
	if t.nodes[n.id] != n {
		return nil, structErrf("discard", n.id, "node is not in the tree")
	}
	if n == t.current {
		return nil, structErrf("discard", n.id, "cannot discard the current node")
	}
	if n.register != "" {
		return nil, structErrf("discard", n.id, "node is bound to register %q", n.register)
	}
	if n == t.root {
		if len(n.children) != 1 {
			return nil, structErrf("discard", n.id, "root has %d children", len(n.children))
		}
		c := n.children[0]
		if c == t.current {
			return nil, structErrf("discard", n.id, "child of root is current")
		}
		t.promote(c)
		return t.nextCandidate(nil), nil
	}
	if len(n.children) > 0 {
		return nil, structErrf("discard", n.id, "node has %d children", len(n.children))
	}
	p := n.parent
	t.unlink(n)
	return t.nextCandidate(p), nil
}

func (t *Tree) promote(c *Node) {
	old := t.root
	old.children = nil
	c.parent = nil
	t.unregister(old)
	t.root = c
	t.setUndo(c, nil)
	t.setRedo(c, nil)
	c.region = nil
}

func (t *Tree) nextCandidate(parent *Node) *Node {
	if parent != nil && parent != t.root && t.discardable(parent) {
		return parent
	}
	if t.discardable(t.root) {
		return t.root
	}
	return nil
}

func (t *Tree) discardable(n *Node) bool {
	if n == t.current || n.register != "" {
		return false
	}
	if n == t.root {
		return len(n.children) == 1 && n.children[0] != t.current
	}
	return len(n.children) == 0
}

// candidate returns the best node to discard next. The root goes first while
// it has a single child; otherwise the leaf visited longest ago.
func (t *Tree) candidate() *Node {
	if t.discardable(t.root) {
		return t.root
	}
	var best *Node
	var bestTime int64
	for _, n := range t.nodes {
		if n == t.root || !t.discardable(n) {
			continue
		}
		lt := n.latest()
		if best == nil || lt < bestTime || (lt == bestTime && n.id < best.id) {
			best, bestTime = n, lt
		}
	}
	return best
}

// DiscardHistory enforces the tree's limits. Nothing happens below the soft
// limit. Above it, nodes are discarded oldest first down to the strong limit
// and then, following the cheap chain of next candidates, down to the soft
// limit. If the tree is still above the outer limit, the whole history is
// dropped when the outer policy allows it, and ErrCapacityExceeded is
// returned otherwise.
func (t *Tree) DiscardHistory() (DiscardStats, error) {
	var st DiscardStats
	lim := t.opt.Limits
	if soft, _, _ := lim.exceeded(t.size, t.count); !soft {
		return st, nil
	}
	size0, count0 := t.size, t.count

	for {
		if _, strong, _ := lim.exceeded(t.size, t.count); !strong {
			break
		}
		n := t.candidate()
		if n == nil {
			break
		}
		if _, err := t.Discard(n); err != nil {
			return st, err
		}
	}
	var next *Node
	for {
		if soft, _, _ := lim.exceeded(t.size, t.count); !soft {
			break
		}
		if next == nil {
			if next = t.candidate(); next == nil {
				break
			}
		}
		var err error
		if next, err = t.Discard(next); err != nil {
			return st, err
		}
	}
	st.Nodes, st.Bytes = count0-t.count, size0-t.size
	t.opt.Metrics.discarded(st.Nodes, st.Bytes)

	if _, _, outer := lim.exceeded(t.size, t.count); outer {
		stats := t.Stats()
		confirmed := t.opt.OuterPolicy == DiscardSilently || (t.opt.Confirm != nil && t.opt.Confirm(stats))
		if !confirmed {
			t.logger.LogAttrs(t.opt.Context, slog.LevelWarn, "undotree: history above outer limit",
				slog.String("doc", t.id),
				slog.Int64("size", t.size),
				slog.Int("count", t.count))
			return st, ErrCapacityExceeded
		}
		st.Nodes += t.count - 1
		st.Bytes += t.size
		st.Wholesale = true
		t.opt.Metrics.discarded(t.count-1, t.size)
		t.DiscardAll()
	}

	if st.Nodes > 0 {
		t.logger.LogAttrs(t.opt.Context, slog.LevelInfo, "undotree: discarded history",
			slog.String("doc", t.id),
			slog.Int("nodes", st.Nodes),
			slog.Int64("bytes", st.Bytes),
			slog.Int64("size", t.size),
			slog.Int("count", t.count))
	}
	return st, nil
}

// DiscardAll drops the whole history. The tree is left with a single root
// standing for the present document content, and every register binding is
// invalidated.
func (t *Tree) DiscardAll() {
	t.logger.LogAttrs(t.opt.Context, slog.LevelWarn, "undotree: discarding entire history",
		slog.String("doc", t.id),
		slog.Int64("size", t.size),
		slog.Int("count", t.count))
	for _, n := range t.registers {
		n.register = ""
	}
	clear(t.registers)
	clear(t.nodes)
	t.size, t.count = 0, 0
	t.previous = nil
	t.root = t.newNode(nil, nil)
	t.adopt(t.root)
	t.current = t.root
	t.stampVisit(t.root, t.nextTime(1))
	t.opt.Metrics.wholesale()
	t.observe("discard all", t.root)
}
