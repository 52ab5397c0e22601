package undotree

import (
	"fmt"
	"log/slog"
)

// UndoInRegion undoes the most recent visible change that lies entirely
// within [beg, end), leaving changes outside it alone. Existing history is
// never rewritten: the path from the point where the change was found down
// to the current node is copied into a new branch with the change removed,
// and the lowest copy becomes current. Its only child holds the removed
// change, so Redo brings it back.
//
// Nodes left off the current path this way are made redoable first, so the
// original branch stays reachable with SwitchBranch.
//
// Calling it again right after, with the same region, replaces that branch
// with one that leaves out one more change instead of nesting another one.
func (t *Tree) UndoInRegion(beg, end int) error {
	region := Span{beg, end}
	if beg > end {
		return structErrf("undo in region", t.current.id, "region [%d, %d) is inverted", beg, end)
	}
	if frag, ok := t.carvedFragment(region); ok {
		return t.extendUndoCarve(region, frag)
	}
	c := t.current
	cv, ok := collect(undoDir, c, region, 1)
	if ok {
		var err error
		if cv, ok, err = t.settled(cv, c, region, 1); err != nil {
			return fmt.Errorf("undotree: undo in region: %w", err)
		}
	}
	if !ok {
		t.opt.Metrics.carve(undoDir, "failed")
		return ErrNoFurtherUndoInRegion
	}
	redo, err := t.doc.Apply(cv.captured)
	if err != nil {
		return fmt.Errorf("undotree: undo in region: %w", err)
	}
	t.previous = c
	leaf := t.plant(cv, redo, region, c)
	t.opt.Metrics.carve(undoDir, "fresh")
	t.traceCarve(undoDir, region, leaf, false)
	return nil
}

// RedoInRegion is the mirror of UndoInRegion: it replays the next visible
// change of the active branch that lies within [beg, end), as a new child
// of the current node.
func (t *Tree) RedoInRegion(beg, end int) error {
	region := Span{beg, end}
	if beg > end {
		return structErrf("redo in region", t.current.id, "region [%d, %d) is inverted", beg, end)
	}
	c := t.current
	if c.region.matches(redoDir, region) && c.IsLeaf() && c.parent != nil {
		return t.extendRedoCarve(region)
	}
	if len(c.children) == 0 {
		t.opt.Metrics.carve(redoDir, "failed")
		return ErrNoFurtherRedoInRegion
	}
	prior := c.active
	cv, ok := collect(redoDir, c.children[c.active], region, 1)
	if !ok {
		t.opt.Metrics.carve(redoDir, "failed")
		return ErrNoFurtherRedoInRegion
	}

	undo, err := t.doc.Apply(cv.captured)
	if err != nil {
		return fmt.Errorf("undotree: redo in region: %w", err)
	}
	n := t.newNode(undo, cv.captured)
	n.region = &RegionMarks{Redo: &region, PriorActive: prior}
	t.previous = c
	t.attach(c, n)
	t.moveTo(n, t.nextTime(1))
	t.opt.Metrics.carve(redoDir, "fresh")
	t.traceCarve(redoDir, region, n, false)
	return nil
}

// plant builds the carved branch for cv and makes its bottom current. The
// document must already be in the state the branch ends in. origin is the
// node the region changes were collected from; the leaf below the new
// current node stands for its state.
func (t *Tree) plant(cv *carving, redo ChangeSet, region Span, origin *Node) *Node {
	ts := t.nextTime(2)
	leaf := t.newNode(cv.captured, redo)
	leaf.history = []Stamp{{Time: ts - stampEpsilon}}

	stop := cv.path[len(cv.path)-1]
	graft := stop.parent
	leaf.region = &RegionMarks{Undo: &region, Origin: origin.id, Graft: graft.id}

	top := leaf
	var bottom *Node
	for i, n := range cv.path {
		if len(cv.rest[i]) == 0 {
			continue
		}
		top = must(t.GrowBackward(top, cv.rest[i], nil, n.latest()))
		if bottom == nil {
			bottom = top
			bottom.history = nil
		}
	}
	t.attach(graft, top)
	if bottom == nil {
		bottom = graft
	}
	t.moveTo(bottom, ts)
	return leaf
}

// settled makes sure every node between the current one and the node the
// carved branch will hang from can be redone once the branch takes over the
// current path. Nodes recorded since they were last undone carry no redo
// changeset; for those the document walks up to the graft point and back,
// and cv is collected again from start.
func (t *Tree) settled(cv *carving, start *Node, region Span, want int) (*carving, bool, error) {
	graft := cv.path[len(cv.path)-1].parent
	n := t.current
	for n != nil && n != graft && (n.redo != nil || len(n.undo) == 0) {
		n = n.parent
	}
	if n == nil || n == graft {
		return cv, true, nil
	}
	c := t.current
	if err := t.driveTo(graft); err != nil {
		return nil, false, err
	}
	if err := t.driveTo(c); err != nil {
		t.previous = c
		t.moveTo(t.current, t.nextTime(1))
		return nil, false, err
	}
	cv, ok := collect(undoDir, start, region, want)
	return cv, ok, nil
}

// carvedFragment reports the branch left by the previous UndoInRegion when
// it may be extended for region: the current node's active child is the
// leaf carrying matching marks, and the copied path above it is still
// unbranched and unbound. The returned nodes are ordered leaf first.
func (t *Tree) carvedFragment(region Span) ([]*Node, bool) {
	c := t.current
	if len(c.children) == 0 {
		return nil, false
	}
	leaf := c.children[c.active]
	m := leaf.region
	if !m.matches(undoDir, region) || !leaf.IsLeaf() || leaf.redo == nil {
		return nil, false
	}
	if origin, ok := t.nodes[m.Origin]; !ok || origin == leaf {
		return nil, false
	}
	frag := []*Node{leaf}
	for n := c; n.id != m.Graft; n = n.parent {
		if n.parent == nil || len(n.children) != 1 || n.register != "" {
			return nil, false
		}
		frag = append(frag, n)
	}
	return frag, true
}

// extendUndoCarve rebuilds the branch described by frag so that it leaves
// out one more change of the region.
func (t *Tree) extendUndoCarve(region Span, frag []*Node) error {
	leaf := frag[0]
	origin := t.nodes[leaf.region.Origin]
	want := leaf.undo.VisibleCount() + 1
	cv, ok := collect(undoDir, origin, region, want)
	if ok {
		var err error
		if cv, ok, err = t.settled(cv, origin, region, want); err != nil {
			return fmt.Errorf("undotree: undo in region: %w", err)
		}
	}
	if !ok {
		t.opt.Metrics.carve(undoDir, "failed")
		return ErrNoFurtherUndoInRegion
	}

	back, err := t.doc.Apply(leaf.redo)
	if err != nil {
		return fmt.Errorf("undotree: undo in region: %w", err)
	}
	redo, err := t.doc.Apply(cv.captured)
	if err != nil {
		t.restoreAfter(leaf, back)
		return fmt.Errorf("undotree: undo in region: %w", err)
	}

	reg := leaf.register
	t.previous = t.current
	for _, n := range frag {
		t.unlink(n)
	}
	nl := t.plant(cv, redo, region, origin)
	if reg != "" {
		nl.register = reg
		t.registers[reg] = nl
	}
	t.opt.Metrics.carve(undoDir, "repeat")
	t.traceCarve(undoDir, region, nl, true)
	return nil
}

// extendRedoCarve replaces the current carved leaf with one that captures
// one more visible change from the same region.
func (t *Tree) extendRedoCarve(region Span) error {
	n := t.current
	p := n.parent
	prior := n.region.PriorActive
	if prior < 0 || prior >= len(p.children) || p.children[prior] == n {
		t.opt.Metrics.carve(redoDir, "failed")
		return ErrNoFurtherRedoInRegion
	}
	cv, ok := collect(redoDir, p.children[prior], region, n.redo.VisibleCount()+1)
	if !ok {
		t.opt.Metrics.carve(redoDir, "failed")
		return ErrNoFurtherRedoInRegion
	}

	back, err := t.doc.Apply(n.undo)
	if err != nil {
		return fmt.Errorf("undotree: redo in region: %w", err)
	}
	undo, err := t.doc.Apply(cv.captured)
	if err != nil {
		t.restoreAfter(n, back)
		return fmt.Errorf("undotree: redo in region: %w", err)
	}

	reg := n.register
	t.current = p
	t.previous = nil
	k := p.childIndex(n)
	t.unlink(n)
	if len(p.children) > 0 {
		if prior > k {
			prior--
		}
		p.active = min(max(prior, 0), len(p.children)-1)
		p.retagActive()
	}

	m := t.newNode(undo, cv.captured)
	m.region = &RegionMarks{Redo: &region, PriorActive: p.active}
	if reg != "" {
		m.register = reg
		t.registers[reg] = m
	}
	t.attach(p, m)
	t.moveTo(m, t.nextTime(1))
	t.opt.Metrics.carve(redoDir, "repeat")
	t.traceCarve(redoDir, region, m, true)
	return nil
}

// restoreAfter puts the document back after a failed second step of an
// extension. A failure here leaves the document out of step with the tree,
// so it is logged loudly.
func (t *Tree) restoreAfter(n *Node, back ChangeSet) {
	if _, err := t.doc.Apply(back); err != nil {
		t.logger.LogAttrs(t.opt.Context, slog.LevelError, "undotree: rollback failed",
			slog.String("doc", t.id),
			slog.Uint64("node", uint64(n.id)),
			slog.Any("err", err))
	}
}

func (t *Tree) traceCarve(dir direction, region Span, n *Node, repeat bool) {
	if !t.opt.Verbose {
		return
	}
	t.logger.LogAttrs(t.opt.Context, slog.LevelDebug, "undotree: "+dir.String()+" in region",
		slog.String("doc", t.id),
		slog.Uint64("node", uint64(n.id)),
		slog.Uint64("current", uint64(t.current.id)),
		slog.Int("beg", region.Beg),
		slog.Int("end", region.End),
		slog.Int("edits", len(n.redo)),
		slog.Bool("repeat", repeat))
}

// carving is the outcome of walking changesets away from the current state
// and separating the edits inside a region from the rest.
type carving struct {
	// captured holds the region edits, in order, positioned to apply to the
	// state the walk started from.
	captured ChangeSet
	// path lists the walked nodes in walk order; the last one is where
	// collection stopped.
	path []*Node
	// rest[i] is what is left of path[i]'s changeset, positioned to apply
	// after captured has been applied. nil when nothing is left.
	rest []ChangeSet
}

// collect walks changesets away from the current state, starting at start,
// and gathers edits falling inside region until want visible edits have been
// captured. collect never mutates the tree.
//
// For undo the walk follows undo changesets upward from start. For redo it
// follows redo changesets down the active branch, start being the first
// child to redo into.
func collect(dir direction, start *Node, region Span, want int) (*carving, bool) {
	type left struct {
		node  int
		edit  Edit
		after bool
		// captured is how many region edits precede this one.
		captured int
	}
	var (
		cv      carving
		shifts  []int
		rest    []left
		visible int
		offset  int
		rs, re  = region.Beg, region.End
	)
	done := func(i int, cs ChangeSet, from int) *carving {
		for _, e := range cs[from:] {
			rest = append(rest, left{node: i, edit: e, captured: len(shifts)})
		}
		// A remaining edit beyond the region lands further along once every
		// region edit that originally followed it has been applied first.
		suffix := make([]int, len(shifts)+1)
		for k := len(shifts) - 1; k >= 0; k-- {
			suffix[k] = suffix[k+1] + shifts[k]
		}
		cv.rest = make([]ChangeSet, len(cv.path))
		for _, l := range rest {
			e := l.edit
			if l.after {
				e = e.Moved(suffix[l.captured])
			}
			cv.rest[l.node] = append(cv.rest[l.node], e)
		}
		return &cv
	}

	for n := start; n != nil; {
		var cs ChangeSet
		var next *Node
		if dir == undoDir {
			if n.parent == nil {
				break
			}
			cs, next = n.undo, n.parent
		} else {
			if n.redo == nil && len(n.undo) > 0 {
				break
			}
			cs, next = n.redo, n.ActiveChild()
		}
		i := len(cv.path)
		cv.path = append(cv.path, n)
		for j, e := range cs {
			beg, end, known := e.Span()
			switch {
			case known && beg >= rs && end <= re:
				cv.captured = append(cv.captured, e.Moved(offset))
				shifts = append(shifts, e.Shift())
				re += e.Shift()
				if e.Visible() {
					visible++
					if visible == want {
						return done(i, cs, j+1), true
					}
				}
			case known && end <= rs:
				s := e.Shift()
				rs += s
				re += s
				offset -= s
				rest = append(rest, left{node: i, edit: e, captured: len(shifts)})
			case known && beg >= re:
				rest = append(rest, left{node: i, edit: e, after: true, captured: len(shifts)})
			default:
				return nil, false
			}
		}
		n = next
	}
	return nil, false
}
