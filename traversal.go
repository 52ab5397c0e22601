package undotree

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

type direction int

const (
	undoDir direction = iota
	redoDir
)

func (d direction) String() string {
	if d == undoDir {
		return "undo"
	}
	return "redo"
}

// Undo moves one step toward the root along the current branch.
func (t *Tree) Undo() error {
	return t.UndoN(1)
}

// Redo moves one step down the active branch.
func (t *Tree) Redo() error {
	return t.RedoN(1)
}

// UndoN undoes up to n steps. It fails only when not even one step was
// possible.
func (t *Tree) UndoN(n int) error {
	return t.classic(undoDir, n)
}

// RedoN redoes up to n steps. It fails only when not even one step was
// possible.
func (t *Tree) RedoN(n int) error {
	return t.classic(redoDir, n)
}

func (t *Tree) classic(dir direction, n int) error {
	if n < 1 {
		return structErrf(dir.String(), t.current.id, "step count %d is not positive", n)
	}
	start := t.current
	var done []driveStep
	for len(done) < n {
		var err error
		st := driveStep{redo: dir == redoDir, parent: t.current, oldActive: t.current.active}
		if dir == undoDir {
			err = t.undoStep()
		} else {
			err = t.redoStep()
		}
		if errors.Is(err, ErrNoFurtherUndo) || errors.Is(err, ErrNoFurtherRedo) {
			if len(done) == 0 {
				return err
			}
			break
		} else if err != nil {
			return t.rollback(done, err)
		}
		done = append(done, st)
	}
	t.previous = start
	t.moveTo(t.current, t.nextTime(1))
	t.observe(dir.String(), t.current)
	return nil
}

// SwitchBranch selects which child the next redo descends into. The current
// node must be a branch point.
func (t *Tree) SwitchBranch(index int) error {
	c := t.current
	if len(c.children) < 2 {
		return structErrf("switch branch", c.id, "not a branch point")
	}
	if index < 0 || index >= len(c.children) {
		return structErrf("switch branch", c.id, "branch %d out of range [0, %d)", index, len(c.children))
	}
	c.active = index
	c.retagActive()
	return nil
}

// undoStep applies the current node's undo changeset and moves to the parent.
// It does not stamp the visit.
func (t *Tree) undoStep() error {
	n := t.current
	if n.parent == nil {
		return ErrNoFurtherUndo
	}
	redo, err := t.doc.Apply(t.replayable(n, undoDir))
	if err != nil {
		return fmt.Errorf("undotree: undo node %d: %w", n.id, err)
	}
	t.setRedo(n, redo)
	n.region = nil
	n.parent.region = nil
	t.current = n.parent
	return nil
}

// redoStep applies the active child's redo changeset and moves into it.
// It does not stamp the visit.
func (t *Tree) redoStep() error {
	p := t.current
	if len(p.children) == 0 {
		return ErrNoFurtherRedo
	}
	n := p.children[p.active]
	if n.redo == nil && len(n.undo) > 0 {
		return structErrf("redo", n.id, "node has no redo record")
	}
	undo, err := t.doc.Apply(t.replayable(n, redoDir))
	if err != nil {
		return fmt.Errorf("undotree: redo node %d: %w", n.id, err)
	}
	t.setUndo(n, undo)
	n.region = nil
	p.region = nil
	t.current = n
	return nil
}

// replayable returns the changeset to apply for moving across n, after
// dropping records of markers that no longer exist.
func (t *Tree) replayable(n *Node, dir direction) ChangeSet {
	cs := n.undo
	if dir == redoDir {
		cs = n.redo
	}
	purged, dropped := cs.purge(t.opt.Markers)
	if dropped == 0 {
		return cs
	}
	if dir == undoDir {
		t.setUndo(n, purged)
	} else {
		t.setRedo(n, purged)
	}
	t.logger.LogAttrs(t.opt.Context, slog.LevelWarn, "undotree: dropped dangling marker records",
		slog.String("doc", t.id),
		slog.Uint64("node", uint64(n.id)),
		slog.Int("dropped", dropped))
	return purged
}

type driveStep struct {
	redo      bool
	parent    *Node
	oldActive int
}

// driveTo moves the document to target through classic transitions,
// switching branches on the way down. On failure the document and the tree
// are moved back to where they started.
func (t *Tree) driveTo(target *Node) error {
	if t.nodes[target.id] != target {
		return structErrf("move", target.id, "node is not in the tree")
	}
	up, down := t.pathTo(target)
	var done []driveStep
	for i := 0; i < up; i++ {
		if err := t.undoStep(); err != nil {
			return t.rollback(done, err)
		}
		done = append(done, driveStep{})
	}
	for _, c := range down {
		p := c.parent
		st := driveStep{redo: true, parent: p, oldActive: p.active}
		p.active = p.childIndex(c)
		if err := t.redoStep(); err != nil {
			p.active = st.oldActive
			return t.rollback(done, err)
		}
		done = append(done, st)
	}
	return nil
}

func (t *Tree) rollback(done []driveStep, cause error) error {
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		var err error
		if st.redo {
			err = t.undoStep()
			st.parent.active = st.oldActive
		} else {
			err = t.redoStep()
		}
		if err != nil {
			t.logger.LogAttrs(t.opt.Context, slog.LevelError, "undotree: rollback failed",
				slog.String("doc", t.id),
				slog.Uint64("node", uint64(t.current.id)),
				slog.Any("err", err))
			return errors.Join(cause, err)
		}
	}
	return cause
}

// pathTo returns how many undo steps lead from the current node to the
// common ancestor with target, and the nodes to redo into from there.
func (t *Tree) pathTo(target *Node) (int, []*Node) {
	depth := make(map[*Node]int)
	d := 0
	for n := t.current; n != nil; n = n.parent {
		depth[n] = d
		d++
	}
	var down []*Node
	n := target
	for {
		if up, ok := depth[n]; ok {
			slices.Reverse(down)
			return up, down
		}
		down = append(down, n)
		n = n.parent
	}
}

// stampRef addresses one stamp of the whole-tree timeline.
type stampRef struct {
	node *Node
	idx  int
	time int64
}

// timeline flattens every stamp of the tree in chronological order.
func (t *Tree) timeline() []stampRef {
	var seq []stampRef
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i, s := range n.history {
			seq = append(seq, stampRef{n, i, s.Time})
		}
		stack = append(stack, n.children...)
	}
	slices.SortFunc(seq, func(a, b stampRef) int {
		if a.time != b.time {
			if a.time < b.time {
				return -1
			}
			return 1
		}
		if a.node.id != b.node.id {
			if a.node.id < b.node.id {
				return -1
			}
			return 1
		}
		return a.idx - b.idx
	})
	return seq
}

// SemiLinearUndo steps n visits back in wall-clock order, across branches.
func (t *Tree) SemiLinearUndo(n int) error {
	return t.semiLinear(undoDir, n)
}

// SemiLinearRedo steps n visits forward in wall-clock order, across branches.
func (t *Tree) SemiLinearRedo(n int) error {
	return t.semiLinear(redoDir, n)
}

func (t *Tree) semiLinear(dir direction, n int) error {
	if n < 1 {
		return structErrf("semi-linear "+dir.String(), t.current.id, "step count %d is not positive", n)
	}
	active := t.ensureActive()
	seq := t.timeline()
	i := slices.IndexFunc(seq, func(r stampRef) bool { return r.node == t.current && r.idx == active })
	if i < 0 {
		panic("undotree: active stamp missing from timeline")
	}
	j := i + n
	if dir == undoDir {
		j = i - n
	}
	clamped := false
	if j < 0 {
		j, clamped = 0, true
	} else if j >= len(seq) {
		j, clamped = len(seq)-1, true
	}
	target := seq[j]
	if j == i || (clamped && target.node == t.current) {
		if dir == undoDir {
			return ErrNoFurtherUndo
		}
		return ErrNoFurtherRedo
	}

	start := t.current
	if target.node != start {
		if err := t.driveTo(target.node); err != nil {
			return err
		}
	}
	t.previous = start
	start.clearActive()
	target.node.clearActive()
	target.node.history[target.idx].Active = true
	t.observe("semi-linear "+dir.String(), t.current)
	return nil
}

// SaveToRegister binds name to the current node.
func (t *Tree) SaveToRegister(name string) {
	if old, ok := t.registers[name]; ok {
		old.register = ""
	}
	c := t.current
	if c.register != "" {
		delete(t.registers, c.register)
	}
	c.register = name
	t.registers[name] = c
}

// RestoreFromRegister moves the document to the node bound to name.
func (t *Tree) RestoreFromRegister(name string) error {
	n, ok := t.registers[name]
	if !ok {
		return fmt.Errorf("undotree: %q: %w", name, ErrUnknownRegister)
	}
	if n == t.current {
		return nil
	}
	start := t.current
	if err := t.driveTo(n); err != nil {
		return err
	}
	t.previous = start
	t.moveTo(n, t.nextTime(1))
	t.observe("register", n)
	return nil
}

func (t *Tree) ClearRegister(name string) {
	if n, ok := t.registers[name]; ok {
		n.register = ""
		delete(t.registers, name)
	}
}

// Registers returns the bound register names and their nodes.
func (t *Tree) Registers() map[string]NodeID {
	out := make(map[string]NodeID, len(t.registers))
	for name, n := range t.registers {
		out[name] = n.id
	}
	return out
}
