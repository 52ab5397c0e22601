package undotree

import (
	"fmt"
	"slices"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpChangeSets
	DumpHistory
	DumpRegions
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the tree as indented text, one node per line, for debugging
// and for the inspection CLI. The current node is marked with "*".
func (t *Tree) Dump(f DumpFlags) string {
	var buf strings.Builder
	labels := Labels(t)
	if f.Contains(DumpHeader) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s (%d nodes, %d bytes, current #%d)\n", t.id, t.count, t.size, t.current.id)
	}
	if f.Contains(DumpStats) {
		s := t.Stats()
		fmt.Fprintf(&buf, "stats: leaves = %d, branch_points = %d, depth = %d, stamps = %d, registers = %d, avg_node_size = %d\n", s.Leaves, s.BranchPoints, s.Depth, s.Stamps, s.Registers, s.AverageNodeSize())
	}
	if f.Contains(DumpHeader) || f.Contains(DumpStats) {
		fmt.Fprintln(&buf, dumpSep2)
	}

	type frame struct {
		n      *Node
		prefix string
		branch string
	}
	stack := []frame{{n: t.root}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.dumpNode(&buf, fr.prefix, f, fr.n, fr.branch, labels)

		label := labels[fr.n.id]
		for i := len(fr.n.children) - 1; i >= 0; i-- {
			var branch string
			if label != "" {
				branch = fmt.Sprintf("%s%d", label, i+1)
			}
			stack = append(stack, frame{fr.n.children[i], fr.prefix + indentStep, branch})
		}
	}
	return buf.String()
}

func (t *Tree) dumpNode(w *strings.Builder, prefix string, f DumpFlags, n *Node, branch string, labels map[NodeID]string) {
	w.WriteString(prefix)
	if branch != "" {
		fmt.Fprintf(w, "%s: ", branch)
	}
	fmt.Fprintf(w, "#%d", n.id)
	if n == t.current {
		w.WriteString(" *")
	}
	if label := labels[n.id]; label != "" {
		fmt.Fprintf(w, " [%s -> %s%d]", label, label, n.active+1)
	}
	if n.register != "" {
		fmt.Fprintf(w, " reg=%q", n.register)
	}
	fmt.Fprintf(w, " size=%d", n.size)
	if f.Contains(DumpChangeSets) && n.parent != nil {
		fmt.Fprintf(w, " undo=%v", n.undo)
		if n.redo != nil {
			fmt.Fprintf(w, " redo=%v", n.redo)
		}
	}
	if f.Contains(DumpHistory) && len(n.history) > 0 {
		w.WriteString(" history=")
		for i, s := range n.history {
			if i > 0 {
				w.WriteByte(',')
			}
			fmt.Fprintf(w, "%d", s.Time)
			if s.Active {
				w.WriteByte('!')
			}
			if len(n.children) > 1 {
				fmt.Fprintf(w, "/%d", s.Branch)
			}
		}
	}
	if f.Contains(DumpRegions) && n.region != nil {
		if n.region.Undo != nil {
			fmt.Fprintf(w, " undo-region=[%d,%d)", n.region.Undo.Beg, n.region.Undo.End)
		}
		if n.region.Redo != nil {
			fmt.Fprintf(w, " redo-region=[%d,%d)", n.region.Redo.Beg, n.region.Redo.End)
		}
	}
	w.WriteByte('\n')
}

// Labels assigns a short label to every branch point, in depth-first order
// from the root: "a", "b", ..., "z", "aa", "ab", and so on. Labels only reads
// the tree.
func Labels(t *Tree) map[NodeID]string {
	labels := make(map[NodeID]string)
	var next int
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(n.children) > 1 {
			labels[n.id] = branchLabel(next)
			next++
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return labels
}

func branchLabel(i int) string {
	var b []byte
	for {
		b = append(b, byte('a'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	slices.Reverse(b)
	return string(b)
}
