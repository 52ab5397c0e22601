package undotree

import (
	"encoding/json"
)

type Stats struct {
	Size  int64
	Count int

	Leaves       int
	BranchPoints int
	Depth        int
	Stamps       int
	Registers    int
}

func (s Stats) String() string {
	return string(must(json.Marshal(s)))
}

// AverageNodeSize returns the mean changeset bytes held per node.
func (s *Stats) AverageNodeSize() int64 {
	if s.Count == 0 {
		return 0
	}
	return s.Size / int64(s.Count)
}

func (t *Tree) Stats() Stats {
	result := Stats{
		Size:      t.size,
		Count:     t.count,
		Registers: len(t.registers),
	}
	type frame struct {
		n     *Node
		depth int
	}
	stack := []frame{{t.root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		result.Depth = max(result.Depth, f.depth)
		result.Stamps += len(f.n.history)
		switch len(f.n.children) {
		case 0:
			result.Leaves++
		case 1:
		default:
			result.BranchPoints++
		}
		for _, c := range f.n.children {
			stack = append(stack, frame{c, f.depth + 1})
		}
	}
	return result
}
