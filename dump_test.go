package undotree

import (
	"strconv"
	"strings"
	"testing"
)

func TestBranchLabel(t *testing.T) {
	tests := []struct {
		i    int
		want string
	}{
		{0, "a"},
		{1, "b"},
		{25, "z"},
		{26, "aa"},
		{27, "ab"},
		{51, "az"},
		{52, "ba"},
		{26 + 26*26, "aaa"},
	}
	for _, tt := range tests {
		if got := branchLabel(tt.i); got != tt.want {
			t.Errorf("branchLabel(%d) = %q, wanted %q", tt.i, got, tt.want)
		}
	}
}

func TestLabels(t *testing.T) {
	env, a, b, _, _ := setupABCD(t)
	env.ok(env.Tree.Undo())
	env.ok(env.Tree.Undo())
	env.typeText("e")

	labels := Labels(env.Tree)
	deepEqual(t, labels, map[NodeID]string{
		env.Tree.Root().ID(): "a",
		a.ID():               "b",
	})
	if _, ok := labels[b.ID()]; ok {
		t.Fatalf("non-branching node got a label")
	}
}

func TestDump(t *testing.T) {
	env, _, _, _, d := setupABCD(t)
	out := env.Tree.Dump(DumpAll)
	t.Log("\n" + out)
	for _, want := range []string{
		env.Tree.DocumentID(),
		"#" + strconv.Itoa(int(d.ID())) + " *",
		"[a -> a2]",
		"a1: ",
		"a2: ",
		"stats: leaves = 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump output lacks %q", want)
		}
	}
	if strings.Count(env.Tree.Dump(0), "\n") != env.Tree.Count() {
		t.Fatalf("bare Dump is not one line per node")
	}
}
