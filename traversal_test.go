package undotree

import (
	"errors"
	"testing"
)

func TestUndoRedo(t *testing.T) {
	env := setup(t, "", Options{})
	tr := env.Tree
	root := tr.Root()
	a := env.typeText("a")
	b := env.typeText("b")

	env.ok(tr.Undo())
	env.at(a)
	env.text("a")
	deepEqual(t, b.RedoChangeSet(), ChangeSet{Deletion("b", 1)})

	env.ok(tr.Undo())
	env.at(root)
	env.text("")
	isErr(t, tr.Undo(), ErrNoFurtherUndo)

	env.ok(tr.Redo())
	env.ok(tr.Redo())
	env.at(b)
	env.text("ab")
	isErr(t, tr.Redo(), ErrNoFurtherRedo)
	env.verify()
}

func TestUndoN_StopsAtRoot(t *testing.T) {
	env := setup(t, "", Options{})
	tr := env.Tree
	env.typeText("a")
	env.typeText("b")
	env.ok(tr.UndoN(10))
	env.at(tr.Root())
	env.text("")
	isErr(t, tr.UndoN(1), ErrNoFurtherUndo)
	isStructural(t, tr.UndoN(0))
}

func TestUndoRedo_Inverse(t *testing.T) {
	env := setup(t, "hello world", Options{})
	tr := env.Tree
	m := env.Buf.AddMarker(8)
	env.edit(func(b *Buffer) error { return b.SetProperty(0, 5, "face", "bold") })
	env.edit(func(b *Buffer) error { return b.Delete(3, 9) })
	env.insert(3, "p, w")
	env.text("help, wld")

	texts := []string{"hello world"}
	for tr.CanUndo() {
		env.ok(tr.Undo())
		texts = append(texts, env.Buf.String())
	}
	deepEqual(t, texts, []string{"hello world", "helld", "hello world", "hello world"})
	deepEqual(t, env.Buf.Property(1, "face"), "")
	if pos, _ := env.Buf.MarkerPos(m); pos != 8 {
		t.Fatalf("marker at %d after undo, wanted 8", pos)
	}

	hash := env.Buf.ContentHash()
	env.ok(tr.RedoN(3))
	env.text("help, wld")
	deepEqual(t, env.Buf.Property(1, "face"), "bold")
	env.ok(tr.UndoN(3))
	deepEqual(t, env.Buf.ContentHash(), hash)
	if pos, _ := env.Buf.MarkerPos(m); pos != 8 {
		t.Fatalf("marker at %d after second undo, wanted 8", pos)
	}
	env.verify()
}

func TestUndo_PreservesBranches(t *testing.T) {
	env := setup(t, "", Options{})
	tr := env.Tree
	a := env.typeText("a")
	b := env.typeText("b")
	env.ok(tr.Undo())
	c := env.typeText("c")
	env.ok(tr.Undo())

	env.at(a)
	deepEqual(t, tr.BranchCount(), 2)
	deepEqual(t, a.ActiveChild(), c)

	env.ok(tr.Redo())
	env.at(c)
	env.text("ac")
	env.ok(tr.Undo())

	env.ok(tr.SwitchBranch(0))
	env.ok(tr.Redo())
	env.at(b)
	env.text("ab")
	env.verify()
}

func TestSwitchBranch_Errors(t *testing.T) {
	env := setup(t, "", Options{})
	tr := env.Tree
	env.typeText("a")
	isStructural(t, tr.SwitchBranch(0))
	env.ok(tr.Undo())
	isStructural(t, tr.SwitchBranch(0)) // single child
	env.typeText("b")
	env.ok(tr.Undo())
	isStructural(t, tr.SwitchBranch(2))
	isStructural(t, tr.SwitchBranch(-1))
}

// Edits A, B, C; undo twice; edit D.
func setupABCD(t testing.TB) (env *testEnv, a, b, c, d *Node) {
	env = setup(t, "", Options{})
	a = env.typeText("a")
	b = env.typeText("b")
	c = env.typeText("c")
	env.ok(env.Tree.Undo())
	env.ok(env.Tree.Undo())
	d = env.typeText("d")
	env.text("ad")
	return
}

func TestClassicRedo_DoesNotReachAbandonedBranch(t *testing.T) {
	env, a, _, c, d := setupABCD(t)
	tr := env.Tree
	env.ok(tr.Undo())
	env.at(a)
	for tr.Redo() == nil {
		if tr.Current() == c {
			t.Fatalf("classic redo reached C")
		}
	}
	env.at(d)
}

func TestSemiLinear_CreationOrder(t *testing.T) {
	env, a, b, c, d := setupABCD(t)
	tr := env.Tree

	env.ok(tr.SemiLinearUndo(100))
	env.at(tr.Root())
	env.text("")
	isErr(t, tr.SemiLinearUndo(1), ErrNoFurtherUndo)

	var visited []*Node
	var texts []string
	for {
		err := tr.SemiLinearRedo(1)
		if errors.Is(err, ErrNoFurtherRedo) {
			break
		}
		env.ok(err)
		visited = append(visited, tr.Current())
		texts = append(texts, env.Buf.String())
		env.verify()
	}
	deepEqual(t, ids(visited), ids([]*Node{a, b, c, b, a, d}))
	deepEqual(t, texts, []string{"a", "ab", "abc", "ab", "a", "ad"})

	// semi-linear moves do not stamp
	deepEqual(t, len(tr.timeline()), 7)
}

func TestSemiLinear_Steps(t *testing.T) {
	env, a, _, c, d := setupABCD(t)
	tr := env.Tree

	env.ok(tr.SemiLinearUndo(1))
	env.at(a)
	env.ok(tr.SemiLinearUndo(2))
	env.at(c)
	env.text("abc")
	env.ok(tr.SemiLinearRedo(10))
	env.at(d)
	env.text("ad")
	isErr(t, tr.SemiLinearRedo(1), ErrNoFurtherRedo)
	isStructural(t, tr.SemiLinearRedo(0))
	env.verify()
}

func TestSemiLinear_ThenClassic(t *testing.T) {
	env, a, b, c, _ := setupABCD(t)
	tr := env.Tree
	env.ok(tr.SemiLinearUndo(3)) // past a and b, back to c
	env.at(c)
	env.ok(tr.Undo())
	env.at(b)
	env.text("ab")
	env.ok(tr.Undo())
	env.at(a)
	deepEqual(t, a.ActiveChild(), b)
	env.verify()
}

func TestRegisters(t *testing.T) {
	env := setup(t, "", Options{})
	tr := env.Tree
	a := env.typeText("a")
	tr.SaveToRegister("x")
	env.typeText("b")
	env.ok(tr.Undo())
	env.typeText("c")
	env.text("ac")

	env.ok(tr.RestoreFromRegister("x"))
	env.at(a)
	env.text("a")
	deepEqual(t, a.Register(), "x")
	deepEqual(t, tr.Registers(), map[string]NodeID{"x": a.ID()})

	env.ok(tr.RestoreFromRegister("x"))
	env.at(a)

	tr.SaveToRegister("y")
	deepEqual(t, a.Register(), "y")
	deepEqual(t, tr.Registers(), map[string]NodeID{"y": a.ID()})

	tr.ClearRegister("y")
	isErr(t, tr.RestoreFromRegister("y"), ErrUnknownRegister)
	deepEqual(t, a.Register(), "")
	env.verify()
}

func TestRestoreFromRegister_AcrossBranches(t *testing.T) {
	env, _, b, _, d := setupABCD(t)
	tr := env.Tree
	env.ok(tr.SemiLinearUndo(2)) // past a, back to b
	env.at(b)
	tr.SaveToRegister("r")
	env.ok(tr.SemiLinearRedo(10))
	env.at(d)

	env.ok(tr.RestoreFromRegister("r"))
	env.at(b)
	env.text("ab")
	env.verify()
}

// failingDoc wraps a Buffer and fails the n-th Apply call.
type failingDoc struct {
	*Buffer
	calls  int
	failAt int
}

func (d *failingDoc) Apply(cs ChangeSet) (ChangeSet, error) {
	d.calls++
	if d.calls == d.failAt {
		return nil, errors.New("host refused")
	}
	return d.Buffer.Apply(cs)
}

func TestDriveTo_RollsBackOnFailure(t *testing.T) {
	buf := NewBuffer("")
	doc := &failingDoc{Buffer: buf}
	clock := &testClock{now: testStart}
	tr := New(doc, Options{Now: clock.Now, Logger: testLogger(t), Markers: buf})
	rec := func(s string) *Node {
		if err := buf.Insert(buf.Len(), s); err != nil {
			t.Fatal(err)
		}
		if err := tr.Record(buf.Flush()); err != nil {
			t.Fatal(err)
		}
		return tr.Current()
	}
	a := rec("a")
	b := rec("b")
	if err := tr.Undo(); err != nil {
		t.Fatal(err)
	}
	c := rec("c")
	if err := tr.Undo(); err != nil {
		t.Fatal(err)
	}
	if err := tr.SwitchBranch(0); err != nil {
		t.Fatal(err)
	}
	if err := tr.Redo(); err != nil {
		t.Fatal(err)
	}
	if tr.Current() != b {
		t.Fatalf("current = #%d, wanted b", tr.Current().ID())
	}
	tr.SaveToRegister("b")
	if err := tr.Undo(); err != nil {
		t.Fatal(err)
	}
	if err := tr.SwitchBranch(1); err != nil {
		t.Fatal(err)
	}
	if err := tr.Redo(); err != nil {
		t.Fatal(err)
	}
	if tr.Current() != c {
		t.Fatalf("current = #%d, wanted c", tr.Current().ID())
	}

	// c -> a succeeds, a -> b fails, then a -> c is replayed.
	doc.calls, doc.failAt = 0, 2
	err := tr.RestoreFromRegister("b")
	if err == nil || errors.Is(err, ErrStructural) {
		t.Fatalf("err = %v, wanted host failure", err)
	}
	if tr.Current() != c {
		t.Fatalf("current = #%d after failed restore, wanted c", tr.Current().ID())
	}
	if got := buf.String(); got != "ac" {
		t.Fatalf("text = %q after failed restore, wanted %q", got, "ac")
	}
	if a.ActiveChild() != c {
		t.Fatalf("active branch not restored")
	}
	if err := tr.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestUndoN_RollsBackOnFailure(t *testing.T) {
	buf := NewBuffer("")
	doc := &failingDoc{Buffer: buf}
	tr := New(doc, Options{Logger: testLogger(t)})
	for _, s := range []string{"a", "b", "c"} {
		if err := buf.Insert(buf.Len(), s); err != nil {
			t.Fatal(err)
		}
		if err := tr.Record(buf.Flush()); err != nil {
			t.Fatal(err)
		}
	}
	c := tr.Current()
	doc.failAt = 3
	if err := tr.UndoN(3); err == nil {
		t.Fatalf("UndoN succeeded, wanted host failure")
	}
	if tr.Current() != c {
		t.Fatalf("current = #%d, wanted #%d", tr.Current().ID(), c.ID())
	}
	if got := buf.String(); got != "abc" {
		t.Fatalf("text = %q, wanted %q", got, "abc")
	}
}

func TestUndo_DropsDeadMarkerRecords(t *testing.T) {
	env := setup(t, "hello", Options{})
	tr := env.Tree
	m := env.Buf.AddMarker(2)
	n := env.edit(func(b *Buffer) error { return b.Delete(1, 4) })
	deepEqual(t, n.UndoChangeSet(), ChangeSet{Deletion("ell", 1), Reposition(m, 1, 1)})

	env.Buf.RemoveMarker(m)
	env.ok(tr.Undo())
	env.text("hello")
	deepEqual(t, n.UndoChangeSet(), ChangeSet{Deletion("ell", 1)})
	env.verify()
}
