package undotree

import (
	"strconv"
	"testing"
)

func TestBuffer_InsertDelete(t *testing.T) {
	b := NewBuffer("héllo")
	if err := b.Insert(5, " wörld"); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.String(), "héllo wörld")
	deepEqual(t, b.Len(), 11)
	if err := b.Delete(1, 4); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.String(), "ho wörld")
	deepEqual(t, b.Flush(), ChangeSet{Deletion("éll", 1), Insertion(5, 11)})
	if cs := b.Flush(); cs != nil {
		t.Fatalf("second Flush = %v, wanted nil", cs)
	}

	if err := b.Insert(99, "x"); err == nil {
		t.Fatalf("Insert out of range succeeded")
	}
	if err := b.Delete(3, 2); err == nil {
		t.Fatalf("inverted Delete succeeded")
	}
}

func TestBuffer_ApplyReturnsInverse(t *testing.T) {
	b := NewBuffer("hello")
	inv, err := b.Apply(ChangeSet{Deletion("XY", 0), Insertion(4, 7)})
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.String(), "XYhe")
	deepEqual(t, inv, ChangeSet{Deletion("llo", 4), Insertion(0, 2)})

	if _, err := b.Apply(inv); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.String(), "hello")
}

func TestBuffer_ApplyIsAtomic(t *testing.T) {
	b := NewBuffer("hello")
	m := b.AddMarker(4)
	_, err := b.Apply(ChangeSet{Insertion(0, 2), Reposition(m, -3, 2), Insertion(10, 20)})
	if err == nil {
		t.Fatalf("Apply succeeded, wanted range error")
	}
	deepEqual(t, b.String(), "hello")
	if pos, _ := b.MarkerPos(m); pos != 4 {
		t.Fatalf("marker at %d, wanted 4", pos)
	}
}

func TestBuffer_Properties(t *testing.T) {
	b := NewBuffer("abcdef")
	if err := b.SetProperty(1, 3, "face", "bold"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetProperty(0, 6, "face", "bold"); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.Flush(), ChangeSet{
		PropertyChange(0, 1, "face", "", "bold"),
		PropertyChange(3, 6, "face", "", "bold"),
		PropertyChange(1, 3, "face", "", "bold"),
	})
	deepEqual(t, b.Property(4, "face"), "bold")
	deepEqual(t, b.Property(99, "face"), "")

	if err := b.Delete(2, 4); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.Flush(), ChangeSet{Deletion("cd", 2), PropertyChange(2, 4, "face", "bold", "")})
}

func TestBuffer_DeleteRoundTripsProperties(t *testing.T) {
	b := NewBuffer("abcdef")
	if err := b.SetProperty(1, 4, "face", "bold"); err != nil {
		t.Fatal(err)
	}
	b.Flush()
	hash := b.ContentHash()
	if err := b.Delete(0, 6); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Apply(b.Flush()); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.ContentHash(), hash)
	deepEqual(t, b.Property(2, "face"), "bold")
	deepEqual(t, b.Property(0, "face"), "")
}

func TestBuffer_Markers(t *testing.T) {
	b := NewBuffer("hello world")
	m1 := b.AddMarker(2)
	m2 := b.AddMarker(8)
	if err := b.Insert(0, ">>"); err != nil {
		t.Fatal(err)
	}
	if pos, _ := b.MarkerPos(m1); pos != 4 {
		t.Fatalf("m1 at %d, wanted 4", pos)
	}
	if err := b.Delete(3, 12); err != nil {
		t.Fatal(err)
	}
	if pos, _ := b.MarkerPos(m1); pos != 3 {
		t.Fatalf("m1 at %d, wanted 3", pos)
	}
	undo := b.Flush()
	deepEqual(t, undo, ChangeSet{Deletion("ello worl", 3), Reposition(m1, 1, 3), Reposition(m2, 7, 3), Insertion(0, 2)})

	if _, err := b.Apply(undo); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.String(), "hello world")
	if pos, _ := b.MarkerPos(m1); pos != 2 {
		t.Fatalf("m1 at %d after undo, wanted 2", pos)
	}
	if pos, _ := b.MarkerPos(m2); pos != 8 {
		t.Fatalf("m2 at %d after undo, wanted 8", pos)
	}

	if err := b.MoveMarker(m1, 5); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.Flush(), ChangeSet{Reposition(m1, -3, 5)})
	b.RemoveMarker(m1)
	if b.Live(m1) || !b.Live(m2) {
		t.Fatalf("Live(m1) = %v, Live(m2) = %v, wanted false, true", b.Live(m1), b.Live(m2))
	}
	if err := b.MoveMarker(m1, 0); err == nil {
		t.Fatalf("MoveMarker on removed marker succeeded")
	}
}

func TestBuffer_Calls(t *testing.T) {
	b := NewBuffer("")
	b.RegisterCall("counter", func(b *Buffer, e Edit) (ChangeSet, error) {
		n, err := strconv.Atoi(e.Args[0])
		if err != nil {
			return nil, err
		}
		return ChangeSet{OpaqueCall("counter", strconv.Itoa(-n))}, nil
	})
	if err := b.Call(OpaqueCall("counter", "5")); err != nil {
		t.Fatal(err)
	}
	deepEqual(t, b.Flush(), ChangeSet{OpaqueCall("counter", "-5")})

	inv, err := b.Apply(ChangeSet{OpaqueCall("counter", "-5")})
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, inv, ChangeSet{OpaqueCall("counter", "5")})

	if _, err := b.Apply(ChangeSet{OpaqueCall("missing")}); err == nil {
		t.Fatalf("unknown call succeeded")
	}
	if err := b.Call(Insertion(0, 1)); err == nil {
		t.Fatalf("Call with a non-call edit succeeded")
	}
}

func TestBuffer_ContentHash(t *testing.T) {
	a, b := NewBuffer("same"), NewBuffer("same")
	deepEqual(t, a.ContentHash(), b.ContentHash())
	a.AddMarker(1)
	deepEqual(t, a.ContentHash(), b.ContentHash())
	if err := a.SetProperty(0, 1, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if string(a.ContentHash()) == string(b.ContentHash()) {
		t.Fatalf("property change did not affect the hash")
	}
}
