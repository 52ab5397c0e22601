package undotree

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

type (
	// Edit is one primitive record of a ChangeSet. An Edit describes the
	// reversal of a change: applying it to the document undoes the change it
	// was recorded for, and the document hands back the opposite record.
	Edit struct {
		Kind   EditKind `msgpack:"k"`
		Beg    int      `msgpack:"b,omitempty"`
		End    int      `msgpack:"e,omitempty"`
		Text   string   `msgpack:"t,omitempty"`
		Pos    int      `msgpack:"p,omitempty"`
		Key    string   `msgpack:"pk,omitempty"`
		Old    string   `msgpack:"po,omitempty"`
		New    string   `msgpack:"pn,omitempty"`
		Marker MarkerID `msgpack:"m,omitempty"`
		Delta  int      `msgpack:"d,omitempty"`
		Call   string   `msgpack:"c,omitempty"`
		Args   []string `msgpack:"a,omitempty"`
		Ranged bool     `msgpack:"r,omitempty"`
	}

	EditKind uint8

	// MarkerID identifies an external marker through the Liveness side-table.
	MarkerID uint64

	// ChangeSet is an ordered batch of edits. Element 0 is applied first.
	ChangeSet []Edit
)

const (
	// EditInsert records inserted text occupying [Beg, End); applying it
	// deletes that text.
	EditInsert EditKind = 1 + iota
	// EditDelete records deleted Text that used to start at Pos; applying it
	// re-inserts the text.
	EditDelete
	// EditProperty records that property Key of [Beg, End) was Old before it
	// became New; applying it restores Old.
	EditProperty
	// EditMarker records a marker displacement; applying it moves Marker
	// by Delta. Pos is where the marker sat, used for region classification.
	EditMarker
	// EditCall is an opaque host callback. If Ranged, the call only touches
	// [Beg, End) and shifts later text by Delta.
	EditCall
)

// editOverhead approximates the fixed bookkeeping cost of one record.
const editOverhead = 16

func Insertion(beg, end int) Edit {
	return Edit{Kind: EditInsert, Beg: beg, End: end}
}

func Deletion(text string, pos int) Edit {
	return Edit{Kind: EditDelete, Text: text, Pos: pos}
}

func PropertyChange(beg, end int, key, old, new string) Edit {
	return Edit{Kind: EditProperty, Beg: beg, End: end, Key: key, Old: old, New: new}
}

func Reposition(marker MarkerID, delta, pos int) Edit {
	return Edit{Kind: EditMarker, Marker: marker, Delta: delta, Pos: pos}
}

func OpaqueCall(fn string, args ...string) Edit {
	return Edit{Kind: EditCall, Call: fn, Args: args}
}

// RangedCall is an OpaqueCall confined to [beg, end) that shifts the text
// after it by delta.
func RangedCall(beg, end, delta int, fn string, args ...string) Edit {
	return Edit{Kind: EditCall, Beg: beg, End: end, Delta: delta, Call: fn, Args: args, Ranged: true}
}

func (k EditKind) String() string {
	switch k {
	case EditInsert:
		return "insert"
	case EditDelete:
		return "delete"
	case EditProperty:
		return "property"
	case EditMarker:
		return "marker"
	case EditCall:
		return "call"
	default:
		return fmt.Sprintf("EditKind(%d)", uint8(k))
	}
}

// Visible reports whether applying the edit changes buffer text.
func (e Edit) Visible() bool {
	return e.Kind == EditInsert || e.Kind == EditDelete
}

// Span returns the buffer range the edit touches in the coordinates of the
// state it is applied to. ok is false for edits with no known extent.
func (e Edit) Span() (beg, end int, ok bool) {
	switch e.Kind {
	case EditInsert, EditProperty:
		return e.Beg, e.End, true
	case EditDelete, EditMarker:
		return e.Pos, e.Pos, true
	case EditCall:
		if e.Ranged {
			return e.Beg, e.End, true
		}
		return 0, 0, false
	default:
		return 0, 0, false
	}
}

// Shift returns how much applying the edit moves text that follows it.
func (e Edit) Shift() int {
	switch e.Kind {
	case EditInsert:
		return -(e.End - e.Beg)
	case EditDelete:
		return utf8.RuneCountInString(e.Text)
	case EditCall:
		return e.Delta
	default:
		return 0
	}
}

// Moved returns a copy of the edit with every position displaced by off.
func (e Edit) Moved(off int) Edit {
	if off == 0 {
		return e
	}
	switch e.Kind {
	case EditInsert, EditProperty:
		e.Beg += off
		e.End += off
	case EditDelete, EditMarker:
		e.Pos += off
	case EditCall:
		if e.Ranged {
			e.Beg += off
			e.End += off
		}
	}
	return e
}

func (e Edit) Size() int {
	n := editOverhead + len(e.Text) + len(e.Key) + len(e.Old) + len(e.New) + len(e.Call)
	for _, a := range e.Args {
		n += len(a)
	}
	return n
}

func (e Edit) String() string {
	switch e.Kind {
	case EditInsert:
		return fmt.Sprintf("(%d . %d)", e.Beg, e.End)
	case EditDelete:
		return fmt.Sprintf("(%q . %d)", e.Text, e.Pos)
	case EditProperty:
		return fmt.Sprintf("(prop %s %q->%q %d . %d)", e.Key, e.New, e.Old, e.Beg, e.End)
	case EditMarker:
		return fmt.Sprintf("(marker %d %+d @%d)", e.Marker, e.Delta, e.Pos)
	case EditCall:
		if e.Ranged {
			return fmt.Sprintf("(apply %+d %d %d %s %s)", e.Delta, e.Beg, e.End, e.Call, strings.Join(e.Args, " "))
		}
		return fmt.Sprintf("(apply %s %s)", e.Call, strings.Join(e.Args, " "))
	default:
		return e.Kind.String()
	}
}

func (cs ChangeSet) Size() int {
	var n int
	for _, e := range cs {
		n += e.Size()
	}
	return n
}

func (cs ChangeSet) Clone() ChangeSet {
	if cs == nil {
		return nil
	}
	out := make(ChangeSet, len(cs))
	for i, e := range cs {
		e.Args = slices.Clone(e.Args)
		out[i] = e
	}
	return out
}

func (cs ChangeSet) VisibleCount() int {
	var n int
	for _, e := range cs {
		if e.Visible() {
			n++
		}
	}
	return n
}

func (cs ChangeSet) Equal(other ChangeSet) bool {
	return slices.EqualFunc(cs, other, Edit.Equal)
}

func (e Edit) Equal(o Edit) bool {
	return e.Kind == o.Kind && e.Beg == o.Beg && e.End == o.End && e.Text == o.Text &&
		e.Pos == o.Pos && e.Key == o.Key && e.Old == o.Old && e.New == o.New &&
		e.Marker == o.Marker && e.Delta == o.Delta && e.Call == o.Call &&
		e.Ranged == o.Ranged && slices.Equal(e.Args, o.Args)
}

func (cs ChangeSet) String() string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, e := range cs {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(e.String())
	}
	buf.WriteByte(']')
	return buf.String()
}

// purge drops marker records whose marker is no longer alive. It returns cs
// itself when nothing had to be dropped.
func (cs ChangeSet) purge(live Liveness) (ChangeSet, int) {
	if live == nil {
		return cs, 0
	}
	var dropped int
	for _, e := range cs {
		if e.Kind == EditMarker && !live.Live(e.Marker) {
			dropped++
		}
	}
	if dropped == 0 {
		return cs, 0
	}
	out := make(ChangeSet, 0, len(cs)-dropped)
	for _, e := range cs {
		if e.Kind == EditMarker && !live.Live(e.Marker) {
			continue
		}
		out = append(out, e)
	}
	return out, dropped
}
