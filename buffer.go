package undotree

import (
	"fmt"
	"maps"
	"slices"
)

// CallFunc implements a named EditCall for a Buffer. It performs the call
// and returns the records that reverse it.
type CallFunc func(b *Buffer, e Edit) (ChangeSet, error)

// Buffer is an in-memory text buffer implementing Document. Its editing
// methods behave like an editor's primitives: each one records how to
// reverse itself, and Flush hands the accumulated records over as one
// ChangeSet for Tree.Record.
//
// Positions count runes. Text properties are string values keyed by name;
// the empty string means unset. Markers are positions that move with the
// text around them.
type Buffer struct {
	text    []rune
	props   []map[string]string
	markers map[MarkerID]int
	calls   map[string]CallFunc

	nextMarker MarkerID
	pending    ChangeSet
}

var (
	_ Document = (*Buffer)(nil)
	_ Liveness = (*Buffer)(nil)
)

func NewBuffer(text string) *Buffer {
	b := &Buffer{
		text:    []rune(text),
		markers: make(map[MarkerID]int),
		calls:   make(map[string]CallFunc),
	}
	b.props = make([]map[string]string, len(b.text))
	return b
}

func (b *Buffer) String() string {
	return string(b.text)
}

func (b *Buffer) Len() int {
	return len(b.text)
}

// Property returns the value of key at pos.
func (b *Buffer) Property(pos int, key string) string {
	if pos < 0 || pos >= len(b.props) {
		return ""
	}
	return b.props[pos][key]
}

func (b *Buffer) MarkerPos(id MarkerID) (int, bool) {
	pos, ok := b.markers[id]
	return pos, ok
}

// Live reports whether marker id still exists, so a Buffer can serve as
// Options.Markers for its own tree.
func (b *Buffer) Live(id MarkerID) bool {
	_, ok := b.markers[id]
	return ok
}

func (b *Buffer) RegisterCall(name string, fn CallFunc) {
	b.calls[name] = fn
}

// ContentHash digests the text and its properties. Markers are not content.
func (b *Buffer) ContentHash() []byte {
	return ContentDigest([]byte(string(b.text)), encodeValues(nil, b.props))
}

// Insert inserts s before pos.
func (b *Buffer) Insert(pos int, s string) error {
	if pos < 0 || pos > len(b.text) {
		return fmt.Errorf("undotree: insert at %d outside [0, %d]", pos, len(b.text))
	}
	n := b.insert(pos, []rune(s))
	if n > 0 {
		b.record(ChangeSet{Insertion(pos, pos+n)})
	}
	return nil
}

// Delete removes the text in [beg, end).
func (b *Buffer) Delete(beg, end int) error {
	if beg < 0 || end > len(b.text) || beg > end {
		return fmt.Errorf("undotree: delete [%d, %d) outside [0, %d)", beg, end, len(b.text))
	}
	if beg == end {
		return nil
	}
	b.record(b.delete(beg, end))
	return nil
}

// SetProperty sets key to value over [beg, end).
func (b *Buffer) SetProperty(beg, end int, key, value string) error {
	if beg < 0 || end > len(b.text) || beg > end {
		return fmt.Errorf("undotree: property [%d, %d) outside [0, %d)", beg, end, len(b.text))
	}
	var undo ChangeSet
	for _, r := range b.runs(beg, end, key) {
		if r.value != value {
			undo = append(undo, PropertyChange(r.beg, r.end, key, r.value, value))
		}
	}
	b.setProp(beg, end, key, value)
	b.record(undo)
	return nil
}

// AddMarker places a new marker at pos. Adding a marker is not undoable.
func (b *Buffer) AddMarker(pos int) MarkerID {
	b.nextMarker++
	b.markers[b.nextMarker] = min(max(pos, 0), len(b.text))
	return b.nextMarker
}

// RemoveMarker deletes a marker. Records that still mention it become
// dangling and are dropped by the tree before replay.
func (b *Buffer) RemoveMarker(id MarkerID) {
	delete(b.markers, id)
}

func (b *Buffer) MoveMarker(id MarkerID, pos int) error {
	old, ok := b.markers[id]
	if !ok {
		return fmt.Errorf("undotree: unknown marker %d", id)
	}
	pos = min(max(pos, 0), len(b.text))
	if pos == old {
		return nil
	}
	b.markers[id] = pos
	b.record(ChangeSet{Reposition(id, old-pos, pos)})
	return nil
}

// Call performs a registered call and records its reversal.
func (b *Buffer) Call(e Edit) error {
	if e.Kind != EditCall {
		return fmt.Errorf("undotree: %v is not a call", e.Kind)
	}
	undo, err := b.call(e)
	if err != nil {
		return err
	}
	b.record(undo)
	return nil
}

// Flush returns the undo records accumulated since the previous Flush, most
// recent first, and starts a new batch.
func (b *Buffer) Flush() ChangeSet {
	cs := b.pending
	b.pending = nil
	return cs
}

func (b *Buffer) record(undo ChangeSet) {
	if len(undo) == 0 {
		return
	}
	b.pending = append(undo, b.pending...)
}

// Apply performs cs and returns its reversal. On error the buffer is left
// exactly as it was.
func (b *Buffer) Apply(cs ChangeSet) (ChangeSet, error) {
	snap := b.snapshot()
	var inverses []ChangeSet
	for i, e := range cs {
		inv, err := b.apply(e)
		if err != nil {
			b.restore(snap)
			return nil, fmt.Errorf("edit %d %v: %w", i, e, err)
		}
		inverses = append(inverses, inv)
	}
	var out ChangeSet
	for i := len(inverses) - 1; i >= 0; i-- {
		out = append(out, inverses[i]...)
	}
	return out, nil
}

func (b *Buffer) apply(e Edit) (ChangeSet, error) {
	switch e.Kind {
	case EditInsert:
		if e.Beg < 0 || e.End > len(b.text) || e.Beg > e.End {
			return nil, fmt.Errorf("range outside [0, %d)", len(b.text))
		}
		return b.delete(e.Beg, e.End), nil
	case EditDelete:
		if e.Pos < 0 || e.Pos > len(b.text) {
			return nil, fmt.Errorf("position outside [0, %d]", len(b.text))
		}
		n := b.insert(e.Pos, []rune(e.Text))
		return ChangeSet{Insertion(e.Pos, e.Pos+n)}, nil
	case EditProperty:
		if e.Beg < 0 || e.End > len(b.text) || e.Beg > e.End {
			return nil, fmt.Errorf("range outside [0, %d)", len(b.text))
		}
		b.setProp(e.Beg, e.End, e.Key, e.Old)
		return ChangeSet{PropertyChange(e.Beg, e.End, e.Key, e.New, e.Old)}, nil
	case EditMarker:
		pos, ok := b.markers[e.Marker]
		if !ok {
			return nil, nil
		}
		pos = min(max(pos+e.Delta, 0), len(b.text))
		b.markers[e.Marker] = pos
		return ChangeSet{Reposition(e.Marker, -e.Delta, pos)}, nil
	case EditCall:
		return b.call(e)
	default:
		return nil, fmt.Errorf("unknown edit kind %v", e.Kind)
	}
}

func (b *Buffer) call(e Edit) (ChangeSet, error) {
	fn := b.calls[e.Call]
	if fn == nil {
		return nil, fmt.Errorf("undotree: unknown call %q", e.Call)
	}
	return fn(b, e)
}

func (b *Buffer) insert(pos int, rs []rune) int {
	b.text = slices.Insert(b.text, pos, rs...)
	b.props = slices.Insert(b.props, pos, make([]map[string]string, len(rs))...)
	for id, m := range b.markers {
		if m > pos {
			b.markers[id] = m + len(rs)
		}
	}
	return len(rs)
}

// delete removes [beg, end) and returns the records that bring back the
// text, its properties and the markers it displaced.
func (b *Buffer) delete(beg, end int) ChangeSet {
	undo := ChangeSet{Deletion(string(b.text[beg:end]), beg)}
	for _, key := range b.keys(beg, end) {
		for _, r := range b.runs(beg, end, key) {
			if r.value != "" {
				undo = append(undo, PropertyChange(r.beg, r.end, key, r.value, ""))
			}
		}
	}
	ids := slices.Sorted(maps.Keys(b.markers))
	for _, id := range ids {
		m := b.markers[id]
		switch {
		case m > end:
			b.markers[id] = m - (end - beg)
		case m > beg:
			b.markers[id] = beg
			undo = append(undo, Reposition(id, m-beg, beg))
		}
	}
	b.text = slices.Delete(b.text, beg, end)
	b.props = slices.Delete(b.props, beg, end)
	return undo
}

func (b *Buffer) setProp(beg, end int, key, value string) {
	for i := beg; i < end; i++ {
		if value == "" {
			delete(b.props[i], key)
			if len(b.props[i]) == 0 {
				b.props[i] = nil
			}
			continue
		}
		if b.props[i] == nil {
			b.props[i] = make(map[string]string)
		}
		b.props[i][key] = value
	}
}

type propRun struct {
	beg, end int
	value    string
}

// runs splits [beg, end) into maximal runs of equal values of key.
func (b *Buffer) runs(beg, end int, key string) []propRun {
	var out []propRun
	for i := beg; i < end; i++ {
		v := b.props[i][key]
		if n := len(out); n > 0 && out[n-1].value == v {
			out[n-1].end = i + 1
		} else {
			out = append(out, propRun{i, i + 1, v})
		}
	}
	return out
}

func (b *Buffer) keys(beg, end int) []string {
	set := make(map[string]bool)
	for i := beg; i < end; i++ {
		for k := range b.props[i] {
			set[k] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}

type bufferSnapshot struct {
	text    []rune
	props   []map[string]string
	markers map[MarkerID]int
}

func (b *Buffer) snapshot() bufferSnapshot {
	props := make([]map[string]string, len(b.props))
	for i, m := range b.props {
		props[i] = maps.Clone(m)
	}
	return bufferSnapshot{slices.Clone(b.text), props, maps.Clone(b.markers)}
}

func (b *Buffer) restore(s bufferSnapshot) {
	b.text, b.props, b.markers = s.text, s.props, s.markers
}
