package undotree

import (
	"bytes"
	"log/slog"
	"slices"
)

// formatVersion is bumped on incompatible changes to treeRecord.
const formatVersion = 1

// A serialized history is three consecutive msgpack values: the document
// identifier (string), the content digest (bin) and a treeRecord. Parent
// links are not stored; they are rebuilt from the child lists.
type treeRecord struct {
	Version int          `msgpack:"v"`
	Root    NodeID       `msgpack:"root"`
	Current NodeID       `msgpack:"cur"`
	Nodes   []nodeRecord `msgpack:"nodes"`
}

type nodeRecord struct {
	ID       NodeID       `msgpack:"id"`
	Children []NodeID     `msgpack:"c,omitempty"`
	Active   int          `msgpack:"a,omitempty"`
	Undo     ChangeSet    `msgpack:"u,omitempty"`
	Redo     ChangeSet    `msgpack:"r,omitempty"`
	History  []Stamp      `msgpack:"h,omitempty"`
	Region   *RegionMarks `msgpack:"rm,omitempty"`
}

// Summary describes a serialized history without a document to restore it
// against.
type Summary struct {
	DocumentID string
	Digest     []byte
	Version    int
	Current    NodeID
	Stats
}

// Serialize encodes the tree together with its document identifier and a
// digest of the document's present content. Register bindings are not
// persisted.
func Serialize(t *Tree) ([]byte, error) {
	digest := t.doc.ContentHash()
	if len(digest) == 0 {
		return nil, structErrf("serialize", 0, "document returned an empty content hash")
	}
	return encodeValues(nil, t.id, digest, t.record()), nil
}

func (t *Tree) record() *treeRecord {
	rec := &treeRecord{
		Version: formatVersion,
		Root:    t.root.id,
		Current: t.current.id,
		Nodes:   make([]nodeRecord, 0, t.count),
	}
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nr := nodeRecord{
			ID:      n.id,
			Active:  n.active,
			Undo:    n.undo,
			Redo:    n.redo,
			History: n.history,
			Region:  n.region,
		}
		for _, c := range n.children {
			nr.Children = append(nr.Children, c.id)
		}
		rec.Nodes = append(rec.Nodes, nr)
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return rec
}

// Restore rebuilds a tree from data for doc. It fails with a
// *ValidationError, installing nothing, when any part of the blob is missing
// or malformed, or when doc's content no longer matches the stored digest.
// opt.DocumentID, if set, must match the stored identifier.
func Restore(data []byte, doc Document, opt Options) (*Tree, error) {
	id, digest, rec, err := decodeBlob(data)
	if err != nil {
		return nil, err
	}
	if opt.DocumentID != "" && opt.DocumentID != id {
		return nil, validationErrf(nil, 0, nil, "history belongs to document %q, not %q", id, opt.DocumentID)
	}
	if actual := doc.ContentHash(); !bytes.Equal(actual, digest) {
		return nil, validationErrf(digest, 0, nil, "content digest mismatch, document has %x", actual)
	}
	opt.DocumentID = id
	t, err := build(data, rec, doc, opt)
	if err != nil {
		return nil, err
	}
	if t.opt.Verbose {
		t.logger.LogAttrs(t.opt.Context, slog.LevelDebug, "undotree: restored history",
			slog.String("doc", t.id),
			hexAttr("digest", digest),
			slog.Int("nodes", t.count),
			slog.Int64("size", t.size))
	}
	t.observe("restore", t.current)
	return t, nil
}

// Inspect decodes and validates a serialized history without a document.
func Inspect(data []byte) (*Summary, error) {
	id, digest, rec, err := decodeBlob(data)
	if err != nil {
		return nil, err
	}
	t, err := build(data, rec, nil, Options{DocumentID: id})
	if err != nil {
		return nil, err
	}
	return &Summary{
		DocumentID: id,
		Digest:     digest,
		Version:    rec.Version,
		Current:    t.current.id,
		Stats:      t.Stats(),
	}, nil
}

func decodeBlob(data []byte) (string, []byte, *treeRecord, error) {
	if len(data) == 0 {
		return "", nil, nil, validationErrf(nil, 0, nil, "empty history data")
	}
	d := newValueDecoder(data)
	defer d.Close()

	var id string
	if err := d.Decode(&id, "document identifier"); err != nil {
		return "", nil, nil, err
	}
	if id == "" {
		return "", nil, nil, validationErrf(data, 0, nil, "empty document identifier")
	}
	var digest []byte
	off := d.Off()
	if err := d.Decode(&digest, "content digest"); err != nil {
		return "", nil, nil, err
	}
	if len(digest) == 0 {
		return "", nil, nil, validationErrf(data, off, nil, "empty content digest")
	}
	rec := new(treeRecord)
	off = d.Off()
	if err := d.Decode(rec, "tree structure"); err != nil {
		return "", nil, nil, err
	}
	if rec.Version != formatVersion {
		return "", nil, nil, validationErrf(data, off, nil, "unsupported format version %d", rec.Version)
	}
	if d.Remaining() > 0 {
		return "", nil, nil, validationErrf(data, d.Off(), nil, "%d bytes of trailing data", d.Remaining())
	}
	return id, digest, rec, nil
}

// build links the decoded records into a tree, checking that they form
// exactly one tree rooted at rec.Root.
func build(data []byte, rec *treeRecord, doc Document, opt Options) (*Tree, error) {
	t := newTree(doc, opt)
	recs := make(map[NodeID]*nodeRecord, len(rec.Nodes))
	for i := range rec.Nodes {
		nr := &rec.Nodes[i]
		if nr.ID == 0 {
			return nil, validationErrf(data, 0, nil, "node with zero id")
		}
		if _, dup := recs[nr.ID]; dup {
			return nil, validationErrf(data, 0, nil, "duplicate node %d", nr.ID)
		}
		recs[nr.ID] = nr
		t.nextID = max(t.nextID, nr.ID)
	}
	rootRec, ok := recs[rec.Root]
	if !ok {
		return nil, validationErrf(data, 0, nil, "root node %d missing", rec.Root)
	}

	node := func(nr *nodeRecord) *Node {
		n := &Node{
			id:      nr.ID,
			active:  nr.Active,
			undo:    nr.Undo,
			redo:    nr.Redo,
			history: slices.Clone(nr.History),
			region:  nr.Region,
		}
		n.computeSize()
		for _, s := range n.history {
			t.lastTime = max(t.lastTime, s.Time)
		}
		return n
	}
	t.root = node(rootRec)
	t.register(t.root)
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nr := recs[n.id]
		for _, cid := range nr.Children {
			cr, ok := recs[cid]
			if !ok {
				return nil, validationErrf(data, 0, nil, "node %d lists missing child %d", n.id, cid)
			}
			if _, seen := t.nodes[cid]; seen {
				return nil, validationErrf(data, 0, nil, "node %d has more than one parent", cid)
			}
			c := node(cr)
			c.parent = n
			n.children = append(n.children, c)
			t.register(c)
			stack = append(stack, c)
		}
		if len(n.children) == 0 {
			n.active = 0
		} else if n.active < 0 || n.active >= len(n.children) {
			return nil, validationErrf(data, 0, nil, "node %d active index %d out of range [0, %d)", n.id, n.active, len(n.children))
		}
	}
	if t.count != len(recs) {
		return nil, validationErrf(data, 0, nil, "%d of %d nodes unreachable from root", len(recs)-t.count, len(recs))
	}
	cur, ok := t.nodes[rec.Current]
	if !ok {
		return nil, validationErrf(data, 0, nil, "current node %d missing", rec.Current)
	}
	t.current = cur
	for _, n := range t.nodes {
		if n != cur {
			n.clearActive()
		}
	}
	if i := cur.activeStamp(); i >= 0 {
		cur.clearActive()
		cur.history[i].Active = true
	}
	t.ensureActive()
	return t, nil
}
