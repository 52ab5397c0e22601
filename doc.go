/*
Package undotree implements a branching undo history for editable documents.

Every state the document has been in is a Node; a Tree holds all of them,
rooted at the oldest state still remembered. Editing after an undo does not
throw the undone changes away: it starts a new branch, and the old branch
stays reachable.

We implement:

1. Classic undo/redo, which walks up the tree and back down the active
branch. SwitchBranch picks which child redo descends into.

2. Semi-linear undo/redo, which steps through every visit of every node in
wall-clock order, switching branches as needed.

3. Undo and redo in a region, which carve the changes falling inside a text
range into a new branch without touching the changes outside it.

4. A discard policy bounding the memory held by a tree (soft, strong and
outer limits).

5. Persistence: Serialize/Restore, a Bolt-backed Store for many documents,
and journal snapshots.

The tree never edits the document itself. The host implements Document,
applying changesets handed to it and reporting the changeset that reverses
each one. Buffer is a complete in-memory implementation.

# Technical Details

**Changesets.**
A ChangeSet is a list of Edit records. Records describe reversals: the
changeset stored on a node undoes the node (moves the document to the
parent's state). The redo changeset is whatever the document returned the
last time the node was undone, so it is nil until then.

**Visit stamps.**
Each node keeps the times it was current. A branch point keeps one stamp per
branch, tagged with the branch that was active when the node was left, so
that semi-linear traversal revisits a branch point once for each branch.
Exactly one stamp in the tree, on the current node, is active.

**Region marks.**
A node created by a region operation remembers the region and the parent's
previously active child, so that repeating the operation extends the node
instead of adding a sibling.

## Binary encoding

A serialized history is three consecutive msgpack values:
1. Document identifier (string).
2. Content digest of the document at save time (bin).
3. Tree record: format version, root and current IDs, and a flat list of node
records (ID, child IDs, active index, changesets, stamps, region marks).

Parent links are not stored; Restore rebuilds them and recomputes the size
caches. Restore refuses the blob unless the digest matches the live document.
*/
package undotree
