package undotree

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Document is the host side of the engine. The engine never edits the
// document directly; it hands changesets to Apply.
type Document interface {
	// Apply performs every edit of cs in order and returns the changeset
	// that reverses what it just did. Apply must be deterministic, and it
	// must leave the document untouched when it returns an error.
	Apply(cs ChangeSet) (ChangeSet, error)

	// ContentHash digests the full live content. Serialized history is only
	// valid against the exact content it was saved with.
	ContentHash() []byte
}

// ContentDigest is a ready-made ContentHash implementation for hosts that can
// expose their content as bytes.
func ContentDigest(content ...[]byte) []byte {
	var d xxhash.Digest
	d.Reset()
	for _, c := range content {
		d.Write(c)
	}
	return binary.BigEndian.AppendUint64(nil, d.Sum64())
}

func NewDocumentID() string {
	return uuid.NewString()
}
