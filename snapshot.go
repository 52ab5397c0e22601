package undotree

import (
	"errors"
	"fmt"

	"github.com/lawlist/undo-tree/journal"
)

// AppendSnapshot serializes t and commits it to j as a single record.
// Snapshots of several documents may share one journal.
func AppendSnapshot(j *journal.Journal, t *Tree) error {
	data, err := Serialize(t)
	if err != nil {
		return err
	}
	if err := j.WriteRecord(0, data); err != nil {
		return fmt.Errorf("undotree: journal %v: %w", j, err)
	}
	if err := j.Commit(); err != nil {
		return fmt.Errorf("undotree: journal %v: %w", j, err)
	}
	return nil
}

// LoadLatestSnapshot restores the newest committed snapshot in j. When
// opt.DocumentID is set, only snapshots of that document are considered.
// Records that do not decode as a history are skipped.
func LoadLatestSnapshot(j *journal.Journal, doc Document, opt Options) (*Tree, error) {
	var latest []byte
	err := j.Records(func(r journal.Record) error {
		id, ok := peekDocumentID(r.Data)
		if !ok {
			return nil
		}
		if opt.DocumentID == "" || opt.DocumentID == id {
			latest = r.Data
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("undotree: journal %v: %w", j, err)
	}
	if latest == nil {
		if opt.DocumentID != "" {
			return nil, fmt.Errorf("undotree: journal %v: %s: %w", j, opt.DocumentID, ErrNotFound)
		}
		return nil, fmt.Errorf("undotree: journal %v: %w", j, errors.Join(ErrNotFound, journal.ErrEmpty))
	}
	return Restore(latest, doc, opt)
}

func peekDocumentID(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	d := newValueDecoder(data)
	defer d.Close()
	var id string
	if err := d.Decode(&id, "document identifier"); err != nil || id == "" {
		return "", false
	}
	return id, true
}
