package undotree

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const (
	historiesBucket = "histories"
	metaBucket      = "meta"
)

// Store keeps serialized histories of many documents, keyed by document ID.
type Store struct {
	st      storage
	logger  *slog.Logger
	verbose bool
	now     func() time.Time

	lastSize   atomic.Int64
	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

type StoreOptions struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
	Now       func() time.Time
}

// StoredHistory describes one saved history.
type StoredHistory struct {
	ID      string    `msgpack:"id"`
	SavedAt time.Time `msgpack:"at"`
	Bytes   int       `msgpack:"bytes"`
	Nodes   int       `msgpack:"nodes"`
	Size    int64     `msgpack:"size"`
}

// OpenStore opens or creates a Bolt database at path.
func OpenStore(path string, opt StoreOptions) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("undotree: %w", err)
	}
	s := newStore(newBoltStorage(bdb), opt)
	if err := s.write(func(tx storageTx) error {
		if _, err := tx.CreateBucket(historiesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(metaBucket)
		return err
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("undotree: %w", err)
	}
	return s, nil
}

// OpenMemStore returns a Store that lives in memory only.
func OpenMemStore(opt StoreOptions) *Store {
	s := newStore(newMemStorage(), opt)
	ensure(s.write(func(tx storageTx) error {
		if _, err := tx.CreateBucket(historiesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(metaBucket)
		return err
	}))
	return s
}

func newStore(st storage, opt StoreOptions) *Store {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Store{
		st:      st,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		now:     opt.Now,
	}
}

func (s *Store) read(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s.ReadCount.Add(1)
	err = f(tx)
	s.lastSize.Store(tx.Size())
	return err
}

func (s *Store) write(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s.WriteCount.Add(1)
	if err := f(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.lastSize.Store(tx.Size())
	return nil
}

// Save serializes t and stores it under its document ID, replacing any
// previous history of the same document.
func (s *Store) Save(t *Tree) (*StoredHistory, error) {
	data, err := Serialize(t)
	if err != nil {
		return nil, err
	}
	meta := &StoredHistory{
		ID:      t.id,
		SavedAt: s.now().UTC(),
		Bytes:   len(data),
		Nodes:   t.count,
		Size:    t.size,
	}
	key := []byte(t.id)
	err = s.write(func(tx storageTx) error {
		if err := tx.Bucket(historiesBucket).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(key, encodeValues(nil, meta))
	})
	if err != nil {
		return nil, fmt.Errorf("undotree: saving %s: %w", t.id, err)
	}
	if s.verbose {
		s.logger.Debug("undotree: saved history",
			slog.String("doc", t.id),
			slog.Int("bytes", len(data)),
			slog.Int("nodes", t.count))
	}
	return meta, nil
}

// Raw returns a copy of the serialized history of document id.
func (s *Store) Raw(id string) ([]byte, error) {
	var data []byte
	err := s.read(func(tx storageTx) error {
		v := tx.Bucket(historiesBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("undotree: %s: %w", id, ErrNotFound)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// Load restores the history of document id against doc.
func (s *Store) Load(id string, doc Document, opt Options) (*Tree, error) {
	data, err := s.Raw(id)
	if err != nil {
		return nil, err
	}
	opt.DocumentID = id
	return Restore(data, doc, opt)
}

func (s *Store) Meta(id string) (*StoredHistory, error) {
	var meta *StoredHistory
	err := s.read(func(tx storageTx) error {
		v := tx.Bucket(metaBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("undotree: %s: %w", id, ErrNotFound)
		}
		meta = new(StoredHistory)
		return decodeMeta(v, meta)
	})
	return meta, err
}

// Delete removes the history of document id. Deleting a missing history
// returns ErrNotFound.
func (s *Store) Delete(id string) error {
	key := []byte(id)
	return s.write(func(tx storageTx) error {
		hb := tx.Bucket(historiesBucket)
		if hb.Get(key) == nil {
			return fmt.Errorf("undotree: %s: %w", id, ErrNotFound)
		}
		if err := hb.Delete(key); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Delete(key)
	})
}

// List returns the metadata of every stored history, ordered by document ID.
func (s *Store) List() ([]StoredHistory, error) {
	var out []StoredHistory
	err := s.read(func(tx storageTx) error {
		c := tx.Bucket(metaBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var meta StoredHistory
			if err := decodeMeta(v, &meta); err != nil {
				return err
			}
			out = append(out, meta)
		}
		return nil
	})
	return out, err
}

// Count returns the number of stored histories.
func (s *Store) Count() (int, error) {
	var n int
	err := s.read(func(tx storageTx) error {
		n = tx.Bucket(historiesBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Size returns the database size observed by the most recent transaction.
func (s *Store) Size() int64 {
	return s.lastSize.Load()
}

func (s *Store) Close() error {
	err := s.st.Close()
	if errors.Is(err, errStorageClosed) {
		return nil
	}
	return err
}

func decodeMeta(data []byte, meta *StoredHistory) error {
	d := newValueDecoder(data)
	defer d.Close()
	return d.Decode(meta, "history metadata")
}
