package undotree

import "errors"

var errStorageClosed = errors.New("storage closed")

// storage is the key-value backend behind a Store (Bolt or in-memory).
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates the bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	Commit() error

	// Rollback must be safe to call after Commit.
	Rollback() error

	// Size returns the database size in bytes, or 0 if unknown.
	Size() int64
}

// storageBucket is a sorted collection of keys. Slices returned by Get and
// the cursor are only valid until the transaction ends.
type storageBucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor
	Stats() bucketStats
}

type bucketStats struct {
	KeyN      int
	LeafInuse int64
}

type storageCursor interface {
	First() (key, value []byte)
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}
