// Package persistence is the durability seam spec.md §4.5 and §5 require:
// "the core must not proceed with an unpersisted mutation batch", and
// "operations within a move-token batch are applied in memory then
// committed as a single persisted mutation set". TokenChannel calls Apply
// with every batch's wire bytes before it advances its in-memory
// counter/lastToken/State, so a crash between the two always leaves disk
// and memory at the same move-token counter, never ahead of it.
//
// Grounded on the teacher's channeldb/db.go, which wraps a single embedded
// bolt database behind a typed DB struct and package-level bucket name
// constants. The teacher imports github.com/boltdb/bolt directly rather
// than going through lnd/kvdb's pluggable-backend abstraction (kvdb exists
// in this dependency set only as an empty interface module with no
// concrete backend wired in); this package follows the teacher's direct
// style using boltdb's maintained fork, go.etcd.io/bbolt, in place of the
// upstream-abandoned boltdb/bolt.
package persistence

import (
	"context"
	"encoding/binary"

	"github.com/go-errors/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/meshcredit/fundd/internal/mutualcredit"
)

const dbFilePermission = 0600

// friendsBucket roots every friend's mutation journal, keyed by the
// friend's public key, matching the teacher's single-top-level-bucket
// layout in channeldb/db.go.
var friendsBucket = []byte("friends")

var byteOrder = binary.BigEndian

// ErrNotFound reports that a friend has no persisted batches. LastCounter
// does not return it: it reports that case as ok == false with a nil error.
var ErrNotFound = errors.New("persistence: no persisted batch for friend")

// Mutation is one operation belonging to a single move-token batch.
// Currency is carried so a Store can index or inspect a batch by currency.
// TokenChannel fills in only Currency and leaves OpBytes nil; the encoded
// operations travel inside Batch.MoveToken.
type Mutation struct {
	Currency mutualcredit.Currency
	OpBytes  []byte
}

// Batch is the atomic unit spec.md §5 calls "a single persisted mutation
// set": every Mutation in it commits together under one move-token
// counter, or the whole batch is absent from the journal. MoveToken holds
// the full encoded, signed move-token the batch belongs to, so a restarted
// node can replay exactly what it last sent or accepted.
type Batch struct {
	Friend    mutualcredit.PublicKey
	Counter   uint64
	Mutations []Mutation
	MoveToken []byte
}

// Store is the interface the Core drives before committing a move-token
// batch to its in-memory state (spec.md §4.5).
type Store interface {
	// Apply durably commits batch. It must not return until batch is safe
	// on disk; TokenChannel only advances its counter/lastToken/State
	// after Apply returns nil.
	Apply(ctx context.Context, batch Batch) error

	// LastCounter returns the highest counter persisted for friend, used
	// on startup to detect a batch that was applied to disk but never
	// acknowledged back to the sender (spec.md §5, testable property #6:
	// a restart mid-batch must not silently lose or double-apply a
	// mutation; the channel resynchronizes via the normal inconsistency
	// path instead of trusting unwritten in-memory state).
	LastCounter(ctx context.Context, friend mutualcredit.PublicKey) (counter uint64, ok bool, err error)
}

// BoltDB is the default on-disk Store: one embedded database file holding
// one bucket per friend, each keyed by big-endian move-token counter.
type BoltDB struct {
	db *bolt.DB
}

// Open creates or opens the mutation journal at path, creating the
// top-level friends bucket if this is a fresh file.
func Open(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(friendsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

// Close releases the underlying file handle.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Apply implements Store.
func (b *BoltDB) Apply(_ context.Context, batch Batch) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		friends := tx.Bucket(friendsBucket)
		friendBucket, err := friends.CreateBucketIfNotExists(batch.Friend[:])
		if err != nil {
			return err
		}
		var key [8]byte
		byteOrder.PutUint64(key[:], batch.Counter)
		return friendBucket.Put(key[:], batch.MoveToken)
	})
}

// LastCounter implements Store.
func (b *BoltDB) LastCounter(_ context.Context, friend mutualcredit.PublicKey) (uint64, bool, error) {
	var counter uint64
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		friends := tx.Bucket(friendsBucket)
		friendBucket := friends.Bucket(friend[:])
		if friendBucket == nil {
			return nil
		}
		k, _ := friendBucket.Cursor().Last()
		if k == nil {
			return nil
		}
		counter = byteOrder.Uint64(k)
		ok = true
		return nil
	})
	return counter, ok, err
}
