// Package storage is the append-only state-change log, per-state-change
// event log, and periodic snapshot store (component C7, spec §4.7).
// Grounded on channeldb/db.go's bucket-based bolt schema (top-level
// buckets created once at Open, Meta/migration version table, a single
// atomic Update transaction per write), ported from the teacher's
// archived github.com/boltdb/bolt to go.etcd.io/bbolt — the maintained
// fork the teacher's own go.mod already requires transitively (spec
// §15).
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/chainmesh/corelayer/statemachine"
)

const (
	dbFileName       = "corelayer.db"
	dbFilePermission = 0600

	// snapshotInterval is how many appended state-changes elapse between
	// snapshots (spec §4.7 "take a new snapshot every 500 state-changes").
	snapshotInterval = 500
)

var (
	stateChangesBucket      = []byte("state_changes")
	stateSnapshotBucket     = []byte("state_snapshot")
	stateEventsBucket       = []byte("state_events")
	settingsBucket          = []byte("settings")
	runsBucket              = []byte("runs")
	balanceProofIndexBucket = []byte("balance_proof_index")

	topLevelBuckets = [][]byte{
		stateChangesBucket,
		stateSnapshotBucket,
		stateEventsBucket,
		settingsBucket,
		runsBucket,
		balanceProofIndexBucket,
	}
)

// Store is the bolt-backed persistence layer. All methods are safe for
// concurrent use; bbolt serializes writers internally and this package
// adds no locking of its own (spec §5's "single writer" is enforced by
// the caller, not here).
type Store struct {
	db *bbolt.DB

	// ourAddress resolves the recipient of a received balance proof when
	// maintaining the balance-proof index (see index.go): a message we
	// received names only its sender, never us.
	ourAddress statemachine.Address
}

// Open opens (creating if necessary) the store at dbPath/corelayer.db and
// ensures every top-level bucket exists.
func Open(dbPath string, ourAddress statemachine.Address) (*Store, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dbPath, dbFileName), dbFilePermission, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db, ourAddress: ourAddress}
	if err := store.createBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) createBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close releases the underlying bolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Wipe deletes every record from every bucket, recreating them empty.
// Intended for test fixtures, not production use (spec §13 test tooling).
func (s *Store) Wipe() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range topLevelBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
