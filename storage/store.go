// Package storage is the append-only state-change log, per-state-change
// event log, and periodic snapshot store (component C7, spec §4.7).
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
)

var (
	keyChangesSinceSnapshot = []byte("changes_since_snapshot")
	keyLatestSnapshotID     = []byte("latest_snapshot_id")
)

// snapshotRecord is the value stored for each snapshot: the flattened
// ChainState doc, plus the id of the last state-change it already
// reflects, so Recover knows where to resume replay.
type snapshotRecord struct {
	AfterStateChangeID string
	Doc                json.RawMessage
}

// AppendStateChange appends sc to the state-change log, returning its
// ULID (used to key the events it produced, and as Recover's replay
// cursor). Any balance proof sc carries is folded into the balance-proof
// index (spec §4.6 ChannelUnlocked re-resolution).
func (s *Store) AppendStateChange(sc statechange.StateChange) (string, error) {
	data, err := encodeStateChange(sc)
	if err != nil {
		return "", err
	}
	id := newULID()
	key := []byte(id.String())

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateChangesBucket)
		if err := bucket.Put(key, data); err != nil {
			return err
		}
		if err := indexBalanceProofRefs(tx, sc, s.ourAddress, nil); err != nil {
			return err
		}
		return bumpChangeCounter(tx)
	})
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// AppendEvents appends the events a single state-change produced, keyed
// under that state-change's ULID so they can be associated back to the
// input that caused them.
func (s *Store) AppendEvents(stateChangeID string, events []event.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateEventsBucket)
		for i, e := range events {
			data, err := encodeEvent(e)
			if err != nil {
				return err
			}
			key := []byte(fmt.Sprintf("%s/%04d", stateChangeID, i))
			if err := bucket.Put(key, data); err != nil {
				return err
			}
			if err := indexBalanceProofRefs(tx, nil, s.ourAddress, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// indexBalanceProofRefs folds whichever of sc/e is non-nil into the
// balance-proof index. Exactly one argument is populated by the two call
// sites above; accepting both keeps a single helper for state-changes and
// events rather than duplicating the loop.
func indexBalanceProofRefs(tx *bbolt.Tx, sc statechange.StateChange, ourAddress statemachine.Address, e event.Event) error {
	var refs []balanceProofRef
	if sc != nil {
		refs = balanceProofRefsIn(sc, ourAddress)
	} else if e != nil {
		refs = balanceProofRefsIn(e, ourAddress)
	}
	if len(refs) == 0 {
		return nil
	}
	bucket := tx.Bucket(balanceProofIndexBucket)
	for _, ref := range refs {
		key := balanceProofIndexKey(ref.CanonicalID.TokenNetworkAddr, ref.CanonicalID.ChainID, ref.LocksRoot, ref.Recipient)
		value, err := json.Marshal(ref.CanonicalID)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, value); err != nil {
			return err
		}
	}
	return nil
}

func bumpChangeCounter(tx *bbolt.Tx) error {
	bucket := tx.Bucket(settingsBucket)
	count := uint64(0)
	if raw := bucket.Get(keyChangesSinceSnapshot); raw != nil {
		count = binary.BigEndian.Uint64(raw)
	}
	count++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], count)
	return bucket.Put(keyChangesSinceSnapshot, buf[:])
}

// ShouldSnapshot reports whether snapshotInterval state-changes have
// accumulated since the last snapshot (spec §4.7 "take a new snapshot
// every 500 state-changes"). Only the tests call it or SaveSnapshot:
// control.Adapter.apply appends state-changes without taking snapshots.
func (s *Store) ShouldSnapshot() (bool, error) {
	due := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(settingsBucket).Get(keyChangesSinceSnapshot)
		if raw == nil {
			return nil
		}
		due = binary.BigEndian.Uint64(raw) >= snapshotInterval
		return nil
	})
	return due, err
}

// SaveSnapshot persists cs as the new latest snapshot, recording
// afterStateChangeID (the ULID of the last state-change already folded
// into cs) as Recover's replay cursor, and resets the snapshot-interval
// counter.
func (s *Store) SaveSnapshot(cs *statemachine.ChainState, seed int64, afterStateChangeID string) error {
	doc, err := encodeSnapshot(cs, seed)
	if err != nil {
		return err
	}
	rec, err := json.Marshal(snapshotRecord{AfterStateChangeID: afterStateChangeID, Doc: doc})
	if err != nil {
		return err
	}
	id := newULID()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(stateSnapshotBucket).Put(id[:], rec); err != nil {
			return err
		}
		if err := tx.Bucket(settingsBucket).Put(keyLatestSnapshotID, id[:]); err != nil {
			return err
		}
		var zero [8]byte
		return tx.Bucket(settingsBucket).Put(keyChangesSinceSnapshot, zero[:])
	})
}

// LatestSnapshot returns the most recently saved snapshot and the ULID of
// the last state-change it reflects, or found=false if none has ever been
// taken.
func (s *Store) LatestSnapshot() (cs *statemachine.ChainState, afterStateChangeID string, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		idRaw := tx.Bucket(settingsBucket).Get(keyLatestSnapshotID)
		if idRaw == nil {
			return nil
		}
		raw := tx.Bucket(stateSnapshotBucket).Get(idRaw)
		if raw == nil {
			return fmt.Errorf("storage: latest_snapshot_id points at a missing record")
		}
		var rec snapshotRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		decoded, err := decodeSnapshot(rec.Doc)
		if err != nil {
			return err
		}
		cs = decoded
		afterStateChangeID = rec.AfterStateChangeID
		found = true
		return nil
	})
	return cs, afterStateChangeID, found, err
}

// CanonicalIDByLocksroot satisfies ledger.BalanceProofIndex: it resolves
// the channel a previously observed balance proof belongs to by its
// (token network, chain id, locksroot, recipient) key (spec §4.6).
func (s *Store) CanonicalIDByLocksroot(tokenNetwork statemachine.Address, chainID uint64, locksroot statemachine.Hash, recipient statemachine.Address) (statemachine.CanonicalID, bool) {
	var id statemachine.CanonicalID
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(balanceProofIndexBucket).Get(balanceProofIndexKey(tokenNetwork, chainID, locksroot, recipient))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return id, found
}

// TransitionFunc applies one state-change to chainState, returning the
// resulting state and the events it produced. Recover takes this as a
// parameter, rather than importing package chain directly, to avoid a
// storage<->chain import cycle (chain.Transition already needs types this
// package also needs for snapshot encoding).
type TransitionFunc func(chainState *statemachine.ChainState, change statechange.StateChange) (*statemachine.ChainState, []event.Event, *statemachine.Error)

// Recover rebuilds the live ChainState: load the latest snapshot (or fall
// back to a fresh chain state if none has ever been taken), then replay
// every state-change appended since, in ULID order, through transition.
// Per spec invariant D1, applying the exact same state-change sequence
// must reproduce the original chain state byte-for-byte; Recover never
// mutates the log it replays, only the chain state it rebuilds.
func (s *Store) Recover(chainID uint64, ourAddress statemachine.Address, seed int64, transition TransitionFunc) (*statemachine.ChainState, error) {
	cs, afterID, found, err := s.LatestSnapshot()
	if err != nil {
		return nil, err
	}
	if !found {
		cs = statemachine.NewChainState(chainID, ourAddress, seed)
	}

	type entry struct {
		id   string
		data []byte
	}
	var entries []entry
	err = s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateChangesBucket).ForEach(func(k, v []byte) error {
			entries = append(entries, entry{id: string(k), data: append([]byte(nil), v...)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	replaying := afterID == ""
	for _, e := range entries {
		if !replaying {
			if e.id == afterID {
				replaying = true
			}
			continue
		}
		sc, err := decodeStateChange(e.data)
		if err != nil {
			return nil, fmt.Errorf("storage: decode state-change %s: %w", e.id, err)
		}
		next, _, transErr := transition(cs, sc)
		if transErr != nil {
			return nil, fmt.Errorf("storage: replay state-change %s: %s", e.id, transErr.Error())
		}
		cs = next
	}
	return cs, nil
}
