package channel

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// endFor returns the channel end belonging to participant, or the other
// end, used so receive-side handlers can operate symmetrically regardless
// of which side sent the message.
func endFor(ch *statemachine.Channel, participant statemachine.Address) *statemachine.End {
	if ch.Partner.Address == participant {
		return ch.Partner
	}
	return ch.Our
}

// handleReceiveLockedTransfer validates and applies an incoming locked
// transfer, appending the new lock to the sender's pending_locks (spec
// §4.1).
func handleReceiveLockedTransfer(ch *statemachine.Channel, msg *wire.LockedTransfer, sender statemachine.Address) []event.Event {
	senderEnd := endFor(ch, sender)

	delta := lockDelta{lockedDelta: msg.Lock.Amount, lockedIncreases: true}
	if err := validateReceivedBalanceProof(ch, senderEnd, msg.BalanceProof, delta); err != nil {
		return []event.Event{&event.ErrorInvalidReceivedLockedTransfer{
			CanonicalID: ch.CanonicalID,
			Reason:      err.Reason,
		}}
	}

	impliedLocks := append(append([]statemachine.Lock{}, senderEnd.PendingLocks...), msg.Lock)
	if statemachine.ComputeLocksRoot(impliedLocks) != msg.BalanceProof.LocksRoot {
		return []event.Event{&event.ErrorInvalidReceivedLockedTransfer{
			CanonicalID: ch.CanonicalID,
			Reason:      "locksroot does not match pending_locks with lock appended",
		}}
	}

	senderEnd.AppendLock(msg.Lock)
	bp := msg.BalanceProof
	senderEnd.BalanceProof = &bp
	senderEnd.Nonce = bp.Nonce

	return nil
}

// handleReceiveUnlock validates and applies an incoming unlock: the
// referenced lock moves from locked to transferred and is removed from
// pending_locks (spec §4.1, §8 R3).
func handleReceiveUnlock(ch *statemachine.Channel, msg *wire.Unlock, sender statemachine.Address) []event.Event {
	senderEnd := endFor(ch, sender)

	secretHash := statemachine.HashSecret(msg.Secret)
	lock, ok := senderEnd.LocksPendingOffchain[secretHash]
	if !ok {
		return []event.Event{&event.ErrorInvalidReceivedUnlock{
			CanonicalID: ch.CanonicalID,
			Reason:      "unlock references a lock that is not pending",
		}}
	}

	delta := lockDelta{transferredDelta: lock.Amount, lockedDelta: lock.Amount, lockedIncreases: false}
	if err := validateReceivedBalanceProof(ch, senderEnd, msg.BalanceProof, delta); err != nil {
		return []event.Event{&event.ErrorInvalidReceivedUnlock{
			CanonicalID: ch.CanonicalID,
			Reason:      err.Reason,
		}}
	}

	impliedLocks := removeLockCopy(senderEnd.PendingLocks, lock)
	if statemachine.ComputeLocksRoot(impliedLocks) != msg.BalanceProof.LocksRoot {
		return []event.Event{&event.ErrorInvalidReceivedUnlock{
			CanonicalID: ch.CanonicalID,
			Reason:      "locksroot does not match pending_locks with lock removed",
		}}
	}

	senderEnd.RemoveLock(secretHash)
	senderEnd.LocksUnlockedOffchain[secretHash] = lock
	bp := msg.BalanceProof
	senderEnd.BalanceProof = &bp
	senderEnd.Nonce = bp.Nonce

	return nil
}

// handleReceiveLockExpired validates and applies an incoming lock-expired
// message: the lock is removed from pending_locks without crediting
// transferred-amount (spec §4.1 rule 4: the channel must be Opened, the
// same precondition every other received balance-proof update enforces).
func handleReceiveLockExpired(ch *statemachine.Channel, msg *wire.LockExpired, sender statemachine.Address) []event.Event {
	if ch.Status() != statemachine.StatusOpened {
		return []event.Event{&event.ErrorInvalidReceivedLockExpired{
			CanonicalID: ch.CanonicalID,
			Reason:      "channel is not open",
		}}
	}

	senderEnd := endFor(ch, sender)
	lock, ok := senderEnd.LocksPendingOffchain[msg.SecretHash]
	if !ok {
		return []event.Event{&event.ErrorInvalidReceivedLockExpired{
			CanonicalID: ch.CanonicalID,
			Reason:      "lock-expired references a lock that is not pending",
		}}
	}

	delta := lockDelta{lockedDelta: lock.Amount, lockedIncreases: false}
	if err := validateReceivedBalanceProof(ch, senderEnd, msg.BalanceProof, delta); err != nil {
		return []event.Event{&event.ErrorInvalidReceivedLockExpired{
			CanonicalID: ch.CanonicalID,
			Reason:      err.Reason,
		}}
	}

	impliedLocks := removeLockCopy(senderEnd.PendingLocks, lock)
	if statemachine.ComputeLocksRoot(impliedLocks) != msg.BalanceProof.LocksRoot {
		return []event.Event{&event.ErrorInvalidReceivedLockExpired{
			CanonicalID: ch.CanonicalID,
			Reason:      "locksroot does not match pending_locks with lock removed",
		}}
	}

	senderEnd.RemoveLock(msg.SecretHash)
	bp := msg.BalanceProof
	senderEnd.BalanceProof = &bp
	senderEnd.Nonce = bp.Nonce

	return nil
}

func removeLockCopy(locks []statemachine.Lock, toRemove statemachine.Lock) []statemachine.Lock {
	encoded := string(toRemove.Encoded())
	out := make([]statemachine.Lock, 0, len(locks))
	removed := false
	for _, l := range locks {
		if !removed && string(l.Encoded()) == encoded {
			removed = true
			continue
		}
		out = append(out, l)
	}
	return out
}

// SenderThreshold is the block at which a lock becomes expirable by its
// sender: lock.expiration + 2*confirmation_blocks (spec §4.1).
func SenderThreshold(lock statemachine.Lock, confirmationBlocks statemachine.BlockNumber) statemachine.BlockNumber {
	return lock.Expiration + 2*confirmationBlocks
}

// ReceiverThreshold is the block at which the receiver considers a lock's
// sender-side expiry already confirmed: lock.expiration +
// confirmation_blocks (spec §4.1).
func ReceiverThreshold(lock statemachine.Lock, confirmationBlocks statemachine.BlockNumber) statemachine.BlockNumber {
	return lock.Expiration + confirmationBlocks
}
