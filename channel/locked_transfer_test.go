package channel

import (
	"testing"

	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

func TestReceiveLockedTransferAppendsLock(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))

	lock := statemachine.Lock{
		Amount:     statemachine.NewTokenAmount(10),
		Expiration: 50,
		SecretHash: statemachine.Hash{0x01},
	}
	bp := signedBalanceProof(t, partner, ch.CanonicalID, 1,
		statemachine.TokenAmount{}, lock.Amount, []statemachine.Lock{lock}, statemachine.Hash{0x09})

	msg := &wire.LockedTransfer{
		BalanceProof: bp,
		PaymentID:    1,
		Lock:         lock,
		Initiator:    us.address,
		Target:       statemachine.Address{0xCC},
	}

	events := handleReceiveLockedTransfer(ch, msg, partner.address)
	if len(events) != 0 {
		t.Fatalf("expected no error events, got %v", events)
	}
	if _, ok := ch.Partner.LocksPendingOffchain[lock.SecretHash]; !ok {
		t.Fatalf("lock was not appended to partner's pending locks")
	}
	if ch.Partner.Nonce != 1 {
		t.Fatalf("partner nonce = %d, want 1", ch.Partner.Nonce)
	}
	if err := ch.SanityCheck(); err != nil {
		t.Fatalf("sanity check failed: %v", err)
	}
}

func TestReceiveLockedTransferRejectsBadSignature(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	intruder := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))

	lock := statemachine.Lock{Amount: statemachine.NewTokenAmount(10), Expiration: 50, SecretHash: statemachine.Hash{0x01}}
	bp := signedBalanceProof(t, intruder, ch.CanonicalID, 1,
		statemachine.TokenAmount{}, lock.Amount, []statemachine.Lock{lock}, statemachine.Hash{0x09})

	msg := &wire.LockedTransfer{BalanceProof: bp, Lock: lock}
	events := handleReceiveLockedTransfer(ch, msg, partner.address)
	if len(events) != 1 {
		t.Fatalf("expected one rejection event, got %v", events)
	}
	if _, ok := events[0].(*event.ErrorInvalidReceivedLockedTransfer); !ok {
		t.Fatalf("expected ErrorInvalidReceivedLockedTransfer, got %T", events[0])
	}
}

func TestReceiveUnlockMovesLockToTransferred(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))

	secret := statemachine.Hash{0x42}
	secretHash := statemachine.HashSecret(secret)
	lock := statemachine.Lock{Amount: statemachine.NewTokenAmount(10), Expiration: 50, SecretHash: secretHash}

	lockedBP := signedBalanceProof(t, partner, ch.CanonicalID, 1,
		statemachine.TokenAmount{}, lock.Amount, []statemachine.Lock{lock}, statemachine.Hash{0x09})
	lt := &wire.LockedTransfer{BalanceProof: lockedBP, Lock: lock}
	if events := handleReceiveLockedTransfer(ch, lt, partner.address); len(events) != 0 {
		t.Fatalf("setup locked transfer failed: %v", events)
	}

	unlockBP := signedBalanceProof(t, partner, ch.CanonicalID, 2,
		lock.Amount, statemachine.TokenAmount{}, nil, statemachine.Hash{0x0A})
	unlockMsg := &wire.Unlock{BalanceProof: unlockBP, Secret: secret}

	events := handleReceiveUnlock(ch, unlockMsg, partner.address)
	if len(events) != 0 {
		t.Fatalf("expected no error events, got %v", events)
	}
	if _, stillPending := ch.Partner.LocksPendingOffchain[secretHash]; stillPending {
		t.Fatalf("lock should have been removed from pending")
	}
	if _, unlocked := ch.Partner.LocksUnlockedOffchain[secretHash]; !unlocked {
		t.Fatalf("lock should be tracked as unlocked offchain")
	}
	if ch.Partner.TransferredAmount().Cmp(lock.Amount) != 0 {
		t.Fatalf("transferred amount = %s, want %s", ch.Partner.TransferredAmount(), lock.Amount)
	}
	if err := ch.SanityCheck(); err != nil {
		t.Fatalf("sanity check failed: %v", err)
	}
}

func TestReceiveLockExpiredWhileClosingIsRejected(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))

	lock := statemachine.Lock{Amount: statemachine.NewTokenAmount(10), Expiration: 5, SecretHash: statemachine.Hash{0x07}}
	lockedBP := signedBalanceProof(t, partner, ch.CanonicalID, 1,
		statemachine.TokenAmount{}, lock.Amount, []statemachine.Lock{lock}, statemachine.Hash{0x09})
	lt := &wire.LockedTransfer{BalanceProof: lockedBP, Lock: lock}
	if events := handleReceiveLockedTransfer(ch, lt, partner.address); len(events) != 0 {
		t.Fatalf("setup failed: %v", events)
	}

	// Close is in flight; spec §4.1 rule 4 requires the channel strictly
	// Opened for every received balance-proof update, lock-expired included.
	ch.CloseTx.Started = true

	expiredBP := signedBalanceProof(t, partner, ch.CanonicalID, 2,
		statemachine.TokenAmount{}, statemachine.TokenAmount{}, nil, statemachine.Hash{0x0B})
	msg := &wire.LockExpired{BalanceProof: expiredBP, SecretHash: lock.SecretHash}

	events := handleReceiveLockExpired(ch, msg, partner.address)
	if len(events) != 1 {
		t.Fatalf("expected lock-expired to be rejected while closing, got %v", events)
	}
	if _, ok := events[0].(*event.ErrorInvalidReceivedLockExpired); !ok {
		t.Fatalf("expected ErrorInvalidReceivedLockExpired, got %T", events[0])
	}
	if _, ok := ch.Partner.LocksPendingOffchain[lock.SecretHash]; !ok {
		t.Fatalf("lock should remain pending when the update is rejected")
	}
}
