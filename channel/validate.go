// Package channel implements the per-channel state machine (spec §4.1,
// component C1): deposits, withdraws, close/settle, HTLC lifecycle, and
// balance-proof validation. Grounded on the teacher's lnwallet/channel.go
// commitment-chain state machine, generalized from HTLC-on-commitment-tx
// semantics to the spec's locksroot/balance-proof semantics.
package channel

import (
	"github.com/chainmesh/corelayer/statemachine"
)

// lockDelta describes how a received balance-proof update is expected to
// change transferred/locked amounts, per message kind (spec §4.1 rule 7).
type lockDelta struct {
	transferredDelta statemachine.TokenAmount
	lockedDelta      statemachine.TokenAmount
	lockedIncreases  bool
}

// validateReceivedBalanceProof implements the seven checks of spec §4.1.
// senderEnd is the channel end belonging to the message's sender (the
// party whose nonce/locksroot this balance-proof updates).
func validateReceivedBalanceProof(
	ch *statemachine.Channel,
	senderEnd *statemachine.End,
	bp statemachine.BalanceProof,
	delta lockDelta,
) *statemachine.Error {

	// Rule 1: signature recovers to the sender's address.
	if bp.Sender == nil {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof missing sender")
	}
	if *bp.Sender != senderEnd.Address {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof sender does not match channel end")
	}
	if bp.MessageHash == nil {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof missing message-hash")
	}
	preimage := statemachine.BalanceProofSignaturePreimage(
		bp.CanonicalID, bp.BalanceHash, bp.Nonce, *bp.MessageHash)
	recovered, err := statemachine.RecoverSigner(preimage, bp.Signature)
	if err != nil || recovered != senderEnd.Address {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof signature does not recover to sender")
	}

	// Rule 2: nonce == sender.nonce + 1.
	if bp.Nonce != senderEnd.Nonce+1 {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof nonce is not sender.nonce+1")
	}

	// Rule 3: canonical id matches this channel.
	if bp.CanonicalID != ch.CanonicalID {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof canonical id does not match channel")
	}

	// Rule 4: channel status is Opened.
	if ch.Status() != statemachine.StatusOpened {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"channel is not open")
	}

	// Rule 5: transferred+locked does not overflow.
	if _, overflow := bp.TransferredAmount.Add(bp.LockedAmount); overflow {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof transferred+locked overflows")
	}

	// Rule 7: transferred/locked changed by exactly the amount the
	// message kind dictates.
	prevTransferred := senderEnd.TransferredAmount()
	prevLocked := senderEnd.LockedAmount()

	wantTransferred := prevTransferred
	wantLocked := prevLocked
	if delta.lockedIncreases {
		wantLocked, _ = wantLocked.Add(delta.lockedDelta)
	} else {
		wantLocked = wantLocked.Sub(delta.lockedDelta)
		wantTransferred, _ = wantTransferred.Add(delta.transferredDelta)
	}
	if bp.TransferredAmount.Cmp(wantTransferred) != 0 {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof transferred-amount changed by an unexpected amount")
	}
	if bp.LockedAmount.Cmp(wantLocked) != 0 {
		return statemachine.NewError(statemachine.ErrPeerMessageInvalid,
			"balance-proof locked-amount changed by an unexpected amount")
	}

	// Rule 6 (locksroot) is checked by the caller once it has computed
	// the implied pending_locks vector, since only the caller knows
	// which lock is being added/removed.
	return nil
}
