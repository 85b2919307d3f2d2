// Package channel implements the per-channel state machine (component C1,
// spec §4.1): balance-proof validation, the withdraw and cooperative-settle
// protocols, and the close/settle/unlock ledger lifecycle. It has no
// knowledge of transfer routing; that lives in the transfer/* packages.
package channel

import (
	"math/rand"

	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
)

// StateTransition applies change to ch and returns the resulting channel
// (nil if the channel should be destroyed) plus the events produced (spec
// §4.1): "state_transition(channel, change, block_number, block_hash, rng)
// -> (Option<channel'>, events)". rng is accepted for parity with the
// contract's signature; the channel machine itself does not consume
// randomness (only transfer route selection does).
//
// SanityCheck runs after every transition that keeps the channel alive; a
// violated invariant is reported as a Fatal error, matching spec §4.1's
// "Sanity check runs after every transition; any invariant violation is a
// fatal state-transition error."
func StateTransition(ch *statemachine.Channel, change statechange.StateChange, block statemachine.BlockNumber, blockHash statemachine.Hash, rng *rand.Rand) (*statemachine.Channel, []event.Event, *statemachine.Error) {
	var events []event.Event
	destroyed := false

	switch c := change.(type) {
	case *statechange.Block:
		events = handleBlock(ch, c.BlockNumber)

	case *statechange.ActionChannelClose:
		events = handleActionClose(ch)

	case *statechange.ActionChannelWithdraw:
		events = handleActionWithdraw(ch, c.TotalWithdraw, block)

	case *statechange.ActionChannelCoopSettle:
		events = handleActionCoopSettle(ch, block)

	case *statechange.ActionChannelSetRevealTimeout:
		if !statemachine.ValidateTimeouts(c.RevealTimeout, ch.SettleTimeout) {
			events = []event.Event{errStateRejected(ch, "reveal_timeout too large relative to settle_timeout")}
		} else {
			ch.RevealTimeout = c.RevealTimeout
		}

	case *statechange.LedgerChannelNewDeposit:
		events = handleLedgerChannelNewDeposit(ch, c.Participant, c.TotalDeposit)

	case *statechange.LedgerChannelWithdraw:
		events = handleLedgerChannelWithdraw(ch, c.Participant, c.TotalWithdraw)

	case *statechange.LedgerChannelClosed:
		events = handleLedgerChannelClosed(ch, c.ClosingAddress, c.BlockNumber)

	case *statechange.LedgerChannelSettled:
		var next *statemachine.Channel
		next, events = handleLedgerChannelSettled(ch)
		destroyed = next == nil

	case *statechange.LedgerChannelBatchUnlocked:
		var next *statemachine.Channel
		next, events = handleLedgerBatchUnlocked(ch, c.Participant)
		destroyed = next == nil

	case *statechange.LedgerNonClosingBalanceProofUpdated:
		events = handleLedgerNonClosingBalanceProofUpdated(ch)

	case *statechange.ReceiveWithdrawRequest:
		events = handleReceiveWithdrawRequest(ch, c.Message, c.Sender)

	case *statechange.ReceiveWithdrawConfirmation:
		events = handleReceiveWithdrawConfirmation(ch, c.Message)

	case *statechange.ReceiveWithdrawExpired:
		events = handleReceiveWithdrawExpired(ch, c.Message)

	case *statechange.ReceiveLockedTransfer:
		events = handleReceiveLockedTransfer(ch, c.Message, c.Sender)

	case *statechange.ReceiveUnlock:
		events = handleReceiveUnlock(ch, c.Message, c.Sender)

	case *statechange.ReceiveLockExpired:
		events = handleReceiveLockExpired(ch, c.Message, c.Sender)

	default:
		// Not a channel-scoped state-change; nothing to do here. The chain
		// dispatcher (C5) only routes channel-relevant kinds to this
		// function, so reaching this branch is harmless, not an error.
		return ch, nil, nil
	}

	if destroyed {
		return nil, events, nil
	}

	if err := ch.SanityCheck(); err != nil {
		return ch, events, err
	}

	return ch, events, nil
}
