package channel

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statemachine"
)

// handleActionClose requests an on-ledger close of the channel (spec
// §4.1).
func handleActionClose(ch *statemachine.Channel) []event.Event {
	if ch.CloseTx.Started {
		return []event.Event{errStateRejected(ch, "close already requested")}
	}
	ch.CloseTx.Started = true
	return []event.Event{&event.ContractSend{
		Kind:        "closeChannel",
		CanonicalID: ch.CanonicalID,
	}}
}

// handleLedgerChannelClosed applies a confirmed ChannelClosed log. If we
// did not initiate the close and hold a balance-proof, we update the
// ledger with it so the closing party cannot settle on a stale state
// (spec §4.1 close path).
func handleLedgerChannelClosed(ch *statemachine.Channel, closingAddr statemachine.Address, block statemachine.BlockNumber) []event.Event {
	ch.CloseTx.Finished = true
	ch.CloseTx.Result = "ok"
	ch.CloseBlock = block
	ch.ClosingAddr = closingAddr

	if closingAddr == ch.Our.Address || ch.Partner.BalanceProof == nil {
		return nil
	}

	bp := *ch.Partner.BalanceProof
	ch.UpdateTx.Started = true
	return []event.Event{&event.ContractSend{
		Kind:        "updateNonClosingBalanceProof",
		CanonicalID: ch.CanonicalID,
		Args: map[string]interface{}{
			"balanceProof": bp,
		},
	}}
}

// handleLedgerChannelSettled applies a confirmed ChannelSettled log: if
// either end still has an on-chain locksroot, an unlock transaction is
// needed before the channel can be destroyed; otherwise the channel is
// destroyed immediately (spec §4.1 close path).
//
// Returns (nil, events) when the channel should be destroyed.
func handleLedgerChannelSettled(ch *statemachine.Channel) (*statemachine.Channel, []event.Event) {
	ch.SettleTx.Finished = true
	ch.SettleTx.Result = "ok"

	ourLocksroot := ch.Our.OnchainLocksRoot
	partnerLocksroot := ch.Partner.OnchainLocksRoot
	empty := statemachine.EmptyLocksRoot()

	if ourLocksroot == empty && partnerLocksroot == empty {
		return nil, []event.Event{&event.ChannelDestroyed{CanonicalID: ch.CanonicalID}}
	}

	var events []event.Event
	if ourLocksroot != empty {
		events = append(events, &event.ContractSend{
			Kind:        "unlock",
			CanonicalID: ch.CanonicalID,
			Args:        map[string]interface{}{"side": "our"},
		})
	}
	if partnerLocksroot != empty {
		events = append(events, &event.ContractSend{
			Kind:        "unlock",
			CanonicalID: ch.CanonicalID,
			Args:        map[string]interface{}{"side": "partner"},
		})
	}
	return ch, events
}

// handleLedgerBatchUnlocked applies a confirmed ChannelUnlocked log for one
// side's locks, clearing that side's on-chain locksroot. Once both sides
// are clear and settlement already occurred, the channel is destroyed.
func handleLedgerBatchUnlocked(ch *statemachine.Channel, participant statemachine.Address) (*statemachine.Channel, []event.Event) {
	end := endFor(ch, participant)
	end.OnchainLocksRoot = statemachine.EmptyLocksRoot()

	if ch.Status() != statemachine.StatusSettled {
		return ch, nil
	}
	empty := statemachine.EmptyLocksRoot()
	if ch.Our.OnchainLocksRoot == empty && ch.Partner.OnchainLocksRoot == empty {
		return nil, []event.Event{&event.ChannelDestroyed{CanonicalID: ch.CanonicalID}}
	}
	return ch, nil
}

// handleLedgerNonClosingBalanceProofUpdated marks our pending
// update_transfer transaction as finished once observed confirmed.
func handleLedgerNonClosingBalanceProofUpdated(ch *statemachine.Channel) []event.Event {
	ch.UpdateTx.Finished = true
	ch.UpdateTx.Result = "ok"
	return nil
}

// handleLedgerChannelNewDeposit applies a confirmed deposit, increasing the
// named participant's contract balance (spec §4.1, §4.8).
func handleLedgerChannelNewDeposit(ch *statemachine.Channel, participant statemachine.Address, totalDeposit statemachine.TokenAmount) []event.Event {
	end := endFor(ch, participant)
	end.ContractBalance = totalDeposit
	return nil
}

// handleLedgerChannelWithdraw applies a confirmed on-chain withdraw,
// increasing the named participant's total-withdraw (spec §4.1).
func handleLedgerChannelWithdraw(ch *statemachine.Channel, participant statemachine.Address, totalWithdraw statemachine.TokenAmount) []event.Event {
	end := endFor(ch, participant)
	end.TotalWithdrawn = totalWithdraw
	return nil
}

// handleActionCoopSettle starts the cooperative-settle protocol: both ends
// must have zero pending locks and zero pending off-chain withdraws (spec
// §4.1, scenario S5). Either party may initiate, but only one at a time.
func handleActionCoopSettle(ch *statemachine.Channel, block statemachine.BlockNumber) []event.Event {
	if ch.Our.CoopSettle != nil {
		return []event.Event{errStateRejected(ch, "cooperative settle already in flight")}
	}
	if len(ch.Our.PendingLocks) != 0 || len(ch.Partner.PendingLocks) != 0 {
		return []event.Event{errStateRejected(ch, "cooperative settle requires no pending locks")}
	}
	if len(ch.Our.WithdrawsPending) != 0 || len(ch.Partner.WithdrawsPending) != 0 {
		return []event.Event{errStateRejected(ch, "cooperative settle requires no pending withdraws")}
	}

	ourShare := ch.Our.Balance()
	expiration := block + ch.SettleTimeout

	ch.Our.CoopSettle = &statemachine.CoopSettleState{
		Initiator:        ch.Our.Address,
		TotalWithdrawIni: ourShare,
		Expiration:       expiration,
	}

	return startWithdraw(ch, ourShare, block, true)
}
