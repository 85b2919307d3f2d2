package chain

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
)

// confirmedKindFor maps a confirmed ledger state-change to the
// ContractSend kind it resolves, so the matching pending-transaction
// queue entry can be pruned (spec §4.5 "prune the pending-ledger-
// transaction queue on confirmed ledger events").
func confirmedKindFor(change statechange.StateChange) (statemachine.CanonicalID, string, bool) {
	switch c := change.(type) {
	case *statechange.LedgerChannelClosed:
		return c.CanonicalID, "closeChannel", true
	case *statechange.LedgerChannelSettled:
		return c.CanonicalID, "settleChannel", true
	case *statechange.LedgerChannelBatchUnlocked:
		return c.CanonicalID, "unlock", true
	case *statechange.LedgerChannelWithdraw:
		return c.CanonicalID, "setTotalWithdraw", true
	case *statechange.LedgerNonClosingBalanceProofUpdated:
		return c.CanonicalID, "updateNonClosingBalanceProof", true
	default:
		return statemachine.CanonicalID{}, "", false
	}
}

// trackPendingTransaction enqueues a newly emitted ContractSend request
// so it can be pruned once a confirming ledger event arrives (see
// prunePendingTransactions, spec §4.5). Nothing re-sends a queued request.
func trackPendingTransaction(chainState *statemachine.ChainState, e event.Event) {
	send, ok := e.(*event.ContractSend)
	if !ok {
		return
	}
	chainState.PendingTransactions = append(chainState.PendingTransactions, statemachine.PendingTransaction{
		Kind:        send.Kind,
		CanonicalID: send.CanonicalID,
		Deadline:    send.Deadline,
	})
}

// prunePendingTransactions drops queued transactions that the just-
// applied change confirms. "settleChannel" also resolves a prior
// "cooperativeSettle" request on the same channel, since both settle the
// channel on-ledger (spec §4.1 cooperative-settle note).
func prunePendingTransactions(chainState *statemachine.ChainState, change statechange.StateChange) {
	id, kind, ok := confirmedKindFor(change)
	if !ok {
		return
	}

	var kept []statemachine.PendingTransaction
	for _, tx := range chainState.PendingTransactions {
		if tx.CanonicalID != id {
			kept = append(kept, tx)
			continue
		}
		if tx.Kind == kind || (kind == "settleChannel" && tx.Kind == "cooperativeSettle") {
			continue
		}
		kept = append(kept, tx)
	}
	chainState.PendingTransactions = kept
}
