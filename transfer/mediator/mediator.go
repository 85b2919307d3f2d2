// Package mediator implements the mediator transfer sub-machine
// (component C3, spec §4.3): forwards a payment by pairing an incoming
// lock with an outgoing one, propagates secret reveal backwards towards
// the payer, and handles refunds when a downstream hop has no route.
// Grounded on lnd's htlcswitch circuit-map forwarding model
// (htlcswitch/switch.go), generalized from the circuit-key/keystone
// bookkeeping to the spec's ordered MediationPairState list.
package mediator

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// PairStatus is a single leg's (payer or payee) lifecycle position (spec
// §4.3).
type PairStatus uint8

const (
	StatusPending PairStatus = iota
	StatusSecretRevealed
	StatusWaitingSecretReveal
	StatusBalanceProof
	StatusExpired
)

// MediationPairState couples one incoming lock with the outgoing lock it
// was forwarded to, per spec §4.3.
type MediationPairState struct {
	PayerTransfer *wire.LockedTransfer
	PayerAddress  statemachine.Address
	PayerState    PairStatus

	PayeeTransfer *wire.LockedTransfer
	PayeeAddress  statemachine.Address
	PayeeState    PairStatus
}

// WaitingTransferState records an incoming lock this node could not yet
// forward because no usable route was found (spec §4.3).
type WaitingTransferState struct {
	Transfer *wire.LockedTransfer
	FromHop  statemachine.Address
	Status   PairStatus
}

// State is the mediator sub-machine's tracked state for one secret-hash
// (spec §4.3, §3 "Transfer task").
type State struct {
	SecretHash       statemachine.Hash
	Routes           []statemachine.RouteState
	RefundedChannels map[statemachine.CanonicalID]bool
	Secret           *statemachine.Hash
	Pairs            []*MediationPairState
	WaitingTransfer  *WaitingTransferState
}

func newState(secretHash statemachine.Hash, routes []statemachine.RouteState) *State {
	return &State{
		SecretHash:       secretHash,
		Routes:           routes,
		RefundedChannels: make(map[statemachine.CanonicalID]bool),
	}
}

// selectNextHop picks the first route whose first hop has a usable
// channel, excluding channels already marked refunded and cycles back to
// our own address (spec §4.3, reusing §4.2's usability check).
func selectNextHop(chainState *statemachine.ChainState, routes []statemachine.RouteState, amount statemachine.TokenAmount, refunded map[statemachine.CanonicalID]bool) (*statemachine.Channel, statemachine.RouteState, bool) {
	for _, route := range routes {
		if len(route.Hops) == 0 {
			continue
		}
		hop := route.Hops[0]
		if hop.Address == chainState.OurAddress {
			continue
		}
		ch, ok := chainState.ChannelWithPartner(hop.TokenNetwork, hop.Address)
		if !ok || refunded[ch.CanonicalID] {
			continue
		}
		if ch.Status() != statemachine.StatusOpened {
			continue
		}
		if len(ch.Our.PendingLocks) >= 160 {
			continue
		}
		if ch.Our.Distributable().Cmp(amount) < 0 {
			continue
		}
		return ch, route, true
	}
	return nil, statemachine.RouteState{}, false
}

// amountAfterFees deducts the outgoing channel's fee schedule estimate
// from the incoming lock amount (spec §4.3, reusing fee.Schedule from
// §3). The imbalance term is evaluated against our own balance on the
// outgoing channel before and after this forward, since that is the side
// whose distance from the midpoint the penalty table measures.
func amountAfterFees(ch *statemachine.Channel, incoming statemachine.TokenAmount) statemachine.TokenAmount {
	balanceBefore := ch.Our.Balance()
	balanceAfter := balanceBefore.Sub(incoming)
	amt, rebate := ch.FeeSchedule.Estimate(incoming, balanceBefore, balanceAfter)
	if rebate {
		sum, _ := incoming.Add(amt)
		return sum
	}
	return incoming.Sub(amt)
}

// HandleReceiveLockedTransfer implements spec §4.3's "on
// receive-locked-transfer" path, acting as mediator of an already-created
// payer leg: choose a next hop and forward, or park as a waiting
// transfer.
func HandleReceiveLockedTransfer(chainState *statemachine.ChainState, state *State, transfer *wire.LockedTransfer, fromHop statemachine.Address, block statemachine.BlockNumber, revealTimeout statemachine.BlockNumber) (*State, []event.Event) {
	if state == nil {
		state = newState(transfer.Lock.SecretHash, nil)
	}

	outCh, route, ok := selectNextHop(chainState, state.Routes, transfer.Lock.Amount, state.RefundedChannels)
	if !ok {
		state.WaitingTransfer = &WaitingTransferState{Transfer: transfer, FromHop: fromHop, Status: StatusPending}
		return state, nil
	}
	amount := amountAfterFees(outCh, transfer.Lock.Amount)

	lockExpiration := transfer.Lock.Expiration
	outLock := statemachine.Lock{
		Amount:     amount,
		Expiration: lockExpiration,
		SecretHash: transfer.Lock.SecretHash,
	}

	impliedLocks := append(append([]statemachine.Lock{}, outCh.Our.PendingLocks...), outLock)
	transferredAmount := outCh.Our.TransferredAmount()
	lockedAmount, _ := outCh.Our.LockedAmount().Add(outLock.Amount)
	locksRoot := statemachine.ComputeLocksRoot(impliedLocks)
	balanceHash := statemachine.ComputeBalanceHash(transferredAmount, lockedAmount, locksRoot)

	outMsg := &wire.LockedTransfer{
		BalanceProof: statemachine.BalanceProof{
			Nonce:             outCh.Our.Nonce + 1,
			TransferredAmount: transferredAmount,
			LockedAmount:      lockedAmount,
			LocksRoot:         locksRoot,
			CanonicalID:       outCh.CanonicalID,
			BalanceHash:       balanceHash,
		},
		PaymentID: transfer.PaymentID,
		Lock:      outLock,
		Initiator: transfer.Initiator,
		Target:    transfer.Target,
		Route:     route,
		MessageID: chainState.NextMessageID(),
	}

	pair := &MediationPairState{
		PayerTransfer: transfer,
		PayerAddress:  fromHop,
		PayerState:    StatusPending,
		PayeeTransfer: outMsg,
		PayeeAddress:  route.Hops[0].Address,
		PayeeState:    StatusPending,
	}
	state.Pairs = append(state.Pairs, pair)

	return state, []event.Event{&event.SendMessage{
		Recipient:   route.Hops[0].Address,
		CanonicalID: outCh.CanonicalID,
		Message:     outMsg,
	}}
}

// safeToWait implements spec §4.3: (lock.expiration - block) >
// reveal_timeout.
func safeToWait(lock statemachine.Lock, block statemachine.BlockNumber, revealTimeout statemachine.BlockNumber) bool {
	if lock.Expiration <= block {
		return false
	}
	return (lock.Expiration - block) > revealTimeout
}

// HandleOffchainSecretReveal implements spec §4.3's payee-side reveal
// propagation: learn the secret, reveal it backwards to the payer, and
// unlock every pair whose payee side already revealed and whose payer
// lock is still safe to wait on.
func HandleOffchainSecretReveal(state *State, secret statemachine.Hash, fromPayee statemachine.Address, block statemachine.BlockNumber, revealTimeout statemachine.BlockNumber) (*State, []event.Event) {
	if statemachine.HashSecret(secret) != state.SecretHash {
		return state, nil
	}
	state.Secret = &secret

	var events []event.Event
	for _, pair := range state.Pairs {
		if pair.PayeeAddress != fromPayee {
			continue
		}
		pair.PayeeState = StatusSecretRevealed
		if pair.PayerState == StatusBalanceProof {
			continue
		}
		pair.PayerState = StatusSecretRevealed
		events = append(events, &event.SendMessage{
			Recipient: pair.PayerAddress,
			Message:   &wire.SecretReveal{Secret: secret},
		})
	}

	for _, pair := range state.Pairs {
		if pair.PayeeState != StatusSecretRevealed || pair.PayerState == StatusBalanceProof {
			continue
		}
		if !safeToWait(pair.PayerTransfer.Lock, block, revealTimeout) {
			// Not enough blocks left to rely on the payer relaying our
			// off-chain SecretReveal onward in time: register the secret
			// on-chain ourselves so the payer leg can still be claimed
			// after expiry (spec §4.3 "safe-to-wait", scenario S4).
			pair.PayerState = StatusWaitingSecretReveal
			events = append(events, &event.ContractSend{
				Kind:        "registerSecret",
				CanonicalID: pair.PayerTransfer.BalanceProof.CanonicalID,
				Deadline:    pair.PayerTransfer.Lock.Expiration,
				Args:        map[string]interface{}{"secret": secret},
			})
			continue
		}
		pair.PayeeState = StatusBalanceProof
		events = append(events, &event.SendMessage{
			Recipient: pair.PayeeAddress,
			Message:   &wire.Unlock{Secret: secret, PaymentID: pair.PayeeTransfer.PaymentID},
		})
	}

	return state, events
}

// HandleContractSecretReveal implements spec §4.3's on-chain registration
// rescue outcome (scenario S4): once the ledger itself has recorded the
// secret, every tracked pair can be marked claimable without waiting on a
// peer's own off-chain message, including the payer leg the registerSecret
// call in HandleOffchainSecretReveal was protecting.
func HandleContractSecretReveal(state *State, secret statemachine.Hash) (*State, []event.Event) {
	if statemachine.HashSecret(secret) != state.SecretHash {
		return state, nil
	}
	state.Secret = &secret

	var events []event.Event
	for _, pair := range state.Pairs {
		if pair.PayerState != StatusBalanceProof {
			pair.PayerState = StatusSecretRevealed
		}
	}
	for _, pair := range state.Pairs {
		if pair.PayeeState == StatusBalanceProof {
			continue
		}
		pair.PayeeState = StatusBalanceProof
		events = append(events, &event.SendMessage{
			Recipient: pair.PayeeAddress,
			Message:   &wire.Unlock{Secret: secret, PaymentID: pair.PayeeTransfer.PaymentID},
		})
	}
	return state, events
}

// HandleReceiveUnlock records that our payer has sent us its own unlock
// for the incoming leg, completing that side of the pair (validated by
// the channel package before this is called; here it is bookkeeping
// only).
func HandleReceiveUnlock(state *State, secretHash statemachine.Hash) (*State, []event.Event) {
	for _, pair := range state.Pairs {
		if pair.PayerTransfer.Lock.SecretHash == secretHash {
			pair.PayerState = StatusBalanceProof
		}
	}
	return state, nil
}

// HandleLockExpired implements spec §4.3's "on lock-expired from payer":
// if accepted, the payer's lock is gone; if we had a matching payee pair,
// report claim failure since the payee side can no longer be made whole.
func HandleLockExpired(state *State, secretHash statemachine.Hash) (*State, []event.Event) {
	var events []event.Event
	for _, pair := range state.Pairs {
		if pair.PayerTransfer.Lock.SecretHash != secretHash {
			continue
		}
		pair.PayerState = StatusExpired
		if pair.PayeeState != StatusBalanceProof {
			events = append(events, &event.ErrorUnlockClaimFailed{
				SecretHash: secretHash,
				Reason:     "payer lock expired before the payee leg was made whole",
			})
		}
	}
	return state, events
}

// HandleBlock implements spec §4.3's block tick: expire payee-side locks
// past their receiver threshold, and expire the waiting transfer and any
// pairs past their respective thresholds.
func HandleBlock(state *State, block statemachine.BlockNumber, confirmationBlocks statemachine.BlockNumber) (*State, []event.Event) {
	var events []event.Event

	for _, pair := range state.Pairs {
		if pair.PayeeState == StatusBalanceProof || pair.PayeeState == StatusExpired {
			continue
		}
		threshold := pair.PayeeTransfer.Lock.Expiration + confirmationBlocks
		if block < threshold {
			continue
		}
		pair.PayeeState = StatusExpired
		events = append(events,
			&event.SendMessage{
				Recipient: pair.PayeeAddress,
				Message:   &wire.LockExpired{SecretHash: state.SecretHash},
			},
			&event.ErrorUnlockFailed{
				SecretHash: state.SecretHash,
				Reason:     "payee lock expired unclaimed",
			},
		)
	}

	if state.WaitingTransfer != nil && state.WaitingTransfer.Status != StatusExpired {
		threshold := state.WaitingTransfer.Transfer.Lock.Expiration + confirmationBlocks
		if block >= threshold {
			state.WaitingTransfer.Status = StatusExpired
		}
	}

	return state, events
}

// Done reports whether no lock for this secret-hash remains pending on
// any tracked channel side, the destruction condition from spec §4.3.
func (s *State) Done() bool {
	if s.WaitingTransfer != nil && s.WaitingTransfer.Status != StatusExpired {
		return false
	}
	for _, pair := range s.Pairs {
		payerDone := pair.PayerState == StatusExpired || pair.PayerState == StatusBalanceProof
		payeeDone := pair.PayeeState == StatusExpired || pair.PayeeState == StatusBalanceProof
		if !payerDone || !payeeDone {
			return false
		}
	}
	return true
}

// StateTransition dispatches a state-change to this mediator task (spec
// §3 "tagged variant ... dispatch by match").
func StateTransition(chainState *statemachine.ChainState, state *State, change statechange.StateChange, block statemachine.BlockNumber, revealTimeout statemachine.BlockNumber, confirmationBlocks statemachine.BlockNumber) (*State, []event.Event) {
	switch c := change.(type) {
	case *statechange.Block:
		return HandleBlock(state, c.BlockNumber, confirmationBlocks)
	case *statechange.ReceiveSecretReveal:
		return HandleOffchainSecretReveal(state, c.Message.Secret, c.Sender, block, revealTimeout)
	case *statechange.ContractReceiveSecretReveal:
		return HandleContractSecretReveal(state, c.Secret)
	case *statechange.ReceiveLockExpired:
		return HandleLockExpired(state, c.Message.SecretHash)
	case *statechange.ReceiveUnlock:
		return HandleReceiveUnlock(state, statemachine.HashSecret(c.Message.Secret))
	case *statechange.ReceiveLockedTransfer:
		return HandleReceiveLockedTransfer(chainState, state, c.Message, c.Sender, block, revealTimeout)
	case *statechange.ReceiveRefundTransfer:
		// A refund arrives as a fresh incoming locked-transfer from the
		// hop we just forwarded to, matching payment-id/amount/secret
		// hash/target/expiration/token (spec §4.3 "On refund"): mark that
		// channel refunded and retry route selection.
		if len(state.Pairs) > 0 {
			last := state.Pairs[len(state.Pairs)-1]
			if ch, ok := chainState.ChannelWithPartner(last.PayeeTransfer.Route.Hops[0].TokenNetwork, last.PayeeAddress); ok {
				state.RefundedChannels[ch.CanonicalID] = true
			}
		}
		return HandleReceiveLockedTransfer(chainState, state, &c.Message.LockedTransfer, c.Sender, block, revealTimeout)
	default:
		return state, nil
	}
}
