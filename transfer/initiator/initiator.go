// Package initiator implements the initiator transfer sub-machine
// (component C2, spec §4.2): originates a payment, tries candidate routes
// under a fee margin and hard cap, and drives the lock through secret
// request, reveal, and unlock. Grounded on lnd's payment-lifecycle
// tracking in htlcswitch/switch_control.go, generalized from the
// circuit/attempt model to the spec's single-task-per-secret-hash model.
package initiator

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// Status is the initiator transfer's lifecycle position (spec §4.2).
type Status uint8

const (
	StatusPending Status = iota
	StatusCancelled
	StatusExpired
)

// TransferDescription is the user-facing payment request the initiator
// sub-machine tries to route (spec §4.2).
type TransferDescription struct {
	TokenNetwork statemachine.Address
	Amount       statemachine.TokenAmount
	Target       statemachine.Address
	Secret       statemachine.Hash
	SecretHash   statemachine.Hash
	LockTimeout  statemachine.BlockNumber
	PaymentID    uint64
}

// State is the initiator sub-machine's tracked state for one payment
// attempt (spec §4.2, §3 "Transfer task").
type State struct {
	Description  TransferDescription
	Routes       []statemachine.RouteState
	CanonicalID  statemachine.CanonicalID
	Transfer     *wire.LockedTransfer
	Status       Status
	AnsweredOnce bool
}

// margin implements spec §4.2's margin formula:
// margin = fee/10 + amount*5/100000.
func margin(amount, fee statemachine.TokenAmount) statemachine.TokenAmount {
	feeShare := fee.Uint64() / 10
	amountShare := amount.Uint64() * 5 / 100000
	return statemachine.NewTokenAmount(feeShare + amountShare)
}

// cap implements spec §4.2's hard cap: amount + amount*2/1000.
func cap(amount statemachine.TokenAmount) statemachine.TokenAmount {
	extra := amount.Uint64() * 2 / 1000
	total, _ := amount.Add(statemachine.NewTokenAmount(extra))
	return total
}

// usable reports whether a channel can carry a new lock of amount, per the
// distributable/pending-locks invariants (spec §3, §4.2). The lock timeout
// is not checked here.
func usable(ch *statemachine.Channel, amount statemachine.TokenAmount) bool {
	if ch == nil || ch.Status() != statemachine.StatusOpened {
		return false
	}
	if len(ch.Our.PendingLocks) >= 160 {
		return false
	}
	return ch.Our.Distributable().GreaterThan(amount) || ch.Our.Distributable().Cmp(amount) == 0
}

// TryNewRoute implements spec §4.2's route trial: for each candidate
// route, compute amount_with_fees, reject if it exceeds the hard cap,
// and take the first route whose first-hop channel is usable.
func TryNewRoute(chainState *statemachine.ChainState, desc TransferDescription, routes []statemachine.RouteState, block statemachine.BlockNumber) (*State, []event.Event) {
	capAmount := cap(desc.Amount)

	for _, route := range routes {
		if len(route.Hops) == 0 {
			continue
		}
		amountWithFees, overflow := desc.Amount.Add(route.EstimatedFee)
		if overflow {
			continue
		}
		amountWithFees, overflow = amountWithFees.Add(margin(desc.Amount, route.EstimatedFee))
		if overflow {
			continue
		}
		if amountWithFees.GreaterThan(capAmount) {
			continue
		}

		firstHop := route.Hops[0]
		ch, ok := chainState.ChannelWithPartner(desc.TokenNetwork, firstHop.Address)
		if !ok || !usable(ch, amountWithFees) {
			continue
		}

		lockTimeout := desc.LockTimeout
		if lockTimeout == 0 {
			lockTimeout = 2 * ch.RevealTimeout
		}
		expiration := block + lockTimeout

		lock := statemachine.Lock{
			Amount:     amountWithFees,
			Expiration: expiration,
			SecretHash: desc.SecretHash,
		}

		impliedLocks := append(append([]statemachine.Lock{}, ch.Our.PendingLocks...), lock)
		transferredAmount := ch.Our.TransferredAmount()
		lockedAmount, _ := ch.Our.LockedAmount().Add(lock.Amount)
		locksRoot := statemachine.ComputeLocksRoot(impliedLocks)
		balanceHash := statemachine.ComputeBalanceHash(transferredAmount, lockedAmount, locksRoot)
		nonce := ch.Our.Nonce + 1

		msg := &wire.LockedTransfer{
			BalanceProof: statemachine.BalanceProof{
				Nonce:             nonce,
				TransferredAmount: transferredAmount,
				LockedAmount:      lockedAmount,
				LocksRoot:         locksRoot,
				CanonicalID:       ch.CanonicalID,
				BalanceHash:       balanceHash,
			},
			PaymentID: desc.PaymentID,
			Lock:      lock,
			Initiator: chainState.OurAddress,
			Target:    desc.Target,
			Route:     route,
			MessageID: chainState.NextMessageID(),
		}

		state := &State{
			Description: desc,
			Routes:      routes,
			CanonicalID: ch.CanonicalID,
			Transfer:    msg,
			Status:      StatusPending,
		}

		events := []event.Event{&event.SendMessage{
			Recipient:   firstHop.Address,
			CanonicalID: ch.CanonicalID,
			Message:     msg,
		}}
		return state, events
	}

	return nil, []event.Event{&event.ErrorPaymentSentFailed{
		PaymentID: desc.PaymentID,
		Reason:    "route exhaustion: no candidate route had a usable channel within the fee cap",
	}}
}

// HandleSecretRequest validates an incoming SecretRequest against the
// route's record and replies with a secret reveal (spec §4.2). A target
// must be answered at most once.
func HandleSecretRequest(state *State, msg *wire.SecretRequest, sender statemachine.Address) (*State, []event.Event) {
	if state.AnsweredOnce {
		return state, nil
	}
	if sender != state.Description.Target {
		return state, []event.Event{&event.ErrorInvalidSecretRequest{
			PaymentID: state.Description.PaymentID,
			Reason:    "secret-request sender is not the declared target",
		}}
	}
	if msg.SecretHash != state.Description.SecretHash || msg.PaymentID != state.Description.PaymentID {
		return state, []event.Event{&event.ErrorInvalidSecretRequest{
			PaymentID: state.Description.PaymentID,
			Reason:    "secret-request secret-hash or payment-id mismatch",
		}}
	}
	if msg.Amount.Cmp(state.Transfer.Lock.Amount) != 0 || msg.Expiration != state.Transfer.Lock.Expiration {
		return state, []event.Event{&event.ErrorInvalidSecretRequest{
			PaymentID: state.Description.PaymentID,
			Reason:    "secret-request amount or expiration disagrees with the sent lock",
		}}
	}

	state.AnsweredOnce = true
	reveal := &wire.SecretReveal{Secret: state.Description.Secret}
	return state, []event.Event{&event.SendMessage{
		Recipient:   sender,
		CanonicalID: state.CanonicalID,
		Message:     reveal,
	}}
}

// HandleSecretReveal implements both the off-chain and on-chain secret
// reveal paths (spec §4.2): either way, the initiator unlocks the
// outgoing channel and reports success. secret must hash to this task's
// secret-hash; a mismatched reveal is ignored.
func HandleSecretReveal(state *State, secret statemachine.Hash) (*State, []event.Event) {
	if statemachine.HashSecret(secret) != state.Description.SecretHash {
		return state, nil
	}
	unlock := &wire.Unlock{
		Secret:    state.Description.Secret,
		PaymentID: state.Description.PaymentID,
	}
	events := []event.Event{
		&event.SendMessage{
			Recipient:   state.Transfer.Route.Hops[0].Address,
			CanonicalID: state.CanonicalID,
			Message:     unlock,
		},
		&event.PaymentSentSuccess{
			PaymentID: state.Description.PaymentID,
			Amount:    state.Description.Amount,
			Target:    state.Description.Target,
		},
		&event.UnlockSuccess{SecretHash: state.Description.SecretHash},
	}
	return nil, events
}

// HandleBlock implements spec §4.2's block tick: past the sender
// threshold, emit a lock-expired and mark the transfer Expired. The
// caller (chain dispatcher) is responsible for retaining the task until
// the lock has actually been removed from both channel sides.
func HandleBlock(state *State, block statemachine.BlockNumber, confirmationBlocks statemachine.BlockNumber) (*State, []event.Event) {
	if state.Status != StatusPending {
		return state, nil
	}
	threshold := state.Transfer.Lock.Expiration + 2*confirmationBlocks
	if block < threshold {
		return state, nil
	}

	state.Status = StatusExpired
	expired := &wire.LockExpired{SecretHash: state.Description.SecretHash}
	return state, []event.Event{
		&event.SendMessage{
			Recipient:   state.Transfer.Route.Hops[0].Address,
			CanonicalID: state.CanonicalID,
			Message:     expired,
		},
		&event.ErrorPaymentSentFailed{
			PaymentID: state.Description.PaymentID,
			Reason:    "lock expired before the target requested the secret",
		},
		&event.ErrorUnlockFailed{
			SecretHash: state.Description.SecretHash,
			Reason:     "initiator lock expired unclaimed",
		},
	}
}

// StateTransition dispatches a state-change to this initiator task (spec
// §3 "tagged variant ... dispatch by match").
func StateTransition(chainState *statemachine.ChainState, state *State, change statechange.StateChange, block statemachine.BlockNumber, confirmationBlocks statemachine.BlockNumber) (*State, []event.Event) {
	switch c := change.(type) {
	case *statechange.Block:
		return HandleBlock(state, c.BlockNumber, confirmationBlocks)
	case *statechange.ReceiveSecretRequest:
		return HandleSecretRequest(state, c.Message, c.Sender)
	case *statechange.ReceiveSecretReveal:
		return HandleSecretReveal(state, c.Message.Secret)
	case *statechange.ContractReceiveSecretReveal:
		return HandleSecretReveal(state, c.Secret)
	case *statechange.ActionCancelPayment:
		if c.PaymentID != state.Description.PaymentID {
			return state, nil
		}
		state.Status = StatusCancelled
		return state, []event.Event{&event.ErrorPaymentSentFailed{
			PaymentID: state.Description.PaymentID,
			Reason:    "cancelled by user",
		}}
	default:
		return state, nil
	}
}
