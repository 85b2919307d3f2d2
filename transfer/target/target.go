// Package target implements the target transfer sub-machine (component
// C4, spec §4.4): the terminal leg of a payment, which requests the
// secret from the initiator, reveals it to the payer, and completes the
// payment on unlock. Grounded on lnd's incoming-HTLC resolution path in
// htlcswitch/switch.go, generalized to the spec's explicit target states.
package target

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// Status is the target transfer's lifecycle position (spec §4.4).
type Status uint8

const (
	StatusSecretRequest Status = iota
	StatusOffchainSecretReveal
	StatusOnchainSecretReveal
	StatusOnchainUnlock
	StatusExpired
)

// State is the target sub-machine's tracked state for one incoming
// payment leg (spec §4.4, §3 "Transfer task").
type State struct {
	FromTransfer *wire.LockedTransfer
	FromHop      statemachine.Address
	CanonicalID  statemachine.CanonicalID
	Status       Status
	Secret       statemachine.Hash
}

// Init implements ActionInitTarget (spec §4.4): reject a lock whose
// expiration leaves less than reveal_timeout blocks before it turns
// unsafe, otherwise request the secret from the initiator.
func Init(transfer *wire.LockedTransfer, fromHop statemachine.Address, canonicalID statemachine.CanonicalID, block statemachine.BlockNumber, revealTimeout statemachine.BlockNumber) (*State, []event.Event) {
	state := &State{
		FromTransfer: transfer,
		FromHop:      fromHop,
		CanonicalID:  canonicalID,
	}

	remaining := transfer.Lock.Expiration
	if remaining <= block {
		remaining = 0
	} else {
		remaining -= block
	}
	if remaining < revealTimeout {
		state.Status = StatusExpired
		return state, []event.Event{&event.ErrorUnlockClaimFailed{
			SecretHash: transfer.Lock.SecretHash,
			Reason:     "lock expiration leaves less than reveal_timeout blocks",
		}}
	}

	state.Status = StatusSecretRequest
	req := &wire.SecretRequest{
		PaymentID:  transfer.PaymentID,
		SecretHash: transfer.Lock.SecretHash,
		Amount:     transfer.Lock.Amount,
		Expiration: transfer.Lock.Expiration,
	}
	return state, []event.Event{&event.SendMessage{
		Recipient:   transfer.Initiator,
		CanonicalID: canonicalID,
		Message:     req,
	}}
}

// handleSecretReveal implements both off-chain and on-chain secret reveal
// (spec §4.4): validate the secret hashes to the lock's secret-hash,
// store it, and relay the reveal to the payer.
func handleSecretReveal(state *State, secret statemachine.Hash, onchain bool) (*State, []event.Event) {
	if statemachine.HashSecret(secret) != state.FromTransfer.Lock.SecretHash {
		return state, nil
	}
	state.Secret = secret
	if onchain {
		state.Status = StatusOnchainSecretReveal
	} else {
		state.Status = StatusOffchainSecretReveal
	}

	reveal := &wire.SecretReveal{Secret: secret}
	return state, []event.Event{&event.SendMessage{
		Recipient:   state.FromHop,
		CanonicalID: state.CanonicalID,
		Message:     reveal,
	}}
}

// HandleUnlock implements the terminal unlock from the payer (spec
// §4.4): normal channel validation is the caller's (chain dispatcher's)
// responsibility via the channel package; here we just record success.
func HandleUnlock(state *State) (*State, []event.Event) {
	state.Status = StatusOnchainUnlock
	return nil, []event.Event{&event.PaymentReceivedSuccess{
		PaymentID: state.FromTransfer.PaymentID,
		Amount:    state.FromTransfer.Lock.Amount,
		Initiator: state.FromTransfer.Initiator,
	}}
}

// HandleBlock implements spec §4.4's block tick: past the receiver
// threshold without having unlocked, the target gives up.
func HandleBlock(state *State, block statemachine.BlockNumber, confirmationBlocks statemachine.BlockNumber) (*State, []event.Event) {
	if state.Status == StatusOnchainUnlock || state.Status == StatusExpired {
		return state, nil
	}
	threshold := state.FromTransfer.Lock.Expiration + confirmationBlocks
	if block < threshold {
		return state, nil
	}
	state.Status = StatusExpired
	return state, []event.Event{&event.ErrorUnlockClaimFailed{
		SecretHash: state.FromTransfer.Lock.SecretHash,
		Reason:     "receiver threshold passed without an unlock",
	}}
}

// StateTransition dispatches a state-change to this target task (spec §3
// "tagged variant ... dispatch by match").
func StateTransition(state *State, change statechange.StateChange, confirmationBlocks statemachine.BlockNumber) (*State, []event.Event) {
	switch c := change.(type) {
	case *statechange.Block:
		return HandleBlock(state, c.BlockNumber, confirmationBlocks)
	case *statechange.ReceiveSecretReveal:
		return handleSecretReveal(state, c.Message.Secret, false)
	case *statechange.ContractReceiveSecretReveal:
		return handleSecretReveal(state, c.Secret, true)
	case *statechange.ReceiveUnlock:
		return HandleUnlock(state)
	default:
		return state, nil
	}
}
