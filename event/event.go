// Package event defines every output a sub-machine transition can produce:
// outbound wire sends, ledger transaction requests, and user-facing
// success/error notifications (spec §4, §6, §7).
package event

import (
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// Event is implemented by every value a transition can emit.
type Event interface {
	isEvent()
}

type base struct{}

func (base) isEvent() {}

// SendMessage queues msg for delivery to recipient over the given queue
// (spec §4.5). There are no per-kind Send* types: the concrete type of
// Message tells which kind of send it is.
type SendMessage struct {
	base
	Recipient   statemachine.Address
	CanonicalID statemachine.CanonicalID // zero value -> unordered queue
	Message     wire.Message
}

// ContractSend requests an on-ledger transaction (spec §4.5, §6).
type ContractSend struct {
	base
	Kind        string
	CanonicalID statemachine.CanonicalID
	Deadline    statemachine.BlockNumber
	Args        map[string]interface{}
}

// PaymentSentSuccess reports a completed outgoing payment to the control
// adapter (spec §4.2, §4.8).
type PaymentSentSuccess struct {
	base
	PaymentID uint64
	Amount    statemachine.TokenAmount
	Target    statemachine.Address
}

// PaymentReceivedSuccess reports a completed incoming payment (spec §4.4).
type PaymentReceivedSuccess struct {
	base
	PaymentID uint64
	Amount    statemachine.TokenAmount
	Initiator statemachine.Address
}

// UnlockSuccess reports that a lock this node held has been claimed (spec
// §4.2).
type UnlockSuccess struct {
	base
	SecretHash statemachine.Hash
}

// ErrorPaymentSentFailed reports a failed outgoing payment (spec §4.2, S3).
type ErrorPaymentSentFailed struct {
	base
	PaymentID uint64
	Reason    string
}

// ErrorInvalidSecretRequest reports a SecretRequest whose amount or
// expiration disagreed with the initiator's records (spec §4.2).
type ErrorInvalidSecretRequest struct {
	base
	PaymentID uint64
	Reason    string
}

// ErrorUnlockFailed reports a lock expiring before it could be claimed
// (spec §4.2, §7).
type ErrorUnlockFailed struct {
	base
	SecretHash statemachine.Hash
	Reason     string
}

// ErrorUnlockClaimFailed is UnlockFailed observed by a mediator tracking a
// payee leg (spec §4.3, §7).
type ErrorUnlockClaimFailed struct {
	base
	SecretHash statemachine.Hash
	Reason     string
}

// ErrorInvalidReceivedLockedTransfer, ErrorInvalidReceivedUnlock,
// ErrorInvalidReceivedLockExpired report a PeerMessageInvalid rejection for
// the corresponding message kind (spec §4.1 balance-proof validation).
type ErrorInvalidReceivedLockedTransfer struct {
	base
	CanonicalID statemachine.CanonicalID
	Reason      string
}

type ErrorInvalidReceivedUnlock struct {
	base
	CanonicalID statemachine.CanonicalID
	Reason      string
}

type ErrorInvalidReceivedLockExpired struct {
	base
	CanonicalID statemachine.CanonicalID
	Reason      string
}

// ChannelDestroyed reports that a channel's state_transition returned None
// and it has been removed from chain state (spec §4.1).
type ChannelDestroyed struct {
	base
	CanonicalID statemachine.CanonicalID
}

// StateRejected reports that the state machine refused a state-change for
// a domain reason, distinct from a malformed peer message (spec §7
// StateRejected).
type StateRejected struct {
	base
	CanonicalID statemachine.CanonicalID
	Reason      string
}
