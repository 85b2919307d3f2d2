// Package wire defines the signed peer envelopes exchanged between nodes
// (spec §6). Field order within each struct is significant: it fixes the
// order fields are packed into a signature preimage, mirroring the
// teacher's lnwire package where struct layout doubles as wire layout.
package wire

import (
	"github.com/chainmesh/corelayer/statemachine"
)

// Message is implemented by every peer wire message.
type Message interface {
	MsgID() statemachine.MessageID
}

// LockedTransfer is a new HTLC offer, carrying the sender's updated
// balance-proof with the lock appended (spec §6).
type LockedTransfer struct {
	BalanceProof statemachine.BalanceProof
	PaymentID    uint64
	Lock         statemachine.Lock
	Initiator    statemachine.Address
	Target       statemachine.Address
	Route        statemachine.RouteState
	MessageID    statemachine.MessageID
}

func (m *LockedTransfer) MsgID() statemachine.MessageID { return m.MessageID }

// RefundTransfer has the same shape as LockedTransfer but carries refund
// semantics: a mediator sends it back towards the payer when it cannot
// find a further route (spec §6, §4.3).
type RefundTransfer struct {
	LockedTransfer
}

// SecretRequest is sent by the target to the initiator once it has
// received a locked transfer whose lock is safe to respond to (spec §6).
type SecretRequest struct {
	PaymentID  uint64
	SecretHash statemachine.Hash
	Amount     statemachine.TokenAmount
	Expiration statemachine.BlockNumber
	MessageID  statemachine.MessageID
}

func (m *SecretRequest) MsgID() statemachine.MessageID { return m.MessageID }

// SecretReveal carries the preimage back along the route, off-chain (spec
// §6).
type SecretReveal struct {
	Secret    statemachine.Hash
	MessageID statemachine.MessageID
}

func (m *SecretReveal) MsgID() statemachine.MessageID { return m.MessageID }

// Unlock is the balance-proof update that moves a lock's amount from
// locked to transferred, with the unlocked lock removed from pending_locks
// (spec §6).
type Unlock struct {
	BalanceProof statemachine.BalanceProof
	PaymentID    uint64
	Secret       statemachine.Hash
	MessageID    statemachine.MessageID
}

func (m *Unlock) MsgID() statemachine.MessageID { return m.MessageID }

// LockExpired is the balance-proof update that removes an expired lock
// from pending_locks without a secret (spec §6).
type LockExpired struct {
	BalanceProof statemachine.BalanceProof
	SecretHash   statemachine.Hash
	MessageID    statemachine.MessageID
}

func (m *LockExpired) MsgID() statemachine.MessageID { return m.MessageID }

// WithdrawRequest proposes a new total-withdraw for the channel (spec §6,
// §4.1).
type WithdrawRequest struct {
	CanonicalID   statemachine.CanonicalID
	Participant   statemachine.Address
	TotalWithdraw statemachine.TokenAmount
	Expiration    statemachine.BlockNumber
	Nonce         uint64
	Signature     []byte
	CoopSettle    bool
	MessageID     statemachine.MessageID
}

func (m *WithdrawRequest) MsgID() statemachine.MessageID { return m.MessageID }

// WithdrawConfirmation co-signs a pending WithdrawRequest (spec §6).
type WithdrawConfirmation struct {
	CanonicalID   statemachine.CanonicalID
	Participant   statemachine.Address
	TotalWithdraw statemachine.TokenAmount
	Expiration    statemachine.BlockNumber
	Nonce         uint64
	Signature     []byte
	CoopSettle    bool
	MessageID     statemachine.MessageID
}

func (m *WithdrawConfirmation) MsgID() statemachine.MessageID { return m.MessageID }

// WithdrawExpired notifies the partner that a withdraw has aged out
// without a confirmation (spec §6).
type WithdrawExpired struct {
	CanonicalID   statemachine.CanonicalID
	Participant   statemachine.Address
	TotalWithdraw statemachine.TokenAmount
	Expiration    statemachine.BlockNumber
	Nonce         uint64
	MessageID     statemachine.MessageID
}

func (m *WithdrawExpired) MsgID() statemachine.MessageID { return m.MessageID }

// Processed acknowledges receipt and full processing of a message; the
// sender may drop it from the unordered queue or (for channel-ordered
// queues) from any queue entry except a pending SendWithdrawRequest (spec
// §4.5).
type Processed struct {
	MessageID statemachine.MessageID
	Sender    statemachine.Address
}

func (m *Processed) MsgID() statemachine.MessageID { return m.MessageID }

// Delivered acknowledges receipt (but not necessarily full processing) of
// a message (spec §6).
type Delivered struct {
	MessageID statemachine.MessageID
	Sender    statemachine.Address
}

func (m *Delivered) MsgID() statemachine.MessageID { return m.MessageID }
