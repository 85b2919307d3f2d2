// Package statechange defines every input the core transition function
// accepts: user actions, block ticks, ledger-receives, and peer messages
// (spec §4.1, §6). Grounded on the Go Raiden port's statechange.go, which
// models the identical "one struct per state-change kind" shape (see
// other_examples/..._raiden-network__transfer-mediatedtransfer-statechange.go.go).
package statechange

import (
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// StateChange is implemented by every input to chain.Transition.
type StateChange interface {
	isStateChange()
}

type base struct{}

func (base) isStateChange() {}

// Block is the only source of time in the core (spec §5).
type Block struct {
	base
	BlockNumber statemachine.BlockNumber
	BlockHash   statemachine.Hash
}

// ActionChannelClose is a user request to close a channel.
type ActionChannelClose struct {
	base
	CanonicalID statemachine.CanonicalID
}

// ActionChannelWithdraw is a user request to withdraw up to a new
// total-withdraw.
type ActionChannelWithdraw struct {
	base
	CanonicalID   statemachine.CanonicalID
	TotalWithdraw statemachine.TokenAmount
}

// ActionChannelCoopSettle is a user request to cooperatively settle a
// channel (spec §4.1, scenario S5).
type ActionChannelCoopSettle struct {
	base
	CanonicalID statemachine.CanonicalID
}

// ActionChannelSetRevealTimeout updates a channel's reveal-timeout.
type ActionChannelSetRevealTimeout struct {
	base
	CanonicalID   statemachine.CanonicalID
	RevealTimeout statemachine.BlockNumber
}

// ActionInitInitiator starts a payment (spec §4.2).
type ActionInitInitiator struct {
	base
	TokenNetwork  statemachine.Address
	Amount        statemachine.TokenAmount
	Target        statemachine.Address
	Secret        statemachine.Hash
	SecretHash    statemachine.Hash
	LockTimeout   statemachine.BlockNumber
	PaymentID     uint64
	Routes        []statemachine.RouteState
}

// ActionCancelPayment marks every non-Canceled initiator transfer for a
// payment as Canceled (spec §5).
type ActionCancelPayment struct {
	base
	PaymentID uint64
}

// ActionInitMediator is produced by the dispatcher when an incoming locked
// transfer has no existing transfer task (spec §4.3).
type ActionInitMediator struct {
	base
	FromTransfer *wire.LockedTransfer
	FromHop      statemachine.Address
	Routes       []statemachine.RouteState
}

// ActionInitTarget is produced by the dispatcher when this node is the
// locked transfer's target (spec §4.4).
type ActionInitTarget struct {
	base
	FromTransfer *wire.LockedTransfer
	FromHop      statemachine.Address
}

// LedgerChannelOpened is decoded from a confirmed ChannelOpened log (spec
// §4.6).
type LedgerChannelOpened struct {
	base
	CanonicalID   statemachine.CanonicalID
	Participant1  statemachine.Address
	Participant2  statemachine.Address
	SettleTimeout statemachine.BlockNumber
	BlockNumber   statemachine.BlockNumber
}

// LedgerChannelNewDeposit is decoded from a confirmed ChannelNewDeposit log.
type LedgerChannelNewDeposit struct {
	base
	CanonicalID    statemachine.CanonicalID
	Participant    statemachine.Address
	TotalDeposit   statemachine.TokenAmount
	BlockNumber    statemachine.BlockNumber
}

// LedgerChannelWithdraw is decoded from a confirmed ChannelWithdraw log.
type LedgerChannelWithdraw struct {
	base
	CanonicalID    statemachine.CanonicalID
	Participant    statemachine.Address
	TotalWithdraw  statemachine.TokenAmount
	BlockNumber    statemachine.BlockNumber
}

// LedgerChannelClosed is decoded from a confirmed ChannelClosed log.
type LedgerChannelClosed struct {
	base
	CanonicalID    statemachine.CanonicalID
	ClosingAddress statemachine.Address
	BlockNumber    statemachine.BlockNumber
}

// LedgerChannelSettled is decoded from a confirmed ChannelSettled log.
type LedgerChannelSettled struct {
	base
	CanonicalID statemachine.CanonicalID
	BlockNumber statemachine.BlockNumber
}

// LedgerChannelBatchUnlocked is decoded from a confirmed ChannelUnlocked
// log (spec §4.6's re-resolution of canonical id by locksroot match).
type LedgerChannelBatchUnlocked struct {
	base
	CanonicalID statemachine.CanonicalID
	Participant statemachine.Address
	Receiver    statemachine.Address
	BlockNumber statemachine.BlockNumber
}

// LedgerNonClosingBalanceProofUpdated is decoded from a confirmed
// NonClosingBalanceProofUpdated log.
type LedgerNonClosingBalanceProofUpdated struct {
	base
	CanonicalID statemachine.CanonicalID
	BlockNumber statemachine.BlockNumber
}

// ContractReceiveSecretReveal records an on-chain secret registration (spec
// §4.2/§4.3 rescue path, scenario S4).
type ContractReceiveSecretReveal struct {
	base
	SecretHash  statemachine.Hash
	Secret      statemachine.Hash
	BlockNumber statemachine.BlockNumber
}

// LedgerTokenNetworkCreated is decoded from a confirmed TokenNetworkCreated
// log: a token was registered against a token-network registry and now has
// channels opened against it.
type LedgerTokenNetworkCreated struct {
	base
	RegistryAddress statemachine.Address
	TokenAddress    statemachine.Address
	TokenNetwork    statemachine.Address
	BlockNumber     statemachine.BlockNumber
}

// LedgerServiceRegistered is decoded from a confirmed RegisteredService log:
// a mediation/monitoring service address registered itself on-ledger through
// the given block.
type LedgerServiceRegistered struct {
	base
	ServiceAddress statemachine.Address
	ValidTill      statemachine.BlockNumber
	BlockNumber    statemachine.BlockNumber
}

// ReceiveWithdrawRequest is an incoming wire.WithdrawRequest.
type ReceiveWithdrawRequest struct {
	base
	Message *wire.WithdrawRequest
	Sender  statemachine.Address
}

// ReceiveWithdrawConfirmation is an incoming wire.WithdrawConfirmation.
type ReceiveWithdrawConfirmation struct {
	base
	Message *wire.WithdrawConfirmation
	Sender  statemachine.Address
}

// ReceiveWithdrawExpired is an incoming wire.WithdrawExpired.
type ReceiveWithdrawExpired struct {
	base
	Message *wire.WithdrawExpired
	Sender  statemachine.Address
}

// ReceiveLockedTransfer is an incoming wire.LockedTransfer.
type ReceiveLockedTransfer struct {
	base
	Message *wire.LockedTransfer
	Sender  statemachine.Address
}

// ReceiveRefundTransfer is an incoming wire.RefundTransfer.
type ReceiveRefundTransfer struct {
	base
	Message *wire.RefundTransfer
	Sender  statemachine.Address
}

// ReceiveLockExpired is an incoming wire.LockExpired.
type ReceiveLockExpired struct {
	base
	Message *wire.LockExpired
	Sender  statemachine.Address
}

// ReceiveUnlock is an incoming wire.Unlock.
type ReceiveUnlock struct {
	base
	Message *wire.Unlock
	Sender  statemachine.Address
}

// ReceiveSecretRequest is an incoming wire.SecretRequest.
type ReceiveSecretRequest struct {
	base
	Message *wire.SecretRequest
	Sender  statemachine.Address
}

// ReceiveSecretReveal is an incoming wire.SecretReveal (off-chain reveal).
type ReceiveSecretReveal struct {
	base
	Message *wire.SecretReveal
	Sender  statemachine.Address
}

// ReceiveDelivered strips the acknowledged message from the unordered
// queue (spec §4.5).
type ReceiveDelivered struct {
	base
	Message *wire.Delivered
	Sender  statemachine.Address
}

// ReceiveProcessed strips the acknowledged message from every outbound
// queue, except a SendWithdrawRequest which only drains on
// ReceiveWithdrawConfirmation (spec §4.5).
type ReceiveProcessed struct {
	base
	Message *wire.Processed
	Sender  statemachine.Address
}
