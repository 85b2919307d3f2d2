package control

import "github.com/chainmesh/corelayer/statemachine"

// LedgerClient is everything the control adapter needs from the ledger
// substrate that isn't modeled as a state-change: submitting the
// transactions spec §1 calls out as out of scope for the core ("ledger
// transaction construction... beyond emitting typed ContractSend* events"),
// and answering the registry/deprecation questions pre-flight validation
// needs before a channel ever enters chain_state. A real implementation
// talks to the ledger node; tests and cmd/coreld's dry-run mode can supply
// a stub. Grounded on lnd's lnwallet.WalletController/chainntfs split: the
// core state machine never holds a key or builds a transaction itself.
type LedgerClient struct {
	// Registry looks up a token network's registry bounds (spec §4.8).
	Registry func(tokenNetwork statemachine.Address) (statemachine.Registry, error)

	// Deprecated reports whether a token network has been deprecated and
	// may no longer accept new channels.
	Deprecated func(tokenNetwork statemachine.Address) (bool, error)

	// OpenChannel submits an on-ledger channel-open transaction and
	// returns the channel identifier the ledger assigns it.
	OpenChannel func(tokenNetwork, partner statemachine.Address, settleTimeout statemachine.BlockNumber) (uint64, error)

	// Deposit submits an on-ledger total-deposit increase.
	Deposit func(id statemachine.CanonicalID, totalDeposit statemachine.TokenAmount) error

	// RegisterTokenNetwork submits an on-ledger token-network
	// registration for tokenAddress and returns the assigned token
	// network address.
	RegisterTokenNetwork func(tokenAddress statemachine.Address) (statemachine.Address, error)

	// LeaveTokenNetwork submits an on-ledger deregistration, called only
	// after every channel on that token network has been closed.
	LeaveTokenNetwork func(tokenNetwork statemachine.Address) error

	// DepositToUDC submits a deposit into the user deposit contract that
	// backs this node's monitoring/mediation service fees.
	DepositToUDC func(amount statemachine.TokenAmount) error

	// PlanWithdrawFromUDC starts the user deposit contract's withdraw
	// timelock and returns the block at which WithdrawFromUDC becomes
	// valid.
	PlanWithdrawFromUDC func(amount statemachine.TokenAmount) (statemachine.BlockNumber, error)

	// WithdrawFromUDC completes a previously planned user deposit
	// contract withdraw.
	WithdrawFromUDC func(amount statemachine.TokenAmount) error

	// MintTokenFor mints amount of a test token to recipient, used only
	// against a test-network token contract with an open mint function.
	MintTokenFor func(token, recipient statemachine.Address, amount statemachine.TokenAmount) error

	// Submit dispatches a ContractSend event the core emitted (spec
	// §4.5, §6), e.g. ContractSendChannelClose, ContractSendSecretReveal.
	Submit func(kind string, id statemachine.CanonicalID, args map[string]interface{}) error
}
