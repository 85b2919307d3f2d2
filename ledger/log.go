// Package ledger decodes confirmed on-chain log entries into the core's
// statechange values (component C6, spec §4.6). Grounded on lnd's
// chainntfs confirmation-notification contract (wait for a target
// confirmation depth before acting on a log) and contractcourt's typed
// resolution of raw on-chain events into domain-specific outcomes
// (htlc_timeout_resolver.go).
package ledger

import "github.com/chainmesh/corelayer/statemachine"

// Kind names one of the nine ledger log kinds this package decodes (spec
// §4.6).
type Kind string

const (
	KindTokenNetworkCreated           Kind = "TokenNetworkCreated"
	KindChannelOpened                 Kind = "ChannelOpened"
	KindChannelNewDeposit             Kind = "ChannelNewDeposit"
	KindChannelWithdraw               Kind = "ChannelWithdraw"
	KindChannelClosed                 Kind = "ChannelClosed"
	KindChannelSettled                Kind = "ChannelSettled"
	KindChannelUnlocked               Kind = "ChannelUnlocked"
	KindNonClosingBalanceProofUpdated Kind = "NonClosingBalanceProofUpdated"
	KindRegisteredService             Kind = "RegisteredService"
)

// Log is a confirmed on-chain event, already decoded from ABI-encoded
// topics/data into typed fields. Only the fields relevant to Kind are
// populated; the rest are left zero. A real chain client produces these
// by filtering logs against the token-network-registry and per-network
// contract ABIs and is outside this package's scope.
type Log struct {
	Kind        Kind
	ChainID     uint64
	BlockNumber statemachine.BlockNumber

	// TokenNetwork is the emitting contract's address for every kind
	// except TokenNetworkCreated and RegisteredService.
	TokenNetwork statemachine.Address

	// TokenNetworkCreated fields.
	RegistryAddress statemachine.Address
	TokenAddress    statemachine.Address

	// ChannelOpened/NewDeposit/Withdraw/Closed/Unlocked participant and
	// channel-identifying fields.
	ChannelIdentifier uint64
	Participant1      statemachine.Address
	Participant2      statemachine.Address
	Participant       statemachine.Address
	SettleTimeout     statemachine.BlockNumber

	// ChannelNewDeposit/ChannelWithdraw.
	TotalDeposit  statemachine.TokenAmount
	TotalWithdraw statemachine.TokenAmount

	// ChannelClosed.
	ClosingAddress statemachine.Address

	// ChannelUnlocked: sender is the side whose lock is being resolved,
	// receiver is its channel partner (spec §4.6's "(canonical id,
	// locksroot, recipient)" match).
	Sender    statemachine.Address
	Receiver  statemachine.Address
	Locksroot statemachine.Hash

	// RegisteredService.
	ServiceAddress statemachine.Address
	ValidTill      statemachine.BlockNumber
}
