package ledger

import (
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
)

// BalanceProofIndex resolves which channel's recorded balance-proof
// matches a given (token network, chain id, locksroot, recipient) tuple.
// ChannelUnlocked logs (spec §4.6) carry no channel identifier, so the
// owning canonical id must be re-resolved by searching every state-change
// and event this node has recorded with a balance-proof, the way the
// storage package's secondary index is built to answer. Satisfied by the
// storage package once wired.
type BalanceProofIndex interface {
	CanonicalIDByLocksroot(tokenNetwork statemachine.Address, chainID uint64, locksroot statemachine.Hash, recipient statemachine.Address) (statemachine.CanonicalID, bool)
}

// Decode translates a single confirmed log entry into the state-change it
// represents (spec §4.6). It returns ok=false when the log isn't deep
// enough yet, names no address we track, or (for ChannelUnlocked) can't
// be matched back to a canonical id — in every case the caller should
// simply drop the log, not retry it.
func Decode(log Log, chainState *statemachine.ChainState, confirmationBlocks statemachine.BlockNumber, index BalanceProofIndex) (statechange.StateChange, bool) {
	if !confirmed(log.BlockNumber, chainState.LatestBlockNumber, confirmationBlocks) {
		return nil, false
	}

	switch log.Kind {
	case KindTokenNetworkCreated:
		return &statechange.LedgerTokenNetworkCreated{
			RegistryAddress: log.RegistryAddress,
			TokenAddress:    log.TokenAddress,
			TokenNetwork:    log.TokenNetwork,
			BlockNumber:     log.BlockNumber,
		}, true

	case KindChannelOpened:
		if log.Participant1 != chainState.OurAddress && log.Participant2 != chainState.OurAddress {
			return nil, false
		}
		id := statemachine.CanonicalID{ChainID: log.ChainID, TokenNetworkAddr: log.TokenNetwork, ChannelIdentifier: log.ChannelIdentifier}
		return &statechange.LedgerChannelOpened{
			CanonicalID:   id,
			Participant1:  log.Participant1,
			Participant2:  log.Participant2,
			SettleTimeout: log.SettleTimeout,
			BlockNumber:   log.BlockNumber,
		}, true

	case KindChannelNewDeposit:
		id := statemachine.CanonicalID{ChainID: log.ChainID, TokenNetworkAddr: log.TokenNetwork, ChannelIdentifier: log.ChannelIdentifier}
		if !knownChannel(chainState, id) {
			return nil, false
		}
		return &statechange.LedgerChannelNewDeposit{
			CanonicalID:  id,
			Participant:  log.Participant,
			TotalDeposit: log.TotalDeposit,
			BlockNumber:  log.BlockNumber,
		}, true

	case KindChannelWithdraw:
		id := statemachine.CanonicalID{ChainID: log.ChainID, TokenNetworkAddr: log.TokenNetwork, ChannelIdentifier: log.ChannelIdentifier}
		if !knownChannel(chainState, id) {
			return nil, false
		}
		return &statechange.LedgerChannelWithdraw{
			CanonicalID:   id,
			Participant:   log.Participant,
			TotalWithdraw: log.TotalWithdraw,
			BlockNumber:   log.BlockNumber,
		}, true

	case KindChannelClosed:
		id := statemachine.CanonicalID{ChainID: log.ChainID, TokenNetworkAddr: log.TokenNetwork, ChannelIdentifier: log.ChannelIdentifier}
		if !knownChannel(chainState, id) {
			return nil, false
		}
		return &statechange.LedgerChannelClosed{
			CanonicalID:    id,
			ClosingAddress: log.ClosingAddress,
			BlockNumber:    log.BlockNumber,
		}, true

	case KindChannelSettled:
		id := statemachine.CanonicalID{ChainID: log.ChainID, TokenNetworkAddr: log.TokenNetwork, ChannelIdentifier: log.ChannelIdentifier}
		if !knownChannel(chainState, id) {
			return nil, false
		}
		return &statechange.LedgerChannelSettled{CanonicalID: id, BlockNumber: log.BlockNumber}, true

	case KindNonClosingBalanceProofUpdated:
		id := statemachine.CanonicalID{ChainID: log.ChainID, TokenNetworkAddr: log.TokenNetwork, ChannelIdentifier: log.ChannelIdentifier}
		if !knownChannel(chainState, id) {
			return nil, false
		}
		return &statechange.LedgerNonClosingBalanceProofUpdated{CanonicalID: id, BlockNumber: log.BlockNumber}, true

	case KindChannelUnlocked:
		return decodeChannelUnlocked(log, chainState, index)

	case KindRegisteredService:
		return &statechange.LedgerServiceRegistered{
			ServiceAddress: log.ServiceAddress,
			ValidTill:      log.ValidTill,
			BlockNumber:    log.BlockNumber,
		}, true

	default:
		return nil, false
	}
}

// confirmed reports whether a log seen at seenAt has reached
// confirmationBlocks depth as of latest.
func confirmed(seenAt, latest, confirmationBlocks statemachine.BlockNumber) bool {
	return latest >= seenAt+confirmationBlocks
}

// knownChannel reports whether id names a channel this node already
// tracks, the generalized form of spec §4.6's "ignore events for
// participants neither equal to our address nor opposite a known
// channel": a channel can only exist in chain_state.channels if it was
// bootstrapped by a ChannelOpened log naming our own address, so
// existence alone is the filter for every later event on that channel.
func knownChannel(chainState *statemachine.ChainState, id statemachine.CanonicalID) bool {
	_, ok := chainState.GetChannel(id)
	return ok
}

// decodeChannelUnlocked re-resolves the canonical id a ChannelUnlocked
// log belongs to, since the log itself carries only the token network,
// the two participant addresses, and the locksroot — not a channel
// identifier (spec §4.6). It searches every channel this node tracks on
// that token network for one whose recorded balance-proof matches
// (canonical id, locksroot, recipient), where recipient is the log's
// "Sender" when it's our own channel partner doing the search against
// our own records, and "Receiver" the other way around — either way the
// partner address not equal to our own.
func decodeChannelUnlocked(log Log, chainState *statemachine.ChainState, index BalanceProofIndex) (statechange.StateChange, bool) {
	var partner statemachine.Address
	switch chainState.OurAddress {
	case log.Sender:
		partner = log.Receiver
	case log.Receiver:
		partner = log.Sender
	default:
		return nil, false
	}

	if index == nil {
		return nil, false
	}

	for _, ch := range chainState.ChannelsForToken(log.TokenNetwork) {
		if ch.Partner.Address != partner {
			continue
		}
		id, ok := index.CanonicalIDByLocksroot(log.TokenNetwork, log.ChainID, log.Locksroot, partner)
		if !ok {
			continue
		}
		return &statechange.LedgerChannelBatchUnlocked{
			CanonicalID: id,
			Participant: log.Sender,
			Receiver:    log.Receiver,
			BlockNumber: log.BlockNumber,
		}, true
	}
	return nil, false
}
