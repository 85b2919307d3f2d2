package control

import (
	"github.com/chainmesh/corelayer/statemachine"
)

// minRevealTimeout is spec §4.8's floor on a channel's reveal-timeout,
// independent of any registry bound.
const minRevealTimeout = statemachine.BlockNumber(7)

// validateChannelParams applies spec §4.8's pre-flight checks before a
// create-channel request is ever submitted on-ledger: settle-timeout within
// the registry's bounds, reveal-timeout at least minRevealTimeout,
// settle-timeout at least twice reveal-timeout, the token network not
// deprecated, and no existing channel already open with this partner on
// this token network.
func (a *Adapter) validateChannelParams(tokenNetwork, partner statemachine.Address, settleTimeout, revealTimeout statemachine.BlockNumber) error {
	if revealTimeout < minRevealTimeout {
		return statemachine.NewError(statemachine.ErrParameterInvalid, "reveal-timeout below the 7 block floor")
	}
	if settleTimeout < 2*revealTimeout {
		return statemachine.NewError(statemachine.ErrParameterInvalid, "settle-timeout must be at least twice reveal-timeout")
	}

	registry, err := a.ledger.Registry(tokenNetwork)
	if err != nil {
		return statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	if settleTimeout < registry.SettleMin || settleTimeout > registry.SettleMax {
		return statemachine.NewError(statemachine.ErrParameterInvalid, "settle-timeout outside registry bounds")
	}

	deprecated, err := a.ledger.Deprecated(tokenNetwork)
	if err != nil {
		return statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	if deprecated {
		return statemachine.NewError(statemachine.ErrPreconditionBroken, "token network is deprecated")
	}

	if _, ok := a.chainState.ChannelWithPartner(tokenNetwork, partner); ok {
		return statemachine.NewError(statemachine.ErrPreconditionBroken, "a channel with this partner already exists on this token network")
	}
	return nil
}

// validateRevealTimeout applies the reveal-timeout floor to an
// update-channel request, independent of create-channel's settle-timeout
// comparison (the channel's existing settle-timeout is already fixed).
func validateRevealTimeout(revealTimeout, existingSettleTimeout statemachine.BlockNumber) error {
	if revealTimeout < minRevealTimeout {
		return statemachine.NewError(statemachine.ErrParameterInvalid, "reveal-timeout below the 7 block floor")
	}
	if existingSettleTimeout < 2*revealTimeout {
		return statemachine.NewError(statemachine.ErrParameterInvalid, "settle-timeout must be at least twice reveal-timeout")
	}
	return nil
}
