package control

import (
	"golang.org/x/sync/errgroup"

	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
)

// CreateChannel validates and submits a request to open a channel on
// tokenNetwork with partner (spec §4.8). The channel does not enter chain
// state until the ledger confirms the open and ledger.Decode turns it into
// a LedgerChannelOpened state-change; this only returns the canonical id
// the ledger assigned the pending transaction.
func (a *Adapter) CreateChannel(chainID uint64, tokenNetwork, partner statemachine.Address, settleTimeout, revealTimeout statemachine.BlockNumber) (statemachine.CanonicalID, error) {
	a.mu.Lock()
	err := a.validateChannelParams(tokenNetwork, partner, settleTimeout, revealTimeout)
	a.mu.Unlock()
	if err != nil {
		return statemachine.CanonicalID{}, err
	}

	channelID, err := a.ledger.OpenChannel(tokenNetwork, partner, settleTimeout)
	if err != nil {
		return statemachine.CanonicalID{}, statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	return statemachine.CanonicalID{ChainID: chainID, TokenNetworkAddr: tokenNetwork, ChannelIdentifier: channelID}, nil
}

// UpdateChannelRequest bundles the four update-channel sub-operations spec
// §6 describes ("deposit | withdraw | reveal-timeout | close"). At most one
// of these need be set; UpdateChannel applies whichever fields are
// non-nil/true, deposit last since it's the only one that isn't itself a
// core state-change.
type UpdateChannelRequest struct {
	TotalDeposit  *statemachine.TokenAmount
	TotalWithdraw *statemachine.TokenAmount
	RevealTimeout *statemachine.BlockNumber
	Close         bool
}

// UpdateChannel applies whichever of req's fields are set against id (spec
// §4.8, §6).
func (a *Adapter) UpdateChannel(id statemachine.CanonicalID, req UpdateChannelRequest) error {
	if req.Close {
		if _, err := a.apply(&statechange.ActionChannelClose{CanonicalID: id}); err != nil {
			return err
		}
	}
	if req.RevealTimeout != nil {
		ch, ok := a.ChainState().GetChannel(id)
		if !ok {
			return statemachine.NewError(statemachine.ErrPreconditionBroken, "unknown channel")
		}
		if err := validateRevealTimeout(*req.RevealTimeout, ch.SettleTimeout); err != nil {
			return err
		}
		if _, err := a.apply(&statechange.ActionChannelSetRevealTimeout{CanonicalID: id, RevealTimeout: *req.RevealTimeout}); err != nil {
			return err
		}
	}
	if req.TotalWithdraw != nil {
		if _, err := a.apply(&statechange.ActionChannelWithdraw{CanonicalID: id, TotalWithdraw: *req.TotalWithdraw}); err != nil {
			return err
		}
	}
	if req.TotalDeposit != nil {
		if err := a.ledger.Deposit(id, *req.TotalDeposit); err != nil {
			return statemachine.WrapError(statemachine.ErrTransactionFailed, err)
		}
	}
	return nil
}

// CoopSettle requests a cooperative settle on id (spec §4.1 scenario S5).
func (a *Adapter) CoopSettle(id statemachine.CanonicalID) error {
	_, err := a.apply(&statechange.ActionChannelCoopSettle{CanonicalID: id})
	return err
}

// BatchClose closes every channel in ids concurrently, returning the
// per-channel error (nil on success) in the same order, so a partial
// failure doesn't roll back the channels that did close (spec §6
// batch-close). The Adapter's own lock still serializes the individual
// transitions (spec §5); fanning the requests out with errgroup just
// avoids making the caller wait on one close before submitting the next.
func (a *Adapter) BatchClose(ids []statemachine.CanonicalID) []error {
	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			_, err := a.apply(&statechange.ActionChannelClose{CanonicalID: id})
			errs[i] = err
			return nil
		})
	}
	g.Wait()
	return errs
}

// TokenNetworkRegister submits an on-ledger registration for tokenAddress
// and returns the token network address the ledger assigns it (spec §6).
func (a *Adapter) TokenNetworkRegister(tokenAddress statemachine.Address) (statemachine.Address, error) {
	tokenNetwork, err := a.ledger.RegisterTokenNetwork(tokenAddress)
	if err != nil {
		return statemachine.Address{}, statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	return tokenNetwork, nil
}

// TokenNetworkLeave batch-closes every opened channel this node holds on
// tokenNetwork and, once every close has been applied, submits the
// on-ledger deregistration (spec §6); the closed channels are still
// tracked at that point. It does not wait for settlement: the ledger
// side is free to reject a premature leave if channels are still settling.
func (a *Adapter) TokenNetworkLeave(tokenNetwork statemachine.Address) error {
	cs := a.ChainState()
	var ids []statemachine.CanonicalID
	for _, ch := range cs.ChannelsForToken(tokenNetwork) {
		if ch.Status() == statemachine.StatusOpened {
			ids = append(ids, ch.CanonicalID)
		}
	}
	for _, err := range a.BatchClose(ids) {
		if err != nil {
			return err
		}
	}
	if err := a.ledger.LeaveTokenNetwork(tokenNetwork); err != nil {
		return statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	return nil
}

// InitiatePaymentRequest bundles ActionInitInitiator's fields (spec §4.2).
type InitiatePaymentRequest struct {
	TokenNetwork statemachine.Address
	Amount       statemachine.TokenAmount
	Target       statemachine.Address
	Secret       statemachine.Hash
	SecretHash   statemachine.Hash
	LockTimeout  statemachine.BlockNumber
	PaymentID    uint64
	Routes       []statemachine.RouteState
}

// InitiatePayment starts a payment and registers its completion waiter
// before applying the state-change, so a PaymentSentSuccess/
// ErrorPaymentSentFailed emitted synchronously within apply can never race
// ahead of WaitForPayment's registration (spec §4.2, §4.8).
func (a *Adapter) InitiatePayment(req InitiatePaymentRequest) error {
	a.waiters.register(req.PaymentID)
	_, err := a.apply(&statechange.ActionInitInitiator{
		TokenNetwork: req.TokenNetwork,
		Amount:       req.Amount,
		Target:       req.Target,
		Secret:       req.Secret,
		SecretHash:   req.SecretHash,
		LockTimeout:  req.LockTimeout,
		PaymentID:    req.PaymentID,
		Routes:       req.Routes,
	})
	if err != nil {
		a.waiters.complete(req.PaymentID, paymentOutcome{ok: false, reason: err.Error()})
		return err
	}
	return nil
}

// CancelPayment marks every non-Canceled initiator transfer for paymentID
// as Canceled (spec §5, §6).
func (a *Adapter) CancelPayment(paymentID uint64) error {
	_, err := a.apply(&statechange.ActionCancelPayment{PaymentID: paymentID})
	return err
}

// DepositToUDC submits a deposit into the user deposit contract (spec §6).
func (a *Adapter) DepositToUDC(amount statemachine.TokenAmount) error {
	if err := a.ledger.DepositToUDC(amount); err != nil {
		return statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	return nil
}

// PlanWithdrawFromUDC starts the user deposit contract's withdraw timelock
// and returns the block at which WithdrawFromUDC becomes valid (spec §6).
func (a *Adapter) PlanWithdrawFromUDC(amount statemachine.TokenAmount) (statemachine.BlockNumber, error) {
	readyAt, err := a.ledger.PlanWithdrawFromUDC(amount)
	if err != nil {
		return 0, statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	return readyAt, nil
}

// WithdrawFromUDC completes a previously planned user deposit contract
// withdraw (spec §6).
func (a *Adapter) WithdrawFromUDC(amount statemachine.TokenAmount) error {
	if err := a.ledger.WithdrawFromUDC(amount); err != nil {
		return statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	return nil
}

// MintTokenFor mints amount of token to recipient against a test-network
// token contract (spec §6).
func (a *Adapter) MintTokenFor(token, recipient statemachine.Address, amount statemachine.TokenAmount) error {
	if err := a.ledger.MintTokenFor(token, recipient, amount); err != nil {
		return statemachine.WrapError(statemachine.ErrTransactionFailed, err)
	}
	return nil
}
