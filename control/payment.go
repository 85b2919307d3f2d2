package control

import (
	"context"
	"sync"

	"github.com/chainmesh/corelayer/statemachine"
)

// paymentOutcome is what a waiter on a payment id eventually receives: the
// one event.PaymentSentSuccess/ErrorPaymentSentFailed the initiator
// sub-machine ever emits for that payment id (spec §4.2, §4.8), collapsed
// to a success flag and a reason string.
type paymentOutcome struct {
	ok     bool
	reason string
}

// paymentWaiters is the one-shot-channel registry spec §4.8/§5 calls for: a
// control-surface caller blocks on WaitForPayment the way rpcserver.go's
// waiting helpers poll a condition under a read lock, except here the
// adapter signals completion directly instead of being polled. Grounded on
// peer.go's per-request done channel convention, generalized to a
// registry keyed by payment id so concurrent payments don't share one
// channel.
type paymentWaiters struct {
	mu      sync.Mutex
	waiting map[uint64]chan paymentOutcome
}

func newPaymentWaiters() *paymentWaiters {
	return &paymentWaiters{waiting: make(map[uint64]chan paymentOutcome)}
}

// register opens a one-shot channel for paymentID, replacing any channel
// left over from a previous payment that reused this id (which should
// never happen in practice, but a leaked previous waiter must not leak
// across payment ids).
func (p *paymentWaiters) register(paymentID uint64) chan paymentOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan paymentOutcome, 1)
	p.waiting[paymentID] = ch
	return ch
}

// complete delivers an outcome to paymentID's waiter, if one is still
// registered. The channel is buffered (capacity 1), so a completion that
// fires before WaitForPayment is ever called still lands: the registry
// entry is only removed once wait actually consumes it, not here.
func (p *paymentWaiters) complete(paymentID uint64, outcome paymentOutcome) {
	p.mu.Lock()
	ch, ok := p.waiting[paymentID]
	p.mu.Unlock()
	if ok {
		ch <- outcome
	}
}

// wait blocks until paymentID completes or ctx is done, deregistering the
// waiter on either path so a canceled wait doesn't leak the channel.
func (p *paymentWaiters) wait(ctx context.Context, paymentID uint64, ch chan paymentOutcome) (paymentOutcome, error) {
	defer func() {
		p.mu.Lock()
		delete(p.waiting, paymentID)
		p.mu.Unlock()
	}()
	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return paymentOutcome{}, ctx.Err()
	}
}

// WaitForPayment blocks until the payment started by InitiatePayment with
// this id completes, returning whether it succeeded and, on failure, the
// recorded reason (spec §4.2 scenario S3, §4.8).
func (a *Adapter) WaitForPayment(ctx context.Context, paymentID uint64) (bool, string, error) {
	a.waiters.mu.Lock()
	ch, ok := a.waiters.waiting[paymentID]
	a.waiters.mu.Unlock()
	if !ok {
		return false, "", statemachine.NewError(statemachine.ErrParameterInvalid, "no payment pending with this id")
	}
	outcome, err := a.waiters.wait(ctx, paymentID, ch)
	if err != nil {
		return false, "", err
	}
	return outcome.ok, outcome.reason, nil
}
