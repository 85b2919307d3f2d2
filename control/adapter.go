// Package control implements the control adapter (component C8, spec §1,
// §6): the single entry point every front door (cmd/corectl,
// control/httpapi) drives to submit user actions, feed them through
// chain.Transition, persist the result, and dispatch the events a
// transition produces to the ledger client or to a waiting payment caller.
// Grounded on rpcserver.go + peer.go's pattern of a server-side adapter
// guarding chain state with a mutex and exposing one method per RPC.
package control

import (
	"sync"

	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/storage"
)

// Adapter owns the live chain state and is the only place the control
// surface is allowed to call chain.Transition; every front door shares one
// Adapter so the mutex actually serializes concurrent requests the way
// spec §5's concurrency model requires ("a single logical thread of
// control owns chain_state").
type Adapter struct {
	mu sync.Mutex

	chainState *statemachine.ChainState
	store      *storage.Store
	transition storage.TransitionFunc
	ledger     LedgerClient
	waiters    *paymentWaiters
}

// NewAdapter builds an Adapter around an already-recovered chain state
// (typically storage.Store.Recover's return value), the persistence store
// it was recovered from, the core transition function (chain.Transition in
// production, a stub in tests), and a LedgerClient for on-ledger
// operations the core itself never constructs.
func NewAdapter(chainState *statemachine.ChainState, store *storage.Store, transition storage.TransitionFunc, ledger LedgerClient) *Adapter {
	return &Adapter{
		chainState: chainState,
		store:      store,
		transition: transition,
		ledger:     ledger,
		waiters:    newPaymentWaiters(),
	}
}

// apply feeds sc through the transition function under the adapter's lock,
// commits the resulting chain state, persists sc and its events, and
// dispatches the events to the ledger client / payment waiters before
// returning. This is the one choke point every control operation that
// drives the core goes through.
func (a *Adapter) apply(sc statechange.StateChange) ([]event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, events, transErr := a.transition(a.chainState, sc)
	if transErr != nil {
		return nil, transErr
	}
	a.chainState = next

	id, err := a.store.AppendStateChange(sc)
	if err != nil {
		return nil, statemachine.WrapError(statemachine.ErrFatal, err)
	}
	if err := a.store.AppendEvents(id, events); err != nil {
		return nil, statemachine.WrapError(statemachine.ErrFatal, err)
	}

	a.dispatch(events)
	return events, nil
}

// dispatch routes each event a transition produced to whichever side effect
// it names: a ContractSend goes to the ledger client, a payment-completion
// event wakes up anyone blocked in WaitForPayment. SendMessage delivery is
// out of scope here (spec §1 Non-goals: transport framing) and is left for
// the caller's transport layer to pick up from the persisted queues.
func (a *Adapter) dispatch(events []event.Event) {
	for _, e := range events {
		switch ev := e.(type) {
		case *event.ContractSend:
			if a.ledger.Submit == nil {
				continue
			}
			if err := a.ledger.Submit(ev.Kind, ev.CanonicalID, ev.Args); err != nil {
				log.Errorf("control: submitting %s for %s: %v", ev.Kind, ev.CanonicalID, err)
			}
		case *event.PaymentSentSuccess:
			a.waiters.complete(ev.PaymentID, paymentOutcome{ok: true})
		case *event.ErrorPaymentSentFailed:
			a.waiters.complete(ev.PaymentID, paymentOutcome{ok: false, reason: ev.Reason})
		}
	}
}

// ChainState returns a snapshot reference to the adapter's live chain
// state, for read-only queries (e.g. listing channels). Callers must not
// mutate it; every mutation goes through apply.
func (a *Adapter) ChainState() *statemachine.ChainState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chainState
}
