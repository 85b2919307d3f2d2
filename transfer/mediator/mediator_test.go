package mediator

import (
	"testing"

	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/fee"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

func newMediatorChainState(t *testing.T) (*statemachine.ChainState, statemachine.Address, statemachine.CanonicalID) {
	t.Helper()
	us := statemachine.Address{0x01}
	nextHop := statemachine.Address{0x03}
	tokenNetwork := statemachine.Address{0xAA}

	cs := statemachine.NewChainState(1, us, 1)
	id := statemachine.CanonicalID{ChainID: 1, TokenNetworkAddr: tokenNetwork, ChannelIdentifier: 2}
	ch := &statemachine.Channel{
		CanonicalID:   id,
		TokenAddr:     tokenNetwork,
		RevealTimeout: 5,
		SettleTimeout: 500,
		FeeSchedule:   fee.Schedule{Flat: statemachine.NewTokenAmount(1)},
		Our:           statemachine.NewEnd(us),
		Partner:       statemachine.NewEnd(nextHop),
	}
	ch.Our.ContractBalance = statemachine.NewTokenAmount(1000)
	ch.Partner.ContractBalance = statemachine.NewTokenAmount(1000)
	cs.PutChannel(ch)
	return cs, nextHop, id
}

func TestMediatorForwardsLockedTransfer(t *testing.T) {
	cs, nextHop, id := newMediatorChainState(t)
	secretHash := statemachine.Hash{0x09}
	incoming := &wire.LockedTransfer{
		PaymentID: 1,
		Lock:      statemachine.Lock{Amount: statemachine.NewTokenAmount(100), Expiration: 200, SecretHash: secretHash},
		Initiator: statemachine.Address{0x55},
		Target:    statemachine.Address{0x66},
	}
	routes := []statemachine.RouteState{{
		Hops: []statemachine.RouteHop{{Address: nextHop, TokenNetwork: id.TokenNetworkAddr}},
	}}
	state := newState(secretHash, routes)

	state, events := HandleReceiveLockedTransfer(cs, state, incoming, statemachine.Address{0x44}, 10, 5)
	if len(events) != 1 {
		t.Fatalf("expected one forwarding SendMessage event, got %v", events)
	}
	if len(state.Pairs) != 1 {
		t.Fatalf("expected one mediation pair, got %d", len(state.Pairs))
	}
	if state.Pairs[0].PayeeTransfer.Lock.Amount.Cmp(incoming.Lock.Amount) >= 0 {
		t.Fatalf("outgoing lock should be smaller than incoming after fees")
	}
}

func TestMediatorParksWaitingTransferWhenNoRoute(t *testing.T) {
	cs, _, _ := newMediatorChainState(t)
	secretHash := statemachine.Hash{0x09}
	incoming := &wire.LockedTransfer{
		Lock: statemachine.Lock{Amount: statemachine.NewTokenAmount(100), Expiration: 200, SecretHash: secretHash},
	}
	state := newState(secretHash, nil)

	state, events := HandleReceiveLockedTransfer(cs, state, incoming, statemachine.Address{0x44}, 10, 5)
	if len(events) != 0 {
		t.Fatalf("expected no events when no route is usable, got %v", events)
	}
	if state.WaitingTransfer == nil {
		t.Fatalf("expected a waiting transfer to be recorded")
	}
}

func TestMediatorPropagatesSecretRevealAndUnlocksPayee(t *testing.T) {
	cs, nextHop, id := newMediatorChainState(t)
	secret := statemachine.Hash{0x42}
	secretHash := statemachine.HashSecret(secret)
	incoming := &wire.LockedTransfer{
		Lock: statemachine.Lock{Amount: statemachine.NewTokenAmount(100), Expiration: 200, SecretHash: secretHash},
	}
	routes := []statemachine.RouteState{{
		Hops: []statemachine.RouteHop{{Address: nextHop, TokenNetwork: id.TokenNetworkAddr}},
	}}
	state := newState(secretHash, routes)
	state, _ = HandleReceiveLockedTransfer(cs, state, incoming, statemachine.Address{0x44}, 10, 5)

	state, events := HandleOffchainSecretReveal(state, secret, nextHop, 10, 5)
	if len(events) != 2 {
		t.Fatalf("expected a reveal-to-payer and an unlock-to-payee event, got %v", events)
	}
	if state.Pairs[0].PayeeState != StatusBalanceProof {
		t.Fatalf("payee state = %v, want BalanceProof", state.Pairs[0].PayeeState)
	}
	if state.Done() {
		t.Fatalf("mediator task should not be done until the payer leg also unlocks")
	}

	state, _ = HandleReceiveUnlock(state, secretHash)
	if !state.Done() {
		t.Fatalf("mediator task should be done once both legs are resolved")
	}
}

// TestScenario2 drives spec.md §8 scenario S2: A forwards a payment
// through mediator M to B, amount=20, expiration=100 (the M-to-B channel
// here has deposit=1000 per side, from newMediatorChainState), and the
// mediator completes both sides once the secret surfaces from the payee.
func TestScenario2(t *testing.T) {
	cs, b, id := newMediatorChainState(t)
	a := statemachine.Address{0x44}
	secretHash := statemachine.Hash{0x55}
	incoming := &wire.LockedTransfer{
		PaymentID: 1,
		Lock:      statemachine.Lock{Amount: statemachine.NewTokenAmount(20), Expiration: 100, SecretHash: secretHash},
		Initiator: a,
		Target:    statemachine.Address{0x66},
	}
	routes := []statemachine.RouteState{{
		Hops: []statemachine.RouteHop{{Address: b, TokenNetwork: id.TokenNetworkAddr}},
	}}
	state := newState(secretHash, routes)

	state, events := StateTransition(cs, state, &statechange.ReceiveLockedTransfer{Message: incoming, Sender: a}, 10, 5, 5)
	if len(events) != 1 {
		t.Fatalf("expected one forwarding SendMessage, got %v", events)
	}
	if len(state.Pairs) != 1 || state.Pairs[0].PayeeAddress != b {
		t.Fatalf("expected one mediation pair forwarded to B, got %+v", state.Pairs)
	}

	secret := statemachine.Hash{0x42}
	secretHash = statemachine.HashSecret(secret)
	state.SecretHash = secretHash
	state.Pairs[0].PayerTransfer.Lock.SecretHash = secretHash
	state.Pairs[0].PayeeTransfer.Lock.SecretHash = secretHash

	state, events = StateTransition(cs, state, &statechange.ReceiveSecretReveal{Message: &wire.SecretReveal{Secret: secret}, Sender: b}, 10, 5, 5)
	if len(events) != 2 {
		t.Fatalf("expected a reveal-to-A and an unlock-to-B event, got %v", events)
	}

	state, _ = HandleReceiveUnlock(state, secretHash)
	if !state.Done() {
		t.Fatalf("mediator task should be done once both legs unlock")
	}
}

// TestScenario4 drives spec.md §8 scenario S4: the on-chain secret
// registration rescue. At block 95 the payer's lock (expiration=100)
// is no longer safe to wait on at reveal_timeout=10, so the mediator
// must register the secret on-chain instead of relying on the payer to
// relay the off-chain reveal; a ContractReceiveSecretReveal at block 97
// then completes the payer leg. This is the exact path the maintainer
// review found silently dropped.
func TestScenario4(t *testing.T) {
	cs, b, id := newMediatorChainState(t)
	a := statemachine.Address{0x44}
	secret := statemachine.Hash{0x42}
	secretHash := statemachine.HashSecret(secret)
	incoming := &wire.LockedTransfer{
		Lock: statemachine.Lock{Amount: statemachine.NewTokenAmount(20), Expiration: 100, SecretHash: secretHash},
	}
	routes := []statemachine.RouteState{{
		Hops: []statemachine.RouteHop{{Address: b, TokenNetwork: id.TokenNetworkAddr}},
	}}
	state := newState(secretHash, routes)
	state, _ = HandleReceiveLockedTransfer(cs, state, incoming, a, 90, 10)

	state, events := HandleOffchainSecretReveal(state, secret, b, 95, 10)
	if len(events) != 2 {
		t.Fatalf("expected a reveal-to-payer SendMessage and a registerSecret ContractSend, got %v", events)
	}
	var sawRegisterSecret bool
	for _, e := range events {
		if send, ok := e.(*event.ContractSend); ok && send.Kind == "registerSecret" {
			sawRegisterSecret = true
		}
	}
	if !sawRegisterSecret {
		t.Fatalf("expected a registerSecret ContractSend among %v", events)
	}
	if state.Pairs[0].PayerState != StatusWaitingSecretReveal {
		t.Fatalf("payer state = %v, want StatusWaitingSecretReveal", state.Pairs[0].PayerState)
	}

	state, events = StateTransition(cs, state, &statechange.ContractReceiveSecretReveal{
		SecretHash: secretHash, Secret: secret, BlockNumber: 97,
	}, 97, 10, 5)
	if len(events) != 1 {
		t.Fatalf("expected one unlock-to-payee event, got %v", events)
	}
	if state.Pairs[0].PayerState != StatusSecretRevealed {
		t.Fatalf("payer state = %v, want StatusSecretRevealed once registered on-chain", state.Pairs[0].PayerState)
	}
	if state.Pairs[0].PayeeState != StatusBalanceProof {
		t.Fatalf("payee state = %v, want StatusBalanceProof", state.Pairs[0].PayeeState)
	}
}

// TestScenario6 drives spec.md §8 scenario S6: mediator M1 forwards
// towards M2, M2 refunds (no route onward), M1 marks that channel
// refunded and reroutes the same incoming lock via M3.
func TestScenario6(t *testing.T) {
	us := statemachine.Address{0x01}
	m2 := statemachine.Address{0x22}
	m3 := statemachine.Address{0x33}
	a := statemachine.Address{0x44}
	tokenNetwork := statemachine.Address{0xAA}

	cs := statemachine.NewChainState(1, us, 1)
	idM2 := statemachine.CanonicalID{ChainID: 1, TokenNetworkAddr: tokenNetwork, ChannelIdentifier: 2}
	chM2 := &statemachine.Channel{
		CanonicalID: idM2, TokenAddr: tokenNetwork, RevealTimeout: 5, SettleTimeout: 500,
		Our: statemachine.NewEnd(us), Partner: statemachine.NewEnd(m2),
	}
	chM2.Our.ContractBalance = statemachine.NewTokenAmount(1000)
	chM2.Partner.ContractBalance = statemachine.NewTokenAmount(1000)
	cs.PutChannel(chM2)

	idM3 := statemachine.CanonicalID{ChainID: 1, TokenNetworkAddr: tokenNetwork, ChannelIdentifier: 3}
	chM3 := &statemachine.Channel{
		CanonicalID: idM3, TokenAddr: tokenNetwork, RevealTimeout: 5, SettleTimeout: 500,
		Our: statemachine.NewEnd(us), Partner: statemachine.NewEnd(m3),
	}
	chM3.Our.ContractBalance = statemachine.NewTokenAmount(1000)
	chM3.Partner.ContractBalance = statemachine.NewTokenAmount(1000)
	cs.PutChannel(chM3)

	secretHash := statemachine.Hash{0x55}
	lock := statemachine.Lock{Amount: statemachine.NewTokenAmount(20), Expiration: 200, SecretHash: secretHash}
	incoming := &wire.LockedTransfer{Lock: lock}
	routes := []statemachine.RouteState{
		{Hops: []statemachine.RouteHop{{Address: m2, TokenNetwork: tokenNetwork}}},
		{Hops: []statemachine.RouteHop{{Address: m3, TokenNetwork: tokenNetwork}}},
	}
	state := newState(secretHash, routes)

	state, events := HandleReceiveLockedTransfer(cs, state, incoming, a, 10, 5)
	if len(events) != 1 || state.Pairs[0].PayeeAddress != m2 {
		t.Fatalf("expected the first attempt forwarded to M2, got %+v", state.Pairs)
	}

	refund := &wire.RefundTransfer{LockedTransfer: wire.LockedTransfer{Lock: lock}}
	state, events = StateTransition(cs, state, &statechange.ReceiveRefundTransfer{Message: refund, Sender: m2}, 10, 5, 5)
	if len(events) != 1 {
		t.Fatalf("expected one rerouted forwarding SendMessage, got %v", events)
	}
	if !state.RefundedChannels[idM2] {
		t.Fatalf("expected M2's channel to be marked refunded")
	}
	if len(state.Pairs) != 2 || state.Pairs[1].PayeeAddress != m3 {
		t.Fatalf("expected a second pair rerouted to M3, got %+v", state.Pairs)
	}
}
