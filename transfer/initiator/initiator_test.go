package initiator

import (
	"testing"

	"github.com/chainmesh/corelayer/fee"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

func newUsableChainState(t *testing.T) (*statemachine.ChainState, statemachine.Address, statemachine.CanonicalID) {
	t.Helper()
	us := statemachine.Address{0x01}
	hop := statemachine.Address{0x02}
	tokenNetwork := statemachine.Address{0xAA}

	cs := statemachine.NewChainState(1, us, 1)
	id := statemachine.CanonicalID{ChainID: 1, TokenNetworkAddr: tokenNetwork, ChannelIdentifier: 1}
	ch := &statemachine.Channel{
		CanonicalID:   id,
		TokenAddr:     tokenNetwork,
		RevealTimeout: 5,
		SettleTimeout: 500,
		FeeSchedule:   fee.Schedule{},
		Our:           statemachine.NewEnd(us),
		Partner:       statemachine.NewEnd(hop),
	}
	ch.Our.ContractBalance = statemachine.NewTokenAmount(1000)
	ch.Partner.ContractBalance = statemachine.NewTokenAmount(1000)
	cs.PutChannel(ch)
	return cs, hop, id
}

func TestTryNewRoutePicksUsableChannel(t *testing.T) {
	cs, hop, id := newUsableChainState(t)
	desc := TransferDescription{
		TokenNetwork: id.TokenNetworkAddr,
		Amount:       statemachine.NewTokenAmount(100),
		Target:       statemachine.Address{0xEE},
		SecretHash:   statemachine.Hash{0x01},
		PaymentID:    1,
	}
	routes := []statemachine.RouteState{{
		Hops:         []statemachine.RouteHop{{Address: hop, TokenNetwork: id.TokenNetworkAddr}},
		EstimatedFee: statemachine.NewTokenAmount(1),
	}}

	state, events := TryNewRoute(cs, desc, routes, 10)
	if state == nil {
		t.Fatalf("expected a route to be found, got events %v", events)
	}
	if len(events) != 1 {
		t.Fatalf("expected one SendMessage event, got %v", events)
	}
	if state.Transfer.Lock.Expiration != 10+2*5 {
		t.Fatalf("lock expiration = %d, want %d", state.Transfer.Lock.Expiration, 20)
	}
}

func TestTryNewRouteExhaustionEmitsFailure(t *testing.T) {
	cs, _, id := newUsableChainState(t)
	desc := TransferDescription{
		TokenNetwork: id.TokenNetworkAddr,
		Amount:       statemachine.NewTokenAmount(100),
		Target:       statemachine.Address{0xEE},
		SecretHash:   statemachine.Hash{0x01},
		PaymentID:    1,
	}
	// A route whose estimated fee alone blows the hard cap.
	routes := []statemachine.RouteState{{
		Hops:         []statemachine.RouteHop{{Address: statemachine.Address{0x99}}},
		EstimatedFee: statemachine.NewTokenAmount(10000),
	}}

	state, events := TryNewRoute(cs, desc, routes, 10)
	if state != nil {
		t.Fatalf("expected route exhaustion")
	}
	if len(events) != 1 {
		t.Fatalf("expected one failure event, got %v", events)
	}
}

func TestHandleSecretRequestAnswersOnce(t *testing.T) {
	cs, hop, id := newUsableChainState(t)
	secret := statemachine.Hash{0x77}
	secretHash := statemachine.HashSecret(secret)
	desc := TransferDescription{
		TokenNetwork: id.TokenNetworkAddr,
		Amount:       statemachine.NewTokenAmount(100),
		Target:       statemachine.Address{0xEE},
		Secret:       secret,
		SecretHash:   secretHash,
		PaymentID:    1,
	}
	routes := []statemachine.RouteState{{
		Hops:         []statemachine.RouteHop{{Address: hop}},
		EstimatedFee: statemachine.NewTokenAmount(1),
	}}
	state, _ := TryNewRoute(cs, desc, routes, 10)
	if state == nil {
		t.Fatalf("setup: expected route")
	}

	req := &wire.SecretRequest{
		PaymentID:  1,
		SecretHash: secretHash,
		Amount:     state.Transfer.Lock.Amount,
		Expiration: state.Transfer.Lock.Expiration,
	}
	state, events := HandleSecretRequest(state, req, desc.Target)
	if len(events) != 1 {
		t.Fatalf("expected one reveal event, got %v", events)
	}
	if !state.AnsweredOnce {
		t.Fatalf("expected AnsweredOnce to be set")
	}

	// A second request must be ignored.
	state, events = HandleSecretRequest(state, req, desc.Target)
	if len(events) != 0 {
		t.Fatalf("expected second secret-request to be ignored, got %v", events)
	}
}

func TestHandleBlockExpiresPastSenderThreshold(t *testing.T) {
	cs, hop, id := newUsableChainState(t)
	desc := TransferDescription{
		TokenNetwork: id.TokenNetworkAddr,
		Amount:       statemachine.NewTokenAmount(100),
		Target:       statemachine.Address{0xEE},
		SecretHash:   statemachine.Hash{0x01},
		PaymentID:    1,
	}
	routes := []statemachine.RouteState{{
		Hops:         []statemachine.RouteHop{{Address: hop}},
		EstimatedFee: statemachine.NewTokenAmount(1),
	}}
	state, _ := TryNewRoute(cs, desc, routes, 10)
	if state == nil {
		t.Fatalf("setup: expected route")
	}

	state, events := HandleBlock(state, state.Transfer.Lock.Expiration+2*5, 5)
	if state.Status != StatusExpired {
		t.Fatalf("status = %v, want Expired", state.Status)
	}
	if len(events) != 3 {
		t.Fatalf("expected lock-expired + two failure events, got %v", events)
	}
}
