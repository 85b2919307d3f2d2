package target

import (
	"testing"

	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

func newIncomingTransfer(expiration statemachine.BlockNumber, secretHash statemachine.Hash) *wire.LockedTransfer {
	return &wire.LockedTransfer{
		PaymentID: 1,
		Lock:      statemachine.Lock{Amount: statemachine.NewTokenAmount(50), Expiration: expiration, SecretHash: secretHash},
		Initiator: statemachine.Address{0x01},
		Target:    statemachine.Address{0x02},
	}
}

func TestInitRejectsUnsafeExpiration(t *testing.T) {
	transfer := newIncomingTransfer(12, statemachine.Hash{0x01})
	id := statemachine.CanonicalID{ChainID: 1}

	state, events := Init(transfer, statemachine.Address{0x03}, id, 10, 5)
	if state.Status != StatusExpired {
		t.Fatalf("status = %v, want Expired", state.Status)
	}
	if len(events) != 1 {
		t.Fatalf("expected one failure event, got %v", events)
	}
}

func TestInitRequestsSecretWhenSafe(t *testing.T) {
	transfer := newIncomingTransfer(100, statemachine.Hash{0x01})
	id := statemachine.CanonicalID{ChainID: 1}

	state, events := Init(transfer, statemachine.Address{0x03}, id, 10, 5)
	if state.Status != StatusSecretRequest {
		t.Fatalf("status = %v, want SecretRequest", state.Status)
	}
	if len(events) != 1 {
		t.Fatalf("expected one SendMessage event, got %v", events)
	}
}

func TestSecretRevealThenUnlockCompletesPayment(t *testing.T) {
	secret := statemachine.Hash{0x42}
	secretHash := statemachine.HashSecret(secret)
	transfer := newIncomingTransfer(100, secretHash)
	id := statemachine.CanonicalID{ChainID: 1}
	state, _ := Init(transfer, statemachine.Address{0x03}, id, 10, 5)

	state, events := handleSecretReveal(state, secret, false)
	if state.Status != StatusOffchainSecretReveal {
		t.Fatalf("status = %v, want OffchainSecretReveal", state.Status)
	}
	if len(events) != 1 {
		t.Fatalf("expected one reveal-relay event, got %v", events)
	}

	next, doneEvents := HandleUnlock(state)
	if next != nil {
		t.Fatalf("target task should be destroyed after a terminal unlock")
	}
	if len(doneEvents) != 1 {
		t.Fatalf("expected one PaymentReceivedSuccess event, got %v", doneEvents)
	}
}

func TestHandleBlockExpiresPastReceiverThreshold(t *testing.T) {
	transfer := newIncomingTransfer(50, statemachine.Hash{0x01})
	id := statemachine.CanonicalID{ChainID: 1}
	state, _ := Init(transfer, statemachine.Address{0x03}, id, 10, 5)

	state, events := HandleBlock(state, 50+5, 5)
	if state.Status != StatusExpired {
		t.Fatalf("status = %v, want Expired", state.Status)
	}
	if len(events) != 1 {
		t.Fatalf("expected one failure event, got %v", events)
	}
}
