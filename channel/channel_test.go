package channel

import (
	"math/rand"
	"testing"

	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
)

func TestStateTransitionBlockTick(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))
	rng := rand.New(rand.NewSource(1))

	next, events, err := StateTransition(ch, &statechange.Block{BlockNumber: 1}, 1, statemachine.Hash{}, rng)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if next != ch {
		t.Fatalf("block tick on an opened, idle channel must not destroy it")
	}
	if len(events) != 0 {
		t.Fatalf("expected no events on an idle block tick, got %v", events)
	}
}

func TestStateTransitionDestroysOnSettle(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))
	rng := rand.New(rand.NewSource(1))

	ch.CloseTx.Started = true
	ch.CloseTx.Finished = true
	ch.CloseTx.Result = "ok"
	ch.SettleTx.Started = true

	next, events, err := StateTransition(ch, &statechange.LedgerChannelSettled{CanonicalID: ch.CanonicalID}, 1000, statemachine.Hash{}, rng)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if next != nil {
		t.Fatalf("settling a lock-free channel must destroy it")
	}
	if len(events) != 1 {
		t.Fatalf("expected one ChannelDestroyed event, got %v", events)
	}
}

func TestStateTransitionRejectsRevealTimeoutTooLarge(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))
	rng := rand.New(rand.NewSource(1))

	change := &statechange.ActionChannelSetRevealTimeout{CanonicalID: ch.CanonicalID, RevealTimeout: ch.SettleTimeout}
	next, events, err := StateTransition(ch, change, 1, statemachine.Hash{}, rng)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if next != ch {
		t.Fatalf("channel should survive a rejected reveal-timeout update")
	}
	if len(events) != 1 {
		t.Fatalf("expected one rejection event, got %v", events)
	}
	if ch.RevealTimeout == ch.SettleTimeout {
		t.Fatalf("reveal timeout must not have been applied")
	}
}

func TestStateTransitionSanityCheckCatchesLocksrootMismatch(t *testing.T) {
	us := newTestParticipant(t)
	partner := newTestParticipant(t)
	ch := newTestChannel(t, us, partner, statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(100))
	rng := rand.New(rand.NewSource(1))

	// Corrupt invariant I2 directly: a balance-proof whose locksroot
	// disagrees with the tracked pending_locks vector.
	bp := statemachine.BalanceProof{LocksRoot: statemachine.Hash{0xFF}}
	ch.Our.BalanceProof = &bp

	_, _, err := StateTransition(ch, &statechange.Block{BlockNumber: 1}, 1, statemachine.Hash{}, rng)
	if err == nil {
		t.Fatalf("expected a fatal sanity-check error")
	}
	if err.Kind != statemachine.ErrFatal {
		t.Fatalf("error kind = %v, want Fatal", err.Kind)
	}
}
