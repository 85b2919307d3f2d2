package ledger

import (
	"testing"

	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
)

func newTestChainState() (*statemachine.ChainState, statemachine.Address, statemachine.Address) {
	us := statemachine.Address{0x01}
	partner := statemachine.Address{0x02}
	cs := statemachine.NewChainState(1, us, 1)
	return cs, us, partner
}

func TestDecodeRequiresConfirmationDepth(t *testing.T) {
	cs, us, _ := newTestChainState()
	cs.LatestBlockNumber = 10
	log := Log{Kind: KindRegisteredService, BlockNumber: 8, ServiceAddress: us, ValidTill: 1000}

	if _, ok := Decode(log, cs, 5, nil); ok {
		t.Fatalf("expected the log to be rejected: only 2 confirmations deep, need 5")
	}

	cs.LatestBlockNumber = 13
	change, ok := Decode(log, cs, 5, nil)
	if !ok {
		t.Fatalf("expected the log to decode once 5 blocks deep")
	}
	reg, ok := change.(*statechange.LedgerServiceRegistered)
	if !ok {
		t.Fatalf("expected a LedgerServiceRegistered, got %T", change)
	}
	if reg.ServiceAddress != us || reg.ValidTill != 1000 {
		t.Fatalf("unexpected decoded fields: %+v", reg)
	}
}

func TestDecodeChannelOpenedIgnoresForeignChannels(t *testing.T) {
	cs, _, _ := newTestChainState()
	cs.LatestBlockNumber = 5
	stranger1 := statemachine.Address{0x03}
	stranger2 := statemachine.Address{0x04}
	log := Log{
		Kind:              KindChannelOpened,
		ChainID:           1,
		BlockNumber:       0,
		TokenNetwork:      statemachine.Address{0xAA},
		ChannelIdentifier: 7,
		Participant1:      stranger1,
		Participant2:      stranger2,
		SettleTimeout:     500,
	}

	if _, ok := Decode(log, cs, 5, nil); ok {
		t.Fatalf("expected a channel between two foreign addresses to be ignored")
	}
}

func TestDecodeChannelOpenedAcceptsOurChannel(t *testing.T) {
	cs, us, partner := newTestChainState()
	cs.LatestBlockNumber = 5
	log := Log{
		Kind:              KindChannelOpened,
		ChainID:           1,
		BlockNumber:       0,
		TokenNetwork:      statemachine.Address{0xAA},
		ChannelIdentifier: 7,
		Participant1:      us,
		Participant2:      partner,
		SettleTimeout:     500,
	}

	change, ok := Decode(log, cs, 5, nil)
	if !ok {
		t.Fatalf("expected our own channel to decode")
	}
	opened, ok := change.(*statechange.LedgerChannelOpened)
	if !ok {
		t.Fatalf("expected LedgerChannelOpened, got %T", change)
	}
	wantID := statemachine.CanonicalID{ChainID: 1, TokenNetworkAddr: log.TokenNetwork, ChannelIdentifier: 7}
	if opened.CanonicalID != wantID {
		t.Fatalf("CanonicalID = %v, want %v", opened.CanonicalID, wantID)
	}
}

func TestDecodeChannelNewDepositIgnoresUnknownChannel(t *testing.T) {
	cs, _, _ := newTestChainState()
	cs.LatestBlockNumber = 5
	log := Log{
		Kind:              KindChannelNewDeposit,
		ChainID:           1,
		BlockNumber:       0,
		TokenNetwork:      statemachine.Address{0xAA},
		ChannelIdentifier: 7,
		TotalDeposit:      statemachine.NewTokenAmount(100),
	}

	if _, ok := Decode(log, cs, 5, nil); ok {
		t.Fatalf("expected a deposit on an untracked channel to be ignored")
	}
}

type fakeIndex struct {
	id statemachine.CanonicalID
	ok bool
}

func (f fakeIndex) CanonicalIDByLocksroot(tokenNetwork statemachine.Address, chainID uint64, locksroot statemachine.Hash, recipient statemachine.Address) (statemachine.CanonicalID, bool) {
	return f.id, f.ok
}

func TestDecodeChannelUnlockedResolvesCanonicalID(t *testing.T) {
	cs, us, partner := newTestChainState()
	cs.LatestBlockNumber = 5
	tokenNetwork := statemachine.Address{0xAA}
	id := statemachine.CanonicalID{ChainID: 1, TokenNetworkAddr: tokenNetwork, ChannelIdentifier: 7}
	cs.PutChannel(&statemachine.Channel{
		CanonicalID: id,
		TokenAddr:   tokenNetwork,
		Our:         statemachine.NewEnd(us),
		Partner:     statemachine.NewEnd(partner),
	})

	log := Log{
		Kind:         KindChannelUnlocked,
		ChainID:      1,
		BlockNumber:  0,
		TokenNetwork: tokenNetwork,
		Sender:       partner,
		Receiver:     us,
		Locksroot:    statemachine.Hash{0x09},
	}

	change, ok := Decode(log, cs, 5, fakeIndex{id: id, ok: true})
	if !ok {
		t.Fatalf("expected the unlock to resolve against the tracked channel")
	}
	unlocked, ok := change.(*statechange.LedgerChannelBatchUnlocked)
	if !ok {
		t.Fatalf("expected LedgerChannelBatchUnlocked, got %T", change)
	}
	if unlocked.CanonicalID != id {
		t.Fatalf("CanonicalID = %v, want %v", unlocked.CanonicalID, id)
	}
}

func TestDecodeChannelUnlockedIgnoresUnresolvedIndex(t *testing.T) {
	cs, us, partner := newTestChainState()
	cs.LatestBlockNumber = 5
	tokenNetwork := statemachine.Address{0xAA}
	id := statemachine.CanonicalID{ChainID: 1, TokenNetworkAddr: tokenNetwork, ChannelIdentifier: 7}
	cs.PutChannel(&statemachine.Channel{
		CanonicalID: id,
		TokenAddr:   tokenNetwork,
		Our:         statemachine.NewEnd(us),
		Partner:     statemachine.NewEnd(partner),
	})

	log := Log{
		Kind:         KindChannelUnlocked,
		ChainID:      1,
		BlockNumber:  0,
		TokenNetwork: tokenNetwork,
		Sender:       partner,
		Receiver:     us,
		Locksroot:    statemachine.Hash{0x09},
	}

	if _, ok := Decode(log, cs, 5, fakeIndex{ok: false}); ok {
		t.Fatalf("expected no match when the balance-proof index can't resolve the locksroot")
	}
}
