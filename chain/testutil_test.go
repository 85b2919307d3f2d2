package chain

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainmesh/corelayer/fee"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

type testParticipant struct {
	key     *ecdsa.PrivateKey
	address statemachine.Address
}

func newTestParticipant(t *testing.T) testParticipant {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return testParticipant{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// newTestChainState builds a chain state holding one opened channel
// between us and partner, ready to carry a locked transfer.
func newTestChainState(t *testing.T, us, partner testParticipant, id statemachine.CanonicalID) *statemachine.ChainState {
	t.Helper()
	cs := statemachine.NewChainState(id.ChainID, us.address, 1)
	ch := &statemachine.Channel{
		CanonicalID:   id,
		TokenAddr:     id.TokenNetworkAddr,
		RevealTimeout: 5,
		SettleTimeout: 500,
		FeeSchedule:   fee.Schedule{},
		Our:           statemachine.NewEnd(us.address),
		Partner:       statemachine.NewEnd(partner.address),
	}
	ch.Our.ContractBalance = statemachine.NewTokenAmount(1000)
	ch.Partner.ContractBalance = statemachine.NewTokenAmount(1000)
	cs.PutChannel(ch)
	return cs
}

// signedBalanceProof builds a statemachine.BalanceProof over the given
// transferred/locked amounts and lock set, signed by sender.
func signedBalanceProof(t *testing.T, sender testParticipant, id statemachine.CanonicalID, nonce uint64, transferred, locked statemachine.TokenAmount, locks []statemachine.Lock) statemachine.BalanceProof {
	t.Helper()
	locksRoot := statemachine.ComputeLocksRoot(locks)
	balanceHash := statemachine.ComputeBalanceHash(transferred, locked, locksRoot)
	msgHash := statemachine.Hash{}
	preimage := statemachine.BalanceProofSignaturePreimage(id, balanceHash, nonce, msgHash)
	sig, err := statemachine.SignDigest(preimage, crypto.FromECDSA(sender.key))
	if err != nil {
		t.Fatalf("sign balance proof: %v", err)
	}
	addr := sender.address
	return statemachine.BalanceProof{
		Nonce:             nonce,
		TransferredAmount: transferred,
		LockedAmount:      locked,
		LocksRoot:         locksRoot,
		CanonicalID:       id,
		BalanceHash:       balanceHash,
		MessageHash:       &msgHash,
		Signature:         sig,
		Sender:            &addr,
	}
}

// signedLockedTransferFrom builds a wire.LockedTransfer that sender
// sends us, opening a single new lock, with a correctly signed
// balance-proof matching the receiving end's empty starting state.
func signedLockedTransferFrom(t *testing.T, sender testParticipant, id statemachine.CanonicalID, lock statemachine.Lock, initiator, target statemachine.Address, paymentID uint64) *wire.LockedTransfer {
	t.Helper()
	locksRoot := statemachine.ComputeLocksRoot([]statemachine.Lock{lock})
	balanceHash := statemachine.ComputeBalanceHash(statemachine.NewTokenAmount(0), lock.Amount, locksRoot)
	preimage := statemachine.BalanceProofSignaturePreimage(id, balanceHash, 1, statemachine.Hash{})
	sig, err := statemachine.SignDigest(preimage, crypto.FromECDSA(sender.key))
	if err != nil {
		t.Fatalf("sign locked transfer: %v", err)
	}
	senderAddr := sender.address
	msgHash := statemachine.Hash{}
	return &wire.LockedTransfer{
		BalanceProof: statemachine.BalanceProof{
			Nonce:             1,
			TransferredAmount: statemachine.NewTokenAmount(0),
			LockedAmount:      lock.Amount,
			LocksRoot:         locksRoot,
			CanonicalID:       id,
			BalanceHash:       balanceHash,
			MessageHash:       &msgHash,
			Signature:         sig,
			Sender:            &senderAddr,
		},
		PaymentID: paymentID,
		Lock:      lock,
		Initiator: initiator,
		Target:    target,
		MessageID: 1,
	}
}
