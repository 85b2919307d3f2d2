package channel

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainmesh/corelayer/fee"
	"github.com/chainmesh/corelayer/statemachine"
)

// testParticipant bundles a signing key with the address it produces, so
// test fixtures can both build an End and sign on its behalf.
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

// newTestChannel builds an opened two-party channel with the given
// contract balances, ready for balance-proof exchange.
func newTestChannel(t *testing.T, us, partner testParticipant, ourBalance, partnerBalance statemachine.TokenAmount) *statemachine.Channel {
	t.Helper()
	ch := &statemachine.Channel{
		CanonicalID: statemachine.CanonicalID{
			ChainID:           1,
			TokenNetworkAddr:  statemachine.Address{0xAA},
			ChannelIdentifier: 1,
		},
		TokenAddr:     statemachine.Address{0xBB},
		RevealTimeout: 5,
		SettleTimeout: 500,
		FeeSchedule:   fee.Schedule{},
		Our:           statemachine.NewEnd(us.address),
		Partner:       statemachine.NewEnd(partner.address),
	}
	ch.Our.ContractBalance = ourBalance
	ch.Partner.ContractBalance = partnerBalance
	return ch
}

// signedBalanceProof builds and signs a balance-proof as sender would,
// given the locks its pending_locks vector should imply after this update.
func signedBalanceProof(t *testing.T, sender testParticipant, id statemachine.CanonicalID, nonce uint64, transferred, locked statemachine.TokenAmount, locks []statemachine.Lock, messageHash statemachine.Hash) statemachine.BalanceProof {
	t.Helper()
	locksRoot := statemachine.ComputeLocksRoot(locks)
	balanceHash := statemachine.ComputeBalanceHash(transferred, locked, locksRoot)
	preimage := statemachine.BalanceProofSignaturePreimage(id, balanceHash, nonce, messageHash)
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
		MessageHash:       &messageHash,
		Signature:         sig,
		Sender:            &addr,
	}
}

func signedWithdraw(t *testing.T, signer testParticipant, id statemachine.CanonicalID, participant statemachine.Address, totalWithdraw statemachine.TokenAmount, expiration statemachine.BlockNumber) []byte {
	t.Helper()
	preimage := statemachine.WithdrawSignaturePreimage(id, participant, totalWithdraw, expiration)
	sig, err := statemachine.SignDigest(preimage, crypto.FromECDSA(signer.key))
	if err != nil {
		t.Fatalf("sign withdraw: %v", err)
	}
	return sig
}
