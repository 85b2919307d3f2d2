package statemachine

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// emptyLocksHash is keccak256(""), the locksroot of a channel end with no
// pending locks (spec §6).
var emptyLocksHash = crypto.Keccak256Hash(nil)

// EmptyLocksRoot returns the locksroot of a lock-free channel end.
func EmptyLocksRoot() Hash {
	return emptyLocksHash
}

// ComputeLocksRoot is keccak256 of the concatenation of the encoded bytes of
// pending locks, in insertion order (spec §4.1).
func ComputeLocksRoot(locks []Lock) Hash {
	if len(locks) == 0 {
		return emptyLocksHash
	}
	buf := make([]byte, 0, len(locks)*72)
	for _, l := range locks {
		buf = append(buf, l.Encoded()...)
	}
	return crypto.Keccak256Hash(buf)
}

// ComputeBalanceHash is keccak256(transferred_amount(32) ||
// locked_amount(32) || locksroot(32)) (spec §6).
func ComputeBalanceHash(transferred, locked TokenAmount, locksRoot Hash) Hash {
	buf := make([]byte, 0, 96)
	t := transferred.BigEndianBytes32()
	l := locked.BigEndianBytes32()
	buf = append(buf, t[:]...)
	buf = append(buf, l[:]...)
	buf = append(buf, locksRoot.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// BalanceProofSignaturePreimage packs the tuple that a balance-proof
// signature commits to: token_network_address(20) || chain_id(32) ||
// channel_id(32) || balance_hash(32) || nonce(32) || message_hash(32)
// (spec §6).
func BalanceProofSignaturePreimage(id CanonicalID, balanceHash Hash, nonce uint64, messageHash Hash) []byte {
	buf := make([]byte, 0, 20+32+32+32+32+32)
	buf = append(buf, id.TokenNetworkAddr.Bytes()...)
	buf = append(buf, leftPad32(id.ChainID)...)
	buf = append(buf, leftPad32(id.ChannelIdentifier)...)
	buf = append(buf, balanceHash.Bytes()...)
	buf = append(buf, leftPad32(nonce)...)
	buf = append(buf, messageHash.Bytes()...)
	return buf
}

// WithdrawSignaturePreimage packs the tuple a withdraw signature commits
// to: token_network_address(20) || chain_id(32) || channel_id(32) ||
// participant(20) || total_withdraw(32) || expiration(32) (spec §6).
func WithdrawSignaturePreimage(id CanonicalID, participant Address, totalWithdraw TokenAmount, expiration BlockNumber) []byte {
	buf := make([]byte, 0, 20+32+32+20+32+32)
	buf = append(buf, id.TokenNetworkAddr.Bytes()...)
	buf = append(buf, leftPad32(id.ChainID)...)
	buf = append(buf, leftPad32(id.ChannelIdentifier)...)
	buf = append(buf, participant.Bytes()...)
	amt := totalWithdraw.BigEndianBytes32()
	buf = append(buf, amt[:]...)
	buf = append(buf, leftPad32(uint64(expiration))...)
	return buf
}

func leftPad32(n uint64) []byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[24:], n)
	return out[:]
}

// SignDigest signs the keccak256 digest of preimage with priv, as the
// wire-message signing step the control/chain layers perform before
// enqueueing an outbound message.
func SignDigest(preimage []byte, priv []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, err
	}
	digest := crypto.Keccak256(preimage)
	return crypto.Sign(digest, key)
}

// RecoverSigner recovers the address that produced sig over preimage.
func RecoverSigner(preimage []byte, sig []byte) (Address, error) {
	digest := crypto.Keccak256(preimage)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// HashSecret returns keccak256(secret), the preimage check used throughout
// the control adapter and target sub-machine.
func HashSecret(secret Hash) Hash {
	return crypto.Keccak256Hash(secret.Bytes())
}
