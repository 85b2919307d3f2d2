package statemachine

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Address identifies a participant on the ledger substrate.
type Address = common.Address

// Hash is a 32 byte digest, used for secret-hashes, locksroots, block
// hashes and balance-hashes alike.
type Hash = common.Hash

// BlockNumber is a confirmed or pending block height on the ledger.
type BlockNumber uint64

// TokenAmount is a channel balance, lock, or withdraw amount. It is backed
// by a fixed-width 256 bit integer so that additions which would overflow
// are caught explicitly rather than wrapping silently, matching spec I1/I3's
// overflow-safety requirement.
type TokenAmount struct {
	v uint256.Int
}

// NewTokenAmount builds a TokenAmount from a uint64, the common case for
// test fixtures and CLI-supplied values.
func NewTokenAmount(n uint64) TokenAmount {
	var t TokenAmount
	t.v.SetUint64(n)
	return t
}

// Uint64 returns the amount truncated to 64 bits. Callers must only use this
// where the value is already known to fit, e.g. serializing a lock amount
// that was itself constructed from a uint64.
func (t TokenAmount) Uint64() uint64 {
	return t.v.Uint64()
}

// Add returns t+other and whether the addition overflowed the 256 bit
// range. In practice this never trips for realistic channel balances, but
// the explicit check is what spec I1/I3 means by "overflow-safety".
func (t TokenAmount) Add(other TokenAmount) (TokenAmount, bool) {
	var out TokenAmount
	_, overflow := out.v.AddOverflow(&t.v, &other.v)
	return out, overflow
}

// Sub returns t-other. The caller must ensure other <= t; Sub saturates at
// zero rather than wrapping, since every call site in this module first
// validates the subtraction is in range.
func (t TokenAmount) Sub(other TokenAmount) TokenAmount {
	var out TokenAmount
	if t.v.Lt(&other.v) {
		return TokenAmount{}
	}
	out.v.Sub(&t.v, &other.v)
	return out
}

// Cmp returns -1, 0, or 1 as t is less than, equal to, or greater than
// other.
func (t TokenAmount) Cmp(other TokenAmount) int {
	return t.v.Cmp(&other.v)
}

// IsZero reports whether the amount is zero.
func (t TokenAmount) IsZero() bool {
	return t.v.IsZero()
}

// GreaterThan reports whether t > other.
func (t TokenAmount) GreaterThan(other TokenAmount) bool {
	return t.Cmp(other) > 0
}

// LessThanOrEqual reports whether t <= other.
func (t TokenAmount) LessThanOrEqual(other TokenAmount) bool {
	return t.Cmp(other) <= 0
}

// BigEndianBytes32 returns the amount as a big-endian encoded 32 byte word,
// the encoding used inside lock bytes and balance-hash preimages (spec §4.1,
// §6).
func (t TokenAmount) BigEndianBytes32() [32]byte {
	var out [32]byte
	b := t.v.Bytes32()
	copy(out[:], b[:])
	return out
}

func (t TokenAmount) String() string {
	return t.v.Dec()
}

// MarshalJSON renders the amount the same way uint256.Int does on its
// own: a quoted hex string, so a TokenAmount round-trips through the
// persistence layer's JSON-encoded records (spec §4.7) without losing
// precision the way a plain uint64 field would for values above 2^64.
func (t TokenAmount) MarshalJSON() ([]byte, error) {
	return t.v.MarshalJSON()
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *TokenAmount) UnmarshalJSON(data []byte) error {
	return t.v.UnmarshalJSON(data)
}

// CanonicalID is the three-part key that identifies a channel uniquely
// across the whole system: the ledger it lives on, the token-network
// registry address space it belongs to, and the channel identifier the
// ledger assigned it on open.
type CanonicalID struct {
	ChainID           uint64
	TokenNetworkAddr  Address
	ChannelIdentifier uint64
}

func (c CanonicalID) String() string {
	return fmt.Sprintf("%d/%s/%d", c.ChainID, c.TokenNetworkAddr.Hex(), c.ChannelIdentifier)
}

// MessageID is a message identifier drawn from chain state's single
// deterministic pseudo-random source (spec §3, §9); ids are neither
// per-queue nor monotonic.
type MessageID uint64

// Lock is the HTLC escrowed within a balance-proof: an amount, an absolute
// expiration, and the hash of the secret that releases it.
type Lock struct {
	Amount      TokenAmount
	Expiration  BlockNumber
	SecretHash  Hash
}

// Encoded returns the canonical byte encoding used both to compute the
// locksroot and to place the lock on the wire: big-endian(expiration) ||
// big-endian(amount) || secret-hash (spec §4.1).
func (l Lock) Encoded() []byte {
	out := make([]byte, 0, 8+32+32)
	var expBytes [8]byte
	binary.BigEndian.PutUint64(expBytes[:], uint64(l.Expiration))
	out = append(out, expBytes[:]...)
	amt := l.Amount.BigEndianBytes32()
	out = append(out, amt[:]...)
	out = append(out, l.SecretHash.Bytes()...)
	return out
}

// BalanceProof is the signed claim that fixes one end's off-chain channel
// state (spec §3, GLOSSARY).
type BalanceProof struct {
	Nonce              uint64
	TransferredAmount  TokenAmount
	LockedAmount       TokenAmount
	LocksRoot          Hash
	CanonicalID        CanonicalID
	BalanceHash        Hash
	MessageHash        *Hash
	Signature          []byte
	Sender             *Address
}

// RouteHop is a single transport hop within a RouteState.
type RouteHop struct {
	Address      Address
	TokenNetwork Address
}

// RouteState is an ordered path of hops starting with this node, plus an
// estimated fee for traversing it (spec §3).
type RouteState struct {
	Hops         []RouteHop
	EstimatedFee TokenAmount
}

// Target returns the final hop of the route, or the zero address if the
// route is empty.
func (r RouteState) Target() Address {
	if len(r.Hops) == 0 {
		return Address{}
	}
	return r.Hops[len(r.Hops)-1].Address
}
