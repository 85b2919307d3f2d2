package statemachine

// WithdrawState is a pending off-chain withdraw awaiting the partner's
// confirmation or expiration (spec §4.1 withdraw protocol).
type WithdrawState struct {
	TotalWithdraw TokenAmount
	Expiration    BlockNumber
	Participant   Address
	Signature     []byte
	PartnerSig    []byte
	IsCoopSettle  bool
}

// ExpiredWithdraw records a withdraw that aged out without completing
// on-chain, kept so a late confirmation from the partner can still be
// recognized and drained from the sender's queue (spec §4.1).
type ExpiredWithdraw struct {
	TotalWithdraw TokenAmount
	Expiration    BlockNumber
}

// CoopSettleState tracks an in-flight cooperative settle initiated by
// either participant (spec §4.1).
type CoopSettleState struct {
	Initiator        Address
	TotalWithdrawIni TokenAmount
	TotalWithdrawPar TokenAmount
	Expiration       BlockNumber
	PartnerSignature []byte
}

// Expired reports whether the cooperative settle's expiration has passed.
// Guards against the unsigned-underflow bug spec §9 flags in the original:
// while block < revealTimeout it reports not expired, and it only computes
// block-revealTimeout once that subtraction cannot underflow.
func (c *CoopSettleState) Expired(block BlockNumber, revealTimeout BlockNumber) bool {
	if c == nil {
		return false
	}
	if block < revealTimeout {
		return false
	}
	return block-revealTimeout >= c.Expiration
}

// End is one participant's view of a channel: their on-ledger balance,
// their locks (still pending, unlocked off-chain, or unlocked on-chain),
// their current balance-proof, and the ordered pending_locks vector whose
// hash is the locksroot (spec §3).
type End struct {
	Address Address

	ContractBalance TokenAmount
	TotalWithdrawn  TokenAmount

	WithdrawsPending map[uint64 /* total_withdraw */]WithdrawState
	WithdrawsExpired []ExpiredWithdraw
	CoopSettle       *CoopSettleState

	LocksPendingOffchain map[Hash]Lock
	LocksUnlockedOffchain map[Hash]Lock
	LocksUnlockedOnchain  map[Hash]Lock

	BalanceProof *BalanceProof
	PendingLocks []Lock

	OnchainLocksRoot Hash
	Nonce            uint64
}

// NewEnd constructs an End with its maps initialized and an empty-locks
// balance proof, the state of a brand new channel participant.
func NewEnd(addr Address) *End {
	return &End{
		Address:               addr,
		WithdrawsPending:      make(map[uint64]WithdrawState),
		LocksPendingOffchain:  make(map[Hash]Lock),
		LocksUnlockedOffchain: make(map[Hash]Lock),
		LocksUnlockedOnchain:  make(map[Hash]Lock),
		OnchainLocksRoot:      EmptyLocksRoot(),
	}
}

// LockedAmount sums every lock tracked across the three lock maps. Spec I3
// requires this equal balance_proof.locked_amount.
func (e *End) LockedAmount() TokenAmount {
	total := TokenAmount{}
	for _, l := range e.LocksPendingOffchain {
		total, _ = total.Add(l.Amount)
	}
	for _, l := range e.LocksUnlockedOffchain {
		total, _ = total.Add(l.Amount)
	}
	for _, l := range e.LocksUnlockedOnchain {
		total, _ = total.Add(l.Amount)
	}
	return total
}

// Balance is the end's share of channel capacity: contract balance minus
// total withdrawn.
func (e *End) Balance() TokenAmount {
	return e.ContractBalance.Sub(e.TotalWithdrawn)
}

// TransferredAmount reads the current balance-proof's transferred amount,
// or zero if no balance-proof has been set yet.
func (e *End) TransferredAmount() TokenAmount {
	if e.BalanceProof == nil {
		return TokenAmount{}
	}
	return e.BalanceProof.TransferredAmount
}

// Distributable is the amount the end can still lock into new HTLCs:
// balance minus already-locked amount, or zero when the locked amount
// exceeds the balance. No separate overflow margin is subtracted; overflow
// safety comes from TokenAmount's checked arithmetic.
func (e *End) Distributable() TokenAmount {
	balance := e.Balance()
	locked := e.LockedAmount()
	if locked.GreaterThan(balance) {
		return TokenAmount{}
	}
	return balance.Sub(locked)
}

// AppendLock inserts a lock into pending_locks, recomputing the tracked
// locksroot implicitly via ComputeLocksRoot at validation time (spec §4.1:
// "Inserting a lock appends").
func (e *End) AppendLock(l Lock) {
	e.PendingLocks = append(e.PendingLocks, l)
	e.LocksPendingOffchain[l.SecretHash] = l
}

// RemoveLock deletes the first occurrence of the lock whose encoded bytes
// match, from pending_locks (spec §4.1: "expiring or unlocking a lock
// removes the first occurrence of its encoded value").
func (e *End) RemoveLock(secretHash Hash) (Lock, bool) {
	l, ok := e.LocksPendingOffchain[secretHash]
	if !ok {
		return Lock{}, false
	}
	encoded := l.Encoded()
	for i, pl := range e.PendingLocks {
		if string(pl.Encoded()) == string(encoded) {
			e.PendingLocks = append(e.PendingLocks[:i], e.PendingLocks[i+1:]...)
			break
		}
	}
	delete(e.LocksPendingOffchain, secretHash)
	return l, true
}

// LocksRoot recomputes the locksroot over the current pending_locks vector.
func (e *End) LocksRoot() Hash {
	return ComputeLocksRoot(e.PendingLocks)
}
