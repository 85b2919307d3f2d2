package statemachine

import "github.com/chainmesh/corelayer/fee"

// TxStatus is one of a channel's four on-ledger transaction execution
// trackers: open, close, settle, update (spec §3).
type TxStatus struct {
	Started  bool
	Finished bool
	Result   string
}

// ChannelStatus is the status derived from a channel's four TxStatus
// fields (spec §3): Opened -> Closing -> Closed -> Settling -> Settled ->
// Removed, with an Unusable sink for failures.
type ChannelStatus uint8

const (
	StatusOpened ChannelStatus = iota
	StatusClosing
	StatusClosed
	StatusSettling
	StatusSettled
	StatusRemoved
	StatusUnusable
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusOpened:
		return "opened"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusSettling:
		return "settling"
	case StatusSettled:
		return "settled"
	case StatusRemoved:
		return "removed"
	default:
		return "unusable"
	}
}

// Channel is the per-channel contract state: identity, timeouts, fee
// schedule, both ends, and the four transaction-execution statuses (spec
// §3).
type Channel struct {
	CanonicalID CanonicalID
	TokenAddr   Address
	RegistryAddr Address

	RevealTimeout BlockNumber
	SettleTimeout BlockNumber

	FeeSchedule fee.Schedule

	Our     *End
	Partner *End

	OpenTx   TxStatus
	CloseTx  TxStatus
	SettleTx TxStatus
	UpdateTx TxStatus

	CloseBlock  BlockNumber
	ClosingAddr Address
}

// Capacity is deposits minus withdraws, summed across both ends (spec §3
// invariant I1).
func (c *Channel) Capacity() TokenAmount {
	total, _ := c.Our.Balance().Add(c.Partner.Balance())
	return total
}

// Status derives the externally visible channel status from the four
// transaction trackers (spec §3).
func (c *Channel) Status() ChannelStatus {
	switch {
	case c.SettleTx.Finished && c.SettleTx.Result == "ok":
		return StatusSettled
	case c.SettleTx.Started && !c.SettleTx.Finished:
		return StatusSettling
	case c.CloseTx.Finished && c.CloseTx.Result == "ok":
		return StatusClosed
	case c.CloseTx.Started && !c.CloseTx.Finished:
		return StatusClosing
	case c.CloseTx.Finished && c.CloseTx.Result != "ok":
		return StatusUnusable
	case c.SettleTx.Finished && c.SettleTx.Result != "ok":
		return StatusUnusable
	default:
		return StatusOpened
	}
}

// ValidateTimeouts checks the settle >= 2*reveal invariant (spec §3, §8
// B3).
func ValidateTimeouts(reveal, settle BlockNumber) bool {
	return settle >= 2*reveal
}

// SanityCheck enforces the universal invariants I2, I3, I5 and I6 from spec
// §8 after every transition; I1 and I4 are not checked here. Any violation is a Fatal state-transition error; the
// caller must not persist the state-change that produced it.
func (c *Channel) SanityCheck() *Error {
	if c.Our.BalanceProof != nil {
		if c.Our.LockedAmount().Cmp(c.Our.BalanceProof.LockedAmount) != 0 {
			return NewError(ErrFatal, "our locked-amount does not match balance-proof (I3)")
		}
		if c.Our.LocksRoot() != c.Our.BalanceProof.LocksRoot {
			return NewError(ErrFatal, "our locksroot does not match pending_locks (I2)")
		}
	}
	if c.Partner.BalanceProof != nil {
		if c.Partner.LockedAmount().Cmp(c.Partner.BalanceProof.LockedAmount) != 0 {
			return NewError(ErrFatal, "partner locked-amount does not match balance-proof (I3)")
		}
		if c.Partner.LocksRoot() != c.Partner.BalanceProof.LocksRoot {
			return NewError(ErrFatal, "partner locksroot does not match pending_locks (I2)")
		}
	}

	if len(c.Our.PendingLocks) > 160 {
		return NewError(ErrFatal, "our pending_locks exceeds 160 (I5)")
	}
	if len(c.Partner.PendingLocks) > 160 {
		return NewError(ErrFatal, "partner pending_locks exceeds 160 (I5)")
	}

	for totalWithdraw := range c.Our.WithdrawsPending {
		for _, expired := range c.Our.WithdrawsExpired {
			if expired.TotalWithdraw.Uint64() == totalWithdraw {
				return NewError(ErrFatal, "withdraw both pending and expired (I6)")
			}
		}
	}
	for totalWithdraw := range c.Partner.WithdrawsPending {
		for _, expired := range c.Partner.WithdrawsExpired {
			if expired.TotalWithdraw.Uint64() == totalWithdraw {
				return NewError(ErrFatal, "withdraw both pending and expired (I6)")
			}
		}
	}

	return nil
}
