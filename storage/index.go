package storage

import (
	"encoding/binary"

	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// balanceProofRef pairs a balance proof's locksroot with the address that
// would submit it on-ledger to unlock against, the (canonical id,
// locksroot, recipient) key decode.rs's channel_unlocked resolves a
// ChannelUnlocked log's missing channel identifier through (spec §4.6).
type balanceProofRef struct {
	CanonicalID statemachine.CanonicalID
	LocksRoot   statemachine.Hash
	Recipient   statemachine.Address
}

// balanceProofRefsIn extracts every balance-proof reference carried by a
// stored state-change or event. Only messages that actually carry a
// statemachine.BalanceProof are indexed: LockedTransfer, RefundTransfer
// (embeds LockedTransfer), Unlock, and LockExpired. A received message's
// recipient is us, the node that would submit it; an outbound SendMessage's
// recipient is whoever it is addressed to, the partner who would submit it.
func balanceProofRefsIn(v interface{}, ourAddress statemachine.Address) []balanceProofRef {
	switch t := v.(type) {
	case *statechange.ReceiveLockedTransfer:
		return []balanceProofRef{refOf(t.Message.BalanceProof, ourAddress)}
	case *statechange.ReceiveRefundTransfer:
		return []balanceProofRef{refOf(t.Message.BalanceProof, ourAddress)}
	case *statechange.ReceiveUnlock:
		return []balanceProofRef{refOf(t.Message.BalanceProof, ourAddress)}
	case *statechange.ReceiveLockExpired:
		return []balanceProofRef{refOf(t.Message.BalanceProof, ourAddress)}
	case *event.SendMessage:
		if bp, ok := balanceProofOfWireMessage(t.Message); ok {
			return []balanceProofRef{refOf(bp, t.Recipient)}
		}
	}
	return nil
}

func balanceProofOfWireMessage(m wire.Message) (statemachine.BalanceProof, bool) {
	switch t := m.(type) {
	case *wire.LockedTransfer:
		return t.BalanceProof, true
	case *wire.RefundTransfer:
		return t.BalanceProof, true
	case *wire.Unlock:
		return t.BalanceProof, true
	case *wire.LockExpired:
		return t.BalanceProof, true
	default:
		return statemachine.BalanceProof{}, false
	}
}

func refOf(bp statemachine.BalanceProof, recipient statemachine.Address) balanceProofRef {
	return balanceProofRef{CanonicalID: bp.CanonicalID, LocksRoot: bp.LocksRoot, Recipient: recipient}
}

// balanceProofIndexKey is the bolt key for a balanceProofRef: tokenNetwork
// || chainID || locksroot || recipient, so a lookup by
// (tokenNetwork, chainID, locksroot, recipient) is a single bucket Get.
func balanceProofIndexKey(tokenNetwork statemachine.Address, chainID uint64, locksroot statemachine.Hash, recipient statemachine.Address) []byte {
	key := make([]byte, 0, len(tokenNetwork)+8+len(locksroot)+len(recipient))
	key = append(key, tokenNetwork.Bytes()...)
	var chainIDBytes [8]byte
	binary.BigEndian.PutUint64(chainIDBytes[:], chainID)
	key = append(key, chainIDBytes[:]...)
	key = append(key, locksroot.Bytes()...)
	key = append(key, recipient.Bytes()...)
	return key
}
