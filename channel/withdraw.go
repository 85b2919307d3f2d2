package channel

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

const defaultConfirmationBlocks = statemachine.BlockNumber(5)

// handleActionWithdraw starts the withdraw protocol: our end proposes a new
// total-withdraw, monotonic relative to any prior withdraw (spec §4.1).
func handleActionWithdraw(ch *statemachine.Channel, totalWithdraw statemachine.TokenAmount, block statemachine.BlockNumber) []event.Event {
	return startWithdraw(ch, totalWithdraw, block, false)
}

// startWithdraw is the shared implementation behind a plain withdraw and a
// cooperative-settle's first withdraw leg.
func startWithdraw(ch *statemachine.Channel, totalWithdraw statemachine.TokenAmount, block statemachine.BlockNumber, coopSettle bool) []event.Event {
	if totalWithdraw.LessThanOrEqual(ch.Our.TotalWithdrawn) {
		return []event.Event{errStateRejected(ch, "total_withdraw must strictly increase")}
	}
	if totalWithdraw.GreaterThan(ch.Our.ContractBalance) {
		return []event.Event{errStateRejected(ch, "total_withdraw exceeds contract balance")}
	}

	expiration := block + ch.SettleTimeout
	w := statemachine.WithdrawState{
		TotalWithdraw: totalWithdraw,
		Expiration:    expiration,
		Participant:   ch.Our.Address,
		IsCoopSettle:  coopSettle,
	}
	ch.Our.WithdrawsPending[totalWithdraw.Uint64()] = w

	msg := &wire.WithdrawRequest{
		CanonicalID:   ch.CanonicalID,
		Participant:   ch.Our.Address,
		TotalWithdraw: totalWithdraw,
		Expiration:    expiration,
		CoopSettle:    coopSettle,
	}
	return []event.Event{&event.SendMessage{
		Recipient:   ch.Partner.Address,
		CanonicalID: ch.CanonicalID,
		Message:     msg,
	}}
}

// handleReceiveWithdrawRequest validates an incoming withdraw proposal and,
// if acceptable, answers with a WithdrawConfirmation (spec §4.1). The
// confirmation is sent without a signature of its own.
func handleReceiveWithdrawRequest(ch *statemachine.Channel, msg *wire.WithdrawRequest, sender statemachine.Address) []event.Event {
	if msg.CanonicalID != ch.CanonicalID {
		return []event.Event{errStateRejected(ch, "withdraw-request canonical id mismatch")}
	}
	preimage := statemachine.WithdrawSignaturePreimage(msg.CanonicalID, msg.Participant, msg.TotalWithdraw, msg.Expiration)
	recovered, err := statemachine.RecoverSigner(preimage, msg.Signature)
	if err != nil || recovered != sender {
		return []event.Event{errStateRejected(ch, "withdraw-request signature invalid")}
	}

	senderEnd := endFor(ch, sender)
	if msg.TotalWithdraw.LessThanOrEqual(senderEnd.TotalWithdrawn) {
		return []event.Event{errStateRejected(ch, "withdraw-request total_withdraw is not monotonic")}
	}

	if msg.CoopSettle {
		if len(ch.Our.PendingLocks) != 0 || len(ch.Partner.PendingLocks) != 0 {
			return []event.Event{errStateRejected(ch, "cooperative settle requires no pending locks")}
		}
		for _, w := range ch.Our.WithdrawsPending {
			if !w.IsCoopSettle {
				return []event.Event{errStateRejected(ch, "cooperative settle requires no pending withdraws")}
			}
		}
	}

	senderEnd.WithdrawsPending[msg.TotalWithdraw.Uint64()] = statemachine.WithdrawState{
		TotalWithdraw: msg.TotalWithdraw,
		Expiration:    msg.Expiration,
		Participant:   sender,
		Signature:     msg.Signature,
		IsCoopSettle:  msg.CoopSettle,
	}

	confirmation := &wire.WithdrawConfirmation{
		CanonicalID:   msg.CanonicalID,
		Participant:   msg.Participant,
		TotalWithdraw: msg.TotalWithdraw,
		Expiration:    msg.Expiration,
		CoopSettle:    msg.CoopSettle,
	}
	events := []event.Event{&event.SendMessage{
		Recipient:   sender,
		CanonicalID: ch.CanonicalID,
		Message:     confirmation,
	}}

	if msg.CoopSettle {
		if ourPending, ok := ourPendingCoopWithdraw(ch); ok {
			events = append(events, &event.ContractSend{
				Kind:        "cooperativeSettle",
				CanonicalID: ch.CanonicalID,
				Deadline:    msg.Expiration,
				Args: map[string]interface{}{
					"ourSig":      ourPending.Signature,
					"partnerSig":  msg.Signature,
				},
			})
		}
	}

	return events
}

// ourPendingCoopWithdraw finds our own in-flight coop-settle withdraw, if
// any, used once the partner's countersigned request arrives so both
// signatures can be bundled into the on-chain transaction.
func ourPendingCoopWithdraw(ch *statemachine.Channel) (statemachine.WithdrawState, bool) {
	for _, w := range ch.Our.WithdrawsPending {
		if w.IsCoopSettle {
			return w, true
		}
	}
	return statemachine.WithdrawState{}, false
}

// handleReceiveWithdrawConfirmation records the partner's signature on our
// pending withdraw and requests the on-chain transaction. It touches no
// queue: the chain dispatcher drains the queued request afterwards (spec
// §4.5: "removed only on ReceiveWithdrawConfirmation").
func handleReceiveWithdrawConfirmation(ch *statemachine.Channel, msg *wire.WithdrawConfirmation) []event.Event {
	w, ok := ch.Our.WithdrawsPending[msg.TotalWithdraw.Uint64()]
	if !ok {
		return []event.Event{errStateRejected(ch, "withdraw-confirmation references unknown withdraw")}
	}
	w.PartnerSig = msg.Signature
	ch.Our.WithdrawsPending[msg.TotalWithdraw.Uint64()] = w

	if msg.CoopSettle {
		return []event.Event{&event.ContractSend{
			Kind:        "cooperativeSettle",
			CanonicalID: ch.CanonicalID,
			Deadline:    msg.Expiration,
			Args: map[string]interface{}{
				"ourSig":     w.Signature,
				"partnerSig": msg.Signature,
			},
		}}
	}

	return []event.Event{&event.ContractSend{
		Kind:        "setTotalWithdraw",
		CanonicalID: ch.CanonicalID,
		Deadline:    msg.Expiration,
		Args: map[string]interface{}{
			"totalWithdraw": msg.TotalWithdraw,
			"ourSig":        w.Signature,
			"partnerSig":    msg.Signature,
		},
	}}
}

// handleReceiveWithdrawExpired drops our record of a withdraw the partner
// has declared expired, moving it from pending to expired (spec §4.1).
func handleReceiveWithdrawExpired(ch *statemachine.Channel, msg *wire.WithdrawExpired) []event.Event {
	end := endFor(ch, msg.Participant)
	if w, ok := end.WithdrawsPending[msg.TotalWithdraw.Uint64()]; ok {
		delete(end.WithdrawsPending, msg.TotalWithdraw.Uint64())
		end.WithdrawsExpired = append(end.WithdrawsExpired, statemachine.ExpiredWithdraw{
			TotalWithdraw: w.TotalWithdraw,
			Expiration:    w.Expiration,
		})
	}
	return nil
}

// expireWithdraws advances the block tick: any pending withdraw past its
// expiration threshold moves to expired. Our own withdraws expire at the
// sender-view threshold (expiration + 2*confirmation_blocks) and each is
// announced to the partner with a WithdrawExpired; the partner's withdraws
// expire without a message at the receiver-view threshold (expiration +
// confirmation_blocks). Until our withdraw reaches its threshold, a late
// confirmation is still honored by handleReceiveWithdrawConfirmation,
// which does not check expiration; once pruned here, a confirmation for it
// is rejected as unknown.
func expireWithdraws(ch *statemachine.Channel, block statemachine.BlockNumber) []event.Event {
	var events []event.Event
	for key, w := range ch.Our.WithdrawsPending {
		senderThreshold := w.Expiration + 2*defaultConfirmationBlocks
		if block < senderThreshold {
			continue
		}
		delete(ch.Our.WithdrawsPending, key)
		ch.Our.WithdrawsExpired = append(ch.Our.WithdrawsExpired, statemachine.ExpiredWithdraw{
			TotalWithdraw: w.TotalWithdraw,
			Expiration:    w.Expiration,
		})
		events = append(events, &event.SendMessage{
			Recipient:   ch.Partner.Address,
			CanonicalID: ch.CanonicalID,
			Message: &wire.WithdrawExpired{
				CanonicalID:   ch.CanonicalID,
				Participant:   ch.Our.Address,
				TotalWithdraw: w.TotalWithdraw,
				Expiration:    w.Expiration,
			},
		})
	}

	for key, w := range ch.Partner.WithdrawsPending {
		receiverThreshold := w.Expiration + defaultConfirmationBlocks
		if block < receiverThreshold {
			continue
		}
		delete(ch.Partner.WithdrawsPending, key)
		ch.Partner.WithdrawsExpired = append(ch.Partner.WithdrawsExpired, statemachine.ExpiredWithdraw{
			TotalWithdraw: w.TotalWithdraw,
			Expiration:    w.Expiration,
		})
	}

	return events
}

func errStateRejected(ch *statemachine.Channel, reason string) event.Event {
	return &event.StateRejected{
		CanonicalID: ch.CanonicalID,
		Reason:      reason,
	}
}
