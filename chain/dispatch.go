// Package chain implements the chain dispatcher (component C5, spec
// §4.5): routes each state-change to the channel machine or the right
// transfer task, maintains the per-(recipient, canonical-id) outbound
// message queues, and prunes the pending-ledger-transaction queue.
// Grounded on lnd's htlcswitch.go top-level message router, generalized
// from per-link forwarding to the spec's secret-hash-keyed transfer-task
// dispatch.
package chain

import (
	"github.com/chainmesh/corelayer/channel"
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/transfer/initiator"
	"github.com/chainmesh/corelayer/transfer/mediator"
	"github.com/chainmesh/corelayer/transfer/target"
	"github.com/chainmesh/corelayer/wire"
)

// DefaultConfirmationBlocks is the confirmation depth used when decoding
// ledger events and computing sender/receiver expiry thresholds (spec
// §4.1, §4.6), absent a per-deployment override from config.
const DefaultConfirmationBlocks = statemachine.BlockNumber(5)

// Transition is the root pure function spec §2 describes:
// `transition(chain_state, state_change) -> (chain_state', events)`. It
// never performs I/O; the caller persists the returned state and
// dispatches the returned events.
func Transition(chainState *statemachine.ChainState, change statechange.StateChange) (*statemachine.ChainState, []event.Event, *statemachine.Error) {
	var events []event.Event

	switch c := change.(type) {
	case *statechange.Block:
		chainState.LatestBlockNumber = c.BlockNumber
		chainState.LatestBlockHash = c.BlockHash
		evs, err := fanOutBlock(chainState, c)
		if err != nil {
			return chainState, events, err
		}
		events = append(events, evs...)

	case *statechange.ActionChannelClose, *statechange.ActionChannelWithdraw,
		*statechange.ActionChannelCoopSettle, *statechange.ActionChannelSetRevealTimeout,
		*statechange.LedgerChannelOpened, *statechange.LedgerChannelNewDeposit,
		*statechange.LedgerChannelWithdraw, *statechange.LedgerChannelClosed,
		*statechange.LedgerChannelSettled, *statechange.LedgerChannelBatchUnlocked,
		*statechange.LedgerNonClosingBalanceProofUpdated,
		*statechange.ReceiveWithdrawRequest, *statechange.ReceiveWithdrawConfirmation,
		*statechange.ReceiveWithdrawExpired:
		evs, err := dispatchToChannel(chainState, change)
		if err != nil {
			return chainState, events, err
		}
		events = append(events, evs...)
		if confirmation, ok := change.(*statechange.ReceiveWithdrawConfirmation); ok {
			stripWithdrawRequest(chainState, confirmation.Message.CanonicalID)
		}

	case *statechange.ActionInitInitiator:
		evs := dispatchInitInitiator(chainState, c)
		events = append(events, evs...)

	case *statechange.ActionCancelPayment:
		events = append(events, dispatchToAllInitiators(chainState, change)...)

	case *statechange.ReceiveLockedTransfer:
		evs, err := dispatchLockedTransfer(chainState, c)
		if err != nil {
			return chainState, events, err
		}
		events = append(events, evs...)

	case *statechange.ReceiveRefundTransfer:
		evs := dispatchBySecretHash(chainState, c.Message.Lock.SecretHash, change)
		events = append(events, evs...)

	case *statechange.ReceiveUnlock:
		evs, err := dispatchUnlock(chainState, c)
		if err != nil {
			return chainState, events, err
		}
		events = append(events, evs...)

	case *statechange.ReceiveLockExpired:
		evs, err := dispatchLockExpired(chainState, c)
		if err != nil {
			return chainState, events, err
		}
		events = append(events, evs...)

	case *statechange.ReceiveSecretRequest:
		events = append(events, dispatchBySecretHash(chainState, c.Message.SecretHash, change)...)

	case *statechange.ReceiveSecretReveal:
		events = append(events, dispatchBySecretHash(chainState, statemachine.HashSecret(c.Message.Secret), change)...)

	case *statechange.ContractReceiveSecretReveal:
		events = append(events, dispatchBySecretHash(chainState, c.SecretHash, change)...)

	case *statechange.ReceiveDelivered:
		stripDelivered(chainState, c.Message.MessageID)

	case *statechange.ReceiveProcessed:
		stripProcessed(chainState, c.Message.MessageID)

	case *statechange.LedgerTokenNetworkCreated:
		applyTokenNetworkCreated(chainState, c)

	case *statechange.LedgerServiceRegistered:
		chainState.RegisteredServices[c.ServiceAddress] = c.ValidTill

	default:
		// Unrecognized state-change kinds are accepted as no-ops so
		// forward-compatible callers never hit a fatal dispatch error.
	}

	for _, e := range events {
		trackPendingTransaction(chainState, e)
		enqueueOutbound(chainState, e)
	}
	prunePendingTransactions(chainState, change)

	return chainState, events, nil
}

// fanOutBlock sends a Block tick to every channel and every transfer
// task (spec §4.5 "Block → fan out to every channel and every transfer
// task").
func fanOutBlock(chainState *statemachine.ChainState, block *statechange.Block) ([]event.Event, *statemachine.Error) {
	var events []event.Event

	for id, ch := range chainState.Channels {
		next, evs, err := channel.StateTransition(ch, block, block.BlockNumber, block.BlockHash, chainState.PseudoRandom)
		if err != nil {
			return events, err
		}
		if next == nil {
			chainState.RemoveChannel(id)
		}
		events = append(events, evs...)
	}

	for secretHash, task := range chainState.PaymentMapping {
		evs, destroyed := stepTransferTask(chainState, task, block, block.BlockNumber)
		events = append(events, evs...)
		if destroyed {
			delete(chainState.PaymentMapping, secretHash)
		}
	}

	return events, nil
}

// dispatchToChannel routes a channel-scoped state-change to the owning
// channel (spec §4.5 "Ledger channel event → channel-machine only for
// the affected channel" / "Peer message that carries a canonical id ...
// → that channel").
func dispatchToChannel(chainState *statemachine.ChainState, change statechange.StateChange) ([]event.Event, *statemachine.Error) {
	id, ok := canonicalIDOf(change)
	if !ok {
		return nil, nil
	}

	if opened, ok := change.(*statechange.LedgerChannelOpened); ok {
		return applyChannelOpened(chainState, opened), nil
	}

	ch, ok := chainState.GetChannel(id)
	if !ok {
		return nil, nil
	}

	next, events, err := channel.StateTransition(ch, change, chainState.LatestBlockNumber, chainState.LatestBlockHash, chainState.PseudoRandom)
	if err != nil {
		return events, err
	}
	if next == nil {
		chainState.RemoveChannel(id)
	}
	return events, nil
}

// applyChannelOpened installs a brand new channel from a confirmed
// ChannelOpened log (spec §4.6); this precedes the channel's existence,
// so it cannot go through channel.StateTransition.
func applyChannelOpened(chainState *statemachine.ChainState, o *statechange.LedgerChannelOpened) []event.Event {
	if _, exists := chainState.GetChannel(o.CanonicalID); exists {
		return nil
	}
	ourAddr := chainState.OurAddress
	partner := o.Participant2
	if o.Participant1 != ourAddr {
		partner = o.Participant1
	}
	ch := &statemachine.Channel{
		CanonicalID:   o.CanonicalID,
		TokenAddr:     o.CanonicalID.TokenNetworkAddr,
		RevealTimeout: 0,
		SettleTimeout: o.SettleTimeout,
		Our:           statemachine.NewEnd(ourAddr),
		Partner:       statemachine.NewEnd(partner),
	}
	ch.OpenTx.Started = true
	ch.OpenTx.Finished = true
	ch.OpenTx.Result = "ok"
	chainState.PutChannel(ch)
	return nil
}

// applyTokenNetworkCreated records a newly registered token network (spec
// §4.6). Deposit-bound enforcement (registry.settle_min/settle_max, spec
// §4.8) is supplied by the surrounding control layer's configuration, not
// by this log itself, so an existing Registry entry's bounds are left
// untouched; only a first sighting installs a placeholder.
func applyTokenNetworkCreated(chainState *statemachine.ChainState, c *statechange.LedgerTokenNetworkCreated) {
	if _, exists := chainState.Registries[c.TokenNetwork]; exists {
		return
	}
	chainState.Registries[c.TokenNetwork] = &statemachine.Registry{Address: c.RegistryAddress}
}

func canonicalIDOf(change statechange.StateChange) (statemachine.CanonicalID, bool) {
	switch c := change.(type) {
	case *statechange.ActionChannelClose:
		return c.CanonicalID, true
	case *statechange.ActionChannelWithdraw:
		return c.CanonicalID, true
	case *statechange.ActionChannelCoopSettle:
		return c.CanonicalID, true
	case *statechange.ActionChannelSetRevealTimeout:
		return c.CanonicalID, true
	case *statechange.LedgerChannelOpened:
		return c.CanonicalID, true
	case *statechange.LedgerChannelNewDeposit:
		return c.CanonicalID, true
	case *statechange.LedgerChannelWithdraw:
		return c.CanonicalID, true
	case *statechange.LedgerChannelClosed:
		return c.CanonicalID, true
	case *statechange.LedgerChannelSettled:
		return c.CanonicalID, true
	case *statechange.LedgerChannelBatchUnlocked:
		return c.CanonicalID, true
	case *statechange.LedgerNonClosingBalanceProofUpdated:
		return c.CanonicalID, true
	case *statechange.ReceiveWithdrawRequest:
		return c.Message.CanonicalID, true
	case *statechange.ReceiveWithdrawConfirmation:
		return c.Message.CanonicalID, true
	case *statechange.ReceiveWithdrawExpired:
		return c.Message.CanonicalID, true
	default:
		return statemachine.CanonicalID{}, false
	}
}

// dispatchInitInitiator creates a fresh initiator task for a user-started
// payment and attempts its first route (spec §4.2, §4.5).
func dispatchInitInitiator(chainState *statemachine.ChainState, c *statechange.ActionInitInitiator) []event.Event {
	desc := initiator.TransferDescription{
		TokenNetwork: c.TokenNetwork,
		Amount:       c.Amount,
		Target:       c.Target,
		Secret:       c.Secret,
		SecretHash:   c.SecretHash,
		LockTimeout:  c.LockTimeout,
		PaymentID:    c.PaymentID,
	}
	state, events := initiator.TryNewRoute(chainState, desc, c.Routes, chainState.LatestBlockNumber)
	if state == nil {
		return events
	}
	chainState.PaymentMapping[c.SecretHash] = &statemachine.TransferTask{
		Role:         statemachine.RoleInitiator,
		TokenNetwork: c.TokenNetwork,
		Initiator:    state,
	}
	return events
}

// dispatchBySecretHash routes a state-change to the transfer task keyed
// by secretHash (spec §4.5).
func dispatchBySecretHash(chainState *statemachine.ChainState, secretHash statemachine.Hash, change statechange.StateChange) []event.Event {
	task, ok := chainState.PaymentMapping[secretHash]
	if !ok {
		return nil
	}
	events, destroyed := stepTransferTask(chainState, task, change, chainState.LatestBlockNumber)
	if destroyed {
		delete(chainState.PaymentMapping, secretHash)
	}
	return events
}

// dispatchLockedTransfer implements spec §4.5's "Peer message that
// carries a secret-hash → the transfer-task keyed by that hash,
// creating one via ActionInitMediator/ActionInitTarget if none exists
// yet": the incoming lock is first validated and appended to the
// owning channel (the balance-proof update), then the transfer task is
// stepped or created.
func dispatchLockedTransfer(chainState *statemachine.ChainState, c *statechange.ReceiveLockedTransfer) ([]event.Event, *statemachine.Error) {
	id := canonicalIDForSender(chainState, c.Sender)
	ch, ok := chainState.GetChannel(id)
	if !ok {
		return nil, nil
	}
	_, channelEvents, err := channel.StateTransition(ch, c, chainState.LatestBlockNumber, chainState.LatestBlockHash, chainState.PseudoRandom)
	if err != nil {
		return channelEvents, err
	}
	for _, e := range channelEvents {
		if _, rejected := e.(*event.ErrorInvalidReceivedLockedTransfer); rejected {
			return channelEvents, nil
		}
	}

	secretHash := c.Message.Lock.SecretHash
	if task, ok := chainState.PaymentMapping[secretHash]; ok {
		taskEvents, destroyed := stepTransferTask(chainState, task, c, chainState.LatestBlockNumber)
		if destroyed {
			delete(chainState.PaymentMapping, secretHash)
		}
		return append(channelEvents, taskEvents...), nil
	}

	if c.Message.Target == chainState.OurAddress {
		state, taskEvents := target.Init(c.Message, c.Sender, ch.CanonicalID, chainState.LatestBlockNumber, ch.RevealTimeout)
		chainState.PaymentMapping[secretHash] = &statemachine.TransferTask{
			Role:   statemachine.RoleTarget,
			Target: state,
		}
		return append(channelEvents, taskEvents...), nil
	}

	state, taskEvents := mediator.HandleReceiveLockedTransfer(chainState, nil, c.Message, c.Sender, chainState.LatestBlockNumber, ch.RevealTimeout)
	chainState.PaymentMapping[secretHash] = &statemachine.TransferTask{
		Role:     statemachine.RoleMediator,
		Mediator: state,
	}
	return append(channelEvents, taskEvents...), nil
}

func canonicalIDForSender(chainState *statemachine.ChainState, sender statemachine.Address) statemachine.CanonicalID {
	for id, ch := range chainState.Channels {
		if ch.Partner.Address == sender {
			return id
		}
	}
	return statemachine.CanonicalID{}
}

// dispatchUnlock applies a received Unlock to its owning channel (the
// balance-proof update), then informs the transfer task keyed by the
// lock's secret-hash once the lock is resolved.
func dispatchUnlock(chainState *statemachine.ChainState, c *statechange.ReceiveUnlock) ([]event.Event, *statemachine.Error) {
	id := canonicalIDForSender(chainState, c.Sender)
	ch, ok := chainState.GetChannel(id)
	if !ok {
		return nil, nil
	}
	_, events, err := channel.StateTransition(ch, c, chainState.LatestBlockNumber, chainState.LatestBlockHash, chainState.PseudoRandom)
	if err != nil {
		return events, err
	}
	events = append(events, dispatchBySecretHash(chainState, secretHashOfUnlock(c), c)...)
	return events, nil
}

func secretHashOfUnlock(c *statechange.ReceiveUnlock) statemachine.Hash {
	return statemachine.HashSecret(c.Message.Secret)
}

// dispatchLockExpired applies a received LockExpired to its owning
// channel, then informs the relevant transfer task.
func dispatchLockExpired(chainState *statemachine.ChainState, c *statechange.ReceiveLockExpired) ([]event.Event, *statemachine.Error) {
	id := canonicalIDForSender(chainState, c.Sender)
	ch, ok := chainState.GetChannel(id)
	if !ok {
		return nil, nil
	}
	_, events, err := channel.StateTransition(ch, c, chainState.LatestBlockNumber, chainState.LatestBlockHash, chainState.PseudoRandom)
	if err != nil {
		return events, err
	}
	events = append(events, dispatchBySecretHash(chainState, c.Message.SecretHash, c)...)
	return events, nil
}

// stepTransferTask dispatches change to whichever of the three role
// sub-machines task carries (spec §3's tagged-variant dispatch), and
// reports whether the task should now be destroyed.
func stepTransferTask(chainState *statemachine.ChainState, task *statemachine.TransferTask, change statechange.StateChange, block statemachine.BlockNumber) ([]event.Event, bool) {
	switch task.Role {
	case statemachine.RoleInitiator:
		state, _ := task.Initiator.(*initiator.State)
		next, events := initiator.StateTransition(chainState, state, change, block, DefaultConfirmationBlocks)
		task.Initiator = next
		return events, next == nil

	case statemachine.RoleMediator:
		state, _ := task.Mediator.(*mediator.State)
		next, events := mediator.StateTransition(chainState, state, change, block, revealTimeoutFor(chainState, state), DefaultConfirmationBlocks)
		task.Mediator = next
		return events, next != nil && next.Done()

	case statemachine.RoleTarget:
		state, _ := task.Target.(*target.State)
		next, events := target.StateTransition(state, change, DefaultConfirmationBlocks)
		task.Target = next
		return events, next == nil

	default:
		return nil, false
	}
}

func revealTimeoutFor(chainState *statemachine.ChainState, state *mediator.State) statemachine.BlockNumber {
	if state == nil || len(state.Pairs) == 0 {
		return 0
	}
	last := state.Pairs[len(state.Pairs)-1]
	if ch, ok := chainState.GetChannel(canonicalIDForSender(chainState, last.PayerAddress)); ok {
		return ch.RevealTimeout
	}
	return 0
}

// dispatchToAllInitiators implements ActionCancelPayment (spec §5):
// marks every non-Canceled initiator transfer for the payment Canceled.
func dispatchToAllInitiators(chainState *statemachine.ChainState, change statechange.StateChange) []event.Event {
	var events []event.Event
	for secretHash, task := range chainState.PaymentMapping {
		if task.Role != statemachine.RoleInitiator {
			continue
		}
		evs, destroyed := stepTransferTask(chainState, task, change, chainState.LatestBlockNumber)
		events = append(events, evs...)
		if destroyed {
			delete(chainState.PaymentMapping, secretHash)
		}
	}
	return events
}

// queueIdentifierFor resolves the outbound queue a SendMessage event
// belongs to: the unordered queue for messages with no canonical id, a
// channel-ordered queue otherwise (spec §4.5).
func queueIdentifierFor(send *event.SendMessage) statemachine.QueueIdentifier {
	return statemachine.QueueIdentifier{Recipient: send.Recipient, CanonicalID: send.CanonicalID}
}

func enqueueOutbound(chainState *statemachine.ChainState, e event.Event) {
	send, ok := e.(*event.SendMessage)
	if !ok {
		return
	}
	q := queueIdentifierFor(send)
	chainState.EnqueueMessage(q, statemachine.OutboundMessage{
		MessageID: send.Message.MsgID(),
		Payload:   send.Message,
	})
}

// stripDelivered removes the acknowledged message from the unordered
// queue (spec §4.5).
func stripDelivered(chainState *statemachine.ChainState, id statemachine.MessageID) {
	for q, msgs := range chainState.Queues {
		if q.CanonicalID != (statemachine.CanonicalID{}) {
			continue
		}
		chainState.Queues[q] = removeByMessageID(msgs, id)
	}
}

// stripProcessed removes the acknowledged message from every outbound
// queue, except that a pending WithdrawRequest is only removed on
// ReceiveWithdrawConfirmation (spec §4.5).
func stripProcessed(chainState *statemachine.ChainState, id statemachine.MessageID) {
	for q, msgs := range chainState.Queues {
		var kept []statemachine.OutboundMessage
		for _, m := range msgs {
			if m.MessageID != id {
				kept = append(kept, m)
				continue
			}
			if _, isWithdrawRequest := m.Payload.(*wire.WithdrawRequest); isWithdrawRequest {
				kept = append(kept, m)
				continue
			}
		}
		chainState.Queues[q] = kept
	}
}

// stripWithdrawRequest drops a queued SendWithdrawRequest for the given
// channel once its ReceiveWithdrawConfirmation has arrived (spec §4.5:
// a pending withdraw request is the one queue entry Processed cannot
// drain on its own).
func stripWithdrawRequest(chainState *statemachine.ChainState, id statemachine.CanonicalID) {
	for q, msgs := range chainState.Queues {
		if q.CanonicalID != id {
			continue
		}
		var kept []statemachine.OutboundMessage
		for _, m := range msgs {
			if _, isWithdrawRequest := m.Payload.(*wire.WithdrawRequest); isWithdrawRequest {
				continue
			}
			kept = append(kept, m)
		}
		chainState.Queues[q] = kept
	}
}

func removeByMessageID(msgs []statemachine.OutboundMessage, id statemachine.MessageID) []statemachine.OutboundMessage {
	var kept []statemachine.OutboundMessage
	for _, m := range msgs {
		if m.MessageID != id {
			kept = append(kept, m)
		}
	}
	return kept
}
