package storage

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statechange"
)

// envelope tags a JSON-encoded record with its concrete Go type, the way
// a polymorphic "one struct per kind" value has to cross a JSON boundary
// (spec §4.7 "JSON-serialized payload"). Grounded on the same tagged-
// variant shape statechange.StateChange/event.Event already use in
// memory; encoding/gob's Register-by-type convention is the standard-
// library analogue this mirrors, since no pack repo ships a polymorphic
// JSON codec.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var stateChangeTypes = []statechange.StateChange{
	&statechange.Block{},
	&statechange.ActionChannelClose{},
	&statechange.ActionChannelWithdraw{},
	&statechange.ActionChannelCoopSettle{},
	&statechange.ActionChannelSetRevealTimeout{},
	&statechange.ActionInitInitiator{},
	&statechange.ActionCancelPayment{},
	&statechange.ActionInitMediator{},
	&statechange.ActionInitTarget{},
	&statechange.LedgerChannelOpened{},
	&statechange.LedgerChannelNewDeposit{},
	&statechange.LedgerChannelWithdraw{},
	&statechange.LedgerChannelClosed{},
	&statechange.LedgerChannelSettled{},
	&statechange.LedgerChannelBatchUnlocked{},
	&statechange.LedgerNonClosingBalanceProofUpdated{},
	&statechange.ContractReceiveSecretReveal{},
	&statechange.LedgerTokenNetworkCreated{},
	&statechange.LedgerServiceRegistered{},
	&statechange.ReceiveWithdrawRequest{},
	&statechange.ReceiveWithdrawConfirmation{},
	&statechange.ReceiveWithdrawExpired{},
	&statechange.ReceiveLockedTransfer{},
	&statechange.ReceiveRefundTransfer{},
	&statechange.ReceiveLockExpired{},
	&statechange.ReceiveUnlock{},
	&statechange.ReceiveSecretRequest{},
	&statechange.ReceiveSecretReveal{},
	&statechange.ReceiveDelivered{},
	&statechange.ReceiveProcessed{},
}

var eventTypes = []event.Event{
	&event.SendMessage{},
	&event.ContractSend{},
	&event.PaymentSentSuccess{},
	&event.PaymentReceivedSuccess{},
	&event.UnlockSuccess{},
	&event.ErrorPaymentSentFailed{},
	&event.ErrorInvalidSecretRequest{},
	&event.ErrorUnlockFailed{},
	&event.ErrorUnlockClaimFailed{},
	&event.ErrorInvalidReceivedLockedTransfer{},
	&event.ErrorInvalidReceivedUnlock{},
	&event.ErrorInvalidReceivedLockExpired{},
	&event.ChannelDestroyed{},
	&event.StateRejected{},
}

var (
	stateChangeElemType = make(map[string]reflect.Type, len(stateChangeTypes))
	eventElemType        = make(map[string]reflect.Type, len(eventTypes))
)

func init() {
	for _, v := range stateChangeTypes {
		t := reflect.TypeOf(v).Elem()
		stateChangeElemType[t.Name()] = t
	}
	for _, v := range eventTypes {
		t := reflect.TypeOf(v).Elem()
		eventElemType[t.Name()] = t
	}
}

func encodeStateChange(change statechange.StateChange) ([]byte, error) {
	tag := reflect.TypeOf(change).Elem().Name()
	if _, ok := stateChangeElemType[tag]; !ok {
		return nil, fmt.Errorf("storage: unregistered state-change type %T", change)
	}
	data, err := json.Marshal(change)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: tag, Data: data})
}

func decodeStateChange(raw []byte) (statechange.StateChange, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	t, ok := stateChangeElemType[env.Type]
	if !ok {
		return nil, fmt.Errorf("storage: unknown state-change type %q", env.Type)
	}
	value := reflect.New(t)
	if err := json.Unmarshal(env.Data, value.Interface()); err != nil {
		return nil, err
	}
	return value.Interface().(statechange.StateChange), nil
}

func encodeEvent(e event.Event) ([]byte, error) {
	tag := reflect.TypeOf(e).Elem().Name()
	if _, ok := eventElemType[tag]; !ok {
		return nil, fmt.Errorf("storage: unregistered event type %T", e)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: tag, Data: data})
}

func decodeEvent(raw []byte) (event.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	t, ok := eventElemType[env.Type]
	if !ok {
		return nil, fmt.Errorf("storage: unknown event type %q", env.Type)
	}
	value := reflect.New(t)
	if err := json.Unmarshal(env.Data, value.Interface()); err != nil {
		return nil, err
	}
	return value.Interface().(event.Event), nil
}
