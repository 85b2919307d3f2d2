package channel

import (
	"github.com/chainmesh/corelayer/event"
	"github.com/chainmesh/corelayer/statemachine"
)

// handleBlock advances channel time (spec §4.1): while Opened, expire
// withdraws; while Closed, emit settle once past the settle window.
func handleBlock(ch *statemachine.Channel, block statemachine.BlockNumber) []event.Event {
	var events []event.Event

	switch ch.Status() {
	case statemachine.StatusOpened:
		events = append(events, expireWithdraws(ch, block)...)

	case statemachine.StatusClosed:
		if block > ch.CloseBlock+ch.SettleTimeout && !ch.SettleTx.Started {
			ch.SettleTx.Started = true
			events = append(events, &event.ContractSend{
				Kind:        "settleChannel",
				CanonicalID: ch.CanonicalID,
			})
		}
	}

	return events
}
