package mediator

import (
	"encoding/json"

	"github.com/chainmesh/corelayer/statemachine"
)

// stateJSON mirrors State but replaces RefundedChannels with a slice: a
// struct-typed map key (statemachine.CanonicalID) cannot be encoded by
// encoding/json, which only accepts string, integer, or TextMarshaler keys.
type stateJSON struct {
	SecretHash       statemachine.Hash
	Routes           []statemachine.RouteState
	RefundedChannels []statemachine.CanonicalID
	Secret           *statemachine.Hash
	Pairs            []*MediationPairState
	WaitingTransfer  *WaitingTransferState
}

func (s *State) MarshalJSON() ([]byte, error) {
	refunded := make([]statemachine.CanonicalID, 0, len(s.RefundedChannels))
	for id := range s.RefundedChannels {
		refunded = append(refunded, id)
	}
	return json.Marshal(stateJSON{
		SecretHash:       s.SecretHash,
		Routes:           s.Routes,
		RefundedChannels: refunded,
		Secret:           s.Secret,
		Pairs:            s.Pairs,
		WaitingTransfer:  s.WaitingTransfer,
	})
}

func (s *State) UnmarshalJSON(data []byte) error {
	var aux stateJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.SecretHash = aux.SecretHash
	s.Routes = aux.Routes
	s.Secret = aux.Secret
	s.Pairs = aux.Pairs
	s.WaitingTransfer = aux.WaitingTransfer
	s.RefundedChannels = make(map[statemachine.CanonicalID]bool, len(aux.RefundedChannels))
	for _, id := range aux.RefundedChannels {
		s.RefundedChannels[id] = true
	}
	return nil
}
