package event

import (
	"encoding/json"

	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/wire"
)

// sendMessageJSON mirrors SendMessage's fields but replaces Message with
// its tagged wire.Envelope form.
type sendMessageJSON struct {
	Recipient   statemachine.Address
	CanonicalID statemachine.CanonicalID
	Message     wire.Envelope
}

// MarshalJSON tags Message with its concrete wire type before encoding:
// Message's static type is the wire.Message interface, which encoding/json
// cannot decode back into on its own (spec §4.5, §4.7).
func (s *SendMessage) MarshalJSON() ([]byte, error) {
	env, err := wire.Encode(s.Message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sendMessageJSON{
		Recipient:   s.Recipient,
		CanonicalID: s.CanonicalID,
		Message:     env,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *SendMessage) UnmarshalJSON(data []byte) error {
	var aux sendMessageJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	msg, err := wire.Decode(aux.Message)
	if err != nil {
		return err
	}
	s.Recipient = aux.Recipient
	s.CanonicalID = aux.CanonicalID
	s.Message = msg
	return nil
}
