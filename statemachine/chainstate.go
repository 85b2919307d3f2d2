package statemachine

import "math/rand"

// QueueIdentifier keys one outbound ordered (or unordered) message queue
// (spec §3, §4.5).
type QueueIdentifier struct {
	Recipient   Address
	CanonicalID CanonicalID // zero value means the unordered queue
}

// TransferRole tags which of the three sub-machines owns a transfer task
// (spec §3, §4, design note on dynamic dispatch).
type TransferRole uint8

const (
	RoleInitiator TransferRole = iota
	RoleMediator
	RoleTarget
)

// TransferTask is the tagged-variant payload tracked per secret-hash in
// chain_state.payment_mapping (spec §3). Exactly one of Initiator, Mediator,
// Target is non-nil, matching Role.
type TransferTask struct {
	Role         TransferRole
	TokenNetwork Address

	Initiator interface{}
	Mediator  interface{}
	Target    interface{}
}

// PendingTransaction is a queued on-ledger transaction request emitted by a
// ContractSend* event and not yet observed as confirmed or invalidated
// (spec §4.5).
type PendingTransaction struct {
	Kind        string
	CanonicalID CanonicalID
	Nonce       *uint64
	SecretHash  *Hash
	Deadline    BlockNumber
}

// Registry is a ledger's token-network registry: the settle-timeout bounds
// it enforces for every token network registered against it (spec §3,
// §4.8).
type Registry struct {
	Address   Address
	SettleMin BlockNumber
	SettleMax BlockNumber
}

// ChainState is the root of the data model (spec §3). It is the sole owner
// of every child state; the only place a mutation is committed is the
// return value of chain.Transition.
//
// Channels are keyed directly by their canonical id in a flat map, per
// spec §9 design note (a): "key channels by their canonical id in a single
// flat map, store only identifiers in network/registry" — this avoids the
// clone-the-ancestor-path cost a nested registry->network->channel tree
// would force on every leaf update.
type ChainState struct {
	ChainID uint64

	LatestBlockNumber BlockNumber
	LatestBlockHash   Hash

	OurAddress Address

	Registries map[Address]*Registry
	Channels   map[CanonicalID]*Channel

	Queues map[QueueIdentifier][]OutboundMessage

	PaymentMapping map[Hash]*TransferTask

	// RegisteredServices tracks mediation/monitoring service addresses
	// confirmed on-ledger (spec §4.6 RegisteredService log), keyed by
	// address with the block through which the registration is valid.
	RegisteredServices map[Address]BlockNumber

	PendingTransactions []PendingTransaction

	// PseudoRandom is the deterministic, seed-serializable source used
	// only for message ids, never for secrets (spec §9).
	PseudoRandom *rand.Rand
}

// OutboundMessage is a signed envelope queued for delivery, tagged with the
// message id used to match delayed/out-of-order acknowledgements (spec
// §4.5).
type OutboundMessage struct {
	MessageID MessageID
	Payload   interface{}
}

// NewChainState builds an empty chain state seeded for deterministic replay
// (spec §9).
func NewChainState(chainID uint64, ourAddress Address, seed int64) *ChainState {
	return &ChainState{
		ChainID:            chainID,
		OurAddress:         ourAddress,
		Registries:         make(map[Address]*Registry),
		Channels:           make(map[CanonicalID]*Channel),
		Queues:             make(map[QueueIdentifier][]OutboundMessage),
		PaymentMapping:     make(map[Hash]*TransferTask),
		RegisteredServices: make(map[Address]BlockNumber),
		PseudoRandom:       rand.New(rand.NewSource(seed)),
	}
}

// NextMessageID draws the next message id from the deterministic source.
func (c *ChainState) NextMessageID() MessageID {
	return MessageID(c.PseudoRandom.Uint64())
}

// GetChannel looks up a channel by its canonical id.
func (c *ChainState) GetChannel(id CanonicalID) (*Channel, bool) {
	ch, ok := c.Channels[id]
	return ch, ok
}

// PutChannel installs or replaces ch, keyed by ch.CanonicalID.
func (c *ChainState) PutChannel(ch *Channel) {
	c.Channels[ch.CanonicalID] = ch
}

// RemoveChannel deletes a destroyed channel.
func (c *ChainState) RemoveChannel(id CanonicalID) {
	delete(c.Channels, id)
}

// ChannelsForToken returns every channel on the given token-network
// address, used by route selection in the initiator and mediator
// sub-machines.
func (c *ChainState) ChannelsForToken(tokenNetwork Address) []*Channel {
	var out []*Channel
	for _, ch := range c.Channels {
		if ch.TokenAddr == tokenNetwork {
			out = append(out, ch)
		}
	}
	return out
}

// ChannelWithPartner finds the channel on tokenNetwork whose partner is
// partner, used when selecting the next hop for a mediated transfer.
func (c *ChainState) ChannelWithPartner(tokenNetwork, partner Address) (*Channel, bool) {
	for _, ch := range c.Channels {
		if ch.TokenAddr == tokenNetwork && ch.Partner.Address == partner {
			return ch, true
		}
	}
	return nil, false
}

// EnqueueMessage appends an outbound message to the given queue.
func (c *ChainState) EnqueueMessage(q QueueIdentifier, msg OutboundMessage) {
	c.Queues[q] = append(c.Queues[q], msg)
}
