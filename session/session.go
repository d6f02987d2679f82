// Package session holds the per-ClientId state the broker core keeps
// between a CONNECT and the matching disconnect or takeover.
package session

import "time"

// State is the lifecycle stage of a Session.
type State byte

const (
	StateActive       State = iota // a Connection Actor currently owns this session
	StateDisconnected              // the client went away; state is retained for a non-clean session
)

// WillMessage is the last-will payload recorded at CONNECT time, published
// by the broker core when the session's connection is lost ungracefully.
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Subscription is one entry of a session's subscribe list, recorded so a
// takeover or introspection can report what a client is subscribed to
// without walking the trie.
type Subscription struct {
	TopicFilter string
	QoS         byte
}

// PendingOutbound is a broker-originated QoS 1/2 PUBLISH awaiting
// acknowledgment from this client. The broker core keeps one per
// outstanding packet id and resends it with DUP=1 the next time the
// client reconnects to a non-clean session.
type PendingOutbound struct {
	PacketID uint16
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	DUP      bool
	QueuedAt time.Time
}

// OutboundEventKind distinguishes the two things the broker core can push
// down a session's outbound event channel.
type OutboundEventKind byte

const (
	// OutboundMessage carries a pre-encoded PUBLISH packet to write to the
	// socket.
	OutboundMessage OutboundEventKind = iota
	// OutboundDisconnect tells the Connection Actor's writer path to stop
	// and close the socket, typically because another connection took
	// over this ClientId.
	OutboundDisconnect
)

// OutboundEvent is one item on a session's outbound event channel. The
// broker core is the sole producer; the owning Connection Actor's writer
// goroutine is the sole consumer.
type OutboundEvent struct {
	Kind    OutboundEventKind
	Message []byte
}

// Session is the in-memory state the broker core keeps for one ClientId.
// It is only ever touched from the Broker Core's single goroutine (see the
// broker package), so it carries no lock of its own.
type Session struct {
	ClientID        string
	CleanSession    bool
	State           State
	ProtocolVersion byte
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	DisconnectedAt  time.Time

	WillMessage *WillMessage

	// Outbound is the producer side of this session's outbound event
	// channel; the Connection Actor currently owning the session holds
	// the consumer side. Nil while the session is disconnected.
	Outbound chan<- OutboundEvent

	Subscriptions map[string]*Subscription

	PendingOutbound map[uint16]*PendingOutbound

	nextPacketID uint16
}

// New creates a new Session for clientID.
func New(clientID string, cleanSession bool, protocolVersion byte) *Session {
	now := time.Now()
	return &Session{
		ClientID:        clientID,
		CleanSession:    cleanSession,
		State:           StateActive,
		ProtocolVersion: protocolVersion,
		CreatedAt:       now,
		LastAccessedAt:  now,
		Subscriptions:   make(map[string]*Subscription),
		PendingOutbound: make(map[uint16]*PendingOutbound),
		nextPacketID:    1,
	}
}

// Touch updates the last-accessed timestamp.
func (s *Session) Touch() {
	s.LastAccessedAt = time.Now()
}

// SetDisconnected marks the session as owned by no Connection Actor. The
// outbound producer is cleared so nothing writes to a channel whose
// consumer has gone away.
func (s *Session) SetDisconnected() {
	s.State = StateDisconnected
	s.DisconnectedAt = time.Now()
	s.Outbound = nil
}

// Resume reattaches a reconnecting, non-clean session to a new Connection
// Actor's outbound channel.
func (s *Session) Resume(outbound chan<- OutboundEvent) {
	s.State = StateActive
	s.Outbound = outbound
	s.Touch()
}

// AddSubscription records a subscription, replacing any prior entry for the
// same topic filter (new QoS wins).
func (s *Session) AddSubscription(filter string, qos byte) {
	s.Subscriptions[filter] = &Subscription{TopicFilter: filter, QoS: qos}
}

// RemoveSubscription forgets a topic filter.
func (s *Session) RemoveSubscription(filter string) {
	delete(s.Subscriptions, filter)
}

// ClearSubscriptions drops every recorded subscription, used on a
// clean-session CONNECT.
func (s *Session) ClearSubscriptions() {
	s.Subscriptions = make(map[string]*Subscription)
}

// NextPacketID allocates the next outbound packet identifier, skipping any
// id still awaiting acknowledgment and never issuing zero.
func (s *Session) NextPacketID() uint16 {
	for {
		id := s.nextPacketID
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}
		if _, inUse := s.PendingOutbound[id]; !inUse {
			return id
		}
	}
}

// QueueOutbound records a QoS 1/2 broker-originated publish as pending
// acknowledgment.
func (s *Session) QueueOutbound(p *PendingOutbound) {
	s.PendingOutbound[p.PacketID] = p
}

// AckOutbound forgets a pending outbound publish once the client
// acknowledges it (PUBACK for QoS 1, PUBCOMP for QoS 2).
func (s *Session) AckOutbound(packetID uint16) {
	delete(s.PendingOutbound, packetID)
}

// PendingOutboundSorted returns the session's pending outbound publishes in
// packet-id order, used to resend them with DUP=1 on reconnect.
func (s *Session) PendingOutboundSorted() []*PendingOutbound {
	out := make([]*PendingOutbound, 0, len(s.PendingOutbound))
	for _, p := range s.PendingOutbound {
		out = append(out, p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].PacketID > out[j].PacketID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
