package broker

import "github.com/riftmq/broker/session"

// Command is one message accepted by the Broker Core's single command
// channel. Every command is handled by exactly one goroutine (Run's loop),
// which is what lets the client registry and subscription trie go without
// locks.
type Command interface {
	isCommand()
}

// RegisterClient attaches a Connection Actor's outbound channel to the
// named ClientId, creating the session if none existed or taking over an
// existing one. Reply receives whether a prior session was found.
type RegisterClient struct {
	ClientID        string
	Outbound        chan<- session.OutboundEvent
	ProtocolVersion byte
	CleanSession    bool
	Reply           chan<- RegisterResult
}

func (RegisterClient) isCommand() {}

// RegisterResult is the reply to RegisterClient.
type RegisterResult struct {
	SessionPresent bool
}

// TopicSubscription is one filter/QoS pair requested by a SUBSCRIBE packet.
type TopicSubscription struct {
	Filter string
	QoS    byte
}

// SubscribeRequest asks the Broker Core to add filters for ClientID. Reply
// receives one SUBACK return code per requested filter, in order.
type SubscribeRequest struct {
	ClientID string
	Topics   []TopicSubscription
	Reply    chan<- []byte
}

func (SubscribeRequest) isCommand() {}

// UnsubscribeRequest asks the Broker Core to drop filters for ClientID.
// Reply is signaled once the filters have been removed.
type UnsubscribeRequest struct {
	ClientID string
	Topics   []string
	Reply    chan<- struct{}
}

func (UnsubscribeRequest) isCommand() {}

// PublishRequest asks the Broker Core to route a message to every matching
// subscriber. There is no reply; PUBLISH delivery is fire-and-forget from
// the publisher's perspective once its own QoS ack has been sent.
type PublishRequest struct {
	Topic   string
	QoS     byte
	Payload []byte
	Retain  bool
}

func (PublishRequest) isCommand() {}

// AckOutbound tells the Broker Core that ClientID has acknowledged a
// broker-originated QoS 1/2 publish (PUBACK for QoS 1, PUBCOMP for QoS 2),
// so the pending record no longer needs to be resent on a future takeover.
type AckOutbound struct {
	ClientID string
	PacketID uint16
}

func (AckOutbound) isCommand() {}

// DisconnectClient removes ClientID's session from the registry and drops
// its subscriptions. Outbound, when set, identifies which registration the
// sender owned: a disconnect arriving after another connection has taken
// over the ClientId no longer matches the session's current producer and is
// ignored, so the late teardown of the old connection cannot evict its
// successor.
type DisconnectClient struct {
	ClientID string
	Outbound chan<- session.OutboundEvent
}

func (DisconnectClient) isCommand() {}

// exitCommand stops the Broker Core's Run loop. Used only by Stop.
type exitCommand struct{}

func (exitCommand) isCommand() {}
