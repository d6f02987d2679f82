// Package broker implements the Broker Core: a single goroutine that owns
// the client registry and subscription trie, reachable only through a
// bounded command channel. No other goroutine ever touches a *session.Session
// or *topic.Router directly, which is what lets both go without locks.
package broker

import (
	"log/slog"
	"strings"
	"time"

	"github.com/riftmq/broker/session"
	"github.com/riftmq/broker/topic"
)

const defaultCommandBuffer = 100

// Broker is the Broker Core. Construct one with New, start its loop with
// Run in its own goroutine, and feed it through Commands().
type Broker struct {
	commands chan Command
	clients  map[string]*session.Session
	router   *topic.Router
	stats    *Stats
	logger   *slog.Logger
}

// New creates a Broker Core. bufferSize bounds the command channel; 0 or
// negative selects a sane default.
func New(logger *slog.Logger, bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultCommandBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		commands: make(chan Command, bufferSize),
		clients:  make(map[string]*session.Session),
		router:   topic.NewRouter(),
		stats:    NewStats(),
		logger:   logger,
	}
}

// Commands returns the send side of the command channel, handed to every
// Connection Actor so it can reach this Broker Core.
func (b *Broker) Commands() chan<- Command {
	return b.commands
}

// Stats returns the broker's atomic counters.
func (b *Broker) Stats() *Stats {
	return b.stats
}

// Run is the Broker Core's single-goroutine command loop. It returns once
// Stop has been called and the exit command has been processed.
func (b *Broker) Run() {
	for cmd := range b.commands {
		switch c := cmd.(type) {
		case RegisterClient:
			b.handleRegister(c)
		case SubscribeRequest:
			b.handleSubscribe(c)
		case UnsubscribeRequest:
			b.handleUnsubscribe(c)
		case PublishRequest:
			b.handlePublish(c)
		case AckOutbound:
			b.handleAckOutbound(c)
		case DisconnectClient:
			b.handleDisconnect(c)
		case exitCommand:
			return
		default:
			b.logger.Warn("unrecognized command", "type", c)
		}
	}
}

// Stop asks Run to return. It does not wait for Run to actually exit.
func (b *Broker) Stop() {
	b.commands <- exitCommand{}
}

func (b *Broker) handleRegister(c RegisterClient) {
	sess, existed := b.clients[c.ClientID]
	sessionPresent := false

	if existed {
		if sess.Outbound != nil {
			select {
			case sess.Outbound <- session.OutboundEvent{Kind: session.OutboundDisconnect}:
			default:
				b.logger.Warn("takeover: prior outbound channel full, dropping disconnect signal", "client_id", c.ClientID)
			}
		}

		if c.CleanSession {
			sess.ClearSubscriptions()
			b.router.UnsubscribeAll(c.ClientID)
			sess.PendingOutbound = make(map[uint16]*session.PendingOutbound)
		} else {
			sessionPresent = true
		}

		sess.CleanSession = c.CleanSession
		sess.ProtocolVersion = c.ProtocolVersion
		sess.Resume(c.Outbound)
	} else {
		sess = session.New(c.ClientID, c.CleanSession, c.ProtocolVersion)
		sess.Outbound = c.Outbound
		b.clients[c.ClientID] = sess
		b.stats.ConnectedClients.Add(1)
	}

	if sessionPresent {
		b.resendPending(sess)
	}

	sendReply(b, c.Reply, RegisterResult{SessionPresent: sessionPresent}, c.ClientID)
}

func (b *Broker) resendPending(sess *session.Session) {
	for _, pending := range sess.PendingOutboundSorted() {
		data, err := encodeResendPublish(pending)
		if err != nil {
			b.logger.Warn("failed to re-encode pending publish", "client_id", sess.ClientID, "packet_id", pending.PacketID, "error", err)
			continue
		}
		b.deliverTo(sess, data)
	}
}

func (b *Broker) handleSubscribe(c SubscribeRequest) {
	codes := make([]byte, len(c.Topics))
	sess, ok := b.clients[c.ClientID]

	for i, t := range c.Topics {
		if strings.HasPrefix(t.Filter, "$") && !strings.HasPrefix(t.Filter, "$SYS/") && !topic.IsSharedSubscription(t.Filter) {
			codes[i] = 0x80
			continue
		}

		err := b.router.Subscribe(&topic.Subscription{
			ClientID:    c.ClientID,
			TopicFilter: t.Filter,
			QoS:         t.QoS,
		})
		if err != nil {
			b.logger.Warn("subscribe rejected", "client_id", c.ClientID, "filter", t.Filter, "error", err)
			codes[i] = 0x80
			continue
		}

		if ok {
			sess.AddSubscription(t.Filter, t.QoS)
		}
		codes[i] = t.QoS
	}

	sendReply(b, c.Reply, codes, c.ClientID)
}

func (b *Broker) handleUnsubscribe(c UnsubscribeRequest) {
	sess, ok := b.clients[c.ClientID]

	for _, filter := range c.Topics {
		b.router.Unsubscribe(c.ClientID, filter)
		if ok {
			sess.RemoveSubscription(filter)
		}
	}

	sendReply(b, c.Reply, struct{}{}, c.ClientID)
}

func (b *Broker) handlePublish(c PublishRequest) {
	b.stats.PublishesIn.Add(1)

	for _, match := range b.router.Match(c.Topic) {
		sess, ok := b.clients[match.ClientID]
		if !ok || sess.Outbound == nil {
			continue
		}

		deliverQoS := c.QoS
		if match.QoS < deliverQoS {
			deliverQoS = match.QoS
		}

		var packetID uint16
		if deliverQoS > 0 {
			packetID = sess.NextPacketID()
		}

		data, err := encodePublishFor(c.Topic, c.Payload, deliverQoS, packetID, false, c.Retain)
		if err != nil {
			b.logger.Warn("failed to encode outbound publish", "client_id", match.ClientID, "topic", c.Topic, "error", err)
			continue
		}

		if deliverQoS > 0 {
			sess.QueueOutbound(&session.PendingOutbound{
				PacketID: packetID,
				Topic:    c.Topic,
				Payload:  c.Payload,
				QoS:      deliverQoS,
				Retain:   c.Retain,
				QueuedAt: time.Now(),
			})
		}

		b.deliverTo(sess, data)
	}
}

func (b *Broker) deliverTo(sess *session.Session, data []byte) {
	select {
	case sess.Outbound <- session.OutboundEvent{Kind: session.OutboundMessage, Message: data}:
		b.stats.PublishesOut.Add(1)
	default:
		b.logger.Warn("outbound channel full, dropping message for subscriber", "client_id", sess.ClientID)
	}
}

func (b *Broker) handleAckOutbound(c AckOutbound) {
	sess, ok := b.clients[c.ClientID]
	if !ok {
		return
	}
	sess.AckOutbound(c.PacketID)
}

func (b *Broker) handleDisconnect(c DisconnectClient) {
	sess, ok := b.clients[c.ClientID]
	if !ok {
		return
	}

	if c.Outbound != nil && sess.Outbound != c.Outbound {
		b.logger.Debug("ignoring stale disconnect after takeover", "client_id", c.ClientID)
		return
	}

	sess.SetDisconnected()
	b.router.UnsubscribeAll(c.ClientID)
	delete(b.clients, c.ClientID)
	b.stats.ConnectedClients.Add(-1)

	b.logger.Debug("client disconnected", "client_id", c.ClientID)
}

// sendReply delivers a command's reply without blocking the Broker Core: a
// caller that isn't waiting (its Connection Actor crashed, its context was
// canceled) must never stall the single goroutine every client depends on.
func sendReply[T any](b *Broker, reply chan<- T, value T, clientID string) {
	if reply == nil {
		return
	}
	select {
	case reply <- value:
	default:
		b.logger.Warn("dropped reply, caller not waiting", "client_id", clientID)
	}
}
