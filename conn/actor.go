// Package conn implements the Connection Actor: the per-connection state
// machine that turns bytes on a socket into commands on the Broker Core's
// channel and broker-issued events back into bytes on the wire.
package conn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/riftmq/broker/broker"
	"github.com/riftmq/broker/encoding"
	"github.com/riftmq/broker/hook"
	"github.com/riftmq/broker/network"
	"github.com/riftmq/broker/qos"
	"github.com/riftmq/broker/session"
)

// State is the Connection Actor's lifecycle stage.
type State byte

const (
	AwaitingConnect State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingConnect:
		return "awaiting_connect"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultOutboundBuffer = 100

// Config collects an Actor's collaborators. Every field is optional: a nil
// Authenticator accepts every CONNECT (hook.AllowAllAuthenticator), a nil
// Stats gets a private counter set, and a nil Logger uses slog.Default(). DisconnectManager,
// when set, is told the reason behind every closed connection (audit logging,
// metrics) in addition to the Broker Core's own DisconnectClient bookkeeping.
// Watchdogs, when set, centralizes every connection's keepalive timer in one
// place the Listener can introspect instead of each Actor owning a private one.
type Config struct {
	Authenticator      hook.Authenticator
	RateLimiter        *hook.RateLimiter
	DisconnectManager  *network.DisconnectManager
	Watchdogs          *network.WatchdogRegistry
	Stats              *broker.Stats
	Logger             *slog.Logger
	OutboundBufferSize int
}

// Actor owns one client connection end to end: reading and decoding
// packets, dispatching them against the Broker Core, and writing whatever
// the broker or the protocol itself produces in reply.
type Actor struct {
	conn      *network.Connection
	commands  chan<- broker.Command
	auth      hook.Authenticator
	limiter   *hook.RateLimiter
	dm        *network.DisconnectManager
	watchdogs *network.WatchdogRegistry
	stats     *broker.Stats
	logger    *slog.Logger

	dedup    *qos.Tracker
	watchdog *network.Watchdog
	outbound chan session.OutboundEvent
	quit     chan struct{}

	clientID        string
	protocolVersion byte
	state           State
	will            *session.WillMessage
	gracefulClose   bool

	// reason holds a network.DisconnectReason. It is written from the read
	// loop, the write loop (takeover), and the watchdog's timer goroutine,
	// so it is atomic rather than a plain field.
	reason atomic.Int32

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (a *Actor) setReason(r network.DisconnectReason) {
	a.reason.Store(int32(r))
}

func (a *Actor) disconnectReason() network.DisconnectReason {
	return network.DisconnectReason(a.reason.Load())
}

// NewActor creates a Connection Actor for a freshly accepted connection.
// Nothing is read from netConn until Run is called.
func NewActor(netConn *network.Connection, commands chan<- broker.Command, cfg Config) *Actor {
	bufSize := cfg.OutboundBufferSize
	if bufSize <= 0 {
		bufSize = defaultOutboundBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authn := cfg.Authenticator
	if authn == nil {
		authn = hook.AllowAllAuthenticator{}
	}
	stats := cfg.Stats
	if stats == nil {
		stats = broker.NewStats()
	}

	// The zero reason is DisconnectClientRequested, which is also the right
	// default for a connection that just drops.
	return &Actor{
		conn:      netConn,
		commands:  commands,
		auth:      authn,
		limiter:   cfg.RateLimiter,
		dm:        cfg.DisconnectManager,
		watchdogs: cfg.Watchdogs,
		stats:     stats,
		logger:    logger,
		dedup:     qos.NewTracker(qos.DefaultDedupWindow),
		outbound:  make(chan session.OutboundEvent, bufSize),
		quit:      make(chan struct{}),
		state:     AwaitingConnect,
	}
}

// Run drives the Connection Actor until the connection closes, by error,
// protocol violation, keepalive timeout, or the given context being
// canceled (used for a process-wide graceful shutdown). It always returns
// nil; failures are logged, not propagated, since nothing upstream of a
// Listener's handler can act on a per-client error.
func (a *Actor) Run(ctx context.Context) error {
	a.readLoop(ctx)

	a.shutdown()
	a.wg.Wait()
	return nil
}

func (a *Actor) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.setReason(network.DisconnectServerShuttingDown)
			return
		default:
		}

		fh, err := encoding.ParseFixedHeader(a.conn)
		if err != nil {
			if a.state != Closed {
				a.logger.Debug("connection read ended", "client_id", a.clientID, "error", err)
			}
			return
		}

		body := make([]byte, fh.RemainingLength)
		if fh.RemainingLength > 0 {
			if _, err := io.ReadFull(a.conn, body); err != nil {
				a.logger.Debug("connection read ended mid-packet", "client_id", a.clientID, "error", err)
				return
			}
		}

		a.stats.BytesIn.Add(int64(2 + len(body)))
		a.stats.MessagesIn.Add(1)

		pkt, err := encoding.DecodeBody(fh, body)
		if err != nil {
			a.handleDecodeError(fh, err)
			return
		}

		if a.watchdog != nil {
			a.watchdog.Reset()
		}

		a.dispatch(ctx, pkt)
		if a.state == Closed {
			return
		}
	}
}

// handleDecodeError closes the connection after a malformed packet. A
// CONNECT that fails with a carried CONNACK return code (bad protocol name
// or version) still gets that CONNACK; every other decode failure, and any
// failure outside AwaitingConnect, closes without acking, matching
// encoding.NewMalformedPacketError's documented contract.
func (a *Actor) handleDecodeError(fh *encoding.FixedHeader, err error) {
	a.logger.Warn("malformed packet", "client_id", a.clientID, "packet_type", fh.Type.String(), "error", err)

	if fh.Type == encoding.CONNECT && a.state == AwaitingConnect {
		var pktErr *encoding.PacketError
		if errors.As(err, &pktErr) && pktErr.ReturnCode != 0 {
			a.sendConnack(false, pktErr.ReturnCode)
		}
	}
	a.setReason(network.DisconnectProtocolError)
	a.state = Closed
}

func (a *Actor) dispatch(ctx context.Context, pkt encoding.Packet) {
	if a.state == AwaitingConnect {
		a.handleAwaitingConnect(ctx, pkt)
		return
	}
	a.handleConnected(ctx, pkt)
}

func (a *Actor) handleAwaitingConnect(ctx context.Context, pkt encoding.Packet) {
	cp, ok := pkt.(*encoding.ConnectPacket)
	if !ok {
		a.logger.Warn("first packet was not CONNECT", "client_id", a.clientID, "packet_type", pkt.Type().String())
		a.setReason(network.DisconnectProtocolError)
		a.state = Closed
		return
	}

	clientID := cp.ClientID
	if clientID == "" {
		if !cp.CleanSession {
			a.sendConnack(false, encoding.ConnectRefusedIdentifierRejected)
			a.setReason(network.DisconnectNotAuthorized)
			a.state = Closed
			return
		}
		generated, err := generateClientID()
		if err != nil {
			a.logger.Error("failed to generate client id", "error", err)
			a.sendConnack(false, encoding.ConnectRefusedServerUnavailable)
			a.state = Closed
			return
		}
		clientID = generated
	}

	result := a.auth.Authenticate(clientID, cp.Username, cp.Password)
	switch result {
	case hook.BadUsernameOrPassword:
		a.sendConnack(false, encoding.ConnectRefusedBadUsernamePassword)
		a.setReason(network.DisconnectNotAuthorized)
		a.state = Closed
		return
	case hook.NotAuthorized:
		a.sendConnack(false, encoding.ConnectRefusedNotAuthorized)
		a.setReason(network.DisconnectNotAuthorized)
		a.state = Closed
		return
	}

	a.clientID = clientID
	a.conn.SetClientID(clientID)
	a.protocolVersion = byte(cp.ProtocolVersion)

	if cp.WillFlag {
		a.will = &session.WillMessage{
			Topic:   cp.WillTopic,
			Payload: cp.WillPayload,
			QoS:     byte(cp.WillQoS),
			Retain:  cp.WillRetain,
		}
	}

	reply := make(chan broker.RegisterResult, 1)
	registerCmd := broker.RegisterClient{
		ClientID:        clientID,
		Outbound:        a.outbound,
		ProtocolVersion: a.protocolVersion,
		CleanSession:    cp.CleanSession,
		Reply:           reply,
	}

	select {
	case a.commands <- registerCmd:
	case <-ctx.Done():
		a.state = Closed
		return
	}

	var res broker.RegisterResult
	select {
	case res = <-reply:
	case <-ctx.Done():
		a.state = Closed
		return
	}

	if a.watchdogs != nil {
		a.watchdog = a.watchdogs.Add(a.conn, cp.KeepAlive, a.onKeepAliveExpired)
	} else {
		a.watchdog = network.NewWatchdog(a.conn, cp.KeepAlive, a.onKeepAliveExpired)
		a.watchdog.Start()
	}

	if err := a.sendConnack(res.SessionPresent, encoding.ConnectAccepted); err != nil {
		a.state = Closed
		return
	}
	a.state = Connected

	// The write loop only starts once CONNACK is on the wire, so a resent
	// pending publish queued during registration can never precede it.
	a.wg.Add(1)
	go a.writeLoop()
}

// onKeepAliveExpired runs on the watchdog's timer goroutine; it only records
// the reason and closes the socket, which unblocks the read loop and lets the
// normal shutdown path run. It must not touch the actor's state field, which
// belongs to the read loop.
func (a *Actor) onKeepAliveExpired(*network.Connection) {
	a.logger.Info("keepalive expired, closing connection", "client_id", a.clientID)
	a.setReason(network.DisconnectKeepAliveTimeout)
	a.conn.Close()
}

func (a *Actor) handleConnected(ctx context.Context, pkt encoding.Packet) {
	switch p := pkt.(type) {
	case *encoding.PublishPacket:
		a.handlePublish(ctx, p)
	case *encoding.PubackPacket:
		a.sendAckOutbound(ctx, p.PacketID)
	case *encoding.PubrecPacket:
		a.sendPubrel(p.PacketID)
	case *encoding.PubrelPacket:
		a.dedup.CompleteQoS2(p.PacketID)
		a.sendPubcomp(p.PacketID)
	case *encoding.PubcompPacket:
		a.sendAckOutbound(ctx, p.PacketID)
	case *encoding.SubscribePacket:
		a.handleSubscribe(ctx, p)
	case *encoding.UnsubscribePacket:
		a.handleUnsubscribe(ctx, p)
	case *encoding.PingreqPacket:
		a.sendPingresp()
	case *encoding.DisconnectPacket:
		a.gracefulClose = true
		a.setReason(network.DisconnectClientRequested)
		a.state = Closed
	default:
		a.logger.Warn("unexpected packet type from client", "client_id", a.clientID, "packet_type", pkt.Type().String())
		a.setReason(network.DisconnectProtocolError)
		a.state = Closed
	}
}

func (a *Actor) handlePublish(ctx context.Context, p *encoding.PublishPacket) {
	if a.limiter != nil && !a.limiter.Allow(a.clientID) {
		a.logger.Warn("publish dropped by rate limiter", "client_id", a.clientID, "topic", p.TopicName)
		return
	}

	forward := true
	if p.FixedHeader.QoS == encoding.QoS2 {
		forward = a.dedup.ShouldForward(p.FixedHeader.QoS, p.PacketID)
		if forward {
			a.dedup.RecordQoS2(p.PacketID)
		}
	}

	if forward {
		req := broker.PublishRequest{
			Topic:   p.TopicName,
			QoS:     byte(p.FixedHeader.QoS),
			Payload: p.Payload,
			Retain:  p.FixedHeader.Retain,
		}
		select {
		case a.commands <- req:
		case <-ctx.Done():
			return
		}
	}

	switch p.FixedHeader.QoS {
	case encoding.QoS1:
		a.sendPuback(p.PacketID)
	case encoding.QoS2:
		a.sendPubrec(p.PacketID)
	}
}

func (a *Actor) sendAckOutbound(ctx context.Context, packetID uint16) {
	cmd := broker.AckOutbound{ClientID: a.clientID, PacketID: packetID}
	select {
	case a.commands <- cmd:
	case <-ctx.Done():
	}
}

func (a *Actor) handleSubscribe(ctx context.Context, p *encoding.SubscribePacket) {
	topics := make([]broker.TopicSubscription, len(p.Subscriptions))
	for i, s := range p.Subscriptions {
		topics[i] = broker.TopicSubscription{Filter: s.TopicFilter, QoS: byte(s.QoS)}
	}

	reply := make(chan []byte, 1)
	cmd := broker.SubscribeRequest{ClientID: a.clientID, Topics: topics, Reply: reply}

	select {
	case a.commands <- cmd:
	case <-ctx.Done():
		return
	}

	var codes []byte
	select {
	case codes = <-reply:
	case <-ctx.Done():
		return
	}

	a.sendSuback(p.PacketID, codes)
}

func (a *Actor) handleUnsubscribe(ctx context.Context, p *encoding.UnsubscribePacket) {
	reply := make(chan struct{}, 1)
	cmd := broker.UnsubscribeRequest{ClientID: a.clientID, Topics: p.TopicFilters, Reply: reply}

	select {
	case a.commands <- cmd:
	case <-ctx.Done():
		return
	}

	select {
	case <-reply:
	case <-ctx.Done():
		return
	}

	a.sendUnsuback(p.PacketID)
}

// shutdown runs the Connection Actor's close sequence: tell the Broker Core
// this client is gone (publishing its will first if the connection did not
// end with a clean DISCONNECT), stop the keepalive watchdog, and close the
// socket. It is idempotent. The outbound channel itself is never closed:
// the Broker Core may still hold its producer side mid-dispatch, and a send
// on a closed channel would take the whole broker down. The write loop is
// stopped through quit instead; DisconnectClient carries the channel so the
// broker can tell this registration from a successor's (session takeover)
// and drop the producer on its own side.
func (a *Actor) shutdown() {
	a.closeOnce.Do(func() {
		if a.clientID != "" {
			if a.will != nil && !a.gracefulClose {
				willReq := broker.PublishRequest{
					Topic:   a.will.Topic,
					QoS:     a.will.QoS,
					Payload: a.will.Payload,
					Retain:  a.will.Retain,
				}
				select {
				case a.commands <- willReq:
				default:
					a.logger.Warn("dropped will publish, command channel full", "client_id", a.clientID)
				}
			}

			select {
			case a.commands <- broker.DisconnectClient{ClientID: a.clientID, Outbound: a.outbound}:
			default:
				a.logger.Warn("dropped disconnect notice, command channel full", "client_id", a.clientID)
			}
		}

		if a.watchdogs != nil {
			a.watchdogs.Remove(a.conn.ID())
		} else if a.watchdog != nil {
			a.watchdog.Stop()
		}

		if a.dm != nil {
			if err := a.dm.HandleDisconnect(a.conn, &network.DisconnectEvent{Reason: a.disconnectReason()}); err != nil {
				a.logger.Warn("disconnect handler failed", "client_id", a.clientID, "error", err)
			}
		}

		close(a.quit)
		a.conn.Close()
	})
}

func (a *Actor) writeLoop() {
	defer a.wg.Done()

	for {
		select {
		case ev := <-a.outbound:
			switch ev.Kind {
			case session.OutboundMessage:
				if err := a.writeFrame(ev.Message); err != nil {
					return
				}
				a.stats.BytesOut.Add(int64(len(ev.Message)))
				a.stats.MessagesOut.Add(1)
			case session.OutboundDisconnect:
				a.setReason(network.DisconnectSessionTakenOver)
				a.conn.Close()
				return
			}
		case <-a.quit:
			a.drainOutbound()
			return
		}
	}
}

// drainOutbound makes a best-effort pass over messages already queued when
// shutdown begins. It never blocks; whatever the socket refuses is dropped.
func (a *Actor) drainOutbound() {
	for {
		select {
		case ev := <-a.outbound:
			if ev.Kind != session.OutboundMessage {
				return
			}
			if err := a.writeFrame(ev.Message); err != nil {
				return
			}
			a.stats.BytesOut.Add(int64(len(ev.Message)))
			a.stats.MessagesOut.Add(1)
		default:
			return
		}
	}
}

func (a *Actor) writeFrame(data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.conn.Write(data)
	return err
}

func encode(p interface{ Encode(io.Writer) error }) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Actor) sendConnack(sessionPresent bool, returnCode byte) error {
	data, err := encode(&encoding.ConnackPacket{SessionPresent: sessionPresent, ReturnCode: returnCode})
	if err != nil {
		a.logger.Error("failed to encode CONNACK", "client_id", a.clientID, "error", err)
		return err
	}
	return a.writeFrame(data)
}

func (a *Actor) sendPuback(packetID uint16) {
	a.sendSimple(&encoding.PubackPacket{PacketID: packetID}, "PUBACK")
}

func (a *Actor) sendPubrec(packetID uint16) {
	a.sendSimple(&encoding.PubrecPacket{PacketID: packetID}, "PUBREC")
}

func (a *Actor) sendPubrel(packetID uint16) {
	a.sendSimple(&encoding.PubrelPacket{PacketID: packetID}, "PUBREL")
}

func (a *Actor) sendPubcomp(packetID uint16) {
	a.sendSimple(&encoding.PubcompPacket{PacketID: packetID}, "PUBCOMP")
}

func (a *Actor) sendPingresp() {
	a.sendSimple(&encoding.PingrespPacket{}, "PINGRESP")
}

func (a *Actor) sendSuback(packetID uint16, codes []byte) {
	a.sendSimple(&encoding.SubackPacket{PacketID: packetID, ReturnCodes: codes}, "SUBACK")
}

func (a *Actor) sendUnsuback(packetID uint16) {
	a.sendSimple(&encoding.UnsubackPacket{PacketID: packetID}, "UNSUBACK")
}

func (a *Actor) sendSimple(p interface{ Encode(io.Writer) error }, name string) {
	data, err := encode(p)
	if err != nil {
		a.logger.Error("failed to encode packet", "client_id", a.clientID, "packet_type", name, "error", err)
		return
	}
	if err := a.writeFrame(data); err != nil {
		a.logger.Debug("failed to write packet", "client_id", a.clientID, "packet_type", name, "error", err)
	}
}
