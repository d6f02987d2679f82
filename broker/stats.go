package broker

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

// Stats holds the atomic counters the Broker Core updates as traffic flows
// through it. It has no lock: every field is an atomic type, so it is safe
// to read from any goroutine (an embedder's HTTP handler, a test, the
// optional publisher below) while the core keeps writing to it.
type Stats struct {
	BytesIn          atomic.Int64
	BytesOut         atomic.Int64
	MessagesIn       atomic.Int64
	MessagesOut      atomic.Int64
	PublishesIn      atomic.Int64
	PublishesOut     atomic.Int64
	ConnectedClients atomic.Int64
}

// NewStats creates a zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

// Publisher periodically issues Publish commands reporting Stats under
// $SYS/broker/... topics. It is off unless Start is called with a positive
// interval; a zero or negative interval makes Start a no-op, matching the
// "sys_publish_interval_seconds of 0 disables the stats publisher" config
// contract.
type Publisher struct {
	stats    *Stats
	interval time.Duration
	commands chan<- Command
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPublisher creates a stats Publisher. commands is the Broker Core's
// command channel; the publisher issues ordinary Publish commands on it,
// the same as any other publisher would.
func NewPublisher(stats *Stats, interval time.Duration, commands chan<- Command, logger *slog.Logger) *Publisher {
	return &Publisher{
		stats:    stats,
		interval: interval,
		commands: commands,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the ticking publish loop in a new goroutine. It is a no-op
// when the configured interval is not positive.
func (p *Publisher) Start() {
	if p.interval <= 0 {
		close(p.done)
		return
	}

	go p.run()
}

func (p *Publisher) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-p.stop:
			return
		}
	}
}

func (p *Publisher) tick() {
	readings := []struct {
		topic string
		value int64
	}{
		{"$SYS/broker/clients/connected", p.stats.ConnectedClients.Load()},
		{"$SYS/broker/messages/received", p.stats.MessagesIn.Load()},
		{"$SYS/broker/messages/sent", p.stats.MessagesOut.Load()},
		{"$SYS/broker/bytes/received", p.stats.BytesIn.Load()},
		{"$SYS/broker/bytes/sent", p.stats.BytesOut.Load()},
	}

	for _, r := range readings {
		req := PublishRequest{
			Topic:   r.topic,
			QoS:     0,
			Payload: []byte(strconv.FormatInt(r.value, 10)),
		}
		select {
		case p.commands <- req:
		default:
			if p.logger != nil {
				p.logger.Warn("dropped $SYS publish, command channel full", "topic", r.topic)
			}
		}
	}
}

// Stop ends the ticking loop and waits for it to exit.
func (p *Publisher) Stop() {
	select {
	case <-p.done:
		return
	default:
	}

	close(p.stop)
	<-p.done
}

func (s *Stats) String() string {
	return fmt.Sprintf(
		"bytes_in=%d bytes_out=%d messages_in=%d messages_out=%d publishes_in=%d publishes_out=%d connected_clients=%d",
		s.BytesIn.Load(), s.BytesOut.Load(), s.MessagesIn.Load(), s.MessagesOut.Load(),
		s.PublishesIn.Load(), s.PublishesOut.Load(), s.ConnectedClients.Load(),
	)
}
