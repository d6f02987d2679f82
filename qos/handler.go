// Package qos tracks per-connection QoS 2 inbound delivery state: a client
// may retransmit a PUBLISH with DUP=1 while waiting for PUBREC, and the
// Connection Actor must forward it to the broker core exactly once.
// Outbound QoS 1/2 bookkeeping (broker-originated publishes awaiting
// PUBACK/PUBCOMP) lives in session.PendingOutbound instead; this package has
// no retry/backoff loop of its own.
package qos

import "github.com/riftmq/broker/encoding"

// DefaultDedupWindow bounds how many in-flight QoS 2 packet ids a single
// connection tracks before the oldest is evicted.
const DefaultDedupWindow = 128

// Tracker records which QoS 2 packet ids have already been forwarded to the
// broker core for the current connection, so a retransmitted PUBLISH
// (DUP=1) before the PUBREL/PUBCOMP handshake completes is not delivered
// twice. It is only ever touched by the Connection Actor's own goroutine.
type Tracker struct {
	dedup *dedupCache
}

// NewTracker creates a Tracker bounded to windowSize in-flight packet ids.
// A windowSize <= 0 uses DefaultDedupWindow.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultDedupWindow
	}
	return &Tracker{dedup: newDedupCache(windowSize)}
}

// ShouldForward reports whether an inbound PUBLISH with the given QoS and
// packet id should be forwarded to the broker core. QoS 0 has no packet id
// to dedup on and is always forwarded. QoS 1 is at-least-once delivery, so
// a re-forwarded QoS 1 duplicate reaches subscribers again and is allowed;
// only QoS 2 is tracked.
func (t *Tracker) ShouldForward(qos encoding.QoS, packetID uint16) bool {
	if qos != encoding.QoS2 {
		return true
	}
	return !t.dedup.exists(packetID)
}

// RecordQoS2 marks a QoS 2 packet id as forwarded to the broker, so a
// retransmission is recognized as a duplicate until CompleteQoS2 is called.
func (t *Tracker) RecordQoS2(packetID uint16) {
	t.dedup.add(packetID)
}

// CompleteQoS2 forgets a QoS 2 packet id once its PUBREL has been answered
// with PUBCOMP, freeing the id for reuse by the client.
func (t *Tracker) CompleteQoS2(packetID uint16) {
	t.dedup.remove(packetID)
}

// Size reports the number of QoS 2 packet ids currently tracked.
func (t *Tracker) Size() int {
	return t.dedup.size()
}
