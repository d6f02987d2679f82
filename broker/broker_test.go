package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftmq/broker/session"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(nil, 0)
	go b.Run()
	t.Cleanup(b.Stop)
	return b
}

func register(t *testing.T, b *Broker, clientID string, clean bool) (chan session.OutboundEvent, RegisterResult) {
	t.Helper()
	outbound := make(chan session.OutboundEvent, 10)
	reply := make(chan RegisterResult, 1)
	b.Commands() <- RegisterClient{
		ClientID:     clientID,
		Outbound:     outbound,
		CleanSession: clean,
		Reply:        reply,
	}

	select {
	case res := <-reply:
		return outbound, res
	case <-time.After(time.Second):
		t.Fatal("RegisterClient reply timed out")
		return nil, RegisterResult{}
	}
}

func subscribe(t *testing.T, b *Broker, clientID string, topics ...TopicSubscription) []byte {
	t.Helper()
	reply := make(chan []byte, 1)
	b.Commands() <- SubscribeRequest{ClientID: clientID, Topics: topics, Reply: reply}
	select {
	case codes := <-reply:
		return codes
	case <-time.After(time.Second):
		t.Fatal("SubscribeRequest reply timed out")
		return nil
	}
}

func TestRegisterClient_FreshSession(t *testing.T) {
	b := newTestBroker(t)
	_, res := register(t, b, "c1", true)
	assert.False(t, res.SessionPresent)
	assert.EqualValues(t, 1, b.Stats().ConnectedClients.Load())
}

// TestRegisterClient_Takeover verifies the takeover invariant: a second
// CONNECT for the same ClientId signals the first connection's outbound
// channel with a Disconnect event before the registry moves on.
func TestRegisterClient_Takeover(t *testing.T) {
	b := newTestBroker(t)
	firstOutbound, _ := register(t, b, "dup", false)

	secondOutbound, res := register(t, b, "dup", false)
	assert.True(t, res.SessionPresent)

	select {
	case ev := <-firstOutbound:
		assert.Equal(t, session.OutboundDisconnect, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("first connection never observed a Disconnect event on takeover")
	}

	// Only one session remains registered; publishing now delivers to the
	// second outbound channel only.
	subscribe(t, b, "dup", TopicSubscription{Filter: "x", QoS: 0})
	b.Commands() <- PublishRequest{Topic: "x", QoS: 0, Payload: []byte("m")}

	select {
	case ev := <-secondOutbound:
		assert.Equal(t, session.OutboundMessage, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("second connection never received the publish after takeover")
	}
}

func TestRegisterClient_CleanSessionClearsSubscriptions(t *testing.T) {
	b := newTestBroker(t)
	register(t, b, "c1", true)
	subscribe(t, b, "c1", TopicSubscription{Filter: "a/b", QoS: 1})

	// Reconnect with CleanSession; the old subscription must not deliver.
	outbound2, res := register(t, b, "c1", true)
	assert.False(t, res.SessionPresent)

	b.Commands() <- PublishRequest{Topic: "a/b", QoS: 1, Payload: []byte("x")}

	select {
	case <-outbound2:
		t.Fatal("received a publish for a subscription that should have been cleared")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribe_RejectsNonSysDollarFilters(t *testing.T) {
	b := newTestBroker(t)
	register(t, b, "c1", true)

	codes := subscribe(t, b, "c1",
		TopicSubscription{Filter: "$foo/bar", QoS: 1},
		TopicSubscription{Filter: "$SYS/broker/uptime", QoS: 1},
	)
	require.Len(t, codes, 2)
	assert.EqualValues(t, 0x80, codes[0])
	assert.EqualValues(t, 1, codes[1])
}

func TestSubscribe_GrantsRequestedQoS(t *testing.T) {
	b := newTestBroker(t)
	register(t, b, "c1", true)

	codes := subscribe(t, b, "c1", TopicSubscription{Filter: "a/+/c", QoS: 1})
	require.Len(t, codes, 1)
	assert.EqualValues(t, 1, codes[0])
}

func TestPublish_DeliversAtMinOfGrantedAndPublishedQoS(t *testing.T) {
	b := newTestBroker(t)
	outbound, _ := register(t, b, "sub", true)
	subscribe(t, b, "sub", TopicSubscription{Filter: "t", QoS: 0})

	b.Commands() <- PublishRequest{Topic: "t", QoS: 2, Payload: []byte("hi")}

	select {
	case ev := <-outbound:
		assert.Equal(t, session.OutboundMessage, ev.Kind)
		// QoS in the encoded fixed header's low bits (1<<1) must be 0 since
		// the subscriber was only granted QoS 0, even though the publish
		// itself was QoS 2.
		assert.NotEmpty(t, ev.Message)
		assert.Equal(t, byte(0x30), ev.Message[0])
	case <-time.After(time.Second):
		t.Fatal("expected a delivered publish")
	}
}

func TestPublish_SkipsFullOutboundChannelWithoutBlocking(t *testing.T) {
	b := newTestBroker(t)
	outbound := make(chan session.OutboundEvent) // unbuffered, nobody reading
	reply := make(chan RegisterResult, 1)
	b.Commands() <- RegisterClient{ClientID: "slow", Outbound: outbound, CleanSession: true, Reply: reply}
	<-reply

	subscribe(t, b, "slow", TopicSubscription{Filter: "t", QoS: 0})

	done := make(chan struct{})
	go func() {
		b.Commands() <- PublishRequest{Topic: "t", QoS: 0, Payload: []byte("x")}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish command blocked on a full subscriber channel")
	}

	// The broker must still be responsive to further commands.
	codes := subscribe(t, b, "slow", TopicSubscription{Filter: "t2", QoS: 0})
	assert.Len(t, codes, 1)
}

func TestDisconnectClient_RemovesRegistryAndSubscriptions(t *testing.T) {
	b := newTestBroker(t)
	outbound, _ := register(t, b, "gone", true)
	subscribe(t, b, "gone", TopicSubscription{Filter: "t", QoS: 0})

	b.Commands() <- DisconnectClient{ClientID: "gone"}

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("ConnectedClients never decremented after DisconnectClient")
		default:
		}
		if b.Stats().ConnectedClients.Load() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// No further delivery for the filter this client used to hold.
	b.Commands() <- PublishRequest{Topic: "t", QoS: 0, Payload: []byte("x")}
	select {
	case <-outbound:
		t.Fatal("disconnected client should not receive further publishes")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAckOutbound_ClearsPendingRecord(t *testing.T) {
	b := newTestBroker(t)
	outbound, _ := register(t, b, "acker", true)
	subscribe(t, b, "acker", TopicSubscription{Filter: "t", QoS: 1})

	b.Commands() <- PublishRequest{Topic: "t", QoS: 1, Payload: []byte("x")}
	<-outbound

	// Takeover without clean session should resend the still-pending
	// publish; after AckOutbound it should not.
	b.Commands() <- AckOutbound{ClientID: "acker", PacketID: 1}

	outbound2, res := register(t, b, "acker", false)
	assert.True(t, res.SessionPresent)

	select {
	case <-outbound2:
		t.Fatal("acknowledged publish should not be resent on takeover")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSharedSubscription_DeliversToExactlyOneMember(t *testing.T) {
	b := newTestBroker(t)
	out1, _ := register(t, b, "m1", true)
	out2, _ := register(t, b, "m2", true)

	subscribe(t, b, "m1", TopicSubscription{Filter: "$share/g1/work", QoS: 0})
	subscribe(t, b, "m2", TopicSubscription{Filter: "$share/g1/work", QoS: 0})

	recipients := 0
	for i := 0; i < 4; i++ {
		b.Commands() <- PublishRequest{Topic: "work", QoS: 0, Payload: []byte("x")}

		select {
		case <-out1:
			recipients++
		case <-out2:
			recipients++
		case <-time.After(time.Second):
			t.Fatal("shared group delivered nothing for a publish")
		}
	}
	assert.Equal(t, 4, recipients)

	select {
	case <-out1:
		t.Fatal("shared group delivered a publish to more than one member")
	case <-out2:
		t.Fatal("shared group delivered a publish to more than one member")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestDisconnectClient_StaleAfterTakeoverIgnored covers the teardown race
// around a session takeover: the old connection's DisconnectClient arrives
// after the new connection has registered, and must not evict it.
func TestDisconnectClient_StaleAfterTakeoverIgnored(t *testing.T) {
	b := newTestBroker(t)
	firstOutbound, _ := register(t, b, "dup", false)
	secondOutbound, _ := register(t, b, "dup", false)
	<-firstOutbound // the takeover's Disconnect event for the old connection
	subscribe(t, b, "dup", TopicSubscription{Filter: "t", QoS: 0})

	// The old connection tears down late, identifying itself by the
	// outbound channel it registered with.
	b.Commands() <- DisconnectClient{ClientID: "dup", Outbound: firstOutbound}

	// The new registration survives: publishes still deliver.
	b.Commands() <- PublishRequest{Topic: "t", QoS: 0, Payload: []byte("x")}
	select {
	case ev := <-secondOutbound:
		assert.Equal(t, session.OutboundMessage, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("takeover session was evicted by the old connection's stale disconnect")
	}
	assert.EqualValues(t, 1, b.Stats().ConnectedClients.Load())
}

func TestStopEndsRunLoop(t *testing.T) {
	b := New(nil, 0)
	done := make(chan struct{})
	go func() {
		b.Run()
		close(done)
	}()

	b.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
