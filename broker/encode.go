package broker

import (
	"bytes"

	"github.com/riftmq/broker/encoding"
	"github.com/riftmq/broker/session"
)

// encodePublishFor serializes a PUBLISH packet for delivery to one
// subscriber at the QoS the subscription was granted (which may be lower
// than the publisher's QoS).
func encodePublishFor(topicName string, payload []byte, qos byte, packetID uint16, dup bool, retain bool) ([]byte, error) {
	pkt := &encoding.PublishPacket{
		FixedHeader: encoding.FixedHeader{
			QoS:    encoding.QoS(qos),
			DUP:    dup,
			Retain: retain,
		},
		TopicName: topicName,
		PacketID:  packetID,
		Payload:   payload,
	}

	var buf bytes.Buffer
	if err := pkt.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeResendPublish re-serializes a pending outbound publish with DUP set,
// for the once-on-reconnect resend described by a session's
// PendingOutboundSorted.
func encodeResendPublish(p *session.PendingOutbound) ([]byte, error) {
	return encodePublishFor(p.Topic, p.Payload, p.QoS, p.PacketID, true, p.Retain)
}
