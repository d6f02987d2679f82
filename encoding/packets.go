package encoding

import (
	"io"
)

// ConnectPacket represents an MQTT 3.1.1 CONNECT packet
type ConnectPacket struct {
	FixedHeader     FixedHeader
	ProtocolName    string
	ProtocolVersion ProtocolVersion
	CleanSession    bool
	WillFlag        bool
	WillQoS         QoS
	WillRetain      bool
	PasswordFlag    bool
	UsernameFlag    bool
	KeepAlive       uint16
	ClientID        string
	WillTopic       string
	WillPayload     []byte
	Username        string
	Password        []byte
}

// ConnackPacket represents an MQTT 3.1.1 CONNACK packet
type ConnackPacket struct {
	FixedHeader    FixedHeader
	SessionPresent bool
	ReturnCode     byte
}

// PublishPacket represents an MQTT 3.1.1 PUBLISH packet
type PublishPacket struct {
	FixedHeader FixedHeader
	TopicName   string
	PacketID    uint16
	Payload     []byte
}

// SubscribePacket represents an MQTT 3.1.1 SUBSCRIBE packet
type SubscribePacket struct {
	FixedHeader   FixedHeader
	PacketID      uint16
	Subscriptions []Subscription
}

// Subscription represents a single subscription request in MQTT 3.1.1
type Subscription struct {
	TopicFilter string
	QoS         QoS
}

// SubackPacket represents an MQTT 3.1.1 SUBACK packet
type SubackPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
	ReturnCodes []byte
}

// UnsubscribePacket represents an MQTT 3.1.1 UNSUBSCRIBE packet
type UnsubscribePacket struct {
	FixedHeader  FixedHeader
	PacketID     uint16
	TopicFilters []string
}

// UnsubackPacket represents an MQTT 3.1.1 UNSUBACK packet
type UnsubackPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// DisconnectPacket represents an MQTT 3.1.1 DISCONNECT packet
type DisconnectPacket struct {
	FixedHeader FixedHeader
}

// PubackPacket represents an MQTT 3.1.1 PUBACK packet
type PubackPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// PubrecPacket represents an MQTT 3.1.1 PUBREC packet
type PubrecPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// PubrelPacket represents an MQTT 3.1.1 PUBREL packet
type PubrelPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// PubcompPacket represents an MQTT 3.1.1 PUBCOMP packet
type PubcompPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// PingreqPacket represents an MQTT 3.1.1 PINGREQ packet
type PingreqPacket struct {
	FixedHeader FixedHeader
}

// PingrespPacket represents an MQTT 3.1.1 PINGRESP packet
type PingrespPacket struct {
	FixedHeader FixedHeader
}

func (p *ConnectPacket) Encode(w io.Writer) error {
	varHeaderLen := 2 + len(p.ProtocolName) + 1 + 1 + 2

	payloadLen := 2 + len(p.ClientID)

	if p.WillFlag {
		payloadLen += 2 + len(p.WillTopic)
		payloadLen += 2 + len(p.WillPayload)
	}

	if p.UsernameFlag {
		payloadLen += 2 + len(p.Username)
	}

	if p.PasswordFlag {
		payloadLen += 2 + len(p.Password)
	}

	remainingLength := uint32(varHeaderLen + payloadLen)

	fh := FixedHeader{Type: CONNECT, Flags: 0, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.ProtocolName); err != nil {
		return err
	}
	if err := writeByte(w, byte(p.ProtocolVersion)); err != nil {
		return err
	}

	var connectFlags byte
	if p.CleanSession {
		connectFlags |= 0x02
	}
	if p.WillFlag {
		connectFlags |= 0x04
		connectFlags |= byte(p.WillQoS << 3)
		if p.WillRetain {
			connectFlags |= 0x20
		}
	}
	if p.PasswordFlag {
		connectFlags |= 0x40
	}
	if p.UsernameFlag {
		connectFlags |= 0x80
	}

	if err := writeByte(w, connectFlags); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.KeepAlive); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.ClientID); err != nil {
		return err
	}

	if p.WillFlag {
		if err := writeUTF8String(w, p.WillTopic); err != nil {
			return err
		}
		if err := writeBinaryData(w, p.WillPayload); err != nil {
			return err
		}
	}

	if p.UsernameFlag {
		if err := writeUTF8String(w, p.Username); err != nil {
			return err
		}
	}

	if p.PasswordFlag {
		if err := writeBinaryData(w, p.Password); err != nil {
			return err
		}
	}

	return nil
}

func (p *ConnackPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: CONNACK, Flags: 0, RemainingLength: 2}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	var ackFlags byte
	if p.SessionPresent {
		ackFlags |= 0x01
	}
	if err := writeByte(w, ackFlags); err != nil {
		return err
	}

	return writeByte(w, p.ReturnCode)
}

func (p *PublishPacket) Encode(w io.Writer) error {
	remainingLength := uint32(2 + len(p.TopicName) + len(p.Payload))
	if p.FixedHeader.QoS > QoS0 {
		remainingLength += 2
	}

	fh := FixedHeader{
		Type:            PUBLISH,
		RemainingLength: remainingLength,
		DUP:             p.FixedHeader.DUP,
		QoS:             p.FixedHeader.QoS,
		Retain:          p.FixedHeader.Retain,
	}
	fh.Flags = 0
	if fh.DUP {
		fh.Flags |= 0x08
	}
	fh.Flags |= byte(fh.QoS) << 1
	if fh.Retain {
		fh.Flags |= 0x01
	}

	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.TopicName); err != nil {
		return err
	}

	if p.FixedHeader.QoS > QoS0 {
		if err := writeTwoByteInt(w, p.PacketID); err != nil {
			return err
		}
	}

	if len(p.Payload) > 0 {
		_, err := w.Write(p.Payload)
		return err
	}

	return nil
}

func (p *PubackPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PUBACK, RemainingLength: 2}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	return writeTwoByteInt(w, p.PacketID)
}

func (p *PubrecPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PUBREC, RemainingLength: 2}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	return writeTwoByteInt(w, p.PacketID)
}

func (p *PubrelPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PUBREL, Flags: 0x02, RemainingLength: 2}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	return writeTwoByteInt(w, p.PacketID)
}

func (p *PubcompPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PUBCOMP, RemainingLength: 2}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	return writeTwoByteInt(w, p.PacketID)
}

func (p *SubscribePacket) Encode(w io.Writer) error {
	remainingLength := uint32(2)
	for _, sub := range p.Subscriptions {
		remainingLength += uint32(2 + len(sub.TopicFilter) + 1)
	}

	fh := FixedHeader{Type: SUBSCRIBE, Flags: 0x02, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}

	for _, sub := range p.Subscriptions {
		if err := writeUTF8String(w, sub.TopicFilter); err != nil {
			return err
		}
		if err := writeByte(w, byte(sub.QoS)); err != nil {
			return err
		}
	}

	return nil
}

func (p *SubackPacket) Encode(w io.Writer) error {
	remainingLength := uint32(2 + len(p.ReturnCodes))

	fh := FixedHeader{Type: SUBACK, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}

	_, err := w.Write(p.ReturnCodes)
	return err
}

func (p *UnsubscribePacket) Encode(w io.Writer) error {
	remainingLength := uint32(2)
	for _, topic := range p.TopicFilters {
		remainingLength += uint32(2 + len(topic))
	}

	fh := FixedHeader{Type: UNSUBSCRIBE, Flags: 0x02, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}

	for _, topic := range p.TopicFilters {
		if err := writeUTF8String(w, topic); err != nil {
			return err
		}
	}

	return nil
}

func (p *UnsubackPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: UNSUBACK, RemainingLength: 2}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	return writeTwoByteInt(w, p.PacketID)
}

func (p *DisconnectPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: DISCONNECT, RemainingLength: 0}
	return fh.EncodeFixedHeader(w)
}

func (p *PingreqPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PINGREQ, RemainingLength: 0}
	return fh.EncodeFixedHeader(w)
}

func (p *PingrespPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PINGRESP, RemainingLength: 0}
	return fh.EncodeFixedHeader(w)
}

// MQTT 3.1.1 CONNACK return codes (section 3.2.2.3)
const (
	ConnectAccepted                    byte = 0x00
	ConnectRefusedUnacceptableProtocol byte = 0x01
	ConnectRefusedIdentifierRejected   byte = 0x02
	ConnectRefusedServerUnavailable    byte = 0x03
	ConnectRefusedBadUsernamePassword  byte = 0x04
	ConnectRefusedNotAuthorized        byte = 0x05
)

// SUBACK return codes (section 3.9.3)
const (
	SubackMaxQoS0 byte = 0x00
	SubackMaxQoS1 byte = 0x01
	SubackMaxQoS2 byte = 0x02
	SubackFailure byte = 0x80
)
