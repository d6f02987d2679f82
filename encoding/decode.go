package encoding

// Packet is implemented by every decoded MQTT 3.1.1 control packet.
type Packet interface {
	Type() PacketType
}

func (p *ConnectPacket) Type() PacketType     { return CONNECT }
func (p *ConnackPacket) Type() PacketType     { return CONNACK }
func (p *PublishPacket) Type() PacketType     { return PUBLISH }
func (p *PubackPacket) Type() PacketType      { return PUBACK }
func (p *PubrecPacket) Type() PacketType      { return PUBREC }
func (p *PubrelPacket) Type() PacketType      { return PUBREL }
func (p *PubcompPacket) Type() PacketType     { return PUBCOMP }
func (p *SubscribePacket) Type() PacketType   { return SUBSCRIBE }
func (p *SubackPacket) Type() PacketType      { return SUBACK }
func (p *UnsubscribePacket) Type() PacketType { return UNSUBSCRIBE }
func (p *UnsubackPacket) Type() PacketType    { return UNSUBACK }
func (p *PingreqPacket) Type() PacketType     { return PINGREQ }
func (p *PingrespPacket) Type() PacketType    { return PINGRESP }
func (p *DisconnectPacket) Type() PacketType  { return DISCONNECT }

// DecodeBody decodes the variable header and payload of a packet given its
// already-parsed fixed header and the exact RemainingLength bytes that follow
// it on the wire. Each decoder mirrors the field layout the corresponding
// Encode method produces.
func DecodeBody(fh *FixedHeader, body []byte) (Packet, error) {
	switch fh.Type {
	case CONNECT:
		return decodeConnect(fh, body)
	case PUBLISH:
		return decodePublish(fh, body)
	case PUBACK:
		return decodePacketIDOnly(fh, body, func(fh FixedHeader, id uint16) Packet {
			return &PubackPacket{FixedHeader: fh, PacketID: id}
		})
	case PUBREC:
		return decodePacketIDOnly(fh, body, func(fh FixedHeader, id uint16) Packet {
			return &PubrecPacket{FixedHeader: fh, PacketID: id}
		})
	case PUBREL:
		return decodePacketIDOnly(fh, body, func(fh FixedHeader, id uint16) Packet {
			return &PubrelPacket{FixedHeader: fh, PacketID: id}
		})
	case PUBCOMP:
		return decodePacketIDOnly(fh, body, func(fh FixedHeader, id uint16) Packet {
			return &PubcompPacket{FixedHeader: fh, PacketID: id}
		})
	case SUBSCRIBE:
		return decodeSubscribe(fh, body)
	case UNSUBSCRIBE:
		return decodeUnsubscribe(fh, body)
	case PINGREQ:
		if len(body) != 0 {
			return nil, NewMalformedPacketError(ErrMalformedPacket, "PINGREQ must have zero remaining length")
		}
		return &PingreqPacket{FixedHeader: *fh}, nil
	case DISCONNECT:
		if len(body) != 0 {
			return nil, NewMalformedPacketError(ErrMalformedPacket, "DISCONNECT must have zero remaining length")
		}
		return &DisconnectPacket{FixedHeader: *fh}, nil
	default:
		return nil, ErrInvalidType
	}
}

func decodePacketIDOnly(fh *FixedHeader, body []byte, build func(FixedHeader, uint16) Packet) (Packet, error) {
	if len(body) != 2 {
		return nil, NewMalformedPacketError(ErrMalformedPacket, "expected 2-byte packet identifier")
	}
	r := newReader(body)
	id, err := r.readTwoByteInt()
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, NewMalformedPacketError(ErrInvalidPacketIDZero, "")
	}
	return build(*fh, id), nil
}

func decodeConnect(fh *FixedHeader, body []byte) (*ConnectPacket, error) {
	r := newReader(body)

	protocolName, err := r.readUTF8String()
	if err != nil {
		return nil, NewMalformedPacketError(err, "protocol name")
	}
	if protocolName != "MQTT" {
		return nil, NewConnectError(ErrInvalidProtocolName, ConnectRefusedUnacceptableProtocol, protocolName)
	}

	versionByte, err := r.readByte()
	if err != nil {
		return nil, NewMalformedPacketError(err, "protocol version")
	}
	if ProtocolVersion(versionByte) != ProtocolVersion311 {
		return nil, NewConnectError(ErrInvalidProtocolVersion, ConnectRefusedUnacceptableProtocol, "")
	}

	flags, err := r.readByte()
	if err != nil {
		return nil, NewMalformedPacketError(err, "connect flags")
	}
	if err := ValidateConnectFlags(flags); err != nil {
		return nil, NewMalformedPacketError(err, "")
	}

	keepAlive, err := r.readTwoByteInt()
	if err != nil {
		return nil, NewMalformedPacketError(err, "keep alive")
	}

	p := &ConnectPacket{
		FixedHeader:     *fh,
		ProtocolName:    protocolName,
		ProtocolVersion: ProtocolVersion(versionByte),
		CleanSession:    flags&0x02 != 0,
		WillFlag:        flags&0x04 != 0,
		WillQoS:         QoS((flags & 0x18) >> 3),
		WillRetain:      flags&0x20 != 0,
		PasswordFlag:    flags&0x40 != 0,
		UsernameFlag:    flags&0x80 != 0,
		KeepAlive:       keepAlive,
	}

	clientID, err := r.readUTF8String()
	if err != nil {
		return nil, NewMalformedPacketError(err, "client identifier")
	}
	p.ClientID = clientID

	if p.WillFlag {
		willTopic, err := r.readUTF8String()
		if err != nil {
			return nil, NewMalformedPacketError(err, "will topic")
		}
		willPayload, err := r.readBinaryData()
		if err != nil {
			return nil, NewMalformedPacketError(err, "will payload")
		}
		p.WillTopic = willTopic
		p.WillPayload = willPayload
	}

	if p.UsernameFlag {
		username, err := r.readUTF8String()
		if err != nil {
			return nil, NewMalformedPacketError(err, "username")
		}
		p.Username = username
	}

	if p.PasswordFlag {
		password, err := r.readBinaryData()
		if err != nil {
			return nil, NewMalformedPacketError(err, "password")
		}
		p.Password = password
	} else if !r.atEnd() {
		return nil, NewMalformedPacketError(ErrPasswordWithoutFlag, "")
	}

	if !r.atEnd() {
		return nil, NewMalformedPacketError(ErrMalformedPacket, "trailing bytes after CONNECT payload")
	}

	return p, nil
}

func decodePublish(fh *FixedHeader, body []byte) (*PublishPacket, error) {
	r := newReader(body)

	topicName, err := r.readUTF8String()
	if err != nil {
		return nil, NewMalformedPacketError(err, "topic name")
	}
	if err := ValidateTopicName(topicName); err != nil {
		return nil, NewMalformedPacketError(err, "")
	}

	p := &PublishPacket{FixedHeader: *fh, TopicName: topicName}

	if fh.QoS > QoS0 {
		packetID, err := r.readTwoByteInt()
		if err != nil {
			return nil, NewMalformedPacketError(err, "packet identifier")
		}
		if packetID == 0 {
			return nil, NewMalformedPacketError(ErrInvalidPacketIDZero, "")
		}
		p.PacketID = packetID
	}

	p.Payload = append([]byte(nil), r.remaining()...)
	return p, nil
}

func decodeSubscribe(fh *FixedHeader, body []byte) (*SubscribePacket, error) {
	r := newReader(body)

	packetID, err := r.readTwoByteInt()
	if err != nil {
		return nil, NewMalformedPacketError(err, "packet identifier")
	}
	if packetID == 0 {
		return nil, NewMalformedPacketError(ErrInvalidPacketIDZero, "")
	}

	p := &SubscribePacket{FixedHeader: *fh, PacketID: packetID}

	for !r.atEnd() {
		filter, err := r.readUTF8String()
		if err != nil {
			return nil, NewMalformedPacketError(err, "topic filter")
		}
		if err := ValidateTopicFilter(filter); err != nil {
			return nil, NewMalformedPacketError(err, "")
		}

		qosByte, err := r.readByte()
		if err != nil {
			return nil, NewMalformedPacketError(err, "subscription options")
		}
		if err := ValidateSubscriptionOptions(qosByte); err != nil {
			return nil, NewMalformedPacketError(err, "")
		}

		p.Subscriptions = append(p.Subscriptions, Subscription{TopicFilter: filter, QoS: QoS(qosByte & 0x03)})
	}

	if len(p.Subscriptions) == 0 {
		return nil, NewMalformedPacketError(ErrEmptySubscriptionList, "")
	}

	return p, nil
}

func decodeUnsubscribe(fh *FixedHeader, body []byte) (*UnsubscribePacket, error) {
	r := newReader(body)

	packetID, err := r.readTwoByteInt()
	if err != nil {
		return nil, NewMalformedPacketError(err, "packet identifier")
	}
	if packetID == 0 {
		return nil, NewMalformedPacketError(ErrInvalidPacketIDZero, "")
	}

	p := &UnsubscribePacket{FixedHeader: *fh, PacketID: packetID}

	for !r.atEnd() {
		filter, err := r.readUTF8String()
		if err != nil {
			return nil, NewMalformedPacketError(err, "topic filter")
		}
		if err := ValidateTopicFilter(filter); err != nil {
			return nil, NewMalformedPacketError(err, "")
		}
		p.TopicFilters = append(p.TopicFilters, filter)
	}

	if len(p.TopicFilters) == 0 {
		return nil, NewMalformedPacketError(ErrEmptyUnsubscribeList, "")
	}

	return p, nil
}
