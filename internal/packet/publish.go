package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/pkg/er"
)

// PublishPacket is a PUBLISH control packet, either inbound from a
// producer or outbound to a subscriber.
type PublishPacket struct {
	DUP    bool
	QoS    QoSLevel
	Retain bool

	Topic      string // empty when a v5 topic alias is used instead
	PacketID   uint16 // 0 for QoS 0
	Payload    []byte
	Properties Properties
}

func (pp *PublishPacket) Type() Type { return PUBLISH }

// ParsePublish decodes a PUBLISH frame. v is the connection's negotiated
// protocol version; it controls whether a properties bag follows the
// topic/packet-id.
func ParsePublish(raw []byte, v Version) (*PublishPacket, error) {
	pp := &PublishPacket{}
	if len(raw) < 2 || Type(raw[0]&0xF0) != PUBLISH {
		return nil, &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket, Reason: er.ReasonMalformedPacket}
	}

	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "Publish", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}

	fixed := raw[0]
	pp.DUP = fixed&0x08 != 0
	pp.QoS = QoSLevel((fixed & 0x06) >> 1)
	pp.Retain = fixed&0x01 != 0

	if pp.QoS > QoSExactlyOnce {
		return nil, &er.Err{Context: "Publish, QoS", Message: er.ErrInvalidQoSLevel, Reason: er.ReasonMalformedPacket}
	}
	if pp.DUP && pp.QoS == QoSAtMostOnce {
		return nil, &er.Err{Context: "Publish, DUP", Message: er.ErrInvalidDUPFlag, Reason: er.ReasonMalformedPacket}
	}

	topic, n, err := ParseString(raw[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	pp.Topic = topic
	if topic != "" {
		if err := ValidateTopicName(topic); err != nil {
			return nil, err
		}
	}

	if pp.QoS != QoSAtMostOnce {
		if offset+2 > len(raw) {
			return nil, &er.Err{Context: "Publish, PacketID", Message: er.ErrMissingPacketID, Reason: er.ReasonMalformedPacket}
		}
		id := binary.BigEndian.Uint16(raw[offset : offset+2])
		if id == 0 {
			return nil, &er.Err{Context: "Publish, PacketID", Message: er.ErrInvalidPacketID, Reason: er.ReasonMalformedPacket}
		}
		pp.PacketID = id
		offset += 2
	}

	if v == Version5 {
		props, n, err := DecodeProperties(raw[offset:])
		if err != nil {
			return nil, err
		}
		pp.Properties = props
		offset += n
	}

	if offset < len(raw) {
		payloadLen := len(raw) - offset
		if payloadLen > MaxPayloadSize {
			return nil, &er.Err{Context: "Publish, Payload", Message: er.ErrPayloadTooLarge, Reason: er.ReasonPacketTooLarge}
		}
		pp.Payload = make([]byte, payloadLen)
		copy(pp.Payload, raw[offset:])
	}

	return pp, nil
}

func (pp *PublishPacket) Encode(v Version) []byte {
	var body []byte
	body = append(body, EncodeString(pp.Topic)...)

	if pp.QoS != QoSAtMostOnce {
		var id [2]byte
		binary.BigEndian.PutUint16(id[:], pp.PacketID)
		body = append(body, id[:]...)
	}

	if v == Version5 {
		body = append(body, pp.Properties.Encode()...)
	}

	body = append(body, pp.Payload...)

	fixed := byte(PUBLISH)
	if pp.DUP {
		fixed |= 0x08
	}
	fixed |= byte(pp.QoS) << 1
	if pp.Retain {
		fixed |= 0x01
	}

	out := []byte{fixed}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
