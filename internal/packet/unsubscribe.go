package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/pkg/er"
)

// UnsubscribePacket is an UNSUBSCRIBE control packet.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
	Properties   Properties
}

func (up *UnsubscribePacket) Type() Type { return UNSUBSCRIBE }

func ParseUnsubscribe(raw []byte, v Version) (*UnsubscribePacket, error) {
	up := &UnsubscribePacket{}
	if len(raw) < 2 || Type(raw[0]&0xF0) != UNSUBSCRIBE {
		return nil, &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidUnsubscribePacket, Reason: er.ReasonMalformedPacket}
	}
	if raw[0]&0x0F != 0x02 {
		return nil, &er.Err{Context: "Unsubscribe, Flags", Message: er.ErrInvalidUnsubscribeFlags, Reason: er.ReasonMalformedPacket}
	}

	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}

	if offset+2 > len(raw) {
		return nil, &er.Err{Context: "Unsubscribe, PacketID", Message: er.ErrMissingPacketID, Reason: er.ReasonMalformedPacket}
	}
	up.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
	if up.PacketID == 0 {
		return nil, &er.Err{Context: "Unsubscribe, PacketID", Message: er.ErrInvalidPacketID, Reason: er.ReasonMalformedPacket}
	}
	offset += 2

	if v == Version5 {
		props, n, err := DecodeProperties(raw[offset:])
		if err != nil {
			return nil, err
		}
		up.Properties = props
		offset += n
	}

	for offset < len(raw) {
		topic, n, err := ParseString(raw[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if err := ValidateTopicFilter(topic); err != nil {
			return nil, err
		}
		up.TopicFilters = append(up.TopicFilters, topic)
	}

	if len(up.TopicFilters) == 0 {
		return nil, &er.Err{Context: "Unsubscribe", Message: er.ErrNoTopicFilters, Reason: er.ReasonMalformedPacket}
	}
	return up, nil
}

func (up *UnsubscribePacket) Encode(v Version) []byte {
	var body []byte
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], up.PacketID)
	body = append(body, id[:]...)
	if v == Version5 {
		body = append(body, up.Properties.Encode()...)
	}
	for _, f := range up.TopicFilters {
		body = append(body, EncodeString(f)...)
	}
	out := []byte{byte(UNSUBSCRIBE) | 0x02}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

// UnsubAckPacket acknowledges an UNSUBSCRIBE. v3.1.1 carries no payload
// reason codes; v5 carries one reason code per requested filter.
type UnsubAckPacket struct {
	PacketID    uint16
	ReturnCodes []byte // v5 only
	Properties  Properties
}

func (p *UnsubAckPacket) Type() Type { return UNSUBACK }

func (p *UnsubAckPacket) Encode(v Version) []byte {
	var body []byte
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], p.PacketID)
	body = append(body, id[:]...)
	if v == Version5 {
		body = append(body, p.Properties.Encode()...)
		body = append(body, p.ReturnCodes...)
	}
	out := []byte{byte(UNSUBACK)}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

func ParseUnsubAck(raw []byte, v Version) (*UnsubAckPacket, error) {
	if len(raw) < 4 || Type(raw[0]&0xF0) != UNSUBACK {
		return nil, &er.Err{Context: "UNSUBACK", Message: er.ErrInvalidPacketType, Reason: er.ReasonMalformedPacket}
	}
	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "UNSUBACK", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}
	p := &UnsubAckPacket{PacketID: binary.BigEndian.Uint16(raw[offset : offset+2])}
	offset += 2
	if v == Version5 && offset < len(raw) {
		props, n, err := DecodeProperties(raw[offset:])
		if err != nil {
			return nil, err
		}
		p.Properties = props
		offset += n
		p.ReturnCodes = append([]byte(nil), raw[offset:]...)
	}
	return p, nil
}
