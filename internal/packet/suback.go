package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/pkg/er"
)

// SubAckPacket acknowledges a SUBSCRIBE, one return/reason code per filter
// in request order.
type SubAckPacket struct {
	PacketID    uint16
	ReturnCodes []byte
	Properties  Properties
}

func (p *SubAckPacket) Type() Type { return SUBACK }

func (p *SubAckPacket) Encode(v Version) []byte {
	var body []byte
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], p.PacketID)
	body = append(body, id[:]...)
	if v == Version5 {
		body = append(body, p.Properties.Encode()...)
	}
	body = append(body, p.ReturnCodes...)

	out := []byte{byte(SUBACK)}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

func ParseSubAck(raw []byte, v Version) (*SubAckPacket, error) {
	if len(raw) < 4 || Type(raw[0]&0xF0) != SUBACK {
		return nil, &er.Err{Context: "SUBACK", Message: er.ErrInvalidPacketType, Reason: er.ReasonMalformedPacket}
	}
	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "SUBACK", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}
	p := &SubAckPacket{PacketID: binary.BigEndian.Uint16(raw[offset : offset+2])}
	offset += 2
	if v == Version5 {
		props, n, err := DecodeProperties(raw[offset:])
		if err != nil {
			return nil, err
		}
		p.Properties = props
		offset += n
	}
	p.ReturnCodes = append([]byte(nil), raw[offset:]...)
	return p, nil
}
