package packet

import "github.com/pyr33x/goqtt/pkg/er"

// DisconnectPacket is a v5 DISCONNECT (clean disconnection or error
// notification) or a v3.1.1 DISCONNECT (no reason, no properties).
type DisconnectPacket struct {
	Code       byte
	Properties Properties
}

func (p *DisconnectPacket) Type() Type { return DISCONNECT }

// NewDisconnect builds a DISCONNECT for the given Reason.
func NewDisconnect(reason er.Reason) *DisconnectPacket {
	return &DisconnectPacket{Code: ReasonCode(reason)}
}

func (p *DisconnectPacket) Encode(v Version) []byte {
	if v != Version5 {
		return []byte{byte(DISCONNECT), 0x00}
	}
	var body []byte
	if p.Code != RCSuccess || p.Properties.ReasonString != nil || len(p.Properties.UserProperties) > 0 {
		body = append(body, p.Code)
		body = append(body, p.Properties.Encode()...)
	}
	out := []byte{byte(DISCONNECT)}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

func ParseDisconnect(raw []byte, v Version) (*DisconnectPacket, error) {
	if len(raw) < 2 || Type(raw[0]) != DISCONNECT {
		return nil, &er.Err{Context: "Disconnect", Message: er.ErrInvalidDisconnectPacket, Reason: er.ReasonMalformedPacket}
	}
	p := &DisconnectPacket{Code: RCSuccess}
	if raw[1] == 0 {
		return p, nil
	}
	if v != Version5 {
		return nil, &er.Err{Context: "Disconnect", Message: er.ErrInvalidDisconnectPacket, Reason: er.ReasonMalformedPacket}
	}
	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "Disconnect", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}
	if offset < len(raw) {
		p.Code = raw[offset]
		offset++
	}
	if offset < len(raw) {
		props, _, err := DecodeProperties(raw[offset:])
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}
	return p, nil
}
