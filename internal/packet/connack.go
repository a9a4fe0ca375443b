package packet

import "github.com/pyr33x/goqtt/pkg/er"

// ConnAckPacket is the broker's reply to CONNECT.
type ConnAckPacket struct {
	SessionPresent bool
	Code           byte // v3.1.1 return code, or v5 reason code

	// v5 negotiated properties echoed back to the client.
	Properties Properties
}

func (p *ConnAckPacket) Type() Type { return CONNACK }

// NewConnAck builds a CONNACK for the given broker Reason.
func NewConnAck(v Version, sessionPresent bool, reason er.Reason) *ConnAckPacket {
	return &ConnAckPacket{
		SessionPresent: sessionPresent,
		Code:           ConnAckCode(v, reason),
	}
}

func (p *ConnAckPacket) Encode(v Version) []byte {
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}

	var body []byte
	body = append(body, flags, p.Code)
	if v == Version5 {
		body = append(body, p.Properties.Encode()...)
	}

	out := []byte{byte(CONNACK)}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
