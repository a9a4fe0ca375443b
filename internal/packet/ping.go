package packet

import "github.com/pyr33x/goqtt/pkg/er"

// PingReqPacket is a keepalive ping from the client; it carries no data.
type PingReqPacket struct{}

func (p *PingReqPacket) Type() Type              { return PINGREQ }
func (p *PingReqPacket) Encode(v Version) []byte { return []byte{byte(PINGREQ), 0x00} }

// PingRespPacket is the broker's keepalive reply.
type PingRespPacket struct{}

func (p *PingRespPacket) Type() Type              { return PINGRESP }
func (p *PingRespPacket) Encode(v Version) []byte { return []byte{byte(PINGRESP), 0x00} }

func parsePingReq(raw []byte) (*PingReqPacket, error) {
	if len(raw) != 2 || Type(raw[0]&0xF0) != PINGREQ || raw[0]&0x0F != 0 || raw[1] != 0 {
		return nil, &er.Err{Context: "Pingreq", Message: er.ErrInvalidPingreqPacket, Reason: er.ReasonMalformedPacket}
	}
	return &PingReqPacket{}, nil
}

func parsePingResp(raw []byte) (*PingRespPacket, error) {
	if len(raw) != 2 || Type(raw[0]&0xF0) != PINGRESP || raw[0]&0x0F != 0 || raw[1] != 0 {
		return nil, &er.Err{Context: "Pingresp", Message: er.ErrInvalidPingrespPacket, Reason: er.ReasonMalformedPacket}
	}
	return &PingRespPacket{}, nil
}
