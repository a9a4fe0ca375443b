package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/pkg/er"
)

// AckPacket is the shared shape of PUBACK, PUBREC, PUBREL and PUBCOMP: a
// packet identifier and, in v5 only, a reason code plus properties. The
// four packet types differ only in their fixed-header byte, so one type
// (with a field recording which one it is) replaces the teacher's four
// near-identical structs.
type AckPacket struct {
	Kind       Type // PUBACK, PUBREC, PUBREL or PUBCOMP
	PacketID   uint16
	Code       byte
	Properties Properties
}

func (a *AckPacket) Type() Type { return a.Kind }

// NewAck builds a success ack of the given kind for packetID.
func NewAck(kind Type, packetID uint16) *AckPacket {
	return &AckPacket{Kind: kind, PacketID: packetID, Code: RCSuccess}
}

// NewAckReason builds an ack carrying a non-success v5 reason code; the
// version passed to Encode decides whether the reason is encoded at all
// (v3.1.1 acks are always just type+id).
func NewAckReason(kind Type, packetID uint16, reason er.Reason) *AckPacket {
	return &AckPacket{Kind: kind, PacketID: packetID, Code: ReasonCode(reason)}
}

func (a *AckPacket) Encode(v Version) []byte {
	fixed := byte(a.Kind)
	if a.Kind == PUBREL {
		fixed |= 0x02 // PUBREL reserved bits must be 0010
	}

	var body []byte
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], a.PacketID)
	body = append(body, id[:]...)

	// v3.1.1 has no room for a reason code; v5 omits it too when the
	// code is Success and there are no properties (MQTT 5 §3.4.2.1).
	if v == Version5 && (a.Code != RCSuccess || len(a.Properties.UserProperties) > 0 || a.Properties.ReasonString != nil) {
		body = append(body, a.Code)
		body = append(body, a.Properties.Encode()...)
	}

	out := []byte{fixed}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

// ParseAck decodes a PUBACK/PUBREC/PUBREL/PUBCOMP frame. kind is inferred
// from the fixed header's top nibble.
func ParseAck(raw []byte, v Version) (*AckPacket, error) {
	if len(raw) < 4 {
		return nil, &er.Err{Context: "Ack", Message: er.ErrShortBuffer, Reason: er.ReasonMalformedPacket}
	}
	kind := Type(raw[0] & 0xF0)

	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "Ack", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}

	a := &AckPacket{Kind: kind, Code: RCSuccess}
	a.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2

	if v == Version5 && offset < len(raw) {
		a.Code = raw[offset]
		offset++
		if offset < len(raw) {
			props, _, err := DecodeProperties(raw[offset:])
			if err != nil {
				return nil, err
			}
			a.Properties = props
		}
	}

	return a, nil
}
