package packet

import (
	"bufio"
	"io"

	"github.com/pyr33x/goqtt/pkg/er"
)

// ReadFrame reads one complete MQTT frame (fixed header + remaining
// length + variable header/payload) from r, generalizing the manual
// fixed-header/remaining-length loop the teacher wrote inline in its TCP
// accept loop so every transport adapter (TCP, TLS, WebSocket) shares it.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	var remLenBuf [4]byte
	n := 0
	remaining := 0
	multiplier := 1
	for {
		if n >= len(remLenBuf) {
			return nil, &er.Err{Context: "ReadFrame", Message: er.ErrRemainingLengthExceeded, Reason: er.ReasonMalformedPacket}
		}
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		remLenBuf[n] = b
		n++
		remaining += int(b&0x7F) * multiplier
		multiplier *= 128
		if b&0x80 == 0 {
			break
		}
	}

	total := 1 + n + remaining
	raw := make([]byte, total)
	raw[0] = first
	copy(raw[1:1+n], remLenBuf[:n])
	if _, err := io.ReadFull(r, raw[1+n:]); err != nil {
		return nil, err
	}
	return raw, nil
}

// Decode parses a complete frame into its typed packet given the
// connection's negotiated version. CONNECT is handled separately by
// ParseConnect since it alone determines the version for what follows.
func Decode(v Version, raw []byte) (Packet, error) {
	if len(raw) == 0 {
		return nil, &er.Err{Context: "Decode", Message: er.ErrShortBuffer, Reason: er.ReasonMalformedPacket}
	}

	switch Type(raw[0] & 0xF0) {
	case CONNECT:
		return ParseConnect(raw)
	case PUBLISH:
		return ParsePublish(raw, v)
	case PUBACK, PUBREC, PUBREL, PUBCOMP:
		return ParseAck(raw, v)
	case SUBSCRIBE:
		return ParseSubscribe(raw, v)
	case SUBACK:
		return ParseSubAck(raw, v)
	case UNSUBSCRIBE:
		return ParseUnsubscribe(raw, v)
	case UNSUBACK:
		return ParseUnsubAck(raw, v)
	case PINGREQ:
		return parsePingReq(raw)
	case PINGRESP:
		return parsePingResp(raw)
	case DISCONNECT:
		return ParseDisconnect(raw, v)
	default:
		return nil, &er.Err{Context: "Decode", Message: er.ErrInvalidPacketType, Reason: er.ReasonMalformedPacket}
	}
}
