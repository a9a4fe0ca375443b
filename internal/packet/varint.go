package packet

import "github.com/pyr33x/goqtt/pkg/er"

// EncodeRemainingLength encodes the MQTT variable byte integer used for a
// packet's Remaining Length field (and, in v5, for property length and
// subscription identifiers). Supports up to 4 bytes (max 268,435,455).
func EncodeRemainingLength(length int) []byte {
	if length < 0 {
		return []byte{0}
	}

	var encoded []byte
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		encoded = append(encoded, b)
		if length == 0 || len(encoded) >= 4 {
			break
		}
	}
	return encoded
}

// ParseRemainingLength decodes a variable byte integer from data, returning
// the value, the number of bytes consumed, and any error.
func ParseRemainingLength(data []byte) (int, int, error) {
	var length, multiplier, offset int
	multiplier = 1

	for {
		if offset >= len(data) {
			return 0, 0, &er.Err{Context: "ParseRemainingLength", Message: er.ErrShortBuffer}
		}
		if offset >= 4 {
			return 0, 0, &er.Err{Context: "ParseRemainingLength", Message: er.ErrRemainingLengthExceeded}
		}

		b := data[offset]
		length += int(b&0x7F) * multiplier
		if length > MaxPayloadSize {
			return 0, 0, &er.Err{Context: "ParseRemainingLength", Message: er.ErrRemainingLengthExceeded}
		}
		multiplier *= 128
		offset++
		if b&0x80 == 0 {
			break
		}
	}
	return length, offset, nil
}
