package packet

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pyr33x/goqtt/pkg/er"
)

// EncodeString encodes s as an MQTT UTF-8 string: a 2-byte big-endian
// length prefix followed by the raw bytes.
func EncodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

// EncodeBinary encodes b as an MQTT binary field: 2-byte length prefix
// followed by the raw bytes (used for v5 correlation/auth data).
func EncodeBinary(b []byte) []byte {
	out := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(out, uint16(len(b)))
	copy(out[2:], b)
	return out
}

// ParseString decodes a length-prefixed UTF-8 string, returning the
// string, bytes consumed, and any error.
func ParseString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrShortBuffer}
	}
	length := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+length {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrShortBuffer}
	}
	s := string(data[2 : 2+length])
	if err := ValidateUTF8String(s); err != nil {
		return "", 0, err
	}
	return s, 2 + length, nil
}

// ParseBinary decodes a length-prefixed binary field.
func ParseBinary(data []byte) ([]byte, int, error) {
	if len(data) < 2 {
		return nil, 0, &er.Err{Context: "ParseBinary", Message: er.ErrShortBuffer}
	}
	length := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+length {
		return nil, 0, &er.Err{Context: "ParseBinary", Message: er.ErrShortBuffer}
	}
	out := make([]byte, length)
	copy(out, data[2:2+length])
	return out, 2 + length, nil
}

// ValidateUTF8String rejects strings that are not valid UTF-8, contain a
// null character, a C0/C1 control character, or a Unicode non-character
// code point, per MQTT 1.5.4.
func ValidateUTF8String(s string) error {
	if !utf8.ValidString(s) {
		return &er.Err{Context: "UTF8String", Message: er.ErrInvalidUTF8String, Reason: er.ReasonMalformedPacket}
	}
	for _, r := range s {
		if r == 0 {
			return &er.Err{Context: "UTF8String", Message: er.ErrNullCharacterInTopic, Reason: er.ReasonMalformedPacket}
		}
		if (r >= 0x0001 && r <= 0x001F) || (r >= 0x007F && r <= 0x009F) {
			return &er.Err{Context: "UTF8String", Message: er.ErrControlCharacterInTopic, Reason: er.ReasonMalformedPacket}
		}
		if isNonCharacter(r) {
			return &er.Err{Context: "UTF8String", Message: er.ErrInvalidUTF8String, Reason: er.ReasonMalformedPacket}
		}
	}
	return nil
}

// isNonCharacter reports whether r is one of the Unicode non-characters
// that MQTT 1.5.4 forbids in UTF-8 encoded strings: U+FDD0-U+FDEF and any
// code point ending in FFFE or FFFF.
func isNonCharacter(r rune) bool {
	if r >= 0xFDD0 && r <= 0xFDEF {
		return true
	}
	if r&0xFFFE == 0xFFFE {
		return true
	}
	return false
}
