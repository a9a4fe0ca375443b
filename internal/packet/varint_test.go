package packet

import (
	"bytes"
	"testing"
)

func TestRemainingLengthRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, MaxPayloadSize}

	for _, length := range lengths {
		encoded := EncodeRemainingLength(length)
		got, n, err := ParseRemainingLength(encoded)
		if err != nil {
			t.Fatalf("ParseRemainingLength(%v) error = %v", encoded, err)
		}
		if got != length {
			t.Errorf("round trip %d -> %v -> %d", length, encoded, got)
		}
		if n != len(encoded) {
			t.Errorf("consumed %d bytes, encoded is %d bytes", n, len(encoded))
		}
	}
}

func TestEncodeRemainingLengthKnownBytes(t *testing.T) {
	tests := []struct {
		length int
		want   []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tt := range tests {
		got := EncodeRemainingLength(tt.length)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeRemainingLength(%d) = %v, want %v", tt.length, got, tt.want)
		}
	}
}

func TestParseRemainingLengthShortBuffer(t *testing.T) {
	_, _, err := ParseRemainingLength([]byte{0x80})
	if err == nil {
		t.Fatal("expected an error for a truncated variable byte integer")
	}
}

func TestParseRemainingLengthTooLong(t *testing.T) {
	_, _, err := ParseRemainingLength([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F})
	if err == nil {
		t.Fatal("expected an error for a 5-byte variable byte integer")
	}
}
