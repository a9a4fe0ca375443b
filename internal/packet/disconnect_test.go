package packet

import (
	"testing"

	"github.com/pyr33x/goqtt/pkg/er"
)

func TestDisconnectV311AlwaysTwoBytes(t *testing.T) {
	d := NewDisconnect(er.ReasonSessionTakenOver)
	frame := d.Encode(Version311)
	if len(frame) != 2 || frame[1] != 0x00 {
		t.Fatalf("v3.1.1 DISCONNECT = %v, want [0xE0 0x00]", frame)
	}
}

func TestDisconnectV5RoundTripWithReason(t *testing.T) {
	d := NewDisconnect(er.ReasonSessionTakenOver)
	frame := d.Encode(Version5)
	got, err := ParseDisconnect(frame, Version5)
	if err != nil {
		t.Fatalf("ParseDisconnect: %v", err)
	}
	if got.Code != RCSessionTakenOver {
		t.Errorf("Code = %#x, want %#x", got.Code, RCSessionTakenOver)
	}
}

func TestDisconnectV5SuccessOmitsReasonByte(t *testing.T) {
	d := NewDisconnect(er.ReasonNone)
	frame := d.Encode(Version5)
	if len(frame) != 2 {
		t.Fatalf("expected a minimal 2-byte frame for a reasonless success DISCONNECT, got %v", frame)
	}
	got, err := ParseDisconnect(frame, Version5)
	if err != nil {
		t.Fatalf("ParseDisconnect: %v", err)
	}
	if got.Code != RCSuccess {
		t.Errorf("Code = %#x, want RCSuccess", got.Code)
	}
}
