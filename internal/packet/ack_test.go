package packet

import (
	"testing"

	"github.com/pyr33x/goqtt/pkg/er"
)

func TestAckRoundTripPubAckV311(t *testing.T) {
	a := NewAck(PUBACK, 55)
	frame := a.Encode(Version311)
	got, err := ParseAck(frame, Version311)
	if err != nil {
		t.Fatalf("ParseAck: %v", err)
	}
	if got.Kind != PUBACK || got.PacketID != 55 {
		t.Errorf("got %+v", got)
	}
}

func TestAckRoundTripPubRelSetsReservedBits(t *testing.T) {
	a := NewAck(PUBREL, 1)
	frame := a.Encode(Version311)
	if frame[0]&0x0F != 0x02 {
		t.Fatalf("PUBREL fixed header = %#x, want reserved bits 0010", frame[0])
	}
	got, err := ParseAck(frame, Version311)
	if err != nil {
		t.Fatalf("ParseAck: %v", err)
	}
	if got.Kind != PUBREL {
		t.Errorf("Kind = %v, want PUBREL", got.Kind)
	}
}

func TestAckRoundTripV5WithReason(t *testing.T) {
	a := NewAckReason(PUBREC, 9, er.ReasonPacketIdentifierInUse)
	frame := a.Encode(Version5)
	got, err := ParseAck(frame, Version5)
	if err != nil {
		t.Fatalf("ParseAck: %v", err)
	}
	if got.Code != RCPacketIdentifierInUse {
		t.Errorf("Code = %#x, want %#x", got.Code, RCPacketIdentifierInUse)
	}
}

func TestAckV5SuccessOmitsReasonByte(t *testing.T) {
	a := NewAck(PUBCOMP, 9)
	frame := a.Encode(Version5)
	if len(frame) != 4 {
		t.Fatalf("expected a minimal 4-byte frame for a reasonless success ack, got %v", frame)
	}
}
