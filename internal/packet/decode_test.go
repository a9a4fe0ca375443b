package packet

import (
	"bufio"
	"bytes"
	"testing"
)

func TestReadFrameThenDecodeSubscribe(t *testing.T) {
	sp := &SubscribePacket{PacketID: 3, Filters: []SubscribeFilter{{Topic: "a/b", QoS: QoSAtLeastOnce}}}
	encoded := sp.Encode(Version311)

	r := bufio.NewReader(bytes.NewReader(encoded))
	raw, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(raw, encoded) {
		t.Fatalf("ReadFrame returned %v, want %v", raw, encoded)
	}

	p, err := Decode(Version311, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := p.(*SubscribePacket)
	if !ok {
		t.Fatalf("Decode returned %T, want *SubscribePacket", p)
	}
	if got.PacketID != 3 {
		t.Errorf("PacketID = %d, want 3", got.PacketID)
	}
}

func TestReadFrameMultipleFramesOnOneStream(t *testing.T) {
	ping := (&PingReqPacket{}).Encode(Version311)
	ack := NewAck(PUBACK, 1).Encode(Version311)

	r := bufio.NewReader(bytes.NewReader(append(append([]byte(nil), ping...), ack...)))

	first, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame (first): %v", err)
	}
	if Type(first[0]&0xF0) != PINGREQ {
		t.Fatalf("first frame type = %v, want PINGREQ", Type(first[0]&0xF0))
	}

	second, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame (second): %v", err)
	}
	if Type(second[0]&0xF0) != PUBACK {
		t.Fatalf("second frame type = %v, want PUBACK", Type(second[0]&0xF0))
	}
}

func TestDecodeRejectsEmptyBuffer(t *testing.T) {
	if _, err := Decode(Version311, nil); err == nil {
		t.Fatal("expected an error decoding an empty buffer")
	}
}
