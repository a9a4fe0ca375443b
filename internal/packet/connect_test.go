package packet

import "testing"

// buildConnectFrame hand-assembles a minimal CONNECT frame for the given
// protocol level, mirroring the wire layout ParseConnect expects.
func buildConnectFrame(level byte, clientID string, cleanStart bool) []byte {
	var body []byte
	body = append(body, EncodeString("MQTT")...)
	body = append(body, level)
	var flags byte
	if cleanStart {
		flags |= 0x02
	}
	body = append(body, flags)
	body = append(body, 0x00, 0x1E) // keepalive 30
	if level == byte(Version5) {
		var p Properties
		body = append(body, p.Encode()...)
	}
	body = append(body, EncodeString(clientID)...)

	out := []byte{byte(CONNECT)}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

func TestParseConnectV311Basic(t *testing.T) {
	frame := buildConnectFrame(byte(Version311), "client1", true)
	cp, err := ParseConnect(frame)
	if err != nil {
		t.Fatalf("ParseConnect: %v", err)
	}
	if cp.ClientID != "client1" {
		t.Errorf("ClientID = %q, want client1", cp.ClientID)
	}
	if !cp.CleanStart {
		t.Error("CleanStart = false, want true")
	}
	if cp.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", cp.KeepAlive)
	}
	if cp.Version() != Version311 {
		t.Errorf("Version() = %v, want Version311", cp.Version())
	}
}

func TestParseConnectEmptyClientIDGeneratesOne(t *testing.T) {
	frame := buildConnectFrame(byte(Version311), "", true)
	cp, err := ParseConnect(frame)
	if err != nil {
		t.Fatalf("ParseConnect: %v", err)
	}
	if cp.ClientID == "" {
		t.Error("expected an empty ClientID with CleanStart to be replaced with a generated id")
	}
}

func TestParseConnectEmptyClientIDWithoutCleanStartRejected(t *testing.T) {
	frame := buildConnectFrame(byte(Version311), "", false)
	if _, err := ParseConnect(frame); err == nil {
		t.Fatal("expected an error for an empty ClientID without CleanStart")
	}
}

func TestParseConnectV5WithProperties(t *testing.T) {
	frame := buildConnectFrame(byte(Version5), "client-5", true)
	cp, err := ParseConnect(frame)
	if err != nil {
		t.Fatalf("ParseConnect: %v", err)
	}
	if cp.Version() != Version5 {
		t.Errorf("Version() = %v, want Version5", cp.Version())
	}
}

func TestParseConnectRejectsUnknownProtocolName(t *testing.T) {
	var body []byte
	body = append(body, EncodeString("BOGUS")...)
	body = append(body, byte(Version311), 0x02, 0x00, 0x1E)
	body = append(body, EncodeString("c1")...)
	frame := append([]byte{byte(CONNECT)}, append(EncodeRemainingLength(len(body)), body...)...)

	if _, err := ParseConnect(frame); err == nil {
		t.Fatal("expected an error for an unrecognized protocol name")
	}
}

func TestParseConnectRejectsBadProtocolLevel(t *testing.T) {
	var body []byte
	body = append(body, EncodeString("MQTT")...)
	body = append(body, 0x09, 0x02, 0x00, 0x1E) // nonsense protocol level
	body = append(body, EncodeString("c1")...)
	frame := append([]byte{byte(CONNECT)}, append(EncodeRemainingLength(len(body)), body...)...)

	if _, err := ParseConnect(frame); err == nil {
		t.Fatal("expected an error for an unsupported protocol level")
	}
}

func TestConnAckEncodeV311(t *testing.T) {
	ack := &ConnAckPacket{SessionPresent: true, Code: 0x00}
	frame := ack.Encode(Version311)
	if Type(frame[0]&0xF0) != CONNACK {
		t.Fatalf("frame[0] = %#x, want CONNACK", frame[0])
	}
	if frame[2] != 0x01 {
		t.Errorf("session present flag = %#x, want 0x01", frame[2])
	}
	if frame[3] != 0x00 {
		t.Errorf("return code = %#x, want 0x00", frame[3])
	}
}
