package packet

import "testing"

func TestPropertiesRoundTrip(t *testing.T) {
	p := Properties{
		PayloadFormatIndicator:      bytep(1),
		MessageExpiryInterval:       u32p(3600),
		ContentType:                 strp("text/plain"),
		ResponseTopic:               strp("reply/to"),
		CorrelationData:             []byte{0xDE, 0xAD},
		SubscriptionIdentifiers:     []uint32{1, 200000},
		SessionExpiryInterval:       u32p(7200),
		ReceiveMaximum:              u16p(64),
		TopicAliasMaximum:           u16p(10),
		TopicAlias:                  u16p(3),
		RetainAvailable:             boolp(true),
		UserProperties:              []UserProperty{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}},
		MaximumPacketSize:           u32p(65536),
		WildcardSubscriptionAvail:   boolp(false),
		SubscriptionIdentifierAvail: boolp(true),
		SharedSubscriptionAvail:     boolp(true),
	}

	encoded := p.Encode()
	decoded, n, err := DecodeProperties(encoded)
	if err != nil {
		t.Fatalf("DecodeProperties: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("consumed %d bytes, want %d", n, len(encoded))
	}

	if decoded.MessageExpiryInterval == nil || *decoded.MessageExpiryInterval != 3600 {
		t.Errorf("MessageExpiryInterval = %v", decoded.MessageExpiryInterval)
	}
	if decoded.ContentType == nil || *decoded.ContentType != "text/plain" {
		t.Errorf("ContentType = %v", decoded.ContentType)
	}
	if len(decoded.SubscriptionIdentifiers) != 2 || decoded.SubscriptionIdentifiers[1] != 200000 {
		t.Errorf("SubscriptionIdentifiers = %v", decoded.SubscriptionIdentifiers)
	}
	if decoded.TopicAlias == nil || *decoded.TopicAlias != 3 {
		t.Errorf("TopicAlias = %v", decoded.TopicAlias)
	}
	if len(decoded.UserProperties) != 2 || decoded.UserProperties[0].Key != "k1" {
		t.Errorf("UserProperties = %+v", decoded.UserProperties)
	}
	if decoded.SharedSubscriptionAvail == nil || !*decoded.SharedSubscriptionAvail {
		t.Errorf("SharedSubscriptionAvail = %v", decoded.SharedSubscriptionAvail)
	}
}

func TestPropertiesEmptyBagRoundTrip(t *testing.T) {
	var p Properties
	encoded := p.Encode()
	if len(encoded) != 1 || encoded[0] != 0 {
		t.Fatalf("empty bag should encode as a single zero length byte, got %v", encoded)
	}
	decoded, n, err := DecodeProperties(encoded)
	if err != nil {
		t.Fatalf("DecodeProperties: %v", err)
	}
	if n != 1 {
		t.Errorf("consumed %d bytes, want 1", n)
	}
	if decoded.MessageExpiryInterval != nil {
		t.Errorf("expected a zero-value Properties, got %+v", decoded)
	}
}

func TestDecodePropertiesUnknownID(t *testing.T) {
	// Length prefix 2, then an unassigned property identifier (0x7F) and a filler byte.
	raw := []byte{0x02, 0x7F, 0x00}
	if _, _, err := DecodeProperties(raw); err == nil {
		t.Fatal("expected an error for an unknown property identifier")
	}
}

func TestDecodePropertiesTruncated(t *testing.T) {
	// Claims a 4-byte SessionExpiryInterval but only provides 2.
	raw := []byte{0x03, byte(PropSessionExpiryInterval), 0x00, 0x01}
	if _, _, err := DecodeProperties(raw); err == nil {
		t.Fatal("expected an error for a truncated property value")
	}
}

func strp(s string) *string { return &s }
