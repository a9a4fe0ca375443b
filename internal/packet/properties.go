package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/pkg/er"
)

// PropertyID is an MQTT 5 property identifier, as enumerated in the OASIS
// spec. Only the subset this broker reads or writes is named here.
type PropertyID byte

const (
	PropPayloadFormatIndicator       PropertyID = 0x01
	PropMessageExpiryInterval        PropertyID = 0x02
	PropContentType                  PropertyID = 0x03
	PropResponseTopic                PropertyID = 0x08
	PropCorrelationData              PropertyID = 0x09
	PropSubscriptionIdentifier       PropertyID = 0x0B
	PropSessionExpiryInterval        PropertyID = 0x11
	PropAssignedClientIdentifier     PropertyID = 0x12
	PropServerKeepAlive              PropertyID = 0x13
	PropAuthenticationMethod         PropertyID = 0x15
	PropAuthenticationData           PropertyID = 0x16
	PropRequestProblemInformation    PropertyID = 0x17
	PropWillDelayInterval            PropertyID = 0x18
	PropRequestResponseInformation   PropertyID = 0x19
	PropResponseInformation          PropertyID = 0x1A
	PropServerReference              PropertyID = 0x1C
	PropReasonString                 PropertyID = 0x1F
	PropReceiveMaximum               PropertyID = 0x21
	PropTopicAliasMaximum            PropertyID = 0x22
	PropTopicAlias                   PropertyID = 0x23
	PropMaximumQoS                   PropertyID = 0x24
	PropRetainAvailable              PropertyID = 0x25
	PropUserProperty                 PropertyID = 0x26
	PropMaximumPacketSize            PropertyID = 0x27
	PropWildcardSubscriptionAvail    PropertyID = 0x28
	PropSubscriptionIdentifierAvail  PropertyID = 0x29
	PropSharedSubscriptionAvail      PropertyID = 0x2A
)

// UserProperty is a v5 name/value pair; unlike most properties it may
// appear any number of times in a single properties bag.
type UserProperty struct {
	Key   string
	Value string
}

// Properties is the v5 properties bag. It is the zero value (all nils,
// empty slices) for a v3.1.1 packet, which never encodes or decodes one.
type Properties struct {
	PayloadFormatIndicator      *byte
	MessageExpiryInterval       *uint32
	ContentType                 *string
	ResponseTopic               *string
	CorrelationData             []byte
	SubscriptionIdentifiers     []uint32
	SessionExpiryInterval       *uint32
	AssignedClientIdentifier    *string
	ServerKeepAlive             *uint16
	AuthenticationMethod        *string
	AuthenticationData          []byte
	RequestProblemInformation   *byte
	WillDelayInterval           *uint32
	RequestResponseInformation  *byte
	ResponseInformation         *string
	ServerReference             *string
	ReasonString                *string
	ReceiveMaximum              *uint16
	TopicAliasMaximum           *uint16
	TopicAlias                 *uint16
	MaximumQoS                  *byte
	RetainAvailable             *bool
	UserProperties              []UserProperty
	MaximumPacketSize           *uint32
	WildcardSubscriptionAvail   *bool
	SubscriptionIdentifierAvail *bool
	SharedSubscriptionAvail     *bool
}

func u32p(v uint32) *uint32 { return &v }
func u16p(v uint16) *uint16 { return &v }
func bytep(v byte) *byte    { return &v }
func boolp(v bool) *bool    { return &v }

// Encode serializes the properties bag as a variable-byte-int length
// prefix followed by the encoded property list, per MQTT 5 §2.2.2.
func (p *Properties) Encode() []byte {
	var body []byte

	write := func(id PropertyID, val []byte) {
		body = append(body, EncodeRemainingLength(int(id))...)
		body = append(body, val...)
	}

	if p.PayloadFormatIndicator != nil {
		write(PropPayloadFormatIndicator, []byte{*p.PayloadFormatIndicator})
	}
	if p.MessageExpiryInterval != nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], *p.MessageExpiryInterval)
		write(PropMessageExpiryInterval, b[:])
	}
	if p.ContentType != nil {
		write(PropContentType, EncodeString(*p.ContentType))
	}
	if p.ResponseTopic != nil {
		write(PropResponseTopic, EncodeString(*p.ResponseTopic))
	}
	if p.CorrelationData != nil {
		write(PropCorrelationData, EncodeBinary(p.CorrelationData))
	}
	for _, sid := range p.SubscriptionIdentifiers {
		write(PropSubscriptionIdentifier, EncodeRemainingLength(int(sid)))
	}
	if p.SessionExpiryInterval != nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], *p.SessionExpiryInterval)
		write(PropSessionExpiryInterval, b[:])
	}
	if p.AssignedClientIdentifier != nil {
		write(PropAssignedClientIdentifier, EncodeString(*p.AssignedClientIdentifier))
	}
	if p.ServerKeepAlive != nil {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], *p.ServerKeepAlive)
		write(PropServerKeepAlive, b[:])
	}
	if p.AuthenticationMethod != nil {
		write(PropAuthenticationMethod, EncodeString(*p.AuthenticationMethod))
	}
	if p.AuthenticationData != nil {
		write(PropAuthenticationData, EncodeBinary(p.AuthenticationData))
	}
	if p.WillDelayInterval != nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], *p.WillDelayInterval)
		write(PropWillDelayInterval, b[:])
	}
	if p.ServerReference != nil {
		write(PropServerReference, EncodeString(*p.ServerReference))
	}
	if p.ReasonString != nil {
		write(PropReasonString, EncodeString(*p.ReasonString))
	}
	if p.ReceiveMaximum != nil {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], *p.ReceiveMaximum)
		write(PropReceiveMaximum, b[:])
	}
	if p.TopicAliasMaximum != nil {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], *p.TopicAliasMaximum)
		write(PropTopicAliasMaximum, b[:])
	}
	if p.TopicAlias != nil {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], *p.TopicAlias)
		write(PropTopicAlias, b[:])
	}
	if p.MaximumQoS != nil {
		write(PropMaximumQoS, []byte{*p.MaximumQoS})
	}
	if p.RetainAvailable != nil {
		write(PropRetainAvailable, []byte{boolByte(*p.RetainAvailable)})
	}
	for _, up := range p.UserProperties {
		write(PropUserProperty, append(EncodeString(up.Key), EncodeString(up.Value)...))
	}
	if p.MaximumPacketSize != nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], *p.MaximumPacketSize)
		write(PropMaximumPacketSize, b[:])
	}
	if p.WildcardSubscriptionAvail != nil {
		write(PropWildcardSubscriptionAvail, []byte{boolByte(*p.WildcardSubscriptionAvail)})
	}
	if p.SubscriptionIdentifierAvail != nil {
		write(PropSubscriptionIdentifierAvail, []byte{boolByte(*p.SubscriptionIdentifierAvail)})
	}
	if p.SharedSubscriptionAvail != nil {
		write(PropSharedSubscriptionAvail, []byte{boolByte(*p.SharedSubscriptionAvail)})
	}

	out := EncodeRemainingLength(len(body))
	return append(out, body...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// DecodeProperties reads a properties bag (length prefix + property list)
// from the start of data, returning the bag and the total bytes consumed.
func DecodeProperties(data []byte) (Properties, int, error) {
	var p Properties

	length, lenBytes, err := ParseRemainingLength(data)
	if err != nil {
		return p, 0, err
	}
	offset := lenBytes
	end := offset + length
	if end > len(data) {
		return p, 0, &er.Err{Context: "Properties", Message: er.ErrInvalidPropertyLength, Reason: er.ReasonMalformedPacket}
	}

	for offset < end {
		idVal, n, err := ParseRemainingLength(data[offset:end])
		if err != nil {
			return p, 0, err
		}
		offset += n
		id := PropertyID(idVal)

		switch id {
		case PropPayloadFormatIndicator, PropRequestProblemInformation, PropRequestResponseInformation, PropMaximumQoS:
			if offset >= end {
				return p, 0, shortProp()
			}
			v := data[offset]
			offset++
			switch id {
			case PropPayloadFormatIndicator:
				p.PayloadFormatIndicator = bytep(v)
			case PropRequestProblemInformation:
				p.RequestProblemInformation = bytep(v)
			case PropRequestResponseInformation:
				p.RequestResponseInformation = bytep(v)
			case PropMaximumQoS:
				p.MaximumQoS = bytep(v)
			}
		case PropRetainAvailable, PropWildcardSubscriptionAvail, PropSubscriptionIdentifierAvail, PropSharedSubscriptionAvail:
			if offset >= end {
				return p, 0, shortProp()
			}
			v := data[offset] != 0
			offset++
			switch id {
			case PropRetainAvailable:
				p.RetainAvailable = boolp(v)
			case PropWildcardSubscriptionAvail:
				p.WildcardSubscriptionAvail = boolp(v)
			case PropSubscriptionIdentifierAvail:
				p.SubscriptionIdentifierAvail = boolp(v)
			case PropSharedSubscriptionAvail:
				p.SharedSubscriptionAvail = boolp(v)
			}
		case PropServerKeepAlive, PropReceiveMaximum, PropTopicAliasMaximum, PropTopicAlias:
			if offset+2 > end {
				return p, 0, shortProp()
			}
			v := binary.BigEndian.Uint16(data[offset : offset+2])
			offset += 2
			switch id {
			case PropServerKeepAlive:
				p.ServerKeepAlive = u16p(v)
			case PropReceiveMaximum:
				p.ReceiveMaximum = u16p(v)
			case PropTopicAliasMaximum:
				p.TopicAliasMaximum = u16p(v)
			case PropTopicAlias:
				p.TopicAlias = u16p(v)
			}
		case PropMessageExpiryInterval, PropSessionExpiryInterval, PropWillDelayInterval, PropMaximumPacketSize:
			if offset+4 > end {
				return p, 0, shortProp()
			}
			v := binary.BigEndian.Uint32(data[offset : offset+4])
			offset += 4
			switch id {
			case PropMessageExpiryInterval:
				p.MessageExpiryInterval = u32p(v)
			case PropSessionExpiryInterval:
				p.SessionExpiryInterval = u32p(v)
			case PropWillDelayInterval:
				p.WillDelayInterval = u32p(v)
			case PropMaximumPacketSize:
				p.MaximumPacketSize = u32p(v)
			}
		case PropSubscriptionIdentifier:
			v, n, err := ParseRemainingLength(data[offset:end])
			if err != nil {
				return p, 0, err
			}
			offset += n
			p.SubscriptionIdentifiers = append(p.SubscriptionIdentifiers, uint32(v))
		case PropContentType, PropResponseTopic, PropAssignedClientIdentifier, PropAuthenticationMethod,
			PropServerReference, PropReasonString:
			s, n, err := ParseString(data[offset:end])
			if err != nil {
				return p, 0, err
			}
			offset += n
			switch id {
			case PropContentType:
				p.ContentType = &s
			case PropResponseTopic:
				p.ResponseTopic = &s
			case PropAssignedClientIdentifier:
				p.AssignedClientIdentifier = &s
			case PropAuthenticationMethod:
				p.AuthenticationMethod = &s
			case PropServerReference:
				p.ServerReference = &s
			case PropReasonString:
				p.ReasonString = &s
			}
		case PropCorrelationData, PropAuthenticationData:
			b, n, err := ParseBinary(data[offset:end])
			if err != nil {
				return p, 0, err
			}
			offset += n
			switch id {
			case PropCorrelationData:
				p.CorrelationData = b
			case PropAuthenticationData:
				p.AuthenticationData = b
			}
		case PropUserProperty:
			k, n1, err := ParseString(data[offset:end])
			if err != nil {
				return p, 0, err
			}
			offset += n1
			v, n2, err := ParseString(data[offset:end])
			if err != nil {
				return p, 0, err
			}
			offset += n2
			p.UserProperties = append(p.UserProperties, UserProperty{Key: k, Value: v})
		default:
			return p, 0, &er.Err{Context: "Properties", Message: er.ErrInvalidPropertyID, Reason: er.ReasonMalformedPacket}
		}
	}

	return p, offset, nil
}

func shortProp() error {
	return &er.Err{Context: "Properties", Message: er.ErrShortBuffer, Reason: er.ReasonMalformedPacket}
}
