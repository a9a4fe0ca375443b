package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/pkg/er"
)

// RetainHandling controls whether retained messages are sent on a new
// subscription (0 = always, 1 = only if the subscription is new, 2 =
// never). v3.1.1 always behaves as 0.
type RetainHandling byte

const (
	RetainSendAlways       RetainHandling = 0
	RetainSendIfNewSub     RetainHandling = 1
	RetainNeverSend        RetainHandling = 2
)

// SubscribeFilter is one (topic filter, options) pair from a SUBSCRIBE
// payload.
type SubscribeFilter struct {
	Topic              string
	QoS                QoSLevel
	NoLocal            bool           // v5
	RetainAsPublished  bool           // v5
	RetainHandling     RetainHandling // v5
}

// SubscribePacket is a SUBSCRIBE control packet.
type SubscribePacket struct {
	PacketID   uint16
	Filters    []SubscribeFilter
	Properties Properties // SubscriptionIdentifiers[0] is the sub id, if present
}

func (sp *SubscribePacket) Type() Type { return SUBSCRIBE }

func ParseSubscribe(raw []byte, v Version) (*SubscribePacket, error) {
	sp := &SubscribePacket{}
	if len(raw) < 2 || Type(raw[0]&0xF0) != SUBSCRIBE {
		return nil, &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket, Reason: er.ReasonMalformedPacket}
	}
	if raw[0]&0x0F != 0x02 {
		return nil, &er.Err{Context: "Subscribe, Flags", Message: er.ErrInvalidSubscribeFlags, Reason: er.ReasonMalformedPacket}
	}

	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "Subscribe", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}

	if offset+2 > len(raw) {
		return nil, &er.Err{Context: "Subscribe, PacketID", Message: er.ErrMissingPacketID, Reason: er.ReasonMalformedPacket}
	}
	sp.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
	if sp.PacketID == 0 {
		return nil, &er.Err{Context: "Subscribe, PacketID", Message: er.ErrInvalidPacketID, Reason: er.ReasonMalformedPacket}
	}
	offset += 2

	if v == Version5 {
		props, n, err := DecodeProperties(raw[offset:])
		if err != nil {
			return nil, err
		}
		sp.Properties = props
		offset += n
	}

	for offset < len(raw) {
		topic, n, err := ParseString(raw[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if topic == "" {
			return nil, &er.Err{Context: "Subscribe, Filter", Message: er.ErrEmptyTopicFilter, Reason: er.ReasonTopicFilterInvalid}
		}
		if err := ValidateTopicFilter(topic); err != nil {
			return nil, err
		}

		if offset >= len(raw) {
			return nil, &er.Err{Context: "Subscribe, Options", Message: er.ErrMissingQoSByte, Reason: er.ReasonMalformedPacket}
		}
		optByte := raw[offset]
		offset++

		f := SubscribeFilter{Topic: topic}
		if v == Version5 {
			f.QoS = QoSLevel(optByte & 0x03)
			f.NoLocal = optByte&0x04 != 0
			f.RetainAsPublished = optByte&0x08 != 0
			f.RetainHandling = RetainHandling((optByte & 0x30) >> 4)
			if f.RetainHandling > RetainNeverSend {
				return nil, &er.Err{Context: "Subscribe, RetainHandling", Message: er.ErrInvalidRetainHandling, Reason: er.ReasonMalformedPacket}
			}
		} else {
			if optByte&0xFC != 0 {
				return nil, &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSReservedBits, Reason: er.ReasonMalformedPacket}
			}
			f.QoS = QoSLevel(optByte & 0x03)
		}
		if f.QoS > QoSExactlyOnce {
			return nil, &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSLevel, Reason: er.ReasonMalformedPacket}
		}

		sp.Filters = append(sp.Filters, f)
	}

	if len(sp.Filters) == 0 {
		return nil, &er.Err{Context: "Subscribe", Message: er.ErrNoTopicFilters, Reason: er.ReasonMalformedPacket}
	}
	return sp, nil
}

func (sp *SubscribePacket) Encode(v Version) []byte {
	var body []byte
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], sp.PacketID)
	body = append(body, id[:]...)
	if v == Version5 {
		body = append(body, sp.Properties.Encode()...)
	}
	for _, f := range sp.Filters {
		body = append(body, EncodeString(f.Topic)...)
		opt := byte(f.QoS)
		if v == Version5 {
			if f.NoLocal {
				opt |= 0x04
			}
			if f.RetainAsPublished {
				opt |= 0x08
			}
			opt |= byte(f.RetainHandling) << 4
		}
		body = append(body, opt)
	}
	out := []byte{byte(SUBSCRIBE) | 0x02}
	out = append(out, EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
