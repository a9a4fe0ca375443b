package packet

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/pyr33x/goqtt/pkg/er"
)

// Will describes a client's last-will message, captured at CONNECT.
type Will struct {
	Topic      string
	Message    []byte
	QoS        QoSLevel
	Retain     bool
	Properties Properties // v5: will_delay_interval, message_expiry_interval, etc.
}

// ConnectPacket is the CONNECT control packet, generalized over MQTT
// 3.1.1 and 5.0. Properties is the zero value for a 3.1.1 connection.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel byte

	UsernameFlag bool
	PasswordFlag bool
	WillRetain   bool
	WillQoS      QoSLevel
	WillFlag     bool
	CleanStart   bool

	KeepAlive uint16

	ClientID string
	Will     *Will
	Username *string
	Password []byte

	Properties Properties
}

// Version reports the negotiated protocol level.
func (cp *ConnectPacket) Version() Version { return Version(cp.ProtocolLevel) }

func (cp *ConnectPacket) Type() Type { return CONNECT }

// ParseConnect decodes a CONNECT control packet from a full frame
// (fixed header included). The protocol level is read from the packet
// itself; the caller is expected to reject it via ConnAckCode if
// unsupported.
func ParseConnect(raw []byte) (*ConnectPacket, error) {
	cp := &ConnectPacket{}

	if len(raw) < 10 || Type(raw[0]&0xF0) != CONNECT {
		return nil, &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket, Reason: er.ReasonMalformedPacket}
	}

	remLen, lenBytes, err := ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenBytes
	if offset+remLen != len(raw) {
		return nil, &er.Err{Context: "Connect", Message: er.ErrInvalidPacketLength, Reason: er.ReasonMalformedPacket}
	}

	name, n, err := ParseString(raw[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	cp.ProtocolName = name
	if cp.ProtocolName != "MQTT" && cp.ProtocolName != "MQIsdp" {
		return nil, &er.Err{Context: "Connect, ProtocolName", Message: er.ErrUnsupportedProtocolName, Reason: er.ReasonUnsupportedProtocolVersion}
	}

	if offset >= len(raw) {
		return nil, &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket, Reason: er.ReasonMalformedPacket}
	}
	cp.ProtocolLevel = raw[offset]
	offset++
	if cp.ProtocolLevel != byte(Version311) && cp.ProtocolLevel != byte(Version5) {
		return nil, &er.Err{Context: "Connect, ProtocolLevel", Message: er.ErrUnsupportedProtocolLevel, Reason: er.ReasonUnsupportedProtocolVersion}
	}

	if offset >= len(raw) {
		return nil, &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket, Reason: er.ReasonMalformedPacket}
	}
	flags := raw[offset]
	offset++

	cp.UsernameFlag = flags&0x80 != 0
	cp.PasswordFlag = flags&0x40 != 0
	cp.WillRetain = flags&0x20 != 0
	cp.WillQoS = QoSLevel((flags & 0x18) >> 3)
	cp.WillFlag = flags&0x04 != 0
	cp.CleanStart = flags&0x02 != 0

	if cp.WillFlag && cp.WillQoS > QoSExactlyOnce {
		return nil, &er.Err{Context: "Connect, WillQoS", Message: er.ErrInvalidWillQos, Reason: er.ReasonMalformedPacket}
	}

	if offset+2 > len(raw) {
		return nil, &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket, Reason: er.ReasonMalformedPacket}
	}
	cp.KeepAlive = binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2

	if cp.ProtocolLevel == byte(Version5) {
		props, n, err := DecodeProperties(raw[offset:])
		if err != nil {
			return nil, err
		}
		cp.Properties = props
		offset += n
	}

	clientID, n, err := ParseString(raw[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	cp.ClientID = clientID

	if cErr := cp.validateClientID(); cErr != nil {
		e, _ := er.AsErr(cErr)
		switch {
		case errors.Is(e.Message, er.ErrEmptyClientID):
			cp.ClientID = uuid.NewString()
		case errors.Is(e.Message, er.ErrEmptyAndCleanSessionClientID):
			return nil, &er.Err{Context: "Connect, ClientID", Message: er.ErrIdentifierRejected, Reason: er.ReasonClientIdentifierNotValid}
		default:
			return nil, cErr
		}
	}

	if cp.WillFlag {
		will := &Will{QoS: cp.WillQoS, Retain: cp.WillRetain}
		if cp.ProtocolLevel == byte(Version5) {
			props, n, err := DecodeProperties(raw[offset:])
			if err != nil {
				return nil, err
			}
			will.Properties = props
			offset += n
		}
		topic, n, err := ParseString(raw[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if err := ValidateTopicName(topic); err != nil {
			return nil, err
		}
		will.Topic = topic

		payload, n, err := ParseBinary(raw[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		will.Message = payload
		cp.Will = will
	}

	if !cp.UsernameFlag && cp.PasswordFlag {
		return nil, &er.Err{Context: "Connect, Flags", Message: er.ErrPasswordWithoutUsername, Reason: er.ReasonMalformedPacket}
	}

	if cp.UsernameFlag {
		u, n, err := ParseString(raw[offset:])
		if err != nil {
			return nil, &er.Err{Context: "Connect, Username", Message: er.ErrMalformedUsernameField, Reason: er.ReasonBadUsernameOrPassword}
		}
		offset += n
		cp.Username = &u
	}

	if cp.PasswordFlag {
		pw, n, err := ParseBinary(raw[offset:])
		if err != nil {
			return nil, &er.Err{Context: "Connect, Password", Message: er.ErrMalformedPasswordField, Reason: er.ReasonBadUsernameOrPassword}
		}
		offset += n
		cp.Password = pw
	}

	return cp, nil
}

func (cp *ConnectPacket) validateClientID() error {
	if len(cp.ClientID) == 0 {
		if !cp.CleanStart {
			return &er.Err{Context: "Connect, ClientID", Message: er.ErrEmptyAndCleanSessionClientID}
		}
		return &er.Err{Context: "Connect, ClientID", Message: er.ErrEmptyClientID}
	}
	// MQTT 5 lifts the 23-byte/alnum-only restriction; only 3.1.1 enforces it.
	if cp.ProtocolLevel == byte(Version311) {
		if len(cp.ClientID) > 23 {
			return &er.Err{Context: "Connect, ClientID", Message: er.ErrClientIDLengthExceed}
		}
		const allowed = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
		for _, r := range cp.ClientID {
			if !strings.ContainsRune(allowed, r) {
				return &er.Err{Context: "Connect, ClientID", Message: er.ErrInvalidCharsClientID}
			}
		}
	}
	return nil
}

// Encode is unused for CONNECT (the broker never originates one) but is
// provided to satisfy the Packet interface.
func (cp *ConnectPacket) Encode(v Version) []byte { return nil }
