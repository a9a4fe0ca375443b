package packet

import "github.com/pyr33x/goqtt/pkg/er"

// v3.1.1 CONNACK return codes.
const (
	ConnectAccepted                = 0x00
	ConnectUnacceptableProtocol    = 0x01
	ConnectIdentifierRejected      = 0x02
	ConnectServerUnavailable       = 0x03
	ConnectBadUsernameOrPassword   = 0x04
	ConnectNotAuthorized           = 0x05
)

// v5 reason codes shared across CONNACK/PUBACK/PUBREC/PUBREL/PUBCOMP/
// SUBACK/UNSUBACK/DISCONNECT (not every code is legal on every packet
// type; callers pick from the reason enum for the packet they build).
const (
	RCSuccess                     byte = 0x00
	RCNormalDisconnection         byte = 0x00
	RCGrantedQoS0                 byte = 0x00
	RCGrantedQoS1                 byte = 0x01
	RCGrantedQoS2                 byte = 0x02
	RCDisconnectWithWillMessage   byte = 0x04
	RCNoMatchingSubscribers       byte = 0x10
	RCNoSubscriptionExisted       byte = 0x11
	RCUnspecifiedError            byte = 0x80
	RCMalformedPacket             byte = 0x81
	RCProtocolError               byte = 0x82
	RCImplementationSpecificError byte = 0x83
	RCUnsupportedProtocolVersion  byte = 0x84
	RCClientIdentifierNotValid    byte = 0x85
	RCBadUsernameOrPassword       byte = 0x86
	RCNotAuthorized               byte = 0x87
	RCServerUnavailable           byte = 0x88
	RCServerBusy                  byte = 0x89
	RCBanned                      byte = 0x8A
	RCServerShuttingDown          byte = 0x8B
	RCKeepAliveTimeout            byte = 0x8D
	RCSessionTakenOver            byte = 0x8E
	RCTopicFilterInvalid          byte = 0x8F
	RCTopicNameInvalid            byte = 0x90
	RCPacketIdentifierInUse       byte = 0x91
	RCPacketIdentifierNotFound    byte = 0x92
	RCReceiveMaximumExceeded      byte = 0x93
	RCTopicAliasInvalid           byte = 0x94
	RCPacketTooLarge              byte = 0x95
	RCMessageRateTooHigh          byte = 0x96
	RCQuotaExceeded               byte = 0x97
	RCPayloadFormatInvalid        byte = 0x99
	RCRetainNotSupported          byte = 0x9A
	RCQoSNotSupported             byte = 0x9B
)

// reasonToRC maps a broker-internal er.Reason to the v5 reason byte.
var reasonToRC = map[er.Reason]byte{
	er.ReasonNone:                         RCSuccess,
	er.ReasonMalformedPacket:              RCMalformedPacket,
	er.ReasonProtocolError:                RCProtocolError,
	er.ReasonUnsupportedProtocolVersion:   RCUnsupportedProtocolVersion,
	er.ReasonClientIdentifierNotValid:     RCClientIdentifierNotValid,
	er.ReasonBadUsernameOrPassword:        RCBadUsernameOrPassword,
	er.ReasonNotAuthorized:                RCNotAuthorized,
	er.ReasonServerUnavailable:            RCServerUnavailable,
	er.ReasonServerBusy:                   RCServerBusy,
	er.ReasonBanned:                       RCBanned,
	er.ReasonServerShuttingDown:           RCServerShuttingDown,
	er.ReasonKeepAliveTimeout:             RCKeepAliveTimeout,
	er.ReasonSessionTakenOver:             RCSessionTakenOver,
	er.ReasonTopicFilterInvalid:           RCTopicFilterInvalid,
	er.ReasonTopicNameInvalid:             RCTopicNameInvalid,
	er.ReasonPacketIdentifierInUse:        RCPacketIdentifierInUse,
	er.ReasonPacketIdentifierNotFound:     RCPacketIdentifierNotFound,
	er.ReasonReceiveMaximumExceeded:       RCReceiveMaximumExceeded,
	er.ReasonTopicAliasInvalid:            RCTopicAliasInvalid,
	er.ReasonPacketTooLarge:               RCPacketTooLarge,
	er.ReasonMessageRateTooHigh:           RCMessageRateTooHigh,
	er.ReasonQuotaExceeded:                RCQuotaExceeded,
	er.ReasonPayloadFormatInvalid:         RCPayloadFormatInvalid,
	er.ReasonRetainNotSupported:           RCRetainNotSupported,
	er.ReasonQoSNotSupported:              RCQoSNotSupported,
	er.ReasonUnspecifiedError:             RCUnspecifiedError,
	er.ReasonNormalDisconnection:          RCNormalDisconnection,
}

// ReasonCode translates a broker Reason to the v5 wire byte.
func ReasonCode(r er.Reason) byte {
	if b, ok := reasonToRC[r]; ok {
		return b
	}
	return RCUnspecifiedError
}

// ConnAckCode translates a broker Reason to either a v3.1.1 CONNACK return
// code or a v5 CONNACK reason code, depending on version.
func ConnAckCode(v Version, r er.Reason) byte {
	if v == Version5 {
		return ReasonCode(r)
	}
	switch r {
	case er.ReasonNone:
		return ConnectAccepted
	case er.ReasonUnsupportedProtocolVersion:
		return ConnectUnacceptableProtocol
	case er.ReasonClientIdentifierNotValid:
		return ConnectIdentifierRejected
	case er.ReasonServerUnavailable, er.ReasonServerBusy, er.ReasonServerShuttingDown:
		return ConnectServerUnavailable
	case er.ReasonBadUsernameOrPassword:
		return ConnectBadUsernameOrPassword
	case er.ReasonNotAuthorized, er.ReasonBanned:
		return ConnectNotAuthorized
	default:
		return ConnectServerUnavailable
	}
}

// SubAckCode translates a broker Reason (or a granted QoS on success) to a
// v3.1.1 return code or v5 reason code for one SUBACK payload entry.
func SubAckCode(v Version, r er.Reason, granted QoSLevel) byte {
	if r != er.ReasonNone {
		if v == Version5 {
			return ReasonCode(r)
		}
		return 0x80
	}
	switch granted {
	case QoSAtMostOnce:
		return RCGrantedQoS0
	case QoSAtLeastOnce:
		return RCGrantedQoS1
	case QoSExactlyOnce:
		return RCGrantedQoS2
	default:
		return 0x80
	}
}
