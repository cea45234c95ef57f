package session

import "fmt"

// ResultCode is the outcome of a connect attempt as reported by the
// protocol engine. Values 0-5 mirror the MQTT 3.1.1 CONNACK return codes.
type ResultCode byte

// Connect result codes.
const (
	Accepted                ResultCode = 0x00
	ProtocolVersionRejected ResultCode = 0x01
	ClientIDRejected        ResultCode = 0x02
	ServerUnavailable       ResultCode = 0x03
	BadCredentials          ResultCode = 0x04
	NotAuthorized           ResultCode = 0x05

	// TransportFailure is reported when no CONNACK was received because the
	// network connection could not be established.
	TransportFailure ResultCode = 0xFE
)

// FailureClass groups rejection reasons by what the caller should do next.
type FailureClass uint8

const (
	// ClassNone is the class of an accepted connect.
	ClassNone FailureClass = iota

	// ClassConfiguration means the caller must fix its settings before retrying.
	ClassConfiguration

	// ClassTransient means the same settings may succeed on a later attempt.
	ClassTransient

	// ClassUnspecified means the broker gave no usable reason.
	ClassUnspecified
)

// Class reports how a result code should be handled.
func (c ResultCode) Class() FailureClass {
	switch c {
	case Accepted:
		return ClassNone
	case ProtocolVersionRejected, ClientIDRejected, BadCredentials, NotAuthorized:
		return ClassConfiguration
	case ServerUnavailable, TransportFailure:
		return ClassTransient
	default:
		return ClassUnspecified
	}
}

// String returns a short description of the result code.
func (c ResultCode) String() string {
	switch c {
	case Accepted:
		return "accepted"
	case ProtocolVersionRejected:
		return "unacceptable protocol version"
	case ClientIDRejected:
		return "client identifier rejected"
	case ServerUnavailable:
		return "server unavailable"
	case BadCredentials:
		return "bad username or password"
	case NotAuthorized:
		return "not authorised"
	case TransportFailure:
		return "network connection failed"
	default:
		return fmt.Sprintf("unspecified (0x%02x)", byte(c))
	}
}

// guidance returns the operator hint logged alongside a rejection.
func (c ResultCode) guidance() string {
	switch c.Class() {
	case ClassNone:
		return ""
	case ClassConfiguration:
		return "check the session configuration and reconnect"
	case ClassTransient:
		return "the broker may be restarting; retrying with the same settings may succeed"
	default:
		return "reason not provided, check with the broker administrator"
	}
}
