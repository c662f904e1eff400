package ipmigo

import (
	"fmt"
)

// An ArgumentError suggests that the arguments are wrong
type ArgumentError struct {
	Value   interface{} // Argument that has a problem
	Message string      // Error message
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s, value `%v`", e.Message, e.Value)
}

// A MessageError suggests that the received message is wrong or is not obtained
type MessageError struct {
	Cause   error  // Cause of the error
	Message string // Error message
	Detail  string // Detail of the error for debugging
}

func (e *MessageError) Error() string {
	if e.Cause == nil {
		return e.Message
	} else {
		return fmt.Sprintf("%s, cause `%v`", e.Message, e.Cause)
	}
}

func (e *MessageError) Unwrap() error { return e.Cause }

var ErrNotSupportedIPMI error = &MessageError{Message: "Not Supported IPMI"}

// A CommandError suggests that command execution has failed
type CommandError struct {
	CompletionCode CompletionCode
	Command        Command
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("Command %s(%02x) failed - %s", e.Command.Name(), e.Command.Code(), e.CompletionCode)
}

// A TransportError wraps a failure from the underlying transport (UDP socket
// or character device ioctl). Timeout reports whether the failure was a
// deadline expiry, mirroring net.Error so callers can type-switch the usual
// way.
type TransportError struct {
	Cause   error
	Message string
	timeout bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s, cause `%v`", e.Message, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
func (e *TransportError) Timeout() bool { return e.timeout }

func newTransportError(message string, cause error) *TransportError {
	timeout := false
	if te, ok := cause.(interface{ Timeout() bool }); ok {
		timeout = te.Timeout()
	}
	return &TransportError{Cause: cause, Message: message, timeout: timeout}
}

// SessionReadErrorKind classifies why a received session packet could not be
// accepted.
type SessionReadErrorKind uint8

const (
	SessionReadNotEnoughData SessionReadErrorKind = iota
	SessionReadUnsupportedAuthType
	SessionReadIncorrectPayloadLen
	SessionReadAuthCodeMismatch
	SessionReadUnknownNextHeader
	SessionReadEncryptionStateMismatch
	SessionReadInvalidConfidentialityTrailer
)

func (k SessionReadErrorKind) String() string {
	switch k {
	case SessionReadNotEnoughData:
		return "NotEnoughData"
	case SessionReadUnsupportedAuthType:
		return "UnsupportedAuthType"
	case SessionReadIncorrectPayloadLen:
		return "IncorrectPayloadLen"
	case SessionReadAuthCodeMismatch:
		return "AuthCodeMismatch"
	case SessionReadUnknownNextHeader:
		return "UnknownNextHeader"
	case SessionReadEncryptionStateMismatch:
		return "EncryptionStateMismatch"
	case SessionReadInvalidConfidentialityTrailer:
		return "InvalidConfidentialityTrailer"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// A SessionReadError suggests a received packet violates the session-layer
// framing contract (wrong length, bad trailer, unexpected encryption state).
type SessionReadError struct {
	Kind   SessionReadErrorKind
	Detail string
}

func (e *SessionReadError) Error() string {
	return fmt.Sprintf("session read error: %s - %s", e.Kind, e.Detail)
}

// An UnexpectedResponseError suggests the BMC answered a different
// NetFn/Command than the one that was sent.
type UnexpectedResponseError struct {
	SentNetFn NetFn
	SentCmd   uint8
	RecvNetFn NetFn
	RecvCmd   uint8
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response: sent NetFn=0x%02x Cmd=0x%02x, received NetFn=0x%02x Cmd=0x%02x",
		e.SentNetFn, e.SentCmd, e.RecvNetFn, e.RecvCmd)
}

// ActivationStep names the session-establishment step an ActivationError
// occurred in.
type ActivationStep uint8

const (
	ActivationSendRakpMessage1 ActivationStep = iota
	ActivationRakpMessage2Parse
	ActivationRakp4InvalidIntegrityCheck
	ActivationNoSupportedAuthenticationType
	ActivationUsernameTooLong
	ActivationPasswordTooLong
	ActivationIpmiNotSupported
	ActivationNoSupportedIPMILANVersions
)

func (s ActivationStep) String() string {
	switch s {
	case ActivationSendRakpMessage1:
		return "SendRakpMessage1"
	case ActivationRakpMessage2Parse:
		return "RakpMessage2Parse"
	case ActivationRakp4InvalidIntegrityCheck:
		return "Rakp4InvalidIntegrityCheck"
	case ActivationNoSupportedAuthenticationType:
		return "NoSupportedAuthenticationType"
	case ActivationUsernameTooLong:
		return "UsernameTooLong"
	case ActivationPasswordTooLong:
		return "PasswordTooLong"
	case ActivationIpmiNotSupported:
		return "IpmiNotSupported"
	case ActivationNoSupportedIPMILANVersions:
		return "NoSupportedIPMILANVersions"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// An ActivationError suggests that session establishment (RAKP handshake or
// the IPMI 1.5 challenge/activate exchange) failed at a specific, named step.
type ActivationError struct {
	Step   ActivationStep
	Cause  error
	Detail string
}

func (e *ActivationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session activation failed at %s: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("session activation failed at %s: %s", e.Step, e.Detail)
}

func (e *ActivationError) Unwrap() error { return e.Cause }
