package ble

import (
	"errors"
)

// ErrorKind classifies every failure the central reports.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAdapterNotReady
	KindAlreadyConnecting
	KindConnectFailed
	KindServiceNotFound
	KindCharacteristicNotFound
	KindSubscribeFailed
	KindWriteFailed
	KindTransportNotReady
	KindWriteInProgress
	KindPayloadEncodingFailed
	KindPayloadTooLarge
	KindUnknownPeer
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAdapterNotReady:
		return "adapter not ready"
	case KindAlreadyConnecting:
		return "already connecting"
	case KindConnectFailed:
		return "connect failed"
	case KindServiceNotFound:
		return "service not found"
	case KindCharacteristicNotFound:
		return "characteristic not found"
	case KindSubscribeFailed:
		return "subscribe failed"
	case KindWriteFailed:
		return "write failed"
	case KindTransportNotReady:
		return "transport not ready"
	case KindWriteInProgress:
		return "write in progress"
	case KindPayloadEncodingFailed:
		return "payload encoding failed"
	case KindPayloadTooLarge:
		return "payload too large"
	case KindUnknownPeer:
		return "unknown peer"
	case KindClosed:
		return "central closed"
	default:
		return "unknown error"
	}
}

// Error is a classified central error. Err, when set, is the underlying
// cause reported by the hardware or the encoder.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "ble: " + e.Kind.String()
	}
	return "ble: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is works against
// the kind sentinels below regardless of the cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for use with errors.Is.
var (
	ErrAdapterNotReady        = &Error{Kind: KindAdapterNotReady}
	ErrAlreadyConnecting      = &Error{Kind: KindAlreadyConnecting}
	ErrConnectFailed          = &Error{Kind: KindConnectFailed}
	ErrServiceNotFound        = &Error{Kind: KindServiceNotFound}
	ErrCharacteristicNotFound = &Error{Kind: KindCharacteristicNotFound}
	ErrSubscribeFailed        = &Error{Kind: KindSubscribeFailed}
	ErrWriteFailed            = &Error{Kind: KindWriteFailed}
	ErrTransportNotReady      = &Error{Kind: KindTransportNotReady}
	ErrWriteInProgress        = &Error{Kind: KindWriteInProgress}
	ErrPayloadEncodingFailed  = &Error{Kind: KindPayloadEncodingFailed}
	ErrPayloadTooLarge        = &Error{Kind: KindPayloadTooLarge}
	ErrUnknownPeer            = &Error{Kind: KindUnknownPeer}
	ErrClosed                 = &Error{Kind: KindClosed}
)

// ErrTimeout is the cause attached when a stage gets no hardware response.
var ErrTimeout = errors.New("no response from hardware")

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// KindOf returns the kind carried by err, or KindNone.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
