// Package status translates native usbmuxd/lockdownd failure codes into a
// closed, typed taxonomy. Raw codes never cross this boundary: every call
// site converts immediately, and codes this package has never seen map to
// Unknown with the original value preserved.
package status

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// Code is the closed set of failure kinds surfaced by this module.
type Code int

const (
	OK Code = iota
	InvalidArgument
	NoDevice
	NotEnoughData
	BadHeader
	SSLError
	NotEnoughSpace
	Timeout
	MuxerError
	SSLNeeded
	PairingFailed
	InvalidConfiguration
	TrustFailed
	AlreadyPaired
	DeviceNotFound
	ConnectionClosed
	UnsupportedType
	StructureError
	Unknown
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid argument"
	case NoDevice:
		return "no device"
	case NotEnoughData:
		return "not enough data"
	case BadHeader:
		return "bad header"
	case SSLError:
		return "ssl error"
	case NotEnoughSpace:
		return "not enough space"
	case Timeout:
		return "timeout"
	case MuxerError:
		return "muxer error"
	case SSLNeeded:
		return "ssl needed"
	case PairingFailed:
		return "pairing failed"
	case InvalidConfiguration:
		return "invalid configuration"
	case TrustFailed:
		return "trust failed"
	case AlreadyPaired:
		return "already paired"
	case DeviceNotFound:
		return "device not found"
	case ConnectionClosed:
		return "connection closed"
	case UnsupportedType:
		return "unsupported type"
	case StructureError:
		return "structure error"
	case Unknown:
		return "unknown"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a typed failure: the taxonomy code plus the operation that failed
// and whatever contextual detail the call site had. Native preserves the raw
// native value for Unknown codes.
type Error struct {
	Code    Code
	Op      string
	Service string
	Detail  string
	Native  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Code.String()
	if e.Code == Unknown {
		msg = fmt.Sprintf("%s (native code %d)", msg, e.Native)
	}
	if e.Service != "" {
		msg += fmt.Sprintf(" (service %s)", e.Service)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds a typed error for op.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap attaches a cause to a typed error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the taxonomy code from err, or Unknown when err is not one
// of ours.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Native integer codes as reported by the device-communication layer. The
// values mirror the daemon's C API so records written by other stacks stay
// interpretable.
const (
	nativeSuccess       = 0
	nativeInvalidArg    = -1
	nativeUnknownError  = -2
	nativeNoDevice      = -3
	nativeNotEnoughData = -4
	nativeBadHeader     = -5
	nativeSSLError      = -6
	nativeTimeout       = -7
	nativeMuxError      = -8
	nativeSSLNeeded     = -9
	nativePairingFailed = -10
	nativeInvalidConf   = -11
	nativeTrustFailed   = -12
	nativeAlreadyPaired = -13
	nativeNotFound      = -14
	nativeNoSpace       = -15
)

// Translate maps a native integer status to a typed error. A zero code is
// success and yields nil. Codes outside the known set yield Unknown with the
// raw value preserved, so a newer daemon never crashes an older client.
func Translate(native int, op string) error {
	var code Code
	switch native {
	case nativeSuccess:
		return nil
	case nativeInvalidArg:
		code = InvalidArgument
	case nativeNoDevice:
		code = NoDevice
	case nativeNotEnoughData:
		code = NotEnoughData
	case nativeBadHeader:
		code = BadHeader
	case nativeSSLError:
		code = SSLError
	case nativeTimeout:
		code = Timeout
	case nativeMuxError:
		code = MuxerError
	case nativeSSLNeeded:
		code = SSLNeeded
	case nativePairingFailed:
		code = PairingFailed
	case nativeInvalidConf:
		code = InvalidConfiguration
	case nativeTrustFailed:
		code = TrustFailed
	case nativeAlreadyPaired:
		code = AlreadyPaired
	case nativeNotFound:
		code = DeviceNotFound
	case nativeNoSpace:
		code = NotEnoughSpace
	default:
		return &Error{Code: Unknown, Op: op, Native: native}
	}
	return &Error{Code: code, Op: op, Native: native}
}

// usbmuxd reply numbers (Result message "Number" field).
const (
	MuxReplyOK                = 0
	MuxReplyBadCommand        = 1
	MuxReplyBadDevice         = 2
	MuxReplyConnectionRefused = 3
	MuxReplyBadVersion        = 6
)

// FromMuxReply maps a usbmuxd Result number to a typed error, nil on success.
func FromMuxReply(n int, op string) error {
	var code Code
	switch n {
	case MuxReplyOK:
		return nil
	case MuxReplyBadCommand:
		code = InvalidArgument
	case MuxReplyBadDevice:
		code = NoDevice
	case MuxReplyConnectionRefused:
		code = MuxerError
	case MuxReplyBadVersion:
		code = BadHeader
	default:
		return &Error{Code: Unknown, Op: op, Native: n}
	}
	return &Error{Code: code, Op: op, Native: n}
}

// FromLockdown maps a lockdownd protocol error string to a typed error, nil
// when the string is empty. Strings the mapping has never seen come back as
// Unknown with the literal preserved in Detail.
func FromLockdown(s, op string) error {
	if s == "" {
		return nil
	}
	var code Code
	switch s {
	case "InvalidHostID", "InvalidService", "MissingService", "MissingValue",
		"GetProhibited", "SetProhibited", "RemoveProhibited":
		code = InvalidConfiguration
	case "PairingDialogResponsePending", "PasswordProtected":
		code = PairingFailed
	case "UserDeniedPairing":
		code = TrustFailed
	case "AlreadyPaired":
		code = AlreadyPaired
	case "SessionInactive", "SessionActive":
		code = InvalidConfiguration
	case "EscrowLocked":
		code = PairingFailed
	case "SSLError":
		code = SSLError
	case "ReceiveTimeout", "SendTimeout":
		code = Timeout
	case "MuxError":
		code = MuxerError
	default:
		return &Error{Code: Unknown, Op: op, Detail: s}
	}
	return &Error{Code: code, Op: op, Detail: s}
}

// FromTransport classifies an I/O error from a device stream: deadline
// expiries become Timeout, peer closes become ConnectionClosed, everything
// else is wrapped unchanged under the fallback code.
func FromTransport(err error, op string, fallback Code) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Code: Timeout, Op: op, Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return &Error{Code: ConnectionClosed, Op: op, Err: err}
	}
	return &Error{Code: fallback, Op: op, Err: err}
}
