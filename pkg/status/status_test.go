package status

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		native int
		want   Code
	}{
		{-1, InvalidArgument},
		{-3, NoDevice},
		{-4, NotEnoughData},
		{-5, BadHeader},
		{-6, SSLError},
		{-7, Timeout},
		{-8, MuxerError},
		{-9, SSLNeeded},
		{-10, PairingFailed},
		{-11, InvalidConfiguration},
		{-12, TrustFailed},
		{-13, AlreadyPaired},
		{-14, DeviceNotFound},
		{-15, NotEnoughSpace},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("native %d", tt.native), func(t *testing.T) {
			err := Translate(tt.native, "test")
			if got := CodeOf(err); got != tt.want {
				t.Errorf("Translate(%d) = %v, want %v", tt.native, got, tt.want)
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("Translate(%d) is not a *Error", tt.native)
			}
			if e.Native != tt.native {
				t.Errorf("Native = %d, want %d", e.Native, tt.native)
			}
		})
	}
}

func TestTranslateSuccess(t *testing.T) {
	if err := Translate(0, "test"); err != nil {
		t.Errorf("Translate(0) = %v, want nil", err)
	}
}

func TestTranslateUnknownPreservesNative(t *testing.T) {
	err := Translate(-99, "test")
	if !Is(err, Unknown) {
		t.Fatalf("Translate(-99) = %v, want Unknown", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("not a *Error")
	}
	if e.Native != -99 {
		t.Errorf("Native = %d, want -99", e.Native)
	}
}

func TestFromMuxReply(t *testing.T) {
	tests := []struct {
		number int
		want   Code
	}{
		{MuxReplyBadCommand, InvalidArgument},
		{MuxReplyBadDevice, NoDevice},
		{MuxReplyConnectionRefused, MuxerError},
		{MuxReplyBadVersion, BadHeader},
	}
	for _, tt := range tests {
		if got := CodeOf(FromMuxReply(tt.number, "test")); got != tt.want {
			t.Errorf("FromMuxReply(%d) = %v, want %v", tt.number, got, tt.want)
		}
	}
	if err := FromMuxReply(MuxReplyOK, "test"); err != nil {
		t.Errorf("FromMuxReply(0) = %v, want nil", err)
	}
	if !Is(FromMuxReply(42, "test"), Unknown) {
		t.Error("unexpected reply number should map to Unknown")
	}
}

func TestFromLockdown(t *testing.T) {
	tests := []struct {
		s    string
		want Code
	}{
		{"InvalidHostID", InvalidConfiguration},
		{"GetProhibited", InvalidConfiguration},
		{"SessionInactive", InvalidConfiguration},
		{"PairingDialogResponsePending", PairingFailed},
		{"PasswordProtected", PairingFailed},
		{"EscrowLocked", PairingFailed},
		{"UserDeniedPairing", TrustFailed},
		{"AlreadyPaired", AlreadyPaired},
		{"SSLError", SSLError},
		{"ReceiveTimeout", Timeout},
		{"MuxError", MuxerError},
	}
	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			if got := CodeOf(FromLockdown(tt.s, "test")); got != tt.want {
				t.Errorf("FromLockdown(%q) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

func TestFromLockdownEmpty(t *testing.T) {
	if err := FromLockdown("", "test"); err != nil {
		t.Errorf("FromLockdown(\"\") = %v, want nil", err)
	}
}

func TestFromLockdownUnknownKeepsLiteral(t *testing.T) {
	err := FromLockdown("SomeFutureError", "test")
	if !Is(err, Unknown) {
		t.Fatalf("got %v, want Unknown", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("not a *Error")
	}
	if e.Detail != "SomeFutureError" {
		t.Errorf("Detail = %q, want the raw protocol string", e.Detail)
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(Timeout, "inner"))
	if !errors.Is(err, New(Timeout, "other op")) {
		t.Error("errors.Is should match by code across wrapping")
	}
	if errors.Is(err, New(SSLError, "other op")) {
		t.Error("errors.Is matched a different code")
	}
	if !Is(err, Timeout) {
		t.Error("Is should see through wrapping")
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != Unknown {
		t.Errorf("CodeOf(plain error) = %v, want Unknown", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFromTransport(t *testing.T) {
	if err := FromTransport(nil, "test", MuxerError); err != nil {
		t.Errorf("nil in, %v out", err)
	}
	if !Is(FromTransport(timeoutErr{}, "test", MuxerError), Timeout) {
		t.Error("deadline error should become Timeout")
	}
	if !Is(FromTransport(io.EOF, "test", MuxerError), ConnectionClosed) {
		t.Error("EOF should become ConnectionClosed")
	}
	if !Is(FromTransport(io.ErrClosedPipe, "test", MuxerError), ConnectionClosed) {
		t.Error("closed pipe should become ConnectionClosed")
	}
	if !Is(FromTransport(errors.New("boom"), "test", MuxerError), MuxerError) {
		t.Error("unclassified error should take the fallback code")
	}
}

func TestFromTransportPassesTypedErrorsThrough(t *testing.T) {
	in := New(BadHeader, "inner")
	out := FromTransport(in, "test", MuxerError)
	if !errors.Is(out, in) {
		t.Error("already-typed errors must not be rewrapped")
	}
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Code: Unknown, Op: "lockdown: get value", Service: "com.apple.mobile.heartbeat", Detail: "boom", Native: -42}
	msg := e.Error()
	for _, want := range []string{"lockdown: get value", "native code -42", "com.apple.mobile.heartbeat", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
