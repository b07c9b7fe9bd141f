package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/transport"
)

func TestUserFriendlyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      UserFriendlyError
		contains []string
	}{
		{
			name:     "message only",
			err:      UserFriendlyError{Message: "something broke"},
			contains: []string{"something broke"},
		},
		{
			name: "all fields",
			err: UserFriendlyError{
				Message: "connection failed",
				Reason:  "timeout",
				Hint:    "check network",
				Try:     "ping host",
				Err:     fmt.Errorf("dial tcp: timeout"),
			},
			contains: []string{"connection failed", "Reason: timeout", "Hint: check network", "Try: ping host", "Details: dial tcp: timeout"},
		},
		{
			name: "no reason",
			err: UserFriendlyError{
				Message: "failed",
				Hint:    "hint here",
			},
			contains: []string{"failed", "Hint: hint here"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want to contain %q", msg, s)
				}
			}
		})
	}
}

func TestUserFriendlyError_ErrorOmitsEmptyFields(t *testing.T) {
	err := UserFriendlyError{Message: "msg"}
	msg := err.Error()
	if strings.Contains(msg, "Reason:") || strings.Contains(msg, "Hint:") || strings.Contains(msg, "Try:") || strings.Contains(msg, "Details:") {
		t.Errorf("Error() = %q, should not contain empty fields", msg)
	}
}

func TestUserFriendlyError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := UserFriendlyError{Message: "wrapper", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Unwrap should return the inner error")
	}

	var nilErr UserFriendlyError
	if nilErr.Unwrap() != nil {
		t.Error("Unwrap on nil Err should return nil")
	}
}

func TestWrapTransportError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapTransportError(nil, "10.0.0.1:10001") != nil {
			t.Error("expected nil")
		}
	})

	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"transport timeout", &transport.TimeoutError{Op: "receive", Timeout: time.Second}, "Timeout"},
		{"wrapped timeout", fmt.Errorf("query: %w", transport.ErrTimeout), "Timeout"},
		{"dial timeout text", fmt.Errorf("dial tcp: i/o timeout"), "Timeout"},
		{"not connected", transport.ErrNotConnected, "Not connected"},
		{"peer closed", fmt.Errorf("receive: %w", transport.ErrClosed), "closed"},
		{"connection refused", fmt.Errorf("connection refused"), "refused"},
		{"no route to host", fmt.Errorf("no route to host"), "route"},
		{"connection reset", fmt.Errorf("connection reset by peer"), "reset"},
		{"missing serial port", fmt.Errorf("open /dev/ttyUSB9: no such file or directory"), "Serial port"},
		{"generic", fmt.Errorf("something else"), "Communication failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapTransportError(tt.err, "10.0.0.1:10001")
			ufe := err.(UserFriendlyError)
			if !strings.Contains(ufe.Message, "10.0.0.1:10001") {
				t.Errorf("message should contain address, got %q", ufe.Message)
			}
			if !strings.Contains(ufe.Reason, tt.reason) {
				t.Errorf("reason = %q, want to contain %q", ufe.Reason, tt.reason)
			}
			if !errors.Is(err, tt.err) {
				t.Error("wrapped error should unwrap to the cause")
			}
		})
	}
}

func TestWrapProtocolError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapProtocolError(nil, "spinel97", "query") != nil {
			t.Error("expected nil")
		}
	})

	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"ack", protocol.NewAckError(protocol.AckDeviceMalfunction), "Device malfunction"},
		{"unknown ack", protocol.NewAckError(0x42), "Device rejected the request with unknown acknowledgment code 0x42"},
		{"unknown ack literal", &protocol.AckError{Code: 0x42}, "Device rejected the request with unknown acknowledgment code 0x42"},
		{"checksum", &protocol.ChecksumError{Expected: 0x6F, Actual: 0x70}, "checksum"},
		{"malformed", fmt.Errorf("decode: %w", packet.ErrFieldValue), "malformed"},
		{"encode", &packet.OutOfBoundsError{Field: "NUM"}, "encoded"},
		{"timeout", &transport.TimeoutError{Op: "receive"}, "timeout"},
		{"generic", fmt.Errorf("something"), "Protocol error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapProtocolError(tt.err, "spinel97", "get_outputs")
			ufe := err.(UserFriendlyError)
			if !strings.Contains(ufe.Message, "spinel97") || !strings.Contains(ufe.Message, "get_outputs") {
				t.Errorf("message should name protocol and operation, got %q", ufe.Message)
			}
			if !strings.Contains(ufe.Reason, tt.reason) {
				t.Errorf("reason = %q, want to contain %q", ufe.Reason, tt.reason)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "a", "p", "op") != nil {
		t.Error("expected nil")
	}

	err := Wrap(transport.ErrNotConnected, "10.0.0.1:10001", "spinel97", "query")
	if ufe := err.(UserFriendlyError); !strings.Contains(ufe.Message, "10.0.0.1:10001") {
		t.Errorf("transport failure should be reported against the address, got %q", ufe.Message)
	}

	err = Wrap(protocol.NewAckError(2), "10.0.0.1:10001", "spinel97", "query")
	if ufe := err.(UserFriendlyError); !strings.Contains(ufe.Message, "spinel97") {
		t.Errorf("ack failure should be reported against the protocol, got %q", ufe.Message)
	}

	already := UserFriendlyError{Message: "done"}
	if got := Wrap(already, "a", "p", "op"); got.(UserFriendlyError).Message != "done" {
		t.Error("already wrapped errors should pass through")
	}
}

func TestWrapConfigError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapConfigError(nil, "config.yaml") != nil {
			t.Error("expected nil")
		}
	})

	t.Run("wraps config error", func(t *testing.T) {
		err := WrapConfigError(fmt.Errorf("invalid yaml"), "dcpf.yaml")
		ufe := err.(UserFriendlyError)
		if !strings.Contains(ufe.Message, "dcpf.yaml") {
			t.Errorf("message should contain config path, got %q", ufe.Message)
		}
		if ufe.Reason != "invalid yaml" {
			t.Errorf("reason should be inner error message, got %q", ufe.Reason)
		}
		if !strings.Contains(ufe.Hint, "dcpf config init") {
			t.Errorf("hint should reference config init, got %q", ufe.Hint)
		}
	})
}
