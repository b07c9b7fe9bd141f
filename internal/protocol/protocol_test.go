package protocol

import (
	"errors"
	"testing"

	"github.com/tturner/dcpf/internal/packet"
)

func TestAckDescription(t *testing.T) {
	tests := []struct {
		code  uint8
		want  string
		known bool
	}{
		{AckOK, "OK", true},
		{AckUnknownError, "Unknown error", true},
		{AckInvalidInstruction, "Invalid instruction", true},
		{AckInvalidParameters, "Invalid instruction parameters", true},
		{AckPermissionDenied, "Permission denied", true},
		{AckDeviceMalfunction, "Device malfunction", true},
		{AckDataNotAvailable, "Data not available", true},
		{AckInputStateChange, "Digital input state change", true},
		{AckContinuousMeasuring, "Continuous measurement", true},
		{AckRangeOverrun, "Range overrun", true},
		{0x42, "Unknown acknowledgment code 0x42", false},
	}
	for _, tt := range tests {
		got, known := AckDescription(tt.code)
		if got != tt.want || known != tt.known {
			t.Errorf("AckDescription(0x%02x) = %q, %v; want %q, %v", tt.code, got, known, tt.want, tt.known)
		}
	}
}

func TestAckErrorMessage(t *testing.T) {
	err := error(NewAckError(AckDeviceMalfunction))
	if err.Error() != "Non-zero acknowledgment code 0x05: Device malfunction" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrAck) {
		t.Error("AckError should match ErrAck")
	}
	if got := NewAckError(0x42).Error(); got != "Unknown acknowledgment code 0x42" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestChecksumErrorMessage(t *testing.T) {
	err := error(&ChecksumError{Expected: 0xF0, Actual: 0x01})
	if err.Error() != "packet checksum is 0xf0, but the SUMA checksum byte is 0x01" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrChecksum) {
		t.Error("ChecksumError should match ErrChecksum")
	}
}

func TestCheckOptionsAccepts(t *testing.T) {
	opts := CheckOptions{AcceptAcks: []uint8{AckContinuousMeasuring}}
	if !opts.Accepts(AckOK) {
		t.Error("zero ACK must always pass")
	}
	if !opts.Accepts(AckContinuousMeasuring) {
		t.Error("listed ACK must pass")
	}
	if opts.Accepts(AckDeviceMalfunction) {
		t.Error("unlisted ACK must fail")
	}
}

func TestIsNotification(t *testing.T) {
	for code := 0; code < 0x10; code++ {
		want := code >= 0x0d
		if got := IsNotification(uint8(code)); got != want {
			t.Errorf("IsNotification(0x%02x) = %v, want %v", code, got, want)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	out := WithDefaults(
		packet.Fields{"ADR": packet.Uint(1)},
		packet.Fields{"ADR": packet.Uint(0xFE), "CR": packet.String("\r")},
	)
	if out["ADR"].Num() != 1 {
		t.Errorf("caller value must win, got %v", out["ADR"])
	}
	if string(out["CR"].Raw()) != "\r" {
		t.Errorf("default must be filled, got %v", out["CR"])
	}
}

func TestSpanEnd(t *testing.T) {
	if (Span{Start: 3, Length: 9}).End() != 12 {
		t.Error("Span.End should be Start+Length")
	}
}
