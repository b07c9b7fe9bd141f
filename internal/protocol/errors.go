package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete signals that no complete packet is buffered yet. The
	// query loop consumes it and keeps reading.
	ErrIncomplete = errors.New("protocol: packet incomplete")
	ErrChecksum   = errors.New("protocol: checksum mismatch")
	ErrAck        = errors.New("protocol: non-zero acknowledgment")
	ErrMalformed  = errors.New("protocol: malformed packet")
)

// ChecksumError reports a packet whose checksum field disagrees with the
// recomputed value.
type ChecksumError struct {
	Expected uint8 // recomputed from the packet bytes
	Actual   uint8 // value of the checksum field
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("packet checksum is 0x%02x, but the SUMA checksum byte is 0x%02x", e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksum }

// AckError reports a non-OK acknowledgment code.
type AckError struct {
	Code        uint8
	Description string
}

// NewAckError builds an AckError with the description from the code table.
func NewAckError(code uint8) *AckError {
	desc, _ := AckDescription(code)
	return &AckError{Code: code, Description: desc}
}

func (e *AckError) Error() string {
	if _, known := ackDescriptions[e.Code]; !known {
		return fmt.Sprintf("Unknown acknowledgment code 0x%02x", e.Code)
	}
	return fmt.Sprintf("Non-zero acknowledgment code 0x%02x: %s", e.Code, e.Description)
}

func (e *AckError) Unwrap() error { return ErrAck }

// Spinel acknowledgment codes.
const (
	AckOK                  uint8 = 0x00
	AckUnknownError        uint8 = 0x01
	AckInvalidInstruction  uint8 = 0x02
	AckInvalidParameters   uint8 = 0x03
	AckPermissionDenied    uint8 = 0x04
	AckDeviceMalfunction   uint8 = 0x05
	AckDataNotAvailable    uint8 = 0x06
	AckInputStateChange    uint8 = 0x0d
	AckContinuousMeasuring uint8 = 0x0e
	AckRangeOverrun        uint8 = 0x0f
)

var ackDescriptions = map[uint8]string{
	AckOK:                  "OK",
	AckUnknownError:        "Unknown error",
	AckInvalidInstruction:  "Invalid instruction",
	AckInvalidParameters:   "Invalid instruction parameters",
	AckPermissionDenied:    "Permission denied",
	AckDeviceMalfunction:   "Device malfunction",
	AckDataNotAvailable:    "Data not available",
	AckInputStateChange:    "Digital input state change",
	AckContinuousMeasuring: "Continuous measurement",
	AckRangeOverrun:        "Range overrun",
}

// AckDescription returns the table entry for code. Unknown codes get a
// generic description and false.
func AckDescription(code uint8) (string, bool) {
	if d, ok := ackDescriptions[code]; ok {
		return d, true
	}
	return fmt.Sprintf("Unknown acknowledgment code 0x%02x", code), false
}

// IsNotification reports whether code is one of the unsolicited messages a
// device sends on its own (input change, continuous measurement, overrun).
func IsNotification(code uint8) bool {
	return code == AckInputStateChange || code == AckContinuousMeasuring || code == AckRangeOverrun
}
