package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/transport"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapTransportError wraps connect, send and receive failures with
// user-friendly context.
func WrapTransportError(err error, address string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to communicate with device at %s", address),
		Reason:  extractTransportReason(err),
		Hint:    "Check that the device is powered, the address or serial port is correct and no other program holds the port",
		Try:     fmt.Sprintf("dcpf query --address %s --protocol <name> --timeout 5s", address),
		Err:     err,
	}
}

// WrapProtocolError wraps framing, checksum and acknowledgment failures with
// user-friendly context.
func WrapProtocolError(err error, protocolName, operation string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("%s operation failed: %s", protocolName, operation),
		Reason:  extractProtocolReason(err),
		Hint:    "The device may not support this instruction, or the configured protocol or device address may not match the device",
		Try:     "Re-run with --log-level debug to see the exchanged bytes",
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "See README.md for configuration examples, or generate one with dcpf config init",
		Try:     fmt.Sprintf("Validate your config: dcpf config validate --config %s", configPath),
		Err:     err,
	}
}

func extractTransportReason(err error) string {
	if transport.IsTimeout(err) {
		return "Timeout - device did not answer in time or is unreachable"
	}
	if errors.Is(err, transport.ErrNotConnected) {
		return "Not connected - the transport was closed or never opened"
	}
	if errors.Is(err, transport.ErrClosed) {
		return "Connection closed - device closed the connection unexpectedly"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Timeout - device did not answer in time or is unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - device may not be listening on this port"
	}
	if strings.Contains(errStr, "no route to host") {
		return "No route to host - network routing issue or device unreachable"
	}
	if strings.Contains(errStr, "connection reset") {
		return "Connection reset - device closed the connection unexpectedly"
	}
	if strings.Contains(errStr, "no such file") || strings.Contains(errStr, "Port not found") {
		return "Serial port not found - check the device path"
	}
	if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "Permission denied") {
		return "Permission denied - the user may not have access to the port"
	}

	return "Communication failed"
}

func extractProtocolReason(err error) string {
	var ackErr *protocol.AckError
	if errors.As(err, &ackErr) {
		if _, known := protocol.AckDescription(ackErr.Code); !known {
			return fmt.Sprintf("Device rejected the request with unknown acknowledgment code 0x%02x", ackErr.Code)
		}
		return fmt.Sprintf("Device rejected the request: %s", ackErr.Description)
	}
	if errors.Is(err, protocol.ErrChecksum) {
		return "Response checksum mismatch - line noise or a wrong protocol variant"
	}
	if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, packet.ErrFieldValue) {
		return "Received invalid or malformed response from device"
	}
	if errors.Is(err, packet.ErrOutOfBounds) || errors.Is(err, packet.ErrUnknownField) {
		return "Request could not be encoded for this protocol"
	}
	if transport.IsTimeout(err) {
		return "Device did not respond within timeout period"
	}

	return "Protocol error occurred"
}

// Wrap picks the wrapper that fits err: transport failures are reported
// against the address, everything else against the protocol operation.
func Wrap(err error, address, protocolName, operation string) error {
	if err == nil {
		return nil
	}
	var ufe UserFriendlyError
	if errors.As(err, &ufe) {
		return err
	}
	if isTransportFailure(err) {
		return WrapTransportError(err, address)
	}
	return WrapProtocolError(err, protocolName, operation)
}

func isTransportFailure(err error) bool {
	if transport.IsTimeout(err) || errors.Is(err, transport.ErrNotConnected) || errors.Is(err, transport.ErrClosed) {
		return true
	}
	var ackErr *protocol.AckError
	if errors.As(err, &ackErr) || errors.Is(err, protocol.ErrChecksum) || errors.Is(err, protocol.ErrMalformed) {
		return false
	}
	if errors.Is(err, packet.ErrOutOfBounds) || errors.Is(err, packet.ErrFieldValue) || errors.Is(err, packet.ErrUnknownField) {
		return false
	}
	return true
}
