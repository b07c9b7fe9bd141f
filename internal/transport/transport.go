// Package transport moves raw bytes between dcpf and a device. It provides
// TCP sockets (client or serve mode), serial ports, local pipe commands and
// commands run over SSH, plus an in-memory mock and a pcap recorder.
package transport

import (
	"context"
	"time"
)

// Transport is the byte stream a Device talks through.
type Transport interface {
	// Connect opens the link. In serve mode the transport binds address
	// and waits for a single peer instead of dialing it.
	Connect(ctx context.Context, address string, serve bool) error

	// Disconnect releases the link. The transport may be connected again.
	Disconnect(ctx context.Context, address string, serve bool) error

	// Send writes all of data or fails.
	Send(ctx context.Context, data []byte) error

	// Receive returns at most limit bytes, possibly fewer. It never blocks
	// past the configured timeout; a timeout is reported as *TimeoutError.
	Receive(ctx context.Context, limit int) ([]byte, error)

	// Connected reports whether the link is open.
	Connected() bool

	// String returns a human-readable description of the transport.
	String() string
}

// DefaultReceiveSize is used when Receive is called with limit <= 0.
const DefaultReceiveSize = 8192

// Options configures transport behavior.
type Options struct {
	Timeout        time.Duration // Receive timeout; 0 waits indefinitely
	ConnectTimeout time.Duration // Dial/accept timeout; 0 uses ctx only
	Serial         PortOptions   // Serial line settings
	SSH            SSHOptions    // SSH bridge settings
	Command        []string      // Pipe command; empty uses the address

	// OnListen is called with the bound address in serve mode before
	// waiting for the peer.
	OnListen func(addr string)
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Timeout:        2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		SSH:            DefaultSSHOptions(),
	}
}

// receiveDeadline returns the earliest of now+timeout and the ctx deadline.
func receiveDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline, !deadline.IsZero()
}

func receiveSize(limit int) int {
	if limit <= 0 {
		return DefaultReceiveSize
	}
	return limit
}
