package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TCP implements Transport over a TCP socket, either dialing the device or,
// in serve mode, accepting one connection from it.
type TCP struct {
	opts   Options
	conn   net.Conn
	addr   string
	connMu sync.RWMutex
}

var _ Transport = (*TCP)(nil)

// NewTCP creates a new TCP transport.
func NewTCP(opts Options) *TCP {
	return &TCP{opts: opts}
}

// NewTCPConn wraps an already established connection, such as one taken
// from a listener. The transport starts connected.
func NewTCPConn(conn net.Conn, opts Options) *TCP {
	return &TCP{opts: opts, conn: conn, addr: conn.RemoteAddr().String()}
}

// Connect dials address, or listens on it and accepts one peer when serve is
// set. The listener is closed once the peer is accepted.
func (t *TCP) Connect(ctx context.Context, address string, serve bool) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return ErrAlreadyConnected
	}

	if t.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.ConnectTimeout)
		defer cancel()
	}

	var (
		conn net.Conn
		err  error
	)
	if serve {
		conn, err = t.accept(ctx, address)
	} else {
		dialer := net.Dialer{}
		conn, err = dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			err = wrapTimeout("dial TCP", t.opts.ConnectTimeout, err)
		}
	}
	if err != nil {
		return err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			tcpConn.Close()
			return fmt.Errorf("set keep-alive: %w", err)
		}
		tcpConn.SetNoDelay(true)
	}

	t.conn = conn
	t.addr = address
	return nil
}

func (t *TCP) accept(ctx context.Context, address string) (net.Conn, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen TCP: %w", err)
	}
	defer ln.Close()

	if t.opts.OnListen != nil {
		t.opts.OnListen(ln.Addr().String())
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, &TimeoutError{Op: "accept TCP", Timeout: t.opts.ConnectTimeout, Err: ctxErr}
			}
			return nil, ctxErr
		}
		return nil, fmt.Errorf("accept TCP: %w", err)
	}
	return conn, nil
}

// Disconnect closes the TCP connection. A Receive blocked on it returns
// ErrClosed. The next Connect creates a new socket.
func (t *TCP) Disconnect(ctx context.Context, address string, serve bool) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.addr = ""
	return err
}

// Send writes all of data.
func (t *TCP) Send(ctx context.Context, data []byte) error {
	conn := t.current()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return closedOr(fmt.Errorf("set write deadline: %w", err))
	}

	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return closedOr(wrapTimeout("send", 0, err))
		}
		data = data[n:]
	}
	return nil
}

// Receive reads up to limit bytes. The connection lock is not held while
// reading, so Disconnect from another goroutine aborts a blocked Receive.
func (t *TCP) Receive(ctx context.Context, limit int) ([]byte, error) {
	conn := t.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	deadline, _ := receiveDeadline(ctx, t.opts.Timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, closedOr(fmt.Errorf("set read deadline: %w", err))
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, receiveSize(limit))
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil, fmt.Errorf("receive: %w", ErrClosed)
	}
	return nil, wrapTimeout("receive", t.opts.Timeout, err)
}

func (t *TCP) current() net.Conn {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn
}

// closedOr maps errors from a connection closed underneath the caller to
// ErrClosed.
func closedOr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// Connected reports whether a connection is open.
func (t *TCP) Connected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn != nil
}

// LocalAddr returns the local socket address, or "" when disconnected.
func (t *TCP) LocalAddr() string {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

// String returns a description of this transport.
func (t *TCP) String() string {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	if t.addr == "" {
		return "tcp"
	}
	return "tcp://" + t.addr
}
