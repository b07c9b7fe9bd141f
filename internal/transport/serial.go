package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// PortOptions describes the serial line settings used when opening a port.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return "invalid"
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialPort is the subset of serial.Port the transport uses.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialOpener opens a serial port; it is replaceable for tests.
type SerialOpener func(path string, mode *serial.Mode) (SerialPort, error)

func openSerial(path string, mode *serial.Mode) (SerialPort, error) {
	return serial.Open(path, mode)
}

// Serial implements Transport over a serial line.
type Serial struct {
	opts        Options
	open        SerialOpener
	port        SerialPort
	path        string
	readTimeout time.Duration
	mu          sync.Mutex
}

var _ Transport = (*Serial)(nil)

// NewSerial creates a serial transport using the real port driver.
func NewSerial(opts Options) *Serial {
	return &Serial{opts: opts, open: openSerial}
}

// NewSerialWithOpener creates a serial transport with a custom opener.
func NewSerialWithOpener(opts Options, open SerialOpener) *Serial {
	return &Serial{opts: opts, open: open}
}

// Connect opens the port at address. Serve mode has no meaning for a serial
// line and is ignored.
func (s *Serial) Connect(ctx context.Context, address string, serve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return ErrAlreadyConnected
	}

	mode, err := s.opts.Serial.SerialMode()
	if err != nil {
		return fmt.Errorf("serial options: %w", err)
	}
	port, err := s.open(address, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", address, err)
	}
	s.port = port
	s.path = address
	s.readTimeout = -1
	return nil
}

// Disconnect closes the port. A Receive blocked on it returns ErrClosed.
func (s *Serial) Disconnect(ctx context.Context, address string, serve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.path = ""
	return err
}

// Send writes all of data.
func (s *Serial) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port == nil {
		return ErrNotConnected
	}
	for len(data) > 0 {
		n, err := port.Write(data)
		if err != nil {
			return s.readErr(port, "send", err)
		}
		data = data[n:]
	}
	return nil
}

// Receive reads up to limit bytes. A read that returns nothing within the
// configured timeout is a *TimeoutError. The port lock is released before
// reading so Disconnect can close the port under a blocked Receive.
func (s *Serial) Receive(ctx context.Context, limit int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := serial.NoTimeout
	if s.opts.Timeout > 0 {
		timeout = s.opts.Timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{Op: "receive", Timeout: s.opts.Timeout}
		}
		if timeout == serial.NoTimeout || remaining < timeout {
			timeout = remaining
		}
	}

	s.mu.Lock()
	port := s.port
	if port == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	if timeout != s.readTimeout {
		if err := port.SetReadTimeout(timeout); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		s.readTimeout = timeout
	}
	s.mu.Unlock()

	buf := make([]byte, receiveSize(limit))
	n, err := port.Read(buf)
	if err != nil {
		return nil, s.readErr(port, "receive", err)
	}
	if n == 0 {
		s.mu.Lock()
		closed := s.port != port
		s.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("receive: %w", ErrClosed)
		}
		if timeout != serial.NoTimeout {
			return nil, &TimeoutError{Op: "receive", Timeout: s.opts.Timeout}
		}
	}
	return buf[:n], nil
}

// readErr reports ErrClosed when port was closed by Disconnect during the
// operation.
func (s *Serial) readErr(port SerialPort, op string, err error) error {
	s.mu.Lock()
	closed := s.port != port
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Connected reports whether the port is open.
func (s *Serial) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// String returns a description of this transport.
func (s *Serial) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return "serial"
	}
	return fmt.Sprintf("serial://%s (%s)", s.path, s.opts.Serial)
}
