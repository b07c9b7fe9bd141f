package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Pipe implements Transport over the stdin and stdout of a local command,
// for example `socat - /dev/ttyUSB0,raw,echo=0` or a device simulator.
type Pipe struct {
	opts   Options
	cmd    *exec.Cmd
	stream *stream
	stderr syncBuffer
	desc   string
	mu     sync.Mutex
}

var _ Transport = (*Pipe)(nil)

// NewPipe creates a new pipe transport.
func NewPipe(opts Options) *Pipe {
	return &Pipe{opts: opts}
}

// Connect starts the command. Options.Command takes precedence; otherwise
// address is split on whitespace.
func (p *Pipe) Connect(ctx context.Context, address string, serve bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyConnected
	}

	argv := p.opts.Command
	if len(argv) == 0 {
		argv = strings.Fields(address)
	}
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}

	c := exec.Command(argv[0], argv[1:]...)
	c.Env = os.Environ()
	p.stderr.Reset()
	c.Stderr = &p.stderr

	stdin, err := c.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}

	p.cmd = c
	p.stream = newStream(stdout, stdin)
	p.desc = strings.Join(argv, " ")
	return nil
}

// Disconnect closes stdin and waits briefly for the command to exit before
// killing it.
func (p *Pipe) Disconnect(ctx context.Context, address string, serve bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}

	p.stream.close()
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(time.Second):
		p.cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		p.cmd.Process.Kill()
		<-done
		err = ctx.Err()
	}

	if _, ok := err.(*exec.ExitError); ok {
		err = nil // a bridge killed by closing stdin is not a failure
	}
	p.cmd = nil
	p.stream = nil
	return err
}

// Send writes data to the command's stdin.
func (p *Pipe) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotConnected
	}
	return p.stream.send(data)
}

// Receive reads from the command's stdout.
func (p *Pipe) Receive(ctx context.Context, limit int) ([]byte, error) {
	p.mu.Lock()
	st := p.stream
	p.mu.Unlock()

	if st == nil {
		return nil, ErrNotConnected
	}
	data, err := st.receive(ctx, limit, p.opts.Timeout)
	if msg := strings.TrimSpace(p.stderr.String()); err != nil && msg != "" && !IsTimeout(err) {
		return nil, fmt.Errorf("%w (stderr: %s)", err, msg)
	}
	return data, err
}

// Connected reports whether the command is running.
func (p *Pipe) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// String returns a description of this transport.
func (p *Pipe) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.desc == "" {
		return "pipe"
	}
	return "pipe:" + p.desc
}

// syncBuffer collects stderr written by the exec copier goroutine.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func (s *syncBuffer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b.Reset()
}
