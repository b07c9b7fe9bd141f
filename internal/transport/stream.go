package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// stream adapts a blocking reader and a writer (a child process or an SSH
// session) to the Receive-with-timeout contract. A pump goroutine reads
// into a channel; Receive waits on it with the caller's deadline.
type stream struct {
	w       io.WriteCloser
	chunks  chan []byte
	done    chan struct{}
	pending []byte
	readErr error
	once    sync.Once
}

func newStream(r io.Reader, w io.WriteCloser) *stream {
	s := &stream{
		w:      w,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go s.pump(r)
	return s
}

func (s *stream) pump(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

func (s *stream) send(data []byte) error {
	for len(data) > 0 {
		n, err := s.w.Write(data)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		data = data[n:]
	}
	return nil
}

func (s *stream) receive(ctx context.Context, limit int, timeout time.Duration) ([]byte, error) {
	limit = receiveSize(limit)
	if len(s.pending) == 0 {
		var expired <-chan time.Time
		if deadline, ok := receiveDeadline(ctx, timeout); ok {
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				if s.readErr != nil && s.readErr != io.EOF {
					return nil, fmt.Errorf("receive: %w", s.readErr)
				}
				return nil, fmt.Errorf("receive: %w", ErrClosed)
			}
			s.pending = chunk
		case <-expired:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, &TimeoutError{Op: "receive", Timeout: timeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, fmt.Errorf("receive: %w", ErrClosed)
		}
	}
	n := min(limit, len(s.pending))
	out := s.pending[:n:n]
	s.pending = s.pending[n:]
	return out, nil
}

func (s *stream) close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.w.Close()
	})
	return err
}
