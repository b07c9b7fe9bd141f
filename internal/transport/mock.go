package transport

import (
	"context"
	"sync"
)

// Mock is a scripted in-memory transport. Receive replays pushed chunks and
// errors in order and reports a timeout once the script is exhausted.
type Mock struct {
	// ConnectErr and SendErr are returned by Connect and Send when set.
	ConnectErr error
	SendErr    error
	// Respond, when set, is called for every sent chunk and its result is
	// appended to the receive script.
	Respond func(data []byte) [][]byte

	mu           sync.Mutex
	script       []mockStep
	sent         [][]byte
	connected    bool
	address      string
	serve        bool
	receiveCalls int
	connects     int
}

type mockStep struct {
	data []byte
	err  error
}

var _ Transport = (*Mock)(nil)

// NewMock creates an unconnected mock transport.
func NewMock() *Mock {
	return &Mock{}
}

// Push appends data chunks to the receive script.
func (m *Mock) Push(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.script = append(m.script, mockStep{data: append([]byte(nil), c...)})
	}
}

// PushString appends string chunks to the receive script.
func (m *Mock) PushString(chunks ...string) {
	for _, c := range chunks {
		m.Push([]byte(c))
	}
}

// PushError appends an error to the receive script.
func (m *Mock) PushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{err: err})
}

// Sent returns copies of every chunk passed to Send.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, c := range m.sent {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// SentBytes returns everything passed to Send, concatenated.
func (m *Mock) SentBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, c := range m.sent {
		out = append(out, c...)
	}
	return out
}

// ReceiveCalls returns the number of Receive calls made.
func (m *Mock) ReceiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receiveCalls
}

// Connects returns the number of successful Connect calls.
func (m *Mock) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Pending returns the number of unread script steps.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.script)
}

func (m *Mock) Connect(ctx context.Context, address string, serve bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	if m.connected {
		return ErrAlreadyConnected
	}
	m.connected = true
	m.address = address
	m.serve = serve
	m.connects++
	return nil
}

func (m *Mock) Disconnect(ctx context.Context, address string, serve bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Mock) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	if m.Respond != nil {
		for _, c := range m.Respond(data) {
			m.script = append(m.script, mockStep{data: append([]byte(nil), c...)})
		}
	}
	return nil
}

func (m *Mock) Receive(ctx context.Context, limit int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveCalls++
	if !m.connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.script) == 0 {
		return nil, &TimeoutError{Op: "receive"}
	}
	step := m.script[0]
	m.script = m.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	limit = receiveSize(limit)
	if len(step.data) > limit {
		rest := mockStep{data: step.data[limit:]}
		m.script = append([]mockStep{rest}, m.script...)
		step.data = step.data[:limit]
	}
	return step.data, nil
}

func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.address == "" {
		return "mock"
	}
	return "mock://" + m.address
}
