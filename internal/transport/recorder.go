package transport

import (
	"context"

	"github.com/tturner/dcpf/internal/capture"
)

// ChunkRecorder receives every chunk a Recorder sees.
type ChunkRecorder interface {
	Record(dir capture.Direction, data []byte) error
}

// Recorder wraps a transport and records every sent and received chunk.
// Recording failures never fail the exchange; the first one is kept and
// reported by Err.
type Recorder struct {
	Transport
	rec ChunkRecorder
	err error
}

// NewRecorder wraps inner.
func NewRecorder(inner Transport, rec ChunkRecorder) *Recorder {
	return &Recorder{Transport: inner, rec: rec}
}

// Send records data and forwards it.
func (r *Recorder) Send(ctx context.Context, data []byte) error {
	if err := r.Transport.Send(ctx, data); err != nil {
		return err
	}
	r.record(capture.Outbound, data)
	return nil
}

// Receive forwards the call and records what arrived.
func (r *Recorder) Receive(ctx context.Context, limit int) ([]byte, error) {
	data, err := r.Transport.Receive(ctx, limit)
	if len(data) > 0 {
		r.record(capture.Inbound, data)
	}
	return data, err
}

func (r *Recorder) record(dir capture.Direction, data []byte) {
	if err := r.rec.Record(dir, data); err != nil && r.err == nil {
		r.err = err
	}
}

// Err returns the first recording error.
func (r *Recorder) Err() error { return r.err }

// Unwrap returns the wrapped transport.
func (r *Recorder) Unwrap() Transport { return r.Transport }

func (r *Recorder) String() string {
	return r.Transport.String() + " (recorded)"
}
