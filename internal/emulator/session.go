// Package emulator plays the device side of a protocol. A Session reads
// requests from any transport, hands them to a Handler and sends the
// encoded response back; a Server accepts TCP connections and runs a Session
// on each. The built-in handlers model the appliances dcpf drives, which is
// enough for selftests and for developing against a bench without hardware.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tturner/dcpf/internal/logging"
	"github.com/tturner/dcpf/internal/metrics"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/transport"
)

// Handler answers one decoded request. It returns the response fields, or
// nil fields when the device stays silent.
type Handler func(req *packet.Packet) (packet.Fields, error)

// Options configures a Session or Server.
type Options struct {
	Name string // label used in logs and metrics

	// SkipChecksum accepts requests whose checksum does not match.
	SkipChecksum bool

	// ReplyDelay is waited before each response is sent.
	ReplyDelay time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Sink
}

// Session serves requests arriving on a single transport.
type Session struct {
	protocol protocol.Protocol
	handler  Handler
	opts     Options
	residual []byte
	served   int
}

// NewSession creates a session for p answered by h.
func NewSession(p protocol.Protocol, h Handler, opts Options) *Session {
	if opts.Name == "" {
		opts.Name = p.Name() + "-emulator"
	}
	return &Session{protocol: p, handler: h, opts: opts}
}

// Served returns the number of requests handled so far.
func (s *Session) Served() int { return s.served }

// Serve reads requests from t until ctx is done or the peer closes the
// link. Receive timeouts are not errors; the session keeps waiting.
func (s *Session) Serve(ctx context.Context, t transport.Transport) error {
	for {
		for {
			span, ok := s.protocol.Locate(protocol.Request, s.residual, 0)
			if !ok {
				break
			}
			req, err := s.take(span)
			if err != nil {
				s.opts.Logger.Verbose("%s: dropped request: %v", s.opts.Name, err)
				s.record(time.Time{}, 0, 0, err)
				continue
			}
			if err := s.handle(ctx, t, req); err != nil {
				return err
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		chunk, err := t.Receive(ctx, 0)
		if err != nil {
			switch {
			case transport.IsTimeout(err):
				continue
			case ctx.Err() != nil, errors.Is(err, transport.ErrClosed):
				return nil
			default:
				return fmt.Errorf("%s: %w", s.opts.Name, err)
			}
		}
		s.opts.Logger.LogHex(s.opts.Name+" RX", chunk)
		s.residual = append(s.residual, chunk...)
	}
}

func (s *Session) take(span protocol.Span) (*packet.Packet, error) {
	view, err := protocol.Decode(s.protocol, protocol.Request, s.residual, span)
	var req *packet.Packet
	if err == nil {
		req = view.Clone()
	}
	rest := s.residual[span.End():]
	if len(rest) == 0 {
		s.residual = nil
	} else {
		s.residual = append(make([]byte, 0, len(rest)), rest...)
	}
	return req, err
}

func (s *Session) handle(ctx context.Context, t transport.Transport, req *packet.Packet) error {
	start := time.Now()
	s.served++

	if err := s.protocol.Check(req, protocol.CheckOptions{SkipChecksum: s.opts.SkipChecksum}); err != nil {
		s.opts.Logger.Verbose("%s: ignoring %s: %v", s.opts.Name, req, err)
		s.record(start, req.Len(), 0, err)
		return nil
	}

	fields, err := s.handler(req)
	if err != nil {
		s.opts.Logger.Error("%s: handler failed for %s: %v", s.opts.Name, req, err)
		s.record(start, req.Len(), 0, err)
		return nil
	}
	if fields == nil {
		s.record(start, req.Len(), 0, nil)
		return nil
	}

	decoded, err := req.Decode()
	if err != nil {
		s.record(start, req.Len(), 0, err)
		return nil
	}
	if !s.protocol.ExpectsReply(decoded) {
		s.opts.Logger.Debug("%s: request to broadcast address, not answering", s.opts.Name)
		s.record(start, req.Len(), 0, nil)
		return nil
	}

	resp, err := s.protocol.Encode(protocol.Response, fields)
	if err != nil {
		s.opts.Logger.Error("%s: encode response: %v", s.opts.Name, err)
		s.record(start, req.Len(), 0, err)
		return nil
	}

	if s.opts.ReplyDelay > 0 {
		select {
		case <-time.After(s.opts.ReplyDelay):
		case <-ctx.Done():
			return nil
		}
	}
	s.opts.Logger.LogHex(s.opts.Name+" TX", resp.Bytes())
	if err := t.Send(ctx, resp.Bytes()); err != nil {
		s.record(start, req.Len(), 0, err)
		if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
			return nil
		}
		return fmt.Errorf("%s: send response: %w", s.opts.Name, err)
	}
	s.record(start, req.Len(), resp.Len(), nil)
	return nil
}

func (s *Session) record(start time.Time, reqLen, respLen int, err error) {
	if s.opts.Metrics == nil {
		return
	}
	m := metrics.Metric{
		Device:        s.opts.Name,
		Protocol:      s.protocol.Name(),
		Operation:     metrics.OperationServe,
		Success:       err == nil,
		RequestBytes:  reqLen,
		ResponseBytes: respLen,
		Outcome:       metrics.OutcomeOK,
	}
	if !start.IsZero() {
		m.RTTMs = float64(time.Since(start).Microseconds()) / 1000.0
	}
	if err != nil {
		m.Error = err.Error()
		switch {
		case errors.Is(err, protocol.ErrChecksum):
			m.Outcome = metrics.OutcomeChecksum
		case errors.Is(err, packet.ErrOutOfBounds), errors.Is(err, packet.ErrFieldValue),
			errors.Is(err, protocol.ErrMalformed):
			m.Outcome = metrics.OutcomeFraming
		default:
			m.Outcome = metrics.OutcomeTransport
		}
	}
	s.opts.Metrics.Record(m)
}
