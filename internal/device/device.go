// Package device ties a protocol to a transport and runs request/response
// queries against one device.
//
// A Device keeps a residual buffer of received bytes that have not yet been
// consumed by a located packet. Bytes that arrive after a response (the
// start of the next packet, unsolicited notifications) stay buffered for
// the next receive; noise in front of a located packet is dropped.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tturner/dcpf/internal/logging"
	"github.com/tturner/dcpf/internal/metrics"
	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
	"github.com/tturner/dcpf/internal/transport"
)

// MetricWriter persists recorded metrics. *metrics.Writer satisfies it.
type MetricWriter interface {
	WriteMetric(m metrics.Metric) error
}

// Options configures a Device.
type Options struct {
	Name    string // label used in logs and metrics; defaults to the address
	Address string // transport address
	Serve   bool   // bind the address and wait for the device to connect

	// SendByteCount splits requests into chunks of at most this many bytes.
	// Zero sends each request in one piece.
	SendByteCount int
	// ReceiveByteCount is the read size passed to the transport. Zero uses
	// transport.DefaultReceiveSize.
	ReceiveByteCount int

	Logger       *logging.Logger
	Metrics      *metrics.Sink
	MetricWriter MetricWriter
}

// Device runs queries for one protocol over one transport. Its methods other
// than Disconnect serialize on an internal lock; only one query is in flight
// at a time.
type Device struct {
	mu sync.Mutex

	name             string
	address          string
	serve            bool
	protocol         protocol.Protocol
	transport        transport.Transport
	residual         []byte
	sendByteCount    int
	receiveByteCount int

	logger  *logging.Logger
	metrics *metrics.Sink
	writer  MetricWriter
}

// New creates a device. It does not connect.
func New(p protocol.Protocol, t transport.Transport, opts Options) *Device {
	name := opts.Name
	if name == "" {
		name = opts.Address
	}
	return &Device{
		name:             name,
		address:          opts.Address,
		serve:            opts.Serve,
		protocol:         p,
		transport:        t,
		sendByteCount:    opts.SendByteCount,
		receiveByteCount: opts.ReceiveByteCount,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		writer:           opts.MetricWriter,
	}
}

// Name returns the device label.
func (d *Device) Name() string { return d.name }

// Address returns the transport address.
func (d *Device) Address() string { return d.address }

// Protocol returns the device protocol.
func (d *Device) Protocol() protocol.Protocol { return d.protocol }

// Transport returns the underlying transport.
func (d *Device) Transport() transport.Transport { return d.transport }

// Connect opens the transport.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Verbose("Connecting to %s via %s", d.name, d.transport)
	return d.transport.Connect(ctx, d.address, d.serve)
}

// Disconnect closes the transport. The device may be connected again; the
// residual buffer is kept. Disconnect does not wait for a query in flight:
// closing the transport makes its pending receive fail, which is how a
// caller aborts a query stuck waiting for a reply.
func (d *Device) Disconnect(ctx context.Context) error {
	d.logger.Verbose("Disconnecting from %s", d.name)
	return d.transport.Disconnect(ctx, d.address, d.serve)
}

// Connected reports whether the transport is open.
func (d *Device) Connected() bool {
	return d.transport.Connected()
}

// Buffered returns the number of received bytes not yet consumed.
func (d *Device) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.residual)
}

// Reset drops all buffered bytes.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.residual = nil
}

// Query sends a request built from fields and returns the payload of the
// validated response. Requests addressed to a broadcast or universal
// address are only sent; Query then returns nil, nil.
func (d *Device) Query(ctx context.Context, fields packet.Fields, opts protocol.CheckOptions) ([]byte, error) {
	resp, err := d.QueryPacket(ctx, fields, opts)
	if err != nil || resp == nil {
		return nil, err
	}
	return d.protocol.Payload(resp)
}

// QueryPacket is like Query but returns the whole validated response packet.
// The packet owns its bytes.
func (d *Device) QueryPacket(ctx context.Context, fields packet.Fields, opts protocol.CheckOptions) (*packet.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := metrics.Metric{
		Device:    d.name,
		Protocol:  d.protocol.Name(),
		Operation: metrics.OperationQuery,
	}
	start := time.Now()

	req, err := d.sendRequest(ctx, fields)
	if req != nil {
		m.RequestBytes = req.Len()
	}
	if err != nil {
		d.finish(m, start, nil, err)
		return nil, err
	}

	if !d.protocol.ExpectsReply(fields) {
		m.Operation = metrics.OperationBroadcast
		d.logger.Debug("%s: request to broadcast address, not waiting for a reply", d.name)
		d.finish(m, start, nil, nil)
		return nil, nil
	}

	resp, err := d.receiveResponse(ctx, opts)
	d.finish(m, start, resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// SendRequest encodes fields as a request and writes it to the transport,
// split into chunks of the configured send size.
func (d *Device) SendRequest(ctx context.Context, fields packet.Fields) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendRequest(ctx, fields)
	return err
}

// ReceivePacket returns the next complete response packet, reading from the
// transport until one is located. Transport errors are returned unchanged
// and leave every buffered byte in place.
func (d *Device) ReceivePacket(ctx context.Context) (*packet.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.receivePacket(ctx)
}

// ReceiveResponse receives the next response packet, validates it and
// returns its payload. The packet is consumed even when validation fails.
func (d *Device) ReceiveResponse(ctx context.Context, opts protocol.CheckOptions) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, err := d.receiveResponse(ctx, opts)
	if err != nil {
		return nil, err
	}
	return d.protocol.Payload(resp)
}

func (d *Device) sendRequest(ctx context.Context, fields packet.Fields) (*packet.Packet, error) {
	req, err := d.protocol.Encode(protocol.Request, fields)
	if err != nil {
		return nil, &EncodeError{Protocol: d.protocol.Name(), Err: err}
	}
	data := req.Bytes()
	d.logger.LogHex(d.name+" TX", data)

	for _, chunk := range chunks(data, d.sendByteCount) {
		if err := d.transport.Send(ctx, chunk); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (d *Device) receiveResponse(ctx context.Context, opts protocol.CheckOptions) (*packet.Packet, error) {
	resp, err := d.receivePacket(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.protocol.Check(resp, opts); err != nil {
		return resp, err
	}
	return resp, nil
}

func (d *Device) receivePacket(ctx context.Context) (*packet.Packet, error) {
	for {
		if span, ok := d.protocol.Locate(protocol.Response, d.residual, 0); ok {
			return d.take(span)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := d.transport.Receive(ctx, d.receiveByteCount)
		if err != nil {
			if len(d.residual) > 0 {
				d.logger.Debug("%s: receive failed with %d bytes buffered: %v", d.name, len(d.residual), err)
			}
			return nil, err
		}
		if len(chunk) == 0 {
			continue
		}
		d.logger.LogHex(d.name+" RX", chunk)
		d.residual = append(d.residual, chunk...)
	}
}

// take clones the packet at span and advances the residual buffer past it.
func (d *Device) take(span protocol.Span) (*packet.Packet, error) {
	view, err := protocol.Decode(d.protocol, protocol.Response, d.residual, span)
	var resp *packet.Packet
	if err == nil {
		resp = view.Clone()
	}
	if span.Start > 0 {
		d.logger.Debug("%s: dropped %d bytes before packet", d.name, span.Start)
	}
	rest := d.residual[span.End():]
	if len(rest) == 0 {
		d.residual = nil
	} else {
		d.residual = append(make([]byte, 0, len(rest)), rest...)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", d.protocol.Name(), err)
	}
	return resp, nil
}

func (d *Device) finish(m metrics.Metric, start time.Time, resp *packet.Packet, err error) {
	rtt := time.Since(start)
	m.Success = err == nil
	m.RTTMs = float64(rtt.Microseconds()) / 1000.0
	m.Outcome = classifyOutcome(err)
	if resp != nil {
		m.ResponseBytes = resp.Len()
	}
	if err != nil {
		m.Error = err.Error()
		var ackErr *protocol.AckError
		if errors.As(err, &ackErr) {
			m.Ack = ackErr.Code
		}
	}

	d.logger.LogQuery(d.name, d.protocol.Name(), m.Success, rtt, err)
	if d.metrics != nil {
		m = d.metrics.Record(m)
	}
	if d.writer != nil {
		if werr := d.writer.WriteMetric(m); werr != nil {
			d.logger.Error("write metric: %v", werr)
		}
	}
}

// chunks splits data into pieces of at most size bytes. size <= 0 returns
// data as a single chunk.
func chunks(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	out := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	return append(out, data)
}

// EncodeError reports a request that could not be built from its fields.
type EncodeError struct {
	Protocol string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s request: %v", e.Protocol, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func classifyOutcome(err error) metrics.Outcome {
	var encErr *EncodeError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &encErr):
		return metrics.OutcomeEncode
	case transport.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case errors.Is(err, protocol.ErrChecksum):
		return metrics.OutcomeChecksum
	case errors.Is(err, protocol.ErrAck):
		return metrics.OutcomeAck
	case errors.Is(err, packet.ErrOutOfBounds), errors.Is(err, packet.ErrFieldValue),
		errors.Is(err, protocol.ErrMalformed):
		return metrics.OutcomeFraming
	default:
		return metrics.OutcomeTransport
	}
}
