// Package appliance holds what the device drivers under it share. Each
// driver wraps a Querier, normally a *device.Device, and turns appliance
// operations into protocol fields.
package appliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/tturner/dcpf/internal/packet"
	"github.com/tturner/dcpf/internal/protocol"
)

// ErrNoReply is returned by getters when the request went to an address
// that devices never answer.
var ErrNoReply = errors.New("appliance: request was not answered (broadcast address)")

// Querier runs one request/response exchange and returns the response
// payload. A nil payload with a nil error means no reply was expected.
type Querier interface {
	Query(ctx context.Context, fields packet.Fields, opts protocol.CheckOptions) ([]byte, error)
}

// Reply runs q and fails with ErrNoReply when nothing came back.
func Reply(ctx context.Context, q Querier, fields packet.Fields, opts protocol.CheckOptions) ([]byte, error) {
	data, err := q.Query(ctx, fields, opts)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoReply
	}
	return data, nil
}

// ReplyLength is like Reply but also requires at least n payload bytes.
func ReplyLength(ctx context.Context, q Querier, fields packet.Fields, opts protocol.CheckOptions, n int) ([]byte, error) {
	data, err := Reply(ctx, q, fields, opts)
	if err != nil {
		return nil, err
	}
	if len(data) < n {
		return nil, &ShortReplyError{Want: n, Got: len(data)}
	}
	return data, nil
}

// ShortReplyError reports a payload too short for the requested value.
type ShortReplyError struct {
	Want int
	Got  int
}

func (e *ShortReplyError) Error() string {
	return fmt.Sprintf("reply has %d data bytes, need %d", e.Got, e.Want)
}

func (e *ShortReplyError) Unwrap() error { return protocol.ErrMalformed }
