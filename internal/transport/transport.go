// Package transport holds the types shared by the ingress and egress
// adapters under its subpackages.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned once an adapter has been closed or its peer went away
// for good.
var ErrClosed = errors.New("transport: closed")

// Envelope is one outbound message. Payload is the JSON recommendation;
// SessionID and Seq let consumers order and attribute messages.
type Envelope struct {
	SessionID string
	Seq       uint64
	Payload   []byte
}

// Source yields raw telemetry payloads.
type Source interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Sink accepts outbound envelopes.
type Sink interface {
	Send(ctx context.Context, env Envelope) error
}

// MultiSink fans an envelope out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
