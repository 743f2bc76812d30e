// Package transport delivers raw push frames from the report server and
// reports connection state changes. Reconnecting is the websocket
// implementation; tests substitute their own Transport.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("transport: not connected")

// EventKind classifies a transport event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one item on the transport's event stream.
type Event struct {
	Kind EventKind
	Data []byte // payload of EventMessage
	Err  error  // cause of EventDisconnected, if any
}

// Transport is the connection used by the live channel.
// Events is closed when the transport stops for good.
type Transport interface {
	Events() <-chan Event
	Send(ctx context.Context, payload []byte) error
}
