package channel

import (
	"context"
	"errors"

	"meshbridge/pkg/bus"
	"meshbridge/pkg/protocol"
)

var (
	// ErrChannelUnavailable is returned by Send when no embedded peer is
	// connected. Surfaced and logged; never retried at this layer.
	ErrChannelUnavailable = errors.New("channel: embedded peer not connected")

	// ErrUntrustedPeer is returned by Send when the connected peer's
	// origin is not the trusted origin. Outbound frames are addressed to
	// the trusted origin only, never broadcast.
	ErrUntrustedPeer = errors.New("channel: connected peer origin is not trusted")
)

// Handler receives every inbound frame as a raw channel event. Origin
// gating and decoding happen behind the handler, in the dispatch
// pipeline.
type Handler func(context.Context, bus.ChannelEvent)

// Adapter bridges one external transport (for example WebSocket) into
// the bridge's duplex message conduit.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	Send(context.Context, protocol.Message) error
	Connected() bool
}
