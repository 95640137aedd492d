// Package eventstore defines the narrow contract the streamable HTTP
// transport needs for resumability: stores assign totally-ordered, opaque
// event ids to outbound frames, and replay the frames that follow a given
// id when a client reconnects with Last-Event-Id.
//
// Implementations
//   - memorystore: process-local, for single-node deployments and tests
//   - redisstore:  Redis Streams, for deployments that survive reconnects
//     across processes
package eventstore

import (
	"context"
	"errors"
)

// ErrEventNotFound is returned by ReplayEventsAfter when the given event id
// does not identify a stored event.
var ErrEventNotFound = errors.New("event not found")

// SendFunc receives one replayed event. Implementations of Store invoke it
// once per historical event, in storage order, before ReplayEventsAfter
// returns.
type SendFunc func(ctx context.Context, eventID string, data []byte) error

// Store is the resumability contract consumed by the transport.
//
// Event ids are opaque to the transport: only the store that minted an id
// can interpret it. Ids must be totally ordered within a stream, and an id
// alone must be enough for the store to recover which stream it belongs to.
type Store interface {
	// StoreEvent records an outbound message on the given stream and returns
	// the event id to stamp on the SSE frame. Called at most once per
	// outbound message.
	StoreEvent(ctx context.Context, streamID string, data []byte) (eventID string, err error)

	// ReplayEventsAfter emits every stored event that follows lastEventID on
	// its stream, in order, through send, and returns the stream id under
	// which subsequent live events for the resumed connection are to be
	// registered. Only the standalone server-push stream is expected to be
	// replayed; request-bound streams complete through the response path.
	ReplayEventsAfter(ctx context.Context, lastEventID string, send SendFunc) (streamID string, err error)
}
