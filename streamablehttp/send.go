package streamablehttp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/enZane/stream-http-edge-transport/jsonrpc"
)

// SendOptions modify a single Send call.
type SendOptions struct {
	// RelatedRequestID correlates a server-initiated request or notification
	// with an in-flight client request, delivering it on that request's
	// stream instead of the standalone one.
	RelatedRequestID *jsonrpc.RequestID
}

// SendOption configures SendOptions.
type SendOption func(*SendOptions)

// WithRelatedRequestID targets the stream of the given in-flight request.
func WithRelatedRequestID(id *jsonrpc.RequestID) SendOption {
	return func(o *SendOptions) { o.RelatedRequestID = id }
}

// Send delivers an outbound message to the client.
//
// Responses and errors are routed by their own id to the stream (or pending
// JSON body) of the request they answer; the last response for a stream
// completes it. Other messages go to the stream named by
// WithRelatedRequestID, or to the standalone GET stream when uncorrelated.
// An uncorrelated message with no standalone consumer is silently dropped.
//
// Send returns an error for dispatch mistakes (unknown request id, response
// without a request id) and for event-store failures. Frame-write failures
// are reported through OnError and do not fail the call: the terminal
// bookkeeping still runs, so a canceled consumer cannot wedge its requests.
func (t *Transport) Send(ctx context.Context, msg *jsonrpc.AnyMessage, opts ...SendOption) error {
	var so SendOptions
	for _, opt := range opts {
		opt(&so)
	}

	isResponse := msg.IsResponse()
	reqID := so.RelatedRequestID
	if isResponse {
		reqID = msg.ID
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if reqID.IsNil() {
		if isResponse {
			return ErrStandaloneResponse
		}
		return t.sendStandalone(ctx, data)
	}

	key := reqID.Key()
	t.mu.Lock()
	streamID, ok := t.requestStream[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequestID, reqID.String())
	}
	st := t.streams[streamID]
	t.mu.Unlock()

	// A known stream id with no live sink means the consumer canceled (or
	// JSON mode is active): elide the write, keep the bookkeeping.
	if !t.jsonResponse && st != nil {
		if err := t.writeFrame(ctx, st, data); err != nil {
			return err
		}
	}

	if !isResponse {
		return nil
	}
	return t.completeRequest(key, streamID, msg)
}

// sendStandalone writes an uncorrelated server-initiated message to the
// standalone GET stream, dropping it when no consumer is connected.
func (t *Transport) sendStandalone(ctx context.Context, data []byte) error {
	t.mu.Lock()
	st := t.streams[standaloneStreamID]
	t.mu.Unlock()
	if st == nil {
		// No standalone consumer; the message is droppable by contract.
		t.log.DebugContext(ctx, "send.standalone.drop")
		return nil
	}
	return t.writeFrame(ctx, st, data)
}

// writeFrame assigns an event id (when resumability is on) and writes one
// frame, holding the stream's write lock across both so ids are issued in
// frame order. Store failures propagate; write failures are reported via
// OnError and swallowed.
func (t *Transport) writeFrame(ctx context.Context, st *stream, data []byte) error {
	st.sse.mu.Lock()
	var eventID string
	if t.store != nil {
		id, err := t.store.StoreEvent(ctx, st.id, data)
		if err != nil {
			st.sse.mu.Unlock()
			return fmt.Errorf("failed to store event: %w", err)
		}
		eventID = id
	}
	err := st.sse.writeEventLocked(eventID, data)
	st.sse.mu.Unlock()
	if err != nil {
		t.reportError(err)
	}
	return nil
}

// completeRequest buffers a terminal response and, when it is the last one
// outstanding for its stream, completes the stream: the pending JSON body
// resolves (responses in request-discovery order) or the SSE stream closes,
// and every correlated entry leaves the maps.
func (t *Transport) completeRequest(key, streamID string, msg *jsonrpc.AnyMessage) error {
	t.mu.Lock()
	t.responses[key] = msg

	keys := t.streamRequests[streamID]
	for _, k := range keys {
		if _, ok := t.responses[k]; !ok {
			t.mu.Unlock()
			return nil
		}
	}

	ordered := make([]*jsonrpc.AnyMessage, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, t.responses[k])
		delete(t.responses, k)
		delete(t.requestStream, k)
	}
	st := t.streams[streamID]
	resolver := t.pending[streamID]
	delete(t.streamRequests, streamID)
	delete(t.streams, streamID)
	delete(t.pending, streamID)
	t.mu.Unlock()

	if resolver != nil {
		resolver <- ordered
	}
	if st != nil {
		st.close()
	}
	return nil
}
