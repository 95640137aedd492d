package streamablehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/enZane/stream-http-edge-transport/internal/logctx"
	"github.com/enZane/stream-http-edge-transport/jsonrpc"
)

var _ http.Handler = (*Transport)(nil)

// ServeHTTP multiplexes the single MCP endpoint across methods.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	r = r.WithContext(ctx)

	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleGet(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeRPCError(w, &protocolError{
			status:  http.StatusMethodNotAllowed,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Method not allowed",
		})
		t.log.WarnContext(ctx, "http.method.unsupported", slog.String("http_method", r.Method))
	}
}

func acceptsMediaType(r *http.Request, mt contenttype.MediaType) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	_, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{mt})
	return err == nil
}

// handlePost accepts client-to-server messages. Gates run in order; the
// first failure short-circuits into an error envelope. A validated payload
// with requests opens a response stream (or a pending JSON body) before the
// messages are dispatched.
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	t.log.InfoContext(ctx, "http.post.start")

	if !acceptsMediaType(r, jsonMediaType) || !acceptsMediaType(r, eventStreamMediaType) {
		writeRPCError(w, &protocolError{
			status:  http.StatusNotAcceptable,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Not Acceptable: Client must accept both application/json and text/event-stream",
		})
		t.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeRPCError(w, &protocolError{
			status:  http.StatusUnsupportedMediaType,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Unsupported Media Type: Content-Type must be application/json",
		})
		t.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeRPCError(w, &protocolError{
				status:  http.StatusRequestEntityTooLarge,
				code:    jsonrpc.ErrorCodeServerError,
				message: fmt.Sprintf("Payload Too Large: request body exceeds %d bytes", t.maxBodyBytes),
			})
			t.log.WarnContext(ctx, "body.too_large", slog.Int64("limit", t.maxBodyBytes))
			return
		}
		writeRPCError(w, &protocolError{
			status:  http.StatusBadRequest,
			code:    jsonrpc.ErrorCodeParseError,
			message: "Parse error",
			data:    err.Error(),
		})
		t.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return
	}

	msgs, _, err := jsonrpc.ParseMessages(body)
	if err != nil {
		writeRPCError(w, &protocolError{
			status:  http.StatusBadRequest,
			code:    jsonrpc.ErrorCodeParseError,
			message: "Parse error",
			data:    err.Error(),
		})
		t.log.WarnContext(ctx, "jsonrpc.parse.fail", slog.String("err", err.Error()))
		return
	}

	isInitialize := false
	for _, msg := range msgs {
		if msg.IsRequest() && msg.Method == methodInitialize {
			isInitialize = true
			break
		}
	}

	if isInitialize {
		if perr := t.handleInitialize(ctx, msgs); perr != nil {
			writeRPCError(w, perr)
			t.log.WarnContext(ctx, "session.initialize.reject", slog.String("reason", perr.message))
			return
		}
	} else {
		t.mu.Lock()
		perr := t.validateSessionLocked(r)
		t.mu.Unlock()
		if perr != nil {
			writeRPCError(w, perr)
			t.log.WarnContext(ctx, "session.validate.fail", slog.String("reason", perr.message))
			return
		}
	}

	hasRequests := false
	for _, msg := range msgs {
		if msg.IsRequest() {
			hasRequests = true
			break
		}
	}

	// Notifications and responses are accepted without a response body.
	if !hasRequests {
		w.WriteHeader(http.StatusAccepted)
		meta := MessageMeta{AuthInfo: AuthInfoFromContext(ctx)}
		if cb := t.OnMessage; cb != nil {
			for _, msg := range msgs {
				cb(t.rpcContext(ctx, msg, ""), msg, meta)
			}
		}
		t.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	streamID := uuid.NewString()
	keys := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.IsRequest() {
			keys = append(keys, msg.ID.Key())
		}
	}

	if t.jsonResponse {
		t.servePostJSON(w, r, streamID, keys, msgs, start)
		return
	}
	t.servePostSSE(w, r, streamID, keys, msgs, start)
}

// servePostSSE opens the per-request SSE stream, registers it, and blocks
// until every correlated request has been answered or the consumer goes
// away. The payload is dispatched only after the prolog is flushed, so the
// client holds the open stream before the first response can be sent.
func (t *Transport) servePostSSE(w http.ResponseWriter, r *http.Request, streamID string, keys []string, msgs []*jsonrpc.AnyMessage, start time.Time) {
	ctx := r.Context()

	sw, ok := newSSEWriter(w, ctx)
	if !ok {
		writeRPCError(w, &protocolError{
			status:  http.StatusInternalServerError,
			code:    jsonrpc.ErrorCodeInternalError,
			message: "Streaming unsupported by the underlying connection",
		})
		t.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	st := newStream(streamID, sw)

	sw.mu.Lock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sw.mu.Unlock()
		writeRPCError(w, &protocolError{
			status:  http.StatusInternalServerError,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Transport is closed",
		})
		return
	}
	for _, key := range keys {
		t.requestStream[key] = streamID
	}
	t.streamRequests[streamID] = keys
	t.streams[streamID] = st
	sessID := t.sessionID
	t.mu.Unlock()

	t.writeSSEProlog(w, sessID)
	sw.f.Flush()
	sw.mu.Unlock()

	t.log.InfoContext(ctx, "sse.stream.start", slog.String("stream_id", streamID))

	go t.dispatchMessages(context.WithoutCancel(ctx), streamID, msgs)

	select {
	case <-st.done:
		t.log.InfoContext(ctx, "sse.stream.complete", slog.Duration("dur", time.Since(start)))
	case <-ctx.Done():
		t.cancelStream(streamID, st)
		t.log.InfoContext(ctx, "sse.stream.cancel", slog.Duration("dur", time.Since(start)))
	case <-t.done:
		t.log.InfoContext(ctx, "sse.stream.close", slog.Duration("dur", time.Since(start)))
	}
}

// servePostJSON registers a pending resolver and blocks until the batch of
// responses is assembled, then replies with a single application/json body.
func (t *Transport) servePostJSON(w http.ResponseWriter, r *http.Request, streamID string, keys []string, msgs []*jsonrpc.AnyMessage, start time.Time) {
	ctx := r.Context()

	resolver := make(chan []*jsonrpc.AnyMessage, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		writeRPCError(w, &protocolError{
			status:  http.StatusInternalServerError,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Transport is closed",
		})
		return
	}
	for _, key := range keys {
		t.requestStream[key] = streamID
	}
	t.streamRequests[streamID] = keys
	t.pending[streamID] = resolver
	t.mu.Unlock()

	go t.dispatchMessages(context.WithoutCancel(ctx), streamID, msgs)

	select {
	case responses := <-resolver:
		t.mu.Lock()
		sessID := t.sessionID
		t.mu.Unlock()

		w.Header().Set("Content-Type", jsonMediaType.String())
		t.writeSessionHeaders(w, sessID)
		w.WriteHeader(http.StatusOK)
		var encErr error
		if len(responses) == 1 {
			encErr = json.NewEncoder(w).Encode(responses[0])
		} else {
			encErr = json.NewEncoder(w).Encode(responses)
		}
		if encErr != nil {
			t.log.ErrorContext(ctx, "json.response.write.fail", slog.String("err", encErr.Error()))
			return
		}
		t.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)), slog.Int("responses", len(responses)))
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, streamID)
		t.mu.Unlock()
		t.log.InfoContext(ctx, "http.post.cancel", slog.Duration("dur", time.Since(start)))
	case <-t.done:
		t.log.InfoContext(ctx, "http.post.close", slog.Duration("dur", time.Since(start)))
	}
}

// handleInitialize applies the initialize handshake rules and, on the first
// success, assigns the session id.
func (t *Transport) handleInitialize(ctx context.Context, msgs []*jsonrpc.AnyMessage) *protocolError {
	if len(msgs) > 1 {
		return &protocolError{
			status:  http.StatusBadRequest,
			code:    jsonrpc.ErrorCodeInvalidRequest,
			message: "Invalid Request: Only one initialization request is allowed",
		}
	}

	t.mu.Lock()
	if t.initialized && t.sessionIDGen != nil {
		t.mu.Unlock()
		return &protocolError{
			status:  http.StatusBadRequest,
			code:    jsonrpc.ErrorCodeInvalidRequest,
			message: "Invalid Request: Server already initialized",
		}
	}
	// Stateless transports tolerate repeated initialization; each one is
	// reported to OnSessionInitialized.
	if t.sessionIDGen != nil {
		t.sessionID = t.sessionIDGen()
	}
	t.initialized = true
	sessID := t.sessionID
	t.mu.Unlock()

	t.log.InfoContext(ctx, "session.initialize.ok", slog.String("session_id", sessID))
	if cb := t.OnSessionInitialized; cb != nil {
		cb(sessID)
	}
	return nil
}

// handleGet opens the standalone server-push stream, or resumes a prior
// stream when the client presents Last-Event-Id and a store is configured.
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t.log.InfoContext(ctx, "http.get.start")

	if !acceptsMediaType(r, eventStreamMediaType) {
		writeRPCError(w, &protocolError{
			status:  http.StatusNotAcceptable,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Not Acceptable: Client must accept text/event-stream",
		})
		t.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}

	sw, ok := newSSEWriter(w, ctx)
	if !ok {
		writeRPCError(w, &protocolError{
			status:  http.StatusInternalServerError,
			code:    jsonrpc.ErrorCodeInternalError,
			message: "Streaming unsupported by the underlying connection",
		})
		t.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	t.mu.Lock()
	if perr := t.validateSessionLocked(r); perr != nil {
		t.mu.Unlock()
		writeRPCError(w, perr)
		t.log.WarnContext(ctx, "session.validate.fail", slog.String("reason", perr.message))
		return
	}
	sessID := t.sessionID
	t.mu.Unlock()

	if lastEventID := r.Header.Get(lastEventIDHeader); lastEventID != "" && t.store != nil {
		t.serveReplay(w, r, sw, sessID, lastEventID)
		return
	}

	st := newStream(standaloneStreamID, sw)

	sw.mu.Lock()
	t.mu.Lock()
	if _, exists := t.streams[standaloneStreamID]; exists {
		t.mu.Unlock()
		sw.mu.Unlock()
		writeRPCError(w, &protocolError{
			status:  http.StatusConflict,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Conflict: Only one SSE stream is allowed per session",
		})
		t.log.WarnContext(ctx, "sse.standalone.conflict")
		return
	}
	if t.closed {
		t.mu.Unlock()
		sw.mu.Unlock()
		writeRPCError(w, &protocolError{
			status:  http.StatusInternalServerError,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Transport is closed",
		})
		return
	}
	t.streams[standaloneStreamID] = st
	t.mu.Unlock()

	t.writeSSEProlog(w, sessID)
	sw.f.Flush()
	sw.mu.Unlock()

	t.log.InfoContext(ctx, "sse.standalone.start")

	select {
	case <-st.done:
		t.log.InfoContext(ctx, "sse.standalone.complete")
	case <-ctx.Done():
		t.cancelStream(standaloneStreamID, st)
		t.log.InfoContext(ctx, "sse.standalone.cancel")
	case <-t.done:
		t.log.InfoContext(ctx, "sse.standalone.close")
	}
}

// serveReplay delegates to the event store: historical frames are written
// first, then the store's stream id is registered as the live sink for
// subsequent sends. Pending request ids are never re-mapped; only the
// standalone server-push channel is resumable, so any other stream id the
// store hands back ends the response after its history is written.
func (t *Transport) serveReplay(w http.ResponseWriter, r *http.Request, sw *sseWriter, sessID, lastEventID string) {
	ctx := r.Context()

	sw.mu.Lock()
	t.writeSSEProlog(w, sessID)
	sw.f.Flush()
	sw.mu.Unlock()

	t.log.InfoContext(ctx, "sse.replay.start", slog.String("last_event_id", lastEventID))

	streamID, err := t.store.ReplayEventsAfter(ctx, lastEventID, func(ctx context.Context, eventID string, data []byte) error {
		return sw.writeEvent(eventID, data)
	})
	if err != nil {
		t.reportError(fmt.Errorf("failed to replay events: %w", err))
		t.log.ErrorContext(ctx, "sse.replay.fail", slog.String("err", err.Error()))
		return
	}
	if streamID != standaloneStreamID {
		t.reportError(fmt.Errorf("replay of request-bound stream %s is not resumable", streamID))
		t.log.WarnContext(ctx, "sse.replay.refused", slog.String("stream_id", streamID))
		return
	}

	st := newStream(streamID, sw)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if _, exists := t.streams[streamID]; exists {
		t.mu.Unlock()
		t.reportError(fmt.Errorf("replay of stream %s conflicts with a live stream", streamID))
		t.log.WarnContext(ctx, "sse.replay.conflict", slog.String("stream_id", streamID))
		return
	}
	t.streams[streamID] = st
	t.mu.Unlock()

	t.log.InfoContext(ctx, "sse.replay.live", slog.String("stream_id", streamID))

	select {
	case <-st.done:
	case <-ctx.Done():
		t.cancelStream(streamID, st)
	case <-t.done:
	}
}

// handleDelete validates the session and tears the transport down.
func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t.log.InfoContext(ctx, "http.delete.start")

	t.mu.Lock()
	perr := t.validateSessionLocked(r)
	t.mu.Unlock()
	if perr != nil {
		writeRPCError(w, perr)
		t.log.WarnContext(ctx, "session.validate.fail", slog.String("reason", perr.message))
		return
	}

	_ = t.Close()
	w.WriteHeader(http.StatusOK)
	t.log.InfoContext(ctx, "http.delete.ok")
}

// cancelStream handles consumer cancellation: the stream leaves the
// registry, but its request correlations stay so that late responses can
// still complete and clean up.
func (t *Transport) cancelStream(streamID string, st *stream) {
	t.mu.Lock()
	if cur, ok := t.streams[streamID]; ok && cur == st {
		delete(t.streams, streamID)
	}
	t.mu.Unlock()
	st.close()
}

func (t *Transport) writeSSEProlog(w http.ResponseWriter, sessID string) {
	h := w.Header()
	h.Set("Content-Type", eventStreamMediaType.String())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	t.writeSessionHeaders(w, sessID)
	w.WriteHeader(http.StatusOK)
}

// writeSessionHeaders stamps the session id and, only alongside it, the
// advertised protocol version. Stateless responses carry neither.
func (t *Transport) writeSessionHeaders(w http.ResponseWriter, sessID string) {
	if sessID == "" {
		return
	}
	w.Header().Set(mcpSessionIDHeader, sessID)
	if t.protocolVersion != "" {
		w.Header().Set(mcpProtocolVersionHeader, t.protocolVersion)
	}
}

// dispatchMessages hands a validated payload to OnMessage in order. It runs
// after the response has been opened, and re-checks transport liveness per
// message so a transport closed in the window never observes a dispatch.
// Stream completion is not an abort condition: a host that answers a
// request synchronously inside OnMessage may complete the stream mid-batch,
// and the remaining validated messages are still delivered.
func (t *Transport) dispatchMessages(ctx context.Context, streamID string, msgs []*jsonrpc.AnyMessage) {
	cb := t.OnMessage
	meta := MessageMeta{AuthInfo: AuthInfoFromContext(ctx)}
	for _, msg := range msgs {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		if cb != nil {
			cb(t.rpcContext(ctx, msg, streamID), msg, meta)
		}
	}
}

func (t *Transport) rpcContext(ctx context.Context, msg *jsonrpc.AnyMessage, streamID string) context.Context {
	return logctx.WithRPCData(ctx, &logctx.RPCData{
		Method:   msg.Method,
		ID:       msg.ID.String(),
		Type:     string(msg.Type()),
		StreamID: streamID,
	})
}
