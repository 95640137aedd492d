// Package streamablehttp implements the server side of the MCP streamable
// HTTP transport. It mounts as a standard net/http handler and multiplexes
// one endpoint across three methods: POST carries client-to-server JSON-RPC
// messages (answered over a per-request SSE stream or a batched JSON body),
// GET opens the standalone server-push stream, and DELETE tears the session
// down.
//
// Responsibilities
//   - Request gating (Accept / Content-Type / body size) and JSON-RPC
//     payload normalization (single message or batch)
//   - Session lifecycle: the initialize handshake, Mcp-Session-Id
//     validation, teardown
//   - Correlation of in-flight request ids with the SSE stream or pending
//     JSON response their replies must be delivered on
//   - Optional resumability through an eventstore.Store: outbound frames are
//     stamped with store-assigned event ids, and a GET with Last-Event-Id
//     replays what the client missed
//
// Construction
//
//	t := streamablehttp.New(
//	    streamablehttp.WithSessionIDGenerator(streamablehttp.NewSessionID),
//	    streamablehttp.WithEventStore(memorystore.New()),
//	)
//	t.OnMessage = func(ctx context.Context, msg *jsonrpc.AnyMessage, meta streamablehttp.MessageMeta) {
//	    // handle the message; reply via t.Send
//	}
//	_ = t.Start()
//	http.ListenAndServe(":8080", t)
//
// A transport constructed without WithSessionIDGenerator is stateless: no
// Mcp-Session-Id header is issued or required.
//
// # Response delivery
//
// For a POST carrying requests, the handler goroutine opens the response
// (SSE headers flushed, or a pending JSON body) before the payload is
// dispatched to OnMessage on a separate goroutine. The client therefore
// holds the open response before the first Send can race it; hosts may call
// Send from OnMessage without further coordination.
//
// # Authentication
//
// The transport never inspects credentials. Outer middleware may attach an
// opaque value with WithAuthInfo; it is handed back verbatim in
// MessageMeta.AuthInfo on every dispatched message.
package streamablehttp
