package streamablehttp

import (
	"net/http"

	"github.com/enZane/stream-http-edge-transport/jsonrpc"
)

// validateSessionLocked applies the session rules to an incoming request,
// in order, returning nil when the request may proceed. Applied to GET,
// DELETE, and to POSTs that are not initialize requests. Callers hold t.mu.
//
//  1. A stateless transport accepts everything.
//  2. Before initialization nothing else is valid.
//  3. The Mcp-Session-Id header is mandatory once a session exists.
//  4. The header must match the live session.
func (t *Transport) validateSessionLocked(r *http.Request) *protocolError {
	if t.sessionIDGen == nil {
		return nil
	}
	if !t.initialized {
		return &protocolError{
			status:  http.StatusBadRequest,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Bad Request: Server not initialized",
		}
	}
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		return &protocolError{
			status:  http.StatusBadRequest,
			code:    jsonrpc.ErrorCodeServerError,
			message: "Bad Request: Mcp-Session-Id header is required",
		}
	}
	if sessID != t.sessionID {
		return &protocolError{
			status:  http.StatusNotFound,
			code:    jsonrpc.ErrorCodeSessionNotFound,
			message: "Session not found",
		}
	}
	return nil
}
