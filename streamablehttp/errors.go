package streamablehttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/enZane/stream-http-edge-transport/jsonrpc"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("transport already started")

	// ErrStandaloneResponse is returned by Send when a response carries no
	// request id: responses belong on the stream of the request that caused
	// them.
	ErrStandaloneResponse = errors.New("cannot send a response on a standalone SSE stream unless resuming a previous client request")

	// ErrUnknownRequestID is returned by Send when the related request id is
	// not correlated with any stream.
	ErrUnknownRequestID = errors.New("no stream found for request ID")
)

// protocolError is an HTTP-boundary rejection: a status plus the JSON-RPC
// error envelope to write. Gate and session failures recover into one of
// these and never reach the host callbacks.
type protocolError struct {
	status  int
	code    jsonrpc.ErrorCode
	message string
	data    any
}

// errorEnvelope is the error body shape for every non-2xx response:
// {"jsonrpc":"2.0","error":{...},"id":null}. The id is explicitly null, not
// omitted.
type errorEnvelope struct {
	JSONRPCVersion string         `json:"jsonrpc"`
	Error          *jsonrpc.Error `json:"error"`
	ID             any            `json:"id"`
}

func writeRPCError(w http.ResponseWriter, perr *protocolError) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(perr.status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		JSONRPCVersion: jsonrpc.Version,
		Error:          &jsonrpc.Error{Code: perr.code, Message: perr.message, Data: perr.data},
	})
}
