// Package jsonrpc implements the JSON-RPC 2.0 message model spoken by the
// streamable HTTP transport: requests, notifications, responses, and the
// string-or-number request IDs used to correlate them.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the supported JSON-RPC protocol version.
const Version = "2.0"

// MessageType classifies an AnyMessage.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeNotification MessageType = "notification"
	TypeResponse     MessageType = "response"
)

// AnyMessage is a generic JSON-RPC message: a request, a notification, or a
// response. Unmarshaling validates JSON-RPC 2.0 structure, so a populated
// AnyMessage is always one of the three.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response carrying either a result or an error.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewRequest builds a request (or, with a nil id, a notification) with
// marshaled params. A nil params value omits the field.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: Version, Method: method, ID: id}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// NewResultResponse builds a successful response for the given request id.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: Version, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: Version,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// UnmarshalJSON enforces JSON-RPC 2.0 structure: the version marker must be
// present, requests carry a method and no result/error, and responses carry
// exactly one of result or error.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type wire AnyMessage
	var raw wire
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if raw.JSONRPCVersion != Version {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", Version, raw.JSONRPCVersion)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	switch {
	case hasMethod && (hasResult || hasError):
		return fmt.Errorf("request message cannot have result or error fields")
	case !hasMethod && hasResult && hasError:
		return fmt.Errorf("response message cannot have both result and error fields")
	case !hasMethod && !hasResult && !hasError:
		return fmt.Errorf("response message must have either result or error field")
	}

	*m = AnyMessage(raw)
	return nil
}

// Type reports whether the message is a request, notification, or response.
func (m *AnyMessage) Type() MessageType {
	if m.Method != "" {
		if m.ID.IsNil() {
			return TypeNotification
		}
		return TypeRequest
	}
	return TypeResponse
}

// IsRequest reports whether the message is a request expecting a response.
func (m *AnyMessage) IsRequest() bool { return m.Type() == TypeRequest }

// IsResponse reports whether the message is a terminal response (result or
// error) for a prior request.
func (m *AnyMessage) IsResponse() bool { return m.Type() == TypeResponse }

// AsRequest projects the message as a Request, or nil if it is a response.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse projects the message as a Response, or nil if it is not one.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}

// AsAny lifts a Request back into the generic message form.
func (r *Request) AsAny() *AnyMessage {
	return &AnyMessage{JSONRPCVersion: r.JSONRPCVersion, Method: r.Method, Params: r.Params, ID: r.ID}
}

// AsAny lifts a Response back into the generic message form.
func (r *Response) AsAny() *AnyMessage {
	return &AnyMessage{JSONRPCVersion: r.JSONRPCVersion, Result: r.Result, Error: r.Error, ID: r.ID}
}

// ParseMessages decodes a request body that holds either a single JSON-RPC
// message or a batch array of them, returning the normalized slice. batch
// reports which wire form was used. An empty batch is rejected, as is any
// element that fails message validation.
func ParseMessages(data []byte) (msgs []*AnyMessage, batch bool, err error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var arr []*AnyMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, true, err
		}
		if len(arr) == 0 {
			return nil, true, fmt.Errorf("empty batch")
		}
		for i, msg := range arr {
			if msg == nil {
				return nil, true, fmt.Errorf("batch element %d is not a JSON-RPC message", i)
			}
		}
		return arr, true, nil
	}

	var msg AnyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, err
	}
	return []*AnyMessage{&msg}, false, nil
}
