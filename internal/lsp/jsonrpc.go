package lsp

import (
	"encoding/json"

	"github.com/camelscope/camelscope/internal/perlerr"
)

// Message is a JSON-RPC 2.0 request, notification, or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the JSON-RPC error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0 && string(m.ID) != "null"
}

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.IsRequest()
}

// newResponse builds a success response.
func newResponse(id json.RawMessage, result any) Message {
	if result == nil {
		result = json.RawMessage("null")
	}
	return Message{JSONRPC: "2.0", ID: id, Result: result}
}

// newErrorResponse builds an error response from any error, mapping the
// taxonomy kinds to their JSON-RPC codes and everything else to
// InternalError.
func newErrorResponse(id json.RawMessage, err error) Message {
	code := perlerr.CodeInternalError
	if perr, ok := err.(*perlerr.ProtocolError); ok {
		code = perr.RPCCode()
	}
	return Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ResponseError{Code: code, Message: err.Error()},
	}
}

// newNotification builds an outgoing notification.
func newNotification(method string, params any) Message {
	raw, _ := json.Marshal(params)
	return Message{JSONRPC: "2.0", Method: method, Params: raw}
}
