package common

import "encoding/json"

const (
	// ProtocolVersion is the only JSON-RPC version tag accepted on the wire.
	ProtocolVersion = "2.0"

	// MethodToolsCall is the JSON-RPC method carrying counter commands.
	MethodToolsCall = "tools/call"

	// ToolCounter is the tool name expected in params.name.
	ToolCounter = "counter"

	// ArgOperation is the arguments key holding the operation selector.
	ArgOperation = "operation"

	// CounterProtocolID is the libp2p protocol used for peer <-> counterd commands.
	CounterProtocolID = "/counterd/rpc/1.0"

	// CounterRendezvous is the DHT key counterd nodes advertise on.
	CounterRendezvous = "counterd.rpc"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// --- Envelopes ---

// Request is an inbound JSON-RPC envelope. ID and Params stay raw so the id can
// be echoed verbatim and params decoded once the method is known.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ToolCallParams is the params object of a tools/call request.
type ToolCallParams struct {
	Name      string                     `json:"name"`
	Arguments map[string]json.RawMessage `json:"arguments,omitempty"`
}

// Response is an outbound JSON-RPC envelope. Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  *CounterResult  `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CounterResult is the result payload of every counter operation and the body
// of GET /api/counter.
type CounterResult struct {
	Value int64 `json:"value"`
}

// NewResult builds a success envelope echoing id.
func NewResult(id json.RawMessage, value int64) *Response {
	return &Response{
		JSONRPC: ProtocolVersion,
		ID:      normalizeID(id),
		Result:  &CounterResult{Value: value},
	}
}

// NewError builds an error envelope echoing id (null when unknown).
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: ProtocolVersion,
		ID:      normalizeID(id),
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
