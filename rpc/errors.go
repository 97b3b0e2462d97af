package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"counterd/common"
)

// MaxPayloadBytes caps one request envelope on every transport.
const MaxPayloadBytes = 1 << 20

// Kind classifies a dispatch failure.
type Kind int

const (
	MalformedPayload Kind = iota
	ProtocolMismatch
	UnrecognizedOperation
	// MissingArgument is reserved for operations that take an argument; none
	// currently do.
	MissingArgument
	InternalFailure
)

func (k Kind) String() string {
	switch k {
	case MalformedPayload:
		return "malformed_payload"
	case ProtocolMismatch:
		return "protocol_mismatch"
	case UnrecognizedOperation:
		return "unrecognized_operation"
	case MissingArgument:
		return "missing_argument"
	case InternalFailure:
		return "internal_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Dispatcher.Command for every failed request.
type Error struct {
	Kind    Kind
	Message string
	// ID is the request id when it could be parsed.
	ID json.RawMessage
	// Code overrides the kind's default JSON-RPC code when non-zero.
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status is the HTTP status for this failure: 500 for internal faults, 400 for
// everything caused by client input.
func (e *Error) Status() int {
	if e.Kind == InternalFailure {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// RPCCode is the JSON-RPC error code reported in the response envelope.
func (e *Error) RPCCode() int {
	if e.Code != 0 {
		return e.Code
	}
	switch e.Kind {
	case MalformedPayload:
		return common.CodeParseError
	case ProtocolMismatch:
		return common.CodeInvalidRequest
	case UnrecognizedOperation:
		return common.CodeMethodNotFound
	case MissingArgument:
		return common.CodeInvalidParams
	default:
		return common.CodeInternalError
	}
}

// Response renders the failure as a JSON-RPC error envelope.
func (e *Error) Response() *common.Response {
	return common.NewError(e.ID, e.RPCCode(), e.Message)
}

// AsError converts any error into an *Error, treating unknown errors as
// internal failures.
func AsError(err error) *Error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	return &Error{Kind: InternalFailure, Message: "internal error", Err: err}
}

// PayloadTooLarge is the failure for envelopes over MaxPayloadBytes.
func PayloadTooLarge() *Error {
	return &Error{Kind: MalformedPayload, Message: "payload too large"}
}

func newError(kind Kind, id json.RawMessage, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Message: fmt.Sprintf(format, args...)}
}
