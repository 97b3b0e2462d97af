// Package rpc turns JSON-RPC tools/call envelopes into counter operations.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"counterd/common"
	"counterd/counter"
)

// Recorder observes every counter operation the dispatcher performs.
type Recorder interface {
	RecordOperation(op string, value int64, err error)
}

// Dispatcher validates request envelopes and applies them to a counter.Store.
// Each request results in at most one store call.
type Dispatcher struct {
	store    counter.Store
	logger   zerolog.Logger
	recorder Recorder
}

// NewDispatcher wires a dispatcher to store. recorder may be nil.
func NewDispatcher(store counter.Store, logger zerolog.Logger, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		store:    store,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		recorder: recorder,
	}
}

// Query reads the counter without any envelope. It backs GET /api/counter.
func (d *Dispatcher) Query(ctx context.Context) (int64, error) {
	value, err := d.apply(ctx, OpGetValue)
	if err != nil {
		return 0, &Error{Kind: InternalFailure, Message: "failed to read counter", Err: err}
	}
	return value, nil
}

// Command runs the full validation pipeline on payload and applies the selected
// operation. Errors are always *Error.
func (d *Dispatcher) Command(ctx context.Context, payload []byte) (*common.Response, error) {
	req, op, rerr := d.parse(payload)
	if rerr != nil {
		d.logger.Debug().
			Str("kind", rerr.Kind.String()).
			Str("reason", rerr.Message).
			Msg("rejected request")
		return nil, rerr
	}

	value, err := d.apply(ctx, op)
	if err != nil {
		d.logger.Error().Err(err).Str("operation", string(op)).Msg("counter operation failed")
		return nil, &Error{
			Kind:    InternalFailure,
			ID:      req.ID,
			Message: "counter operation failed",
			Err:     err,
		}
	}

	d.logger.Debug().Str("operation", string(op)).Int64("value", value).Msg("applied")
	return common.NewResult(req.ID, value), nil
}

// Handle is Command for byte-stream transports: it always produces an encoded
// envelope together with the HTTP-equivalent status.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) (int, []byte) {
	resp, err := d.Command(ctx, payload)
	if err != nil {
		return d.Reject(AsError(err))
	}
	return http.StatusOK, d.encode(resp)
}

// Reject encodes rerr for transports that refuse a payload before dispatch.
func (d *Dispatcher) Reject(rerr *Error) (int, []byte) {
	return rerr.Status(), d.encode(rerr.Response())
}

func (d *Dispatcher) encode(resp *common.Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// Response holds only strings, ints and already-valid raw JSON.
		d.logger.Error().Err(err).Msg("failed to encode response")
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return out
}

func (d *Dispatcher) parse(payload []byte) (*common.Request, Operation, *Error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, "", newError(MalformedPayload, nil, "invalid JSON format: expected a JSON-RPC request object")
	}

	var req common.Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		rerr := newError(MalformedPayload, nil, "invalid JSON format")
		rerr.Err = err
		return nil, "", rerr
	}

	if req.JSONRPC != common.ProtocolVersion {
		return nil, "", newError(ProtocolMismatch, req.ID,
			"unsupported protocol: jsonrpc must be %q, got %q", common.ProtocolVersion, req.JSONRPC)
	}

	if req.Method != common.MethodToolsCall {
		return nil, "", newError(UnrecognizedOperation, req.ID,
			"unsupported method %q: expected %q", req.Method, common.MethodToolsCall)
	}

	var params common.ToolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			rerr := newError(MalformedPayload, req.ID, "invalid params for %s", common.MethodToolsCall)
			rerr.Code = common.CodeInvalidParams
			rerr.Err = err
			return nil, "", rerr
		}
	}

	if params.Name != common.ToolCounter {
		return nil, "", newError(UnrecognizedOperation, req.ID,
			"unknown tool %q: expected %q", params.Name, common.ToolCounter)
	}

	raw, ok := params.Arguments[common.ArgOperation]
	if !ok {
		return nil, "", newError(UnrecognizedOperation, req.ID, "missing operation in params.arguments")
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return nil, "", newError(UnrecognizedOperation, req.ID,
			"operation must be a string, got %s", string(raw))
	}

	op, ok := ParseOperation(name)
	if !ok {
		return nil, "", newError(UnrecognizedOperation, req.ID,
			"unrecognized operation %q: expected increment, decrement or get_value", name)
	}

	if extra := extraArguments(params.Arguments); len(extra) > 0 {
		d.logger.Debug().Strs("arguments", extra).Str("operation", string(op)).Msg("ignoring unused arguments")
	}

	return &req, op, nil
}

func (d *Dispatcher) apply(ctx context.Context, op Operation) (int64, error) {
	value, err := op.apply(ctx, d.store)
	if d.recorder != nil {
		d.recorder.RecordOperation(string(op), value, err)
	}
	return value, err
}

func extraArguments(args map[string]json.RawMessage) []string {
	var extra []string
	for k := range args {
		if k != common.ArgOperation {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}
