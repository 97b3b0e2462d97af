package rpc

import (
	"context"
	"fmt"

	"counterd/counter"
)

// Operation is a recognized counter command.
type Operation string

const (
	OpIncrement Operation = "increment"
	OpDecrement Operation = "decrement"
	OpGetValue  Operation = "get_value"
)

// aliases maps every accepted selector to its operation. "read" is the
// operation implied by GET /api/counter.
var aliases = map[string]Operation{
	"increment": OpIncrement,
	"decrement": OpDecrement,
	"get_value": OpGetValue,
	"read":      OpGetValue,
}

// ParseOperation resolves a selector name, including aliases.
func ParseOperation(name string) (Operation, bool) {
	op, ok := aliases[name]
	return op, ok
}

func (op Operation) apply(ctx context.Context, store counter.Store) (int64, error) {
	switch op {
	case OpIncrement:
		return store.Increment(ctx)
	case OpDecrement:
		return store.Decrement(ctx)
	case OpGetValue:
		return store.Read(ctx)
	default:
		return 0, fmt.Errorf("unsupported operation %q", string(op))
	}
}
