package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counterd/common"
	"counterd/counter"
	"counterd/observability"
	"counterd/rpc"
)

func TestServeLineDelimitedEnvelopes(t *testing.T) {
	logger := observability.TestLogger(t)
	d := rpc.NewDispatcher(counter.NewMemory(0), logger, nil)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"increment"}}}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"increment"}}}`,
		`{"jsonrpc":"1.0","id":3,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"increment"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"decrement"}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"read"}}}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, serve(context.Background(), d, strings.NewReader(in), &out, logger))

	var responses []common.Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp common.Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, 5)

	assert.Equal(t, int64(1), responses[0].Result.Value)
	assert.Equal(t, int64(2), responses[1].Result.Value)
	assert.Nil(t, responses[2].Result)
	require.NotNil(t, responses[2].Error)
	assert.Equal(t, common.CodeInvalidRequest, responses[2].Error.Code)
	assert.JSONEq(t, "3", string(responses[2].ID))
	assert.Equal(t, int64(1), responses[3].Result.Value)
	assert.Equal(t, int64(1), responses[4].Result.Value)
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	logger := observability.TestLogger(t)
	d := rpc.NewDispatcher(counter.NewMemory(0), logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := serve(ctx, d, strings.NewReader("{}\n{}\n"), &out, logger)

	assert.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestServeAnswersOversizedLineAndKeepsGoing(t *testing.T) {
	logger := observability.TestLogger(t)
	d := rpc.NewDispatcher(counter.NewMemory(0), logger, nil)

	oversized := `{"jsonrpc":"2.0","id":"` + strings.Repeat("x", 2*rpc.MaxPayloadBytes) + `"}`
	in := oversized + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"increment"}}}` + "\n"

	var out bytes.Buffer
	require.NoError(t, serve(context.Background(), d, strings.NewReader(in), &out, logger))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var rejected common.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rejected))
	require.NotNil(t, rejected.Error)
	assert.Equal(t, common.CodeParseError, rejected.Error.Code)
	assert.Equal(t, "payload too large", rejected.Error.Message)
	assert.Nil(t, rejected.Result)

	var accepted common.Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &accepted))
	require.NotNil(t, accepted.Result)
	assert.Equal(t, int64(1), accepted.Result.Value)
}

func TestServeHandlesLastLineWithoutNewline(t *testing.T) {
	logger := observability.TestLogger(t)
	d := rpc.NewDispatcher(counter.NewMemory(7), logger, nil)

	in := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"get_value"}}}`

	var out bytes.Buffer
	require.NoError(t, serve(context.Background(), d, strings.NewReader(in), &out, logger))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"value":7}}`, strings.TrimSpace(out.String()))
}

func TestReadLineAtLimit(t *testing.T) {
	fits := strings.Repeat("a", rpc.MaxPayloadBytes)
	over := strings.Repeat("b", rpc.MaxPayloadBytes+1)
	r := bufio.NewReaderSize(strings.NewReader(fits+"\n"+over+"\nnext\n"), 4096)

	line, tooLong, err := readLine(r)
	require.NoError(t, err)
	assert.False(t, tooLong)
	assert.Len(t, line, rpc.MaxPayloadBytes+1)

	line, tooLong, err = readLine(r)
	require.NoError(t, err)
	assert.True(t, tooLong)
	assert.Empty(t, line)

	line, tooLong, err = readLine(r)
	require.NoError(t, err)
	assert.False(t, tooLong)
	assert.Equal(t, "next\n", string(line))
}
