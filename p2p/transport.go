package p2p

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog"

	"counterd/common"
	"counterd/rpc"
)

const (
	ProtocolID = protocol.ID(common.CounterProtocolID)

	readTimeout = 30 * time.Second
)

// Transport serves one request envelope per stream. The caller half-closes the
// stream after writing; the reply is a single response envelope. Requests are
// dispatched under the transport's lifetime, which ends at Stop.
type Transport struct {
	host       host.Host
	dispatcher *rpc.Dispatcher
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTransport(h host.Host, dispatcher *rpc.Dispatcher, logger zerolog.Logger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		host:       h,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "p2p").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start registers the stream handler.
func (t *Transport) Start() {
	t.host.SetStreamHandler(ProtocolID, t.handleStream)
	t.logger.Info().
		Str("peer_id", t.host.ID().String()).
		Strs("addrs", DialAddrs(t.host)).
		Msg("p2p transport online")
}

// Stop unregisters the handler and cancels requests still in flight.
func (t *Transport) Stop() {
	t.host.RemoveStreamHandler(ProtocolID)
	t.cancel()
}

func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	_ = s.SetReadDeadline(time.Now().Add(readTimeout))
	payload, err := io.ReadAll(io.LimitReader(s, rpc.MaxPayloadBytes+1))
	if err != nil {
		t.logger.Warn().Err(err).Str("peer", remote.String()).Msg("failed to read stream")
		_ = s.Reset()
		return
	}

	var (
		status int
		out    []byte
	)
	if len(payload) > rpc.MaxPayloadBytes {
		status, out = t.dispatcher.Reject(rpc.PayloadTooLarge())
	} else {
		status, out = t.dispatcher.Handle(t.ctx, payload)
	}

	if status != http.StatusOK {
		t.logger.Warn().Str("peer", remote.String()).Int("status", status).Msg("rejected stream request")
	}
	if _, err := s.Write(append(out, '\n')); err != nil {
		t.logger.Warn().Err(err).Str("peer", remote.String()).Msg("failed to write response")
		_ = s.Reset()
	}
}

// Call sends payload to pid and returns the raw response envelope.
func Call(ctx context.Context, h host.Host, pid peer.ID, payload []byte) ([]byte, error) {
	s, err := h.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open stream to %s: %w", pid, err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}
	if _, err := s.Write(payload); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("close write: %w", err)
	}

	resp, err := io.ReadAll(io.LimitReader(s, rpc.MaxPayloadBytes))
	if err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
