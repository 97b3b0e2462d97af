package p2p

import (
	"context"
	"fmt"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/rs/zerolog"

	"counterd/common"
)

// Advertise joins the DHT through the bootstrap peers and announces h on the
// counterd rendezvous key. The DHT lives until ctx is done; callers close it.
func Advertise(ctx context.Context, h host.Host, bootstrap []string, logger zerolog.Logger) (*dht.IpfsDHT, error) {
	logger = logger.With().Str("component", "p2p").Logger()

	peers, err := ParseBootstrap(bootstrap)
	if err != nil {
		return nil, err
	}

	kademliaDHT, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		return nil, fmt.Errorf("create dht: %w", err)
	}

	connected := 0
	for _, info := range peers {
		if err := h.Connect(ctx, info); err != nil {
			logger.Warn().Err(err).Str("peer", info.ID.String()).Msg("bootstrap dial failed")
			continue
		}
		connected++
	}
	if len(peers) > 0 && connected == 0 {
		logger.Warn().Msg("no bootstrap peer reachable, advertising locally only")
	}

	if err := kademliaDHT.Bootstrap(ctx); err != nil {
		_ = kademliaDHT.Close()
		return nil, fmt.Errorf("bootstrap dht: %w", err)
	}

	// dutil.Advertise re-advertises in the background until ctx is done.
	dutil.Advertise(ctx, routing.NewRoutingDiscovery(kademliaDHT), common.CounterRendezvous)
	logger.Info().Str("rendezvous", common.CounterRendezvous).Int("bootstrap_peers", connected).Msg("advertised on DHT")

	return kademliaDHT, nil
}
