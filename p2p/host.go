// Package p2p carries counter commands over libp2p streams.
package p2p

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type HostConfig struct {
	Listen  []string
	KeyFile string
}

// NewHost starts a libp2p host listening on cfg.Listen with the identity in
// cfg.KeyFile (ephemeral when empty).
func NewHost(cfg HostConfig) (host.Host, error) {
	priv, err := LoadOrGenerateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	addrs, err := ParseListenAddrs(cfg.Listen)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(addrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}
	return h, nil
}

// LoadOrGenerateKey reads a marshalled private key from path, creating one if
// the file does not exist. An empty path yields an ephemeral key.
func LoadOrGenerateKey(path string) (crypto.PrivKey, error) {
	if path == "" {
		priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
		return priv, err
	}

	data, err := os.ReadFile(path)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", path, err)
		}
		return priv, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write key %s: %w", path, err)
	}
	return priv, nil
}

func ParseListenAddrs(raw []string) ([]ma.Multiaddr, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no listen addresses")
	}
	addrs := make([]ma.Multiaddr, 0, len(raw))
	for _, s := range raw {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// ParseBootstrap parses /.../p2p/<id> multiaddrs, merging addresses of the
// same peer.
func ParseBootstrap(raw []string) ([]peer.AddrInfo, error) {
	addrs := make([]ma.Multiaddr, 0, len(raw))
	for _, s := range raw {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap multiaddr %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		return nil, fmt.Errorf("invalid bootstrap peer: %w", err)
	}
	return infos, nil
}

// DialAddrs returns the host's addresses with its /p2p/ id appended, ready to
// hand to other peers.
func DialAddrs(h host.Host) []string {
	out := make([]string, 0, len(h.Addrs()))
	for _, addr := range h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr, h.ID()))
	}
	return out
}
