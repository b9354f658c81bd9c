// Package network adapts a libp2p host into the peer-count and broadcast
// surface the controller core's RPC layer exposes, and into a discovery
// source NodeManager can draw candidate peers from. The core itself never
// reasons about streams, topics, or DHT records; it only needs "how many
// peers," "tell the network about this," and "who else is out there."
package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/controller-core/internal/log"
)

const (
	// topicSync carries sync/proposal announcements: a lightweight nudge to
	// peers that new heights or proposals are available, not the blocks
	// themselves, which still travel through the filesystem sync directory.
	topicSync = "controller-core/sync/v1"

	discoveryInterval = 30 * time.Second
	connectTimeout    = 5 * time.Second
)

// Config holds the P2P adapter's construction parameters.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	DHTServer  bool
	NetworkID  string
}

func (c Config) rendezvous() string {
	if c.NetworkID != "" {
		return "controller-core/" + c.NetworkID
	}
	return "controller-core"
}

// Adapter is the network RPC the controller facade depends on: peer count,
// broadcasting a sync nudge, and discovering candidate peers.
type Adapter struct {
	cfg  Config
	host host.Host
	ps   *pubsub.PubSub
	dht  *dht.IpfsDHT

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	peers map[peer.ID]struct{}

	onPeer func(peer.ID)
}

// New constructs and starts a libp2p host with GossipSub and (unless
// disabled) kad-dht discovery.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	actx, cancel := context.WithCancel(ctx)
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenAddr, cfg.Port)

	h, err := libp2p.New(libp2p.ListenAddrStrings(addr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network: create libp2p host: %w", err)
	}

	a := &Adapter{
		cfg:    cfg,
		host:   h,
		ctx:    actx,
		cancel: cancel,
		peers:  make(map[peer.ID]struct{}),
	}
	h.Network().Notify(&connNotifiee{a: a})

	if !cfg.NoDiscover {
		mode := dht.ModeClient
		if cfg.DHTServer {
			mode = dht.ModeServer
		}
		kadDHT, err := dht.New(actx, h, dht.Mode(mode))
		if err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("network: create kad-dht: %w", err)
		}
		if err := kadDHT.Bootstrap(actx); err != nil {
			kadDHT.Close()
			h.Close()
			cancel()
			return nil, fmt.Errorf("network: bootstrap dht: %w", err)
		}
		a.dht = kadDHT
	}

	ps, err := pubsub.NewGossipSub(actx, h)
	if err != nil {
		a.closeDHT()
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: create pubsub: %w", err)
	}
	a.ps = ps

	topic, err := ps.Join(topicSync)
	if err != nil {
		a.closeDHT()
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: join sync topic: %w", err)
	}
	a.topic = topic
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		a.closeDHT()
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: subscribe sync topic: %w", err)
	}
	a.sub = sub

	go a.connectSeeds()
	if !cfg.NoDiscover {
		go a.runDiscovery()
	}

	return a, nil
}

func (a *Adapter) closeDHT() {
	if a.dht != nil {
		a.dht.Close()
	}
}

// GetNetworkStatus reports the current connected peer count.
func (a *Adapter) GetNetworkStatus() (peerCount int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.peers)
}

// Broadcast publishes a sync announcement to every subscribed peer. Failures
// are logged, not returned: a missed gossip nudge is recovered by the next
// poll of the sync directories.
func (a *Adapter) Broadcast(ctx context.Context, data []byte) {
	if err := a.topic.Publish(ctx, data); err != nil {
		log.Network.Warn().Err(err).Msg("broadcast sync announcement failed")
	}
}

// OnAnnouncement registers a handler invoked for each inbound sync
// announcement from another peer. Call before relying on delivery; there is
// no buffering for handlers registered after Subscribe started draining.
func (a *Adapter) OnAnnouncement(ctx context.Context, handle func(from peer.ID, data []byte)) {
	go func() {
		for {
			msg, err := a.sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == a.host.ID() {
				continue
			}
			handle(msg.ReceivedFrom, msg.Data)
		}
	}()
}

// OnPeerDiscovered registers a callback invoked whenever the DHT discovery
// loop connects a new candidate peer.
func (a *Adapter) OnPeerDiscovered(fn func(peer.ID)) {
	a.onPeer = fn
}

func (a *Adapter) addPeer(id peer.ID) {
	a.mu.Lock()
	_, existed := a.peers[id]
	a.peers[id] = struct{}{}
	a.mu.Unlock()
	if !existed && a.onPeer != nil {
		a.onPeer(id)
	}
}

func (a *Adapter) removePeer(id peer.ID) {
	a.mu.Lock()
	delete(a.peers, id)
	a.mu.Unlock()
}

func (a *Adapter) connectSeeds() {
	for _, addr := range a.cfg.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.Network.Warn().Str("addr", addr).Err(err).Msg("bad seed address")
			continue
		}
		cctx, cancel := context.WithTimeout(a.ctx, connectTimeout)
		err = a.host.Connect(cctx, *info)
		cancel()
		if err != nil {
			log.Network.Warn().Str("peer", info.ID.String()).Err(err).Msg("seed connect failed")
			continue
		}
		a.addPeer(info.ID)
	}
}

func (a *Adapter) runDiscovery() {
	if a.dht == nil {
		return
	}
	routingDiscovery := drouting.NewRoutingDiscovery(a.dht)
	dutil.Advertise(a.ctx, routingDiscovery, a.cfg.rendezvous())

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.findPeers(routingDiscovery)
		}
	}
}

func (a *Adapter) findPeers(routingDiscovery *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
	defer cancel()

	peerCh, err := routingDiscovery.FindPeers(ctx, a.cfg.rendezvous())
	if err != nil {
		return
	}
	for p := range peerCh {
		if p.ID == a.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		if a.cfg.MaxPeers > 0 && a.GetNetworkStatus() >= a.cfg.MaxPeers {
			return
		}
		cctx, ccancel := context.WithTimeout(a.ctx, connectTimeout)
		if err := a.host.Connect(cctx, p); err == nil {
			a.addPeer(p.ID)
		}
		ccancel()
	}
}

// Close tears down the pubsub subscription, DHT, and libp2p host.
func (a *Adapter) Close() error {
	a.cancel()
	if a.sub != nil {
		a.sub.Cancel()
	}
	if a.topic != nil {
		a.topic.Close()
	}
	a.closeDHT()
	return a.host.Close()
}

// connNotifiee tracks connection lifecycle events via libp2p's
// network.Notifiee interface, feeding the adapter's peer set.
type connNotifiee struct {
	a *Adapter
}

func (cn *connNotifiee) Connected(_ libp2pnetwork.Network, conn libp2pnetwork.Conn) {
	remote := conn.RemotePeer()
	if remote == cn.a.host.ID() {
		return
	}
	cn.a.addPeer(remote)
}

func (cn *connNotifiee) Disconnected(net libp2pnetwork.Network, conn libp2pnetwork.Conn) {
	remote := conn.RemotePeer()
	if len(net.ConnsToPeer(remote)) == 0 {
		cn.a.removePeer(remote)
	}
}

func (cn *connNotifiee) Listen(libp2pnetwork.Network, multiaddr.Multiaddr)      {}
func (cn *connNotifiee) ListenClose(libp2pnetwork.Network, multiaddr.Multiaddr) {}
