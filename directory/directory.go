// Package directory maintains the set of peer NodeIds this node knows
// about and keeps transport connections established to the reachable
// ones. It is grounded on the reference node's requirePeer/reap-loop
// pattern (dedup by identity, connect on first sight, drop on
// disconnect), generalized from a ZRE-peer table to a directory of
// NodeIds backed by transport.Transport's own dial/accept bookkeeping.
package directory

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/transport"
	"github.com/ghostproc/ghostproc/wire"
)

// Directory tracks every NodeId this node has ever learned of (via
// known-hosts configuration, port-range probing, LAN discovery, or
// peer-announce propagation from an existing connection) and whether it
// is currently reachable.
type Directory struct {
	self  id.NodeId
	t     *transport.Transport
	log   logging.Logger

	portMin, portMax uint16

	mu        sync.RWMutex
	reachable map[string]id.NodeId // peers with a live (StateUp) connection
	known     map[string]id.NodeId // every peer ever seen, reachable or not
	failed    map[string]id.NodeId // peers that exhausted their reconnect ceiling
}

// New builds a Directory backed by t, probing unqualified known-hosts
// entries across [portMin, portMax].
func New(self id.NodeId, t *transport.Transport, portMin, portMax uint16, log logging.Logger) *Directory {
	return &Directory{
		self:      self,
		t:         t,
		log:       log,
		portMin:   portMin,
		portMax:   portMax,
		reachable: make(map[string]id.NodeId),
		known:     make(map[string]id.NodeId),
		failed:    make(map[string]id.NodeId),
	}
}

// Lookup ensures a connection attempt to peer exists (establishing one
// via peer's own host:port if not) and returns its current Conn, if
// any. This never blocks waiting for the handshake to complete. A fresh
// dial attempt clears any prior permanent-failure record for peer, since
// a lookup (from a peer-announce, a LAN beacon sighting or a send) is
// what rediscovers it.
func (d *Directory) Lookup(peer id.NodeId) (*transport.Conn, bool) {
	if c, ok := d.t.ConnFor(peer); ok {
		return c, true
	}
	d.mu.Lock()
	delete(d.failed, peer.String())
	d.mu.Unlock()
	addr := fmt.Sprintf("%s:%d", peer.Host, peer.Port)
	return d.t.Dial(addr), false
}

// Enumerate returns every currently reachable NodeId.
func (d *Directory) Enumerate() []id.NodeId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]id.NodeId, 0, len(d.reachable))
	for _, n := range d.reachable {
		out = append(out, n)
	}
	return out
}

// Known returns every NodeId ever seen, reachable or not.
func (d *Directory) Known() []id.NodeId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]id.NodeId, 0, len(d.known))
	for _, n := range d.known {
		out = append(out, n)
	}
	return out
}

// Invalidate drops peer from the reachable set; it does not stop
// transport's own reconnect loop, it only affects what Enumerate
// reports until the peer comes back up.
func (d *Directory) Invalidate(peer id.NodeId) {
	d.mu.Lock()
	delete(d.reachable, peer.String())
	d.mu.Unlock()
}

// HandlePeerUp and HandlePeerDown are wired as the transport.Handler
// peer lifecycle hooks (directly, or via a router that also routes
// frames): they keep the reachable/known sets in sync with what
// transport actually has connections to.
func (d *Directory) HandlePeerUp(peer id.NodeId) {
	d.mu.Lock()
	d.reachable[peer.String()] = peer
	d.known[peer.String()] = peer
	d.mu.Unlock()
}

func (d *Directory) HandlePeerDown(peer id.NodeId) {
	d.Invalidate(peer)
}

// HandlePeerFailed marks peer permanently failed: its reconnect loop has
// exhausted its retry ceiling and given up. The peer stays out of
// Enumerate/reachable until a fresh Lookup (from a later peer-announce
// naming it, a LAN beacon sighting or a send) clears the failure and
// restarts the dial loop.
func (d *Directory) HandlePeerFailed(peer id.NodeId) {
	d.mu.Lock()
	delete(d.reachable, peer.String())
	d.failed[peer.String()] = peer
	d.mu.Unlock()
}

// Failed returns every NodeId currently marked permanently failed.
func (d *Directory) Failed() []id.NodeId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]id.NodeId, 0, len(d.failed))
	for _, n := range d.failed {
		out = append(out, n)
	}
	return out
}

// HandlePeerAnnounce processes a peer-announce frame: every node it
// names that isn't already known, or is marked permanently failed, is
// worth a Lookup, so the cluster's connectivity converges transitively
// from a handful of known-hosts.
func (d *Directory) HandlePeerAnnounce(nodes []id.NodeId) {
	for _, n := range nodes {
		if n == d.self {
			continue
		}
		d.mu.RLock()
		_, seen := d.known[n.String()]
		_, failed := d.failed[n.String()]
		d.mu.RUnlock()
		if seen && !failed {
			continue
		}
		d.mu.Lock()
		d.known[n.String()] = n
		d.mu.Unlock()
		d.Lookup(n)
	}
}

// Announce builds the PeerAnnounce frame this node should periodically
// send to every connected peer: its own reachable set plus itself.
func (d *Directory) Announce() *wire.PeerAnnounce {
	nodes := append(d.Enumerate(), d.self)
	return &wire.PeerAnnounce{Nodes: nodes}
}

// BroadcastAnnounce sends this node's current Announce to every
// connected peer; intended to be called on a timer by the node
// controller.
func (d *Directory) BroadcastAnnounce() {
	f := d.Announce()
	d.t.ForEachPeer(func(_ id.NodeId, c *transport.Conn) {
		c.Send(f)
	})
}

// Seed registers the static known-hosts configuration: entries already
// containing a port are dialed directly, bare hostnames are probed
// across [portMin, portMax] (see probe).
func (d *Directory) Seed(hosts []string) {
	for _, h := range hosts {
		host, port, hasPort := splitHostPort(h)
		if hasPort {
			d.t.Dial(fmt.Sprintf("%s:%d", host, port))
			continue
		}
		go d.probe(host)
	}
}

// probe starts a transport dial loop for every port in [portMin, portMax]
// against host, with bounded concurrency. It does not stop early when one
// port answers: each port's dial loop runs on its own until it connects
// or reaches the transport's reconnect ceiling.
func (d *Directory) probe(host string) {
	const concurrency = 8
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for port := d.portMin; port <= d.portMax; port++ {
		port := port
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.t.Dial(fmt.Sprintf("%s:%d", host, port))
		}()
		if port == d.portMax {
			break // guards uint16 wraparound when portMax is 65535
		}
	}
	wg.Wait()
}

func splitHostPort(s string) (string, uint16, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			var port uint16
			if _, err := fmt.Sscanf(s[i+1:], "%d", &port); err == nil {
				return s[:i], port, true
			}
		}
	}
	return s, 0, false
}

// probeTickInterval is a named re-probe cadence for known hosts. Nothing
// in this module schedules a re-probe with it: Seed probes each known
// host once, at startup.
const probeTickInterval = 30 * time.Second

// ProbeTickInterval returns probeTickInterval.
func ProbeTickInterval() time.Duration { return probeTickInterval }
