package transport

import (
	"net"
	"sync"
	"time"

	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/metrics"
	"github.com/ghostproc/ghostproc/wire"
)

// maxReconnectAttempts bounds how many consecutive dial/handshake
// failures an outbound Conn tolerates before giving up and reporting the
// peer as failed. A fresh Dial to the same address (triggered by a new
// peer-announce or probe) starts a new Conn and resets the count.
const maxReconnectAttempts = 12

// Transport owns the node's listener and its set of outbound dial
// loops. It has no notion of which peers it "should" be connected to
// beyond what it's told to Dial; the directory package decides that.
type Transport struct {
	self    id.NodeId
	magic   string
	handler Handler
	metrics *metrics.Metrics
	log     logging.Logger

	backoffMin time.Duration
	backoffMax time.Duration

	listener net.Listener

	mu      sync.RWMutex
	byPeer  map[string]*Conn // keyed by resolved peer NodeId, once known
	dialing map[string]*Conn // keyed by dial address, for outbound connections

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// New builds a Transport for self. handler receives every frame and
// peer up/down notification across every connection it manages.
func New(self id.NodeId, magic string, handler Handler, m *metrics.Metrics, log logging.Logger, backoffMin, backoffMax time.Duration) *Transport {
	return &Transport{
		self:       self,
		magic:      magic,
		handler:    handler,
		metrics:    m,
		log:        log,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		byPeer:     make(map[string]*Conn),
		dialing:    make(map[string]*Conn),
		shutdown:   make(chan struct{}),
	}
}

// Listen binds a TCP listener on addr ("" host means all interfaces, 0
// port means OS-assigned) and starts accepting inbound connections. It
// returns the bound address so the caller can learn the assigned port.
func (t *Transport) Listen(addr string) (*net.TCPAddr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	t.listener = ln
	t.wg.Add(1)
	go t.acceptLoop(ln)
	return ln.Addr().(*net.TCPAddr), nil
}

func (t *Transport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
				t.log.Warnf("accept failed: %v", err)
				return
			}
		}
		c := &Conn{local: t.self, magic: t.magic, handler: t.handler, owner: t, metrics: t.metrics, log: t.log, outbox: make(chan wire.Frame, outboxCapacity), done: make(chan struct{})}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			c.runInbound(nc)
			t.forget(c)
		}()
	}
}

// Dial establishes (and maintains, with backoff, until Close, node
// shutdown, or maxReconnectAttempts consecutive failures) an outbound
// connection to addr. It is idempotent per address: calling it twice
// with the same addr returns the existing Conn, until that Conn has
// given up.
func (t *Transport) Dial(addr string) *Conn {
	t.mu.Lock()
	if c, ok := t.dialing[addr]; ok {
		t.mu.Unlock()
		return c
	}
	c := &Conn{local: t.self, magic: t.magic, handler: t.handler, owner: t, metrics: t.metrics, log: t.log, addr: addr, outbox: make(chan wire.Frame, outboxCapacity), done: make(chan struct{})}
	t.dialing[addr] = c
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		c.runOutbound(NewBackoff(t.backoffMin, t.backoffMax, maxReconnectAttempts))
	}()
	return c
}

// forgetDialing removes addr's entry from the dialing table once its Conn
// has given up for good, so a later Dial to the same address starts a
// fresh attempt instead of returning the dead Conn.
func (t *Transport) forgetDialing(addr string) {
	t.mu.Lock()
	delete(t.dialing, addr)
	t.mu.Unlock()
}

// ConnFor returns the live connection to peer, if this transport has
// one (inbound or outbound).
func (t *Transport) ConnFor(peer id.NodeId) (*Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byPeer[peer.String()]
	return c, ok
}

// ForEachPeer calls fn for every peer with a resolved identity, for
// fan-out sends like peer-announce propagation.
func (t *Transport) ForEachPeer(fn func(id.NodeId, *Conn)) {
	t.mu.RLock()
	snapshot := make(map[string]*Conn, len(t.byPeer))
	for k, v := range t.byPeer {
		snapshot[k] = v
	}
	t.mu.RUnlock()
	for _, c := range snapshot {
		if peer, ok := c.Peer(); ok {
			fn(peer, c)
		}
	}
}

// registerPeer and forget maintain the peer -> Conn index a Conn reports
// through once its identity is known from the handshake.
func (t *Transport) registerPeer(peer id.NodeId, c *Conn) {
	t.mu.Lock()
	t.byPeer[peer.String()] = c
	t.mu.Unlock()
}

func (t *Transport) forget(c *Conn) {
	t.mu.Lock()
	if peer, ok := c.Peer(); ok {
		if t.byPeer[peer.String()] == c {
			delete(t.byPeer, peer.String())
		}
	}
	t.mu.Unlock()
}

// Shutdown tears down the listener and every managed connection:
// outbound ones and inbound ones whose handshake has completed.
func (t *Transport) Shutdown() {
	close(t.shutdown)
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.RLock()
	conns := make([]*Conn, 0, len(t.dialing)+len(t.byPeer))
	for _, c := range t.dialing {
		conns = append(conns, c)
	}
	for _, c := range t.byPeer {
		conns = append(conns, c)
	}
	t.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
	t.wg.Wait()
}
