// Package transport owns the TCP connections between nodes: listening,
// dialing, the handshake that exchanges identity and a shared magic
// token, per-connection reader/writer loops, and bounded-backoff
// reconnection. It is grounded on the reference peer type's
// connect/disconnect/send/refresh state machine, adapted from a ZeroMQ
// DEALER socket to a raw net.Conn per the TCP-listener requirement.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/metrics"
	"github.com/ghostproc/ghostproc/wire"
)

// State is a connection's position in the connecting -> up -> failed ->
// (backoff) -> connecting cycle. Closed is terminal and only reached on
// node shutdown.
type State int32

const (
	StateConnecting State = iota
	StateUp
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUp:
		return "up"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrOutboxFull is returned by Send when a connection's bounded outbound
// queue has no room; the caller's at-most-once delivery guarantee means
// this frame is simply dropped.
var ErrOutboxFull = errors.New("transport: outbound queue full")

// outboxCapacity bounds the per-connection outbound queue; Send drops
// frames once it is full rather than blocking the caller.
const outboxCapacity = 256

// Handler is notified of frames arriving on any connection, of peer
// identity becoming known (after handshake) or lost (on teardown), and
// of a reconnect loop giving up for good after exhausting its retry
// ceiling.
type Handler interface {
	HandleFrame(peer id.NodeId, f wire.Frame)
	PeerUp(peer id.NodeId)
	PeerDown(peer id.NodeId)
	PeerFailed(peer id.NodeId)
}

// Conn is a single peer connection. Its state transitions are driven by
// an internal dial/reconnect loop (for outbound connections) or by the
// accept loop tearing it down (for inbound ones, which are not retried
// by this side).
type Conn struct {
	local   id.NodeId
	magic   string
	handler Handler
	owner   *Transport
	metrics *metrics.Metrics
	log     logging.Logger

	addr string // dial target; empty for inbound-only connections

	mu      sync.Mutex
	netConn net.Conn
	peer    id.NodeId
	known   bool

	state   int32
	outbox  chan wire.Frame
	done    chan struct{}
	closeMu sync.Once
}

func (c *Conn) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
	if c.metrics != nil {
		label := c.addr
		c.mu.Lock()
		if c.known {
			label = c.peer.String()
		}
		c.mu.Unlock()
		c.metrics.PeerConnections.WithLabelValues(label).Set(float64(s))
	}
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State { return State(atomic.LoadInt32(&c.state)) }

// Peer reports the resolved peer NodeId, valid once State() is StateUp
// (or was at some point).
func (c *Conn) Peer() (id.NodeId, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer, c.known
}

// Send enqueues f for delivery on this connection. It never blocks: a
// full outbox drops the frame and returns ErrOutboxFull. Delivery is
// at-most-once; a dropped frame is never retransmitted.
func (c *Conn) Send(f wire.Frame) error {
	select {
	case c.outbox <- f:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Close tears the connection down for good; it will not be retried.
func (c *Conn) Close() {
	c.closeMu.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.netConn != nil {
			c.netConn.Close()
		}
		c.mu.Unlock()
		c.setState(StateClosed)
	})
}

// runInbound drives a connection accepted by the listener: handshake,
// then read/write loops until the peer disconnects. No reconnection is
// attempted; the remote side owns redialing.
func (c *Conn) runInbound(nc net.Conn) {
	c.mu.Lock()
	c.netConn = nc
	c.mu.Unlock()

	peer, err := c.handshake(nc)
	if err != nil {
		c.log.Warnf("inbound handshake failed: %v", err)
		nc.Close()
		c.setState(StateFailed)
		return
	}
	c.mu.Lock()
	c.peer = peer
	c.known = true
	c.mu.Unlock()
	c.setState(StateUp)
	c.owner.registerPeer(peer, c)
	c.handler.PeerUp(peer)

	c.serve(nc)

	c.setState(StateClosed)
	c.owner.forget(c)
	c.handler.PeerDown(peer)
}

// runOutbound drives a connection this side initiated, retrying with
// bounded exponential backoff until Close is called or reconnect returns
// backoff.Stop, at which point it gives up for good.
func (c *Conn) runOutbound(reconnect Backoff) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.setState(StateConnecting)
		nc, err := net.DialTimeout("tcp", c.addr, 10*time.Second)
		if err != nil {
			c.log.Debugf("dial %s failed: %v", c.addr, err)
			c.setState(StateFailed)
			if !c.sleepBackoff(reconnect) {
				c.giveUp()
				return
			}
			continue
		}

		c.mu.Lock()
		c.netConn = nc
		c.mu.Unlock()

		peer, err := c.handshake(nc)
		if err != nil {
			c.log.Warnf("handshake with %s failed: %v", c.addr, err)
			nc.Close()
			c.setState(StateFailed)
			if !c.sleepBackoff(reconnect) {
				c.giveUp()
				return
			}
			continue
		}

		reconnect.Reset()
		c.mu.Lock()
		c.peer = peer
		c.known = true
		c.mu.Unlock()
		c.setState(StateUp)
		c.owner.registerPeer(peer, c)
		c.handler.PeerUp(peer)

		c.serve(nc)

		c.owner.forget(c)
		c.handler.PeerDown(peer)
		select {
		case <-c.done:
			c.setState(StateClosed)
			return
		default:
			c.setState(StateFailed)
		}
		if !c.sleepBackoff(reconnect) {
			c.giveUp()
			return
		}
	}
}

// giveUp is called once a reconnect loop has exhausted its retry ceiling.
// It removes this Conn from the transport's dialing table so a later Dial
// to the same address starts a fresh attempt instead of reusing a dead
// Conn, and reports the peer as failed to the handler if it was ever
// resolved.
func (c *Conn) giveUp() {
	c.mu.Lock()
	peer, known := c.peer, c.known
	c.mu.Unlock()
	c.setState(StateFailed)
	if c.addr != "" {
		c.owner.forgetDialing(c.addr)
	}
	if known {
		c.handler.PeerFailed(peer)
	}
}

func (c *Conn) sleepBackoff(b Backoff) bool {
	d := b.NextBackOff()
	if d < 0 {
		return false
	}
	select {
	case <-time.After(d):
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) handshake(nc net.Conn) (id.NodeId, error) {
	if err := wire.WriteHandshake(nc, wire.Handshake{Node: c.local, Magic: c.magic}); err != nil {
		return id.NodeId{}, err
	}
	hs, err := wire.ReadHandshake(nc)
	if err != nil {
		return id.NodeId{}, err
	}
	if hs.Magic != c.magic {
		return id.NodeId{}, fmt.Errorf("transport: magic token mismatch from %s", hs.Node)
	}
	return hs.Node, nil
}

// serve runs the reader and writer loops until either fails or the
// connection is closed, then returns once both have stopped.
func (c *Conn) serve(nc net.Conn) {
	stop := make(chan struct{})
	var once sync.Once
	trigger := func() { once.Do(func() { close(stop) }) }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer trigger()
		c.readLoop(nc, stop)
	}()
	go func() {
		defer wg.Done()
		defer trigger()
		c.writeLoop(nc, stop)
	}()
	wg.Wait()
	nc.Close()
}

func (c *Conn) readLoop(nc net.Conn, stop <-chan struct{}) {
	for {
		f, err := wire.ReadFrame(nc)
		if err != nil {
			if !errors.Is(err, wire.ErrFrameCorrupt) {
				return
			}
			if c.metrics != nil {
				c.metrics.FramesCorrupt.Inc()
			}
			return
		}
		peer, _ := c.Peer()
		c.handler.HandleFrame(peer, f)
		select {
		case <-stop:
			return
		default:
		}
	}
}

func (c *Conn) writeLoop(nc net.Conn, stop <-chan struct{}) {
	for {
		select {
		case f := <-c.outbox:
			if err := wire.WriteFrame(nc, f); err != nil {
				return
			}
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}
