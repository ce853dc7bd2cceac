// Package router is the send router: the single place that knows how
// to turn a ProcessId/SendPortId destination into either a local
// mailbox delivery or a framed, encoded message over a peer connection.
// It is the concrete implementation of closure.Sender and
// channel.Remote, and the transport.Handler every connection reports
// through. Grounded on the reference node's central handler loop
// (recvFromPeer's per-message-type switch), generalized from a single
// ZRE protocol to the tagged wire frames this cluster uses.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghostproc/ghostproc/channel"
	"github.com/ghostproc/ghostproc/closure"
	"github.com/ghostproc/ghostproc/directory"
	"github.com/ghostproc/ghostproc/encodable"
	"github.com/ghostproc/ghostproc/envelope"
	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/metrics"
	"github.com/ghostproc/ghostproc/process"
	"github.com/ghostproc/ghostproc/transport"
	"github.com/ghostproc/ghostproc/wire"
)

// ErrUnknownPeer names the no-connection-to-peer condition. Send,
// SendToPort and SpawnRemote never return it: the directory's Lookup
// always yields a Conn, and frames for an unreachable peer wait in that
// Conn's queue.
var ErrUnknownPeer = fmt.Errorf("router: no connection to peer")

// ErrSpawnTimeout is returned by SpawnRemote when no SpawnReply arrives
// before the context is done.
var ErrSpawnTimeout = fmt.Errorf("router: spawn request timed out")

// Router ties the process table, channel registry, closure registry,
// directory and transport together.
type Router struct {
	self      id.NodeId
	table     *process.Table
	channels  *channel.Registry
	closures  *closure.Registry
	values    *encodable.Registry
	dir       *directory.Directory
	trans     *transport.Transport
	metrics   *metrics.Metrics
	log       logging.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]chan *wire.SpawnReply
}

// New builds a Router. values must at least contain the decoders for
// every encodable.Encodable type that might cross the wire as a
// UserToPid or UserToPort payload. dir and trans reference Router in
// their own constructors (the directory dials through the transport,
// the transport hands frames to the router), so New accepts them as
// nil and BindDirectory/BindTransport complete the wiring once all
// three exist; a Router used before both are bound can only route
// locally.
func New(self id.NodeId, table *process.Table, channels *channel.Registry, closures *closure.Registry, values *encodable.Registry, m *metrics.Metrics, log logging.Logger) *Router {
	return &Router{
		self:     self,
		table:    table,
		channels: channels,
		closures: closures,
		values:   values,
		metrics:  m,
		log:      log,
		pending:  make(map[uuid.UUID]chan *wire.SpawnReply),
	}
}

// BindDirectory and BindTransport complete construction once the
// transport and directory exist (see New's doc comment).
func (r *Router) BindDirectory(dir *directory.Directory) { r.dir = dir }
func (r *Router) BindTransport(t *transport.Transport)   { r.trans = t }

// Send implements closure.Sender: deliver value to pid, locally or over
// the wire depending on which node owns it.
func (r *Router) Send(pid id.ProcessId, value encodable.Encodable) error {
	if pid.Node == r.self {
		p, ok := r.table.Lookup(pid.Local)
		if !ok {
			r.countRouted("local", false)
			return fmt.Errorf("router: no such local process %s", pid)
		}
		p.Mailbox.Deliver(envelope.Message{Tag: value.TypeTag(), Value: value})
		r.observeMailboxDepth(p)
		r.countRouted("local", true)
		return nil
	}

	conn, _ := r.dir.Lookup(pid.Node)
	data, err := value.Encode()
	if err != nil {
		r.countRouted("remote", false)
		return fmt.Errorf("router: encode %s: %w", value.TypeTag(), err)
	}
	err = conn.Send(&wire.UserToPid{Dest: pid, Tag: value.TypeTag(), Data: data})
	r.countRouted("remote", err == nil)
	return err
}

// SendToPort implements channel.Remote for SendPort[T] values whose
// owner isn't this node.
func (r *Router) SendToPort(owner id.NodeId, index uint64, tag string, data []byte) error {
	conn, _ := r.dir.Lookup(owner)
	err := conn.Send(&wire.UserToPort{Owner: owner, ChannelIndex: index, Tag: tag, Data: data})
	r.countRouted("remote", err == nil)
	return err
}

// SpawnRemote asks target to spawn closureName with arg, blocking until
// the corresponding SpawnReply arrives or ctx is done.
func (r *Router) SpawnRemote(ctx context.Context, target id.NodeId, closureName string, arg encodable.Encodable) (id.ProcessId, error) {
	var argTag string
	var argData []byte
	if arg != nil {
		argTag = arg.TypeTag()
		data, err := arg.Encode()
		if err != nil {
			return id.ProcessId{}, fmt.Errorf("router: encode spawn arg: %w", err)
		}
		argData = data
	}

	reqID := uuid.New()
	reply := make(chan *wire.SpawnReply, 1)
	r.mu.Lock()
	r.pending[reqID] = reply
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, reqID)
		r.mu.Unlock()
	}()

	conn, _ := r.dir.Lookup(target)
	if err := conn.Send(&wire.SpawnRequest{ReqId: reqID, ClosureName: closureName, ArgTag: argTag, ArgData: argData}); err != nil {
		r.countSpawn(false)
		return id.ProcessId{}, err
	}

	select {
	case rep := <-reply:
		if !rep.OK {
			r.countSpawn(false)
			return id.ProcessId{}, fmt.Errorf("router: remote spawn of %s on %s failed: %s", closureName, target, rep.Err)
		}
		r.countSpawn(true)
		return rep.Pid, nil
	case <-ctx.Done():
		r.countSpawn(false)
		return id.ProcessId{}, ErrSpawnTimeout
	}
}

// HandleFrame implements transport.Handler.
func (r *Router) HandleFrame(peer id.NodeId, f wire.Frame) {
	switch m := f.(type) {
	case *wire.UserToPid:
		r.handleUserToPid(m)
	case *wire.UserToPort:
		r.handleUserToPort(m)
	case *wire.SpawnRequest:
		r.handleSpawnRequest(peer, m)
	case *wire.SpawnReply:
		r.handleSpawnReply(m)
	case *wire.PeerAnnounce:
		r.dir.HandlePeerAnnounce(m.Nodes)
	case *wire.Ping:
		r.handlePing(peer, m)
	case *wire.Pong:
		// Round-trip confirmation only; connection liveness is tracked by
		// transport's own read/write loops, not by pong bookkeeping here.
	default:
		r.log.Warnf("router: unrecognized frame %T from %s", f, peer)
	}
}

func (r *Router) handleUserToPid(m *wire.UserToPid) {
	value, err := r.values.Decode(m.Tag, m.Data)
	if err != nil {
		r.log.Warnf("router: undecodable UserToPid tag %q: %v", m.Tag, err)
		return
	}
	p, ok := r.table.Lookup(m.Dest.Local)
	if !ok {
		r.log.Debugf("router: UserToPid for unknown local process %s", m.Dest)
		return
	}
	p.Mailbox.Deliver(envelope.Message{Tag: m.Tag, Value: value})
	r.observeMailboxDepth(p)
}

func (r *Router) handleUserToPort(m *wire.UserToPort) {
	value, err := r.values.Decode(m.Tag, m.Data)
	if err != nil {
		r.log.Warnf("router: undecodable UserToPort tag %q: %v", m.Tag, err)
		return
	}
	if err := r.channels.DeliverLocal(m.ChannelIndex, m.Tag, value); err != nil {
		r.log.Warnf("router: UserToPort delivery to channel %d failed: %v", m.ChannelIndex, err)
	}
}

func (r *Router) handleSpawnRequest(peer id.NodeId, m *wire.SpawnRequest) {
	pid, err := r.closures.Spawn(r.table, m.ClosureName, m.ArgData)
	rep := &wire.SpawnReply{ReqId: m.ReqId, OK: err == nil, Pid: pid}
	if err != nil {
		rep.Err = err.Error()
	}
	if conn, ok := r.trans.ConnFor(peer); ok {
		conn.Send(rep)
	}
}

func (r *Router) handleSpawnReply(m *wire.SpawnReply) {
	r.mu.Lock()
	ch, ok := r.pending[m.ReqId]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- m:
	default:
	}
}

func (r *Router) handlePing(peer id.NodeId, m *wire.Ping) {
	if conn, ok := r.trans.ConnFor(peer); ok {
		conn.Send(&wire.Pong{Nonce: m.Nonce})
	}
}

// PeerUp, PeerDown and PeerFailed implement transport.Handler,
// delegating peer bookkeeping to the directory.
func (r *Router) PeerUp(peer id.NodeId)     { r.dir.HandlePeerUp(peer) }
func (r *Router) PeerDown(peer id.NodeId)   { r.dir.HandlePeerDown(peer) }
func (r *Router) PeerFailed(peer id.NodeId) { r.dir.HandlePeerFailed(peer) }

func (r *Router) countRouted(destination string, ok bool) {
	if r.metrics == nil {
		return
	}
	if ok {
		r.metrics.MessagesRouted.WithLabelValues(destination).Inc()
	}
}

// observeMailboxDepth samples p's queue depth right after a local
// delivery, the moment the reference comment on MailboxDepth calls for.
func (r *Router) observeMailboxDepth(p *process.Process) {
	if r.metrics == nil {
		return
	}
	r.metrics.MailboxDepth.Observe(float64(p.Mailbox.Len()))
}

func (r *Router) countSpawn(ok bool) {
	if r.metrics == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	r.metrics.SpawnAttempts.WithLabelValues(outcome).Inc()
}

// spawnTimeoutDefault is used by callers that don't need a custom
// deadline for SpawnRemote.
const spawnTimeoutDefault = 10 * time.Second

// WithDefaultSpawnTimeout returns a context with spawnTimeoutDefault
// applied, for callers that just want a sane default.
func WithDefaultSpawnTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, spawnTimeoutDefault)
}
