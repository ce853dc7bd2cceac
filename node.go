// Package ghostproc wires every component package into one runnable
// node: configuration, transport, directory, discovery, the process
// table, the channel and closure registries, the send router, metrics
// and logging. It is the root-level equivalent of the reference node
// controller's constructor/handler-loop pair, generalized from a single
// ZRE protocol handler to this cluster's tagged wire frames and
// role-driven process dispatch.
package ghostproc

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghostproc/ghostproc/channel"
	"github.com/ghostproc/ghostproc/closure"
	"github.com/ghostproc/ghostproc/config"
	"github.com/ghostproc/ghostproc/directory"
	"github.com/ghostproc/ghostproc/discovery"
	"github.com/ghostproc/ghostproc/encodable"
	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/metrics"
	"github.com/ghostproc/ghostproc/process"
	"github.com/ghostproc/ghostproc/roles"
	"github.com/ghostproc/ghostproc/router"
	"github.com/ghostproc/ghostproc/rpc"
	"github.com/ghostproc/ghostproc/transport"
	"github.com/ghostproc/ghostproc/wire"
)

// graceWindow is how long a terminated process's entry survives in the
// process table before being reaped, bounding the window in which a
// message addressed to a just-finished process is silently dropped
// instead of crashing the sender.
const graceWindow = 2 * time.Second

const pingSweepInterval = 3 * time.Second
const announceInterval = 10 * time.Second
const metricsSweepInterval = 5 * time.Second

// Runtime is one live node.
type Runtime struct {
	Self id.NodeId

	cfg      *config.Config
	table    *process.Table
	channels *channel.Registry
	closures *closure.Registry
	values   *encodable.Registry
	metrics  *metrics.Metrics
	log      logging.Logger
	router   *router.Router
	trans    *transport.Transport
	dir      *directory.Directory
	beacon   *discovery.Watcher

	primary *process.Process

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Runtime from cfg but does not yet bind a listener or
// connect to anyone; call Start for that. reg receives the node's
// Prometheus collectors (pass prometheus.NewRegistry() for an isolated
// registry, or prometheus.DefaultRegisterer for the process-wide one).
func New(cfg *config.Config, reg prometheus.Registerer) *Runtime {
	epoch := uint64(time.Now().UnixNano())
	self := id.New(cfg.Hostname, cfg.ListenPort, epoch)

	log := logging.New().With("node", self.String())
	m := metrics.New("ghostproc")
	m.MustRegister(reg)

	values := encodable.NewBuiltins()
	values.Register("rpc.echo.int", rpc.DecodeEchoInt)
	values.Register("rpc.echo.string", rpc.DecodeEchoString)

	table := process.NewTable(self, graceWindow)
	channels := channel.NewRegistry(self)
	closures := closure.NewRegistry()

	r := router.New(self, table, channels, closures, values, m, log.With("component", "router"))

	return &Runtime{
		Self:     self,
		cfg:      cfg,
		table:    table,
		channels: channels,
		closures: closures,
		values:   values,
		metrics:  m,
		log:      log,
		router:   r,
		stop:     make(chan struct{}),
	}
}

// RegisterClosure exposes the node's closure registry to callers that
// need to register application-specific closures before Start freezes
// it, e.g. `rt.RegisterClosure("my-worker", decode, body)`.
func (rt *Runtime) RegisterClosure(name string, decode closure.ArgDecoder, body closure.Body) error {
	return rt.closures.Register(name, decode, body)
}

// Start binds the listener, wires transport/directory/discovery,
// freezes the closure registry, seeds known hosts, and dispatches the
// configured role.
func (rt *Runtime) Start() error {
	if err := closure.RegisterEcho(rt.closures, rt.router); err != nil {
		return fmt.Errorf("ghostproc: register built-in echo closure: %w", err)
	}
	rt.closures.Freeze()

	rt.trans = transport.New(rt.Self, rt.cfg.Magic, rt.router,
		rt.metrics, rt.log.With("component", "transport"),
		time.Duration(rt.cfg.BackoffMinMs)*time.Millisecond,
		time.Duration(rt.cfg.BackoffMaxMs)*time.Millisecond)
	rt.router.BindTransport(rt.trans)

	addr, err := rt.trans.Listen(fmt.Sprintf(":%d", rt.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("ghostproc: bind listener: %w", err)
	}
	rt.Self = id.New(rt.Self.Host, uint16(addr.Port), rt.Self.Epoch)

	rt.dir = directory.New(rt.Self, rt.trans, rt.cfg.PortRangeMin, rt.cfg.PortRangeMax, rt.log.With("component", "directory"))
	rt.router.BindDirectory(rt.dir)

	if len(rt.cfg.KnownHosts) > 0 {
		rt.dir.Seed(rt.cfg.KnownHosts)
	}

	rt.beacon = discovery.NewWatcher(rt.Self, rt.cfg.Magic, discovery.DefaultPort, time.Second, rt.log.With("component", "discovery"))
	if err := rt.beacon.Start(); err != nil {
		rt.log.Warnf("ghostproc: LAN discovery disabled: %v", err)
		rt.beacon = nil
	} else {
		rt.wg.Add(1)
		go rt.relayDiscovery()
	}

	rt.wg.Add(1)
	go rt.pingSweep()
	rt.wg.Add(1)
	go rt.announceSweep()
	rt.wg.Add(1)
	go rt.metricsSweep()

	rt.primary = roles.Dispatch(rt.table, rt.closures, rt.cfg.Role, nil, rt.log.With("component", "roles"))
	return nil
}

// Wait blocks until the dispatched role's primary process terminates
// (an idle node, or one whose role body never returns, blocks forever
// here until Shutdown cancels it).
func (rt *Runtime) Wait() {
	if rt.primary == nil {
		return
	}
	for rt.primary.Status() != process.Terminated {
		time.Sleep(20 * time.Millisecond)
		select {
		case <-rt.stop:
			return
		default:
		}
	}
}

// Shutdown refuses new inbound traffic, cancels every live process, and
// tears down transport and discovery. It is safe to call more than
// once.
func (rt *Runtime) Shutdown() {
	rt.stopOnce.Do(func() {
		close(rt.stop)
		rt.table.CancelAll()
		if rt.beacon != nil {
			rt.beacon.Close()
		}
		if rt.trans != nil {
			rt.trans.Shutdown()
		}
		rt.wg.Wait()
	})
}

func (rt *Runtime) relayDiscovery() {
	defer rt.wg.Done()
	for {
		select {
		case peer, ok := <-rt.beacon.Found():
			if !ok {
				return
			}
			rt.dir.Lookup(peer)
		case <-rt.stop:
			return
		}
	}
}

func (rt *Runtime) pingSweep() {
	defer rt.wg.Done()
	t := time.NewTicker(pingSweepInterval)
	defer t.Stop()
	var nonce uint64
	for {
		select {
		case <-t.C:
			nonce++
			n := nonce
			rt.trans.ForEachPeer(func(_ id.NodeId, c *transport.Conn) {
				c.Send(&wire.Ping{Nonce: n})
			})
		case <-rt.stop:
			return
		}
	}
}

func (rt *Runtime) metricsSweep() {
	defer rt.wg.Done()
	t := time.NewTicker(metricsSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rt.metrics.ProcessCount.Set(float64(rt.table.Count()))
		case <-rt.stop:
			return
		}
	}
}

func (rt *Runtime) announceSweep() {
	defer rt.wg.Done()
	t := time.NewTicker(announceInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rt.dir.BroadcastAnnounce()
		case <-rt.stop:
			return
		}
	}
}
