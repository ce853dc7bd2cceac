// Package discovery implements the additive LAN discovery path: nodes
// broadcast a small UDP multicast beacon advertising their NodeId, and
// listen for the same beacon from others, so that a directory can learn
// peers without needing known-hosts or port-range probing configured.
// It is grounded on a local-area beacon built on raw IPv4/IPv6 multicast
// packet connections, adapted here from the defunct pre-x/net
// implementation to golang.org/x/net/ipv4 and golang.org/x/net/ipv6, and
// from broadcasting arbitrary bytes to broadcasting (NodeId, magic)
// pairs filtered by the cluster's shared magic token.
package discovery

import (
	"bytes"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const beaconMaxLen = 512

var (
	multicastGroupV4 = "224.0.0.250"
	multicastGroupV6 = "ff02::fa"
)

// Signal is one received beacon payload, tagged with the source address
// it arrived from (not necessarily the address the beacon's own payload
// names, when NAT or multi-homing is in play).
type Signal struct {
	FromAddr string
	Payload  []byte
}

// beacon is the raw multicast transport: send transmit on interval,
// deliver anything matching filter to Signals. It has no notion of
// NodeIds; Watcher builds that on top.
type beacon struct {
	mu sync.Mutex

	port     int
	iface    string
	interval time.Duration
	noecho   bool

	transmit []byte
	filter   []byte

	ipv4Conn *ipv4.PacketConn
	ipv6Conn *ipv6.PacketConn
	outAddr  *net.UDPAddr
	addr     string

	terminated bool
	signals    chan Signal
	wg         sync.WaitGroup
}

func newBeacon(port int, interval time.Duration) *beacon {
	return &beacon{
		port:     port,
		interval: interval,
		signals:  make(chan Signal, 64),
		noecho:   true,
	}
}

func (b *beacon) addrString() string { return b.addr }

func (b *beacon) start() error {
	if b.iface == "" {
		b.iface = os.Getenv("GHOSTPROC_BEACON_INTERFACE")
	}

	var ifs []net.Interface
	if b.iface == "" {
		all, err := net.Interfaces()
		if err != nil {
			return err
		}
		ifs = all
	} else {
		iface, err := net.InterfaceByName(b.iface)
		if err != nil {
			return err
		}
		ifs = append(ifs, *iface)
	}

	if conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(b.port))); err == nil {
		b.ipv4Conn = ipv4.NewPacketConn(conn)
		b.ipv4Conn.SetMulticastLoopback(true)
		b.ipv4Conn.SetControlMessage(ipv4.FlagSrc, true)
	}
	if b.ipv4Conn == nil {
		if conn, err := net.ListenPacket("udp6", net.JoinHostPort("::", strconv.Itoa(b.port))); err == nil {
			b.ipv6Conn = ipv6.NewPacketConn(conn)
			b.ipv6Conn.SetMulticastLoopback(true)
			b.ipv6Conn.SetControlMessage(ipv6.FlagSrc, true)
		}
	}
	if b.ipv4Conn == nil && b.ipv6Conn == nil {
		return errors.New("discovery: no UDP multicast interface available")
	}

	for _, iface := range ifs {
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if b.ipv4Conn != nil {
			group := &net.UDPAddr{IP: net.ParseIP(multicastGroupV4)}
			if err := b.ipv4Conn.JoinGroup(&iface, group); err != nil {
				continue
			}
			b.outAddr = &net.UDPAddr{IP: net.ParseIP(multicastGroupV4), Port: b.port}
		} else {
			group := &net.UDPAddr{IP: net.ParseIP(multicastGroupV6)}
			if err := b.ipv6Conn.JoinGroup(&iface, group); err != nil {
				continue
			}
			b.outAddr = &net.UDPAddr{IP: net.ParseIP(multicastGroupV6), Port: b.port}
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			if ip, _, err := net.ParseCIDR(addrs[0].String()); err == nil {
				b.addr = ip.String()
			}
		}
		break
	}
	if b.outAddr == nil {
		return errors.New("discovery: no multicast-capable interface joined")
	}

	go b.listen()
	go b.announce()
	return nil
}

func (b *beacon) close() {
	b.mu.Lock()
	b.terminated = true
	b.mu.Unlock()

	if b.ipv4Conn != nil {
		b.ipv4Conn.WriteTo(nil, nil, b.outAddr)
	} else if b.ipv6Conn != nil {
		b.ipv6Conn.WriteTo(nil, nil, b.outAddr)
	}
	b.wg.Wait()

	if b.ipv4Conn != nil {
		b.ipv4Conn.Close()
	}
	if b.ipv6Conn != nil {
		b.ipv6Conn.Close()
	}
	close(b.signals)
}

func (b *beacon) listen() {
	b.wg.Add(1)
	defer b.wg.Done()

	buf := make([]byte, beaconMaxLen)
	for {
		b.mu.Lock()
		done := b.terminated
		b.mu.Unlock()
		if done {
			return
		}

		var n int
		var src net.IP
		var err error
		if b.ipv4Conn != nil {
			var cm *ipv4.ControlMessage
			n, cm, _, err = b.ipv4Conn.ReadFrom(buf)
			if cm != nil {
				src = cm.Src
			}
		} else {
			var cm *ipv6.ControlMessage
			n, cm, _, err = b.ipv6Conn.ReadFrom(buf)
			if cm != nil {
				src = cm.Src
			}
		}
		if err != nil || n == 0 {
			continue
		}

		payload := append([]byte(nil), buf[:n]...)
		if b.noecho && bytes.Equal(payload, b.transmit) {
			continue
		}
		if len(b.filter) > 0 && !bytes.HasPrefix(payload, b.filter) {
			continue
		}

		addr := ""
		if src != nil {
			addr = src.String()
		}
		select {
		case b.signals <- Signal{FromAddr: addr, Payload: payload}:
		default:
		}
	}
}

func (b *beacon) announce() {
	b.wg.Add(1)
	defer b.wg.Done()

	interval := b.interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for range t.C {
		b.mu.Lock()
		if b.terminated {
			b.mu.Unlock()
			return
		}
		payload := b.transmit
		b.mu.Unlock()
		if payload == nil {
			continue
		}
		if b.ipv4Conn != nil {
			b.ipv4Conn.WriteTo(payload, nil, b.outAddr)
		} else if b.ipv6Conn != nil {
			b.ipv6Conn.WriteTo(payload, nil, b.outAddr)
		}
	}
}
