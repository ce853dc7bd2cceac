package discovery

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
)

// DefaultPort is the UDP port the node controller's beacon broadcasts and
// listens on; no configuration key changes it.
const DefaultPort = 9991

// Watcher runs the LAN beacon and turns its raw signals into NodeId
// sightings, one per distinct peer announcing itself with the same
// magic token this node was configured with. It is an additive
// discovery path alongside known-hosts and port-range probing: nothing
// downstream distinguishes a NodeId learned this way from one learned
// any other way.
type Watcher struct {
	b     *beacon
	magic string
	self  id.NodeId
	log   logging.Logger
	found chan id.NodeId
}

// NewWatcher builds a Watcher for self, broadcasting on port every
// interval.
func NewWatcher(self id.NodeId, magic string, port int, interval time.Duration, log logging.Logger) *Watcher {
	return &Watcher{
		b:     newBeacon(port, interval),
		magic: magic,
		self:  self,
		log:   log,
		found: make(chan id.NodeId, 32),
	}
}

// Start joins the multicast group, begins broadcasting self, and begins
// relaying other nodes' announcements to Found.
func (w *Watcher) Start() error {
	w.b.transmit = encodeBeacon(w.magic, w.self)
	if err := w.b.start(); err != nil {
		return err
	}
	go w.relay()
	return nil
}

// Found delivers one NodeId per peer beacon this node accepted (correct
// magic, decodable payload, not itself).
func (w *Watcher) Found() <-chan id.NodeId { return w.found }

// Close stops broadcasting and listening.
func (w *Watcher) Close() {
	w.b.close()
}

func (w *Watcher) relay() {
	for sig := range w.b.signals {
		magic, peer, err := decodeBeacon(sig.Payload)
		if err != nil {
			w.log.Debugf("discovery: malformed beacon from %s: %v", sig.FromAddr, err)
			continue
		}
		if magic != w.magic {
			continue
		}
		if peer == w.self {
			continue
		}
		select {
		case w.found <- peer:
		default:
		}
	}
}

// encodeBeacon serializes (magic, node) as a flat, length-prefixed
// payload distinct from the TCP wire codec: beacons are a separate,
// best-effort UDP channel, not framed connection traffic.
func encodeBeacon(magic string, n id.NodeId) []byte {
	hostBytes := []byte(n.Host)
	magicBytes := []byte(magic)
	buf := make([]byte, 2+len(magicBytes)+2+len(hostBytes)+2+8)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(len(magicBytes)))
	off += 2
	copy(buf[off:], magicBytes)
	off += len(magicBytes)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(hostBytes)))
	off += 2
	copy(buf[off:], hostBytes)
	off += len(hostBytes)
	binary.BigEndian.PutUint16(buf[off:], n.Port)
	off += 2
	binary.BigEndian.PutUint64(buf[off:], n.Epoch)
	return buf
}

func decodeBeacon(data []byte) (string, id.NodeId, error) {
	if len(data) < 2 {
		return "", id.NodeId{}, fmt.Errorf("discovery: beacon too short")
	}
	off := 0
	magicLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if len(data) < off+magicLen+2 {
		return "", id.NodeId{}, fmt.Errorf("discovery: beacon truncated in magic")
	}
	magic := string(data[off : off+magicLen])
	off += magicLen

	hostLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if len(data) < off+hostLen+2+8 {
		return "", id.NodeId{}, fmt.Errorf("discovery: beacon truncated in host")
	}
	host := string(data[off : off+hostLen])
	off += hostLen

	port := binary.BigEndian.Uint16(data[off:])
	off += 2
	epoch := binary.BigEndian.Uint64(data[off:])

	return magic, id.New(host, port, epoch), nil
}
