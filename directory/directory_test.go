package directory

import (
	"testing"
	"time"

	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/metrics"
	"github.com/ghostproc/ghostproc/transport"
	"github.com/ghostproc/ghostproc/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopHandler struct{}

func (noopHandler) HandleFrame(id.NodeId, wire.Frame) {}
func (noopHandler) PeerUp(id.NodeId)                  {}
func (noopHandler) PeerDown(id.NodeId)                {}
func (noopHandler) PeerFailed(id.NodeId)              {}

func newTestDirectory(self id.NodeId) *Directory {
	tr := transport.New(self, "magic", noopHandler{}, metrics.New("test"), logging.New(), time.Millisecond, 10*time.Millisecond)
	return New(self, tr, 40000, 40010, logging.New())
}

func TestEnumerateReflectsPeerUpDown(t *testing.T) {
	self := id.New("self.local", 4000, 1)
	peer := id.New("peer.local", 4001, 1)
	d := newTestDirectory(self)

	assert.Empty(t, d.Enumerate())

	d.HandlePeerUp(peer)
	assert.Equal(t, []id.NodeId{peer}, d.Enumerate())
	assert.Equal(t, []id.NodeId{peer}, d.Known())

	d.HandlePeerDown(peer)
	assert.Empty(t, d.Enumerate())
	assert.Equal(t, []id.NodeId{peer}, d.Known(), "Known remembers peers even once unreachable")
}

func TestHandlePeerAnnounceLearnsNewPeers(t *testing.T) {
	self := id.New("self.local", 4000, 1)
	already := id.New("already.local", 4002, 1)
	fresh := id.New("fresh.local", 4003, 1)
	d := newTestDirectory(self)
	d.HandlePeerUp(already)

	d.HandlePeerAnnounce([]id.NodeId{self, already, fresh})

	known := d.Known()
	assert.Contains(t, known, already)
	assert.Contains(t, known, fresh)
	assert.NotContains(t, known, self, "a node never adds itself to its own directory")
}

func TestAnnounceIncludesSelfAndReachable(t *testing.T) {
	self := id.New("self.local", 4000, 1)
	peer := id.New("peer.local", 4001, 1)
	d := newTestDirectory(self)
	d.HandlePeerUp(peer)

	a := d.Announce()
	assert.Contains(t, a.Nodes, self)
	assert.Contains(t, a.Nodes, peer)
}

func TestSplitHostPort(t *testing.T) {
	host, port, ok := splitHostPort("example.com:4050")
	require.True(t, ok)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, uint16(4050), port)

	_, _, ok = splitHostPort("example.com")
	assert.False(t, ok)
}
