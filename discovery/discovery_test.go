package discovery

import (
	"testing"
	"time"

	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeaconPayloadRoundTrip(t *testing.T) {
	n := id.New("10.0.0.5", 4100, 77)
	payload := encodeBeacon("cluster-magic", n)

	magic, got, err := decodeBeacon(payload)
	require.NoError(t, err)
	assert.Equal(t, "cluster-magic", magic)
	assert.Equal(t, n, got)
}

func TestBeaconPayloadRejectsTruncated(t *testing.T) {
	n := id.New("10.0.0.5", 4100, 77)
	payload := encodeBeacon("cluster-magic", n)

	_, _, err := decodeBeacon(payload[:len(payload)-3])
	assert.Error(t, err)

	_, _, err = decodeBeacon(nil)
	assert.Error(t, err)
}

// TestWatcherConverges exercises the real multicast path end to end. It
// is skipped in sandboxes without a multicast-capable interface, which
// Start reports as an error rather than a panic.
func TestWatcherConverges(t *testing.T) {
	self1 := id.New("node1.local", 4101, 1)
	self2 := id.New("node2.local", 4102, 2)

	w1 := NewWatcher(self1, "cluster-magic", 19991, 20*time.Millisecond, logging.New())
	if err := w1.Start(); err != nil {
		t.Skipf("no multicast-capable interface available: %v", err)
	}
	defer w1.Close()

	w2 := NewWatcher(self2, "cluster-magic", 19991, 20*time.Millisecond, logging.New())
	require.NoError(t, w2.Start())
	defer w2.Close()

	select {
	case found := <-w1.Found():
		assert.Equal(t, self2, found)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for peer beacon")
	}
}
