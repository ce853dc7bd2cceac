package roles

import (
	"testing"
	"time"

	"github.com/ghostproc/ghostproc/closure"
	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable() *process.Table {
	return process.NewTable(id.New("host", 1, 1), 50*time.Millisecond)
}

func TestDispatchEmptyRoleIdles(t *testing.T) {
	table := newTable()
	closures := closure.NewRegistry()
	closures.Freeze()

	p := Dispatch(table, closures, "", nil, logging.New())
	require.NotNil(t, p)
	// An idle process is blocked in Receive, which reports Waiting.
	assert.Eventually(t, func() bool { return p.Status() == process.Waiting }, time.Second, 5*time.Millisecond)
	p.Cancel()
}

func TestDispatchUnknownRoleIdles(t *testing.T) {
	table := newTable()
	closures := closure.NewRegistry()
	closures.Freeze()

	p := Dispatch(table, closures, "nonexistent", nil, logging.New())
	require.NotNil(t, p)
	assert.Eventually(t, func() bool { return p.Status() == process.Waiting }, time.Second, 5*time.Millisecond)
	p.Cancel()
}

func TestDispatchKnownRoleSpawnsIt(t *testing.T) {
	table := newTable()
	closures := closure.NewRegistry()
	started := make(chan struct{})
	require.NoError(t, closures.Register("worker",
		func(data []byte) (interface{}, error) { return nil, nil },
		func(p *process.Process, arg interface{}) { close(started); p.Receive(0) },
	))
	closures.Freeze()

	p := Dispatch(table, closures, "worker", nil, logging.New())
	require.NotNil(t, p)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("dispatched role body never ran")
	}
	p.Cancel()
}
