// Package process implements the per-node process table and scheduler:
// identity allocation, mailboxes, selective receive, and process
// termination with link/monitor notification.
package process

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghostproc/ghostproc/envelope"
	"github.com/ghostproc/ghostproc/id"
)

// Status is the lifecycle state of a Process.
type Status int32

const (
	Running Status = iota
	Waiting
	Terminated
)

// TerminationReason carries why a process ended, delivered to link/monitor
// observers as a termination-notice message.
type TerminationReason struct {
	Pid   id.ProcessId
	Error error // nil on clean completion
}

const terminationTag = "__termination_notice__"

// Handler pairs a type tag with the function invoked when Receive matches
// an envelope carrying it.
type Handler struct {
	Tag string
	Fn  func(value interface{})
}

// Process is one lightweight concurrent activity: a ProcessId, a mailbox,
// and an observer set notified on termination.
type Process struct {
	Id      id.ProcessId
	Mailbox *Mailbox

	status     int32 // atomic Status
	table      *Table
	mu         sync.Mutex
	monitors   map[id.ProcessId]*Process
	cancel     chan struct{}
	cancelOnce sync.Once
}

// Cancel terminates the process's pending receive, if any, without
// waiting for its body to notice and return. The body is
// still responsible for returning once it observes ErrCancelled; Cancel
// alone does not remove the process-table entry.
func (p *Process) Cancel() {
	p.cancelOnce.Do(func() { close(p.cancel) })
}

func (p *Process) Status() Status { return Status(atomic.LoadInt32(&p.status)) }

// Receive offers handlers to the mailbox; the first queued envelope whose
// tag matches any handler is removed and its handler invoked. timeout <= 0
// means wait indefinitely; otherwise Receive returns ErrTimeout if no
// match arrives within timeout.
func (p *Process) Receive(timeout time.Duration, handlers ...Handler) error {
	tags := make(map[string]bool, len(handlers))
	byTag := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		tags[h.Tag] = true
		byTag[h.Tag] = h
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	atomic.StoreInt32(&p.status, int32(Waiting))
	msg, err := p.Mailbox.Receive(deadline, tags, p.cancel)
	atomic.StoreInt32(&p.status, int32(Running))
	if err != nil {
		return err
	}
	byTag[msg.Tag].Fn(msg.Value)
	return nil
}

// Monitor registers watcher to receive a termination-notice message
// (tagged terminationTag, payload TerminationReason) when p terminates.
// If p has already terminated, the notice is delivered immediately.
func (p *Process) Monitor(watcher *Process) {
	p.mu.Lock()
	if p.Status() == Terminated {
		p.mu.Unlock()
		watcher.Mailbox.Deliver(envelope.Message{Tag: terminationTag, Value: TerminationReason{Pid: p.Id}})
		return
	}
	if p.monitors == nil {
		p.monitors = make(map[id.ProcessId]*Process)
	}
	p.monitors[watcher.Id] = watcher
	p.mu.Unlock()
}

// TerminationTag is the envelope tag used for termination-notice messages,
// exported so callers can build a Handler for it.
func TerminationTag() string { return terminationTag }

func (p *Process) notifyTermination(reason error) {
	p.mu.Lock()
	watchers := p.monitors
	p.monitors = nil
	p.mu.Unlock()
	for _, w := range watchers {
		w.Mailbox.Deliver(envelope.Message{Tag: terminationTag, Value: TerminationReason{Pid: p.Id, Error: reason}})
	}
}

// Table is the process-wide process table and scheduler for one node: it
// allocates ProcessIds, owns the running set, and runs process bodies.
type Table struct {
	node        id.NodeId
	counter     uint64
	graceWindow time.Duration

	mu      sync.RWMutex
	entries map[uint64]*Process
}

// NewTable creates a process table for node, which runs bodies with
// graceWindow as the delay between body completion and entry removal,
// so a message addressed to a just-finished process is discarded
// instead of crashing the sender.
func NewTable(node id.NodeId, graceWindow time.Duration) *Table {
	return &Table{node: node, graceWindow: graceWindow, entries: make(map[uint64]*Process)}
}

// Lookup finds a live local process by its local index.
func (t *Table) Lookup(local uint64) (*Process, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[local]
	return p, ok
}

// SpawnLocal allocates a ProcessId, creates its mailbox, registers it, and
// runs body in a new goroutine. A panic in body is recovered: the process
// terminates and observers are notified, the node does not crash.
func (t *Table) SpawnLocal(body func(p *Process)) *Process {
	local := atomic.AddUint64(&t.counter, 1)
	pid := id.ProcessId{Node: t.node, Local: local}
	p := &Process{Id: pid, Mailbox: NewMailbox(), table: t, status: int32(Running), cancel: make(chan struct{})}

	t.mu.Lock()
	t.entries[local] = p
	t.mu.Unlock()

	go t.run(p, body)
	return p
}

func (t *Table) run(p *Process, body func(p *Process)) {
	var reason error
	func() {
		defer func() {
			if r := recover(); r != nil {
				reason = fmt.Errorf("process: panic: %v", r)
			}
		}()
		body(p)
	}()

	atomic.StoreInt32(&p.status, int32(Terminated))
	p.notifyTermination(reason)

	if t.graceWindow <= 0 {
		t.remove(p.Id.Local)
		return
	}
	time.AfterFunc(t.graceWindow, func() { t.remove(p.Id.Local) })
}

func (t *Table) remove(local uint64) {
	t.mu.Lock()
	delete(t.entries, local)
	t.mu.Unlock()
}

// CancelAll cancels every live process's pending receive, part of the
// node controller's orderly shutdown.
func (t *Table) CancelAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.entries {
		p.Cancel()
	}
}

// Count returns the number of live (including grace-window) entries, used
// by the process-count metric.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
