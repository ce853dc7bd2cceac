package process

import (
	"testing"
	"time"

	"github.com/ghostproc/ghostproc/envelope"
	"github.com/ghostproc/ghostproc/id"
)

func testNode() id.NodeId { return id.New("localhost", 40010, 1) }

func TestSpawnLocalAssignsUniqueLocalIndexes(t *testing.T) {
	table := NewTable(testNode(), 0)
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		p := table.SpawnLocal(func(p *Process) {})
		if seen[p.Id.Local] {
			t.Fatalf("local index %d reused", p.Id.Local)
		}
		seen[p.Id.Local] = true
	}
}

func TestSelectiveReceiveSkipsNonMatching(t *testing.T) {
	table := NewTable(testNode(), 0)
	p := table.SpawnLocal(func(p *Process) {})

	p.Mailbox.Deliver(envelope.Message{Tag: "int", Value: 1})
	p.Mailbox.Deliver(envelope.Message{Tag: "string", Value: "a"})
	p.Mailbox.Deliver(envelope.Message{Tag: "int", Value: 2})
	p.Mailbox.Deliver(envelope.Message{Tag: "string", Value: "b"})

	var got []string
	handler := func(v interface{}) { got = append(got, v.(string)) }
	if err := p.Receive(time.Second, Handler{Tag: "string", Fn: handler}); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if err := p.Receive(time.Second, Handler{Tag: "string", Fn: handler}); err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}

	var ints []int
	intHandler := func(v interface{}) { ints = append(ints, v.(int)) }
	if err := p.Receive(time.Second, Handler{Tag: "int", Fn: intHandler}); err != nil {
		t.Fatalf("third receive: %v", err)
	}
	if err := p.Receive(time.Second, Handler{Tag: "int", Fn: intHandler}); err != nil {
		t.Fatalf("fourth receive: %v", err)
	}
	if len(ints) != 2 || ints[0] != 1 || ints[1] != 2 {
		t.Fatalf("got %v, want [1 2]", ints)
	}
}

func TestReceiveTimeout(t *testing.T) {
	table := NewTable(testNode(), 0)
	p := table.SpawnLocal(func(p *Process) {})
	err := p.Receive(10*time.Millisecond, Handler{Tag: "nope", Fn: func(interface{}) {}})
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestReceiveBlocksUntilDelivery(t *testing.T) {
	table := NewTable(testNode(), 0)
	p := table.SpawnLocal(func(p *Process) {})

	done := make(chan string, 1)
	go func() {
		p.Receive(time.Second, Handler{Tag: "string", Fn: func(v interface{}) {
			done <- v.(string)
		}})
	}()

	time.Sleep(20 * time.Millisecond)
	p.Mailbox.Deliver(envelope.Message{Tag: "string", Value: "hello"})

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("got %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("receive never unblocked")
	}
}

func TestMonitorNotifiesOnTermination(t *testing.T) {
	table := NewTable(testNode(), 0)
	target := table.SpawnLocal(func(p *Process) { time.Sleep(10 * time.Millisecond) })
	watcher := table.SpawnLocal(func(p *Process) {})
	target.Monitor(watcher)

	err := watcher.Receive(time.Second, Handler{Tag: TerminationTag(), Fn: func(v interface{}) {
		reason := v.(TerminationReason)
		if reason.Pid != target.Id {
			t.Errorf("termination notice for wrong pid: %+v", reason)
		}
	}})
	if err != nil {
		t.Fatalf("watcher receive: %v", err)
	}
}

func TestSpawnLocalPanicTerminatesProcessNotNode(t *testing.T) {
	table := NewTable(testNode(), 0)
	p := table.SpawnLocal(func(p *Process) { panic("boom") })
	for i := 0; i < 100 && p.Status() != Terminated; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Status() != Terminated {
		t.Fatalf("expected process to terminate after panic")
	}
}
