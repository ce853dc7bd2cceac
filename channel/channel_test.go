package channel

import (
	"sync"
	"testing"

	"github.com/ghostproc/ghostproc/encodable"
	"github.com/ghostproc/ghostproc/id"
)

func testNode() id.NodeId { return id.New("localhost", 40020, 1) }

func encodeInt(v int) ([]byte, error) { return encodable.Int(v).Encode() }

func TestChannelSingleProducerOrder(t *testing.T) {
	reg := NewRegistry(testNode())
	send, recv := New[int](reg, "int", encodeInt)

	go func() {
		for i := 0; i < 10; i++ {
			send.Send(i)
		}
	}()

	for i := 0; i < 10; i++ {
		if got := recv.Receive(); got != i {
			t.Fatalf("Receive() = %d, want %d", got, i)
		}
	}
}

func TestChannelFanIn(t *testing.T) {
	reg := NewRegistry(testNode())
	send, recv := New[int](reg, "int", encodeInt)

	const producers = 4
	const perProducer = 100

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 1; i <= perProducer; i++ {
				send.Send(base*perProducer + i)
			}
		}(p)
	}

	got := make(map[int]int)
	for i := 0; i < producers*perProducer; i++ {
		got[recv.Receive()]++
	}
	wg.Wait()

	if len(got) != producers*perProducer {
		t.Fatalf("got %d distinct values, want %d", len(got), producers*perProducer)
	}
	for v, count := range got {
		if count != 1 {
			t.Fatalf("value %d delivered %d times, want 1", v, count)
		}
	}
}

func TestReceivePortEncodeRefused(t *testing.T) {
	reg := NewRegistry(testNode())
	_, recv := New[int](reg, "int", encodeInt)
	if _, err := recv.Encode(); err != ErrReceivePortNotSerializable {
		t.Fatalf("Encode() err = %v, want ErrReceivePortNotSerializable", err)
	}
}

func TestDeliverLocalTypeMismatchReturnsError(t *testing.T) {
	reg := NewRegistry(testNode())
	send, recv := New[int](reg, "int", encodeInt)

	// A remote peer's decoder can hand back a type other than the local
	// ReceivePort's T (the builtin "int" tag decodes to int64, for
	// instance); DeliverLocal must report that, not zero the queue.
	err := reg.DeliverLocal(send.Routing.Index, "int", int64(5))
	if err != ErrPortTypeMismatch {
		t.Fatalf("DeliverLocal() err = %v, want ErrPortTypeMismatch", err)
	}

	if err := reg.DeliverLocal(send.Routing.Index, "int", 9); err != nil {
		t.Fatalf("DeliverLocal() err = %v, want nil", err)
	}
	if got := recv.Receive(); got != 9 {
		t.Fatalf("Receive() = %d, want 9", got)
	}
}

func TestDeliverLocalUnknownChannelReturnsError(t *testing.T) {
	reg := NewRegistry(testNode())
	if err := reg.DeliverLocal(999, "int", 1); err != ErrChannelNotFound {
		t.Fatalf("DeliverLocal() err = %v, want ErrChannelNotFound", err)
	}
}

func TestBindLocalSendPortDeliversToOwnerQueue(t *testing.T) {
	reg := NewRegistry(testNode())
	send, recv := New[int](reg, "int", encodeInt)

	// Simulate a SendPort decoded off the wire, pointing back at our own
	// node: Bind must resolve it to the same underlying queue.
	bound, ok := Bind[int](reg, send.Routing, encodeInt, nil)
	if !ok {
		t.Fatal("Bind failed to resolve local routing")
	}
	bound.Send(42)
	if got := recv.Receive(); got != 42 {
		t.Fatalf("Receive() = %d, want 42", got)
	}
}
