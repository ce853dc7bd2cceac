package process

import (
	"sync"
	"time"

	"github.com/ghostproc/ghostproc/envelope"
)

// ErrTimeout is returned by Mailbox.Receive when the deadline passes
// without a matching envelope arriving.
var ErrTimeout = mailboxError("receive-timeout")

// ErrCancelled is returned by Mailbox.Receive when the owning process is
// terminated while the receive was pending.
var ErrCancelled = mailboxError("process-terminated")

type mailboxError string

func (e mailboxError) Error() string { return string(e) }

// Mailbox is the per-process unbounded FIFO of typed envelopes. Exactly
// one goroutine should call Receive at a time (the owning process);
// Deliver is safe from any number of producers.
type Mailbox struct {
	mu     sync.Mutex
	queue  []envelope.Message
	notify chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{})}
}

// Deliver appends msg to the tail of the queue and wakes any blocked
// Receive. Deliver never blocks and never fails: a full mailbox simply
// grows, unbounded.
func (mb *Mailbox) Deliver(msg envelope.Message) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, msg)
	old := mb.notify
	mb.notify = make(chan struct{})
	mb.mu.Unlock()
	close(old)
}

// Len reports the current queue depth, used for the mailbox-depth metric.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

// Receive scans the queue head-to-tail for the first envelope whose tag is
// in tags, removes it and returns it. If none matches, it suspends until a
// new envelope arrives and rescans only the newly-appended tail (the
// cursor in scanFrom), avoiding a repeated full scan on every wakeup.
// A zero deadline means wait forever.
func (mb *Mailbox) Receive(deadline time.Time, tags map[string]bool, cancel <-chan struct{}) (envelope.Message, error) {
	mb.mu.Lock()
	scanFrom := 0
	for {
		for ; scanFrom < len(mb.queue); scanFrom++ {
			m := mb.queue[scanFrom]
			if tags[m.Tag] {
				mb.queue = append(mb.queue[:scanFrom:scanFrom], mb.queue[scanFrom+1:]...)
				mb.mu.Unlock()
				return m, nil
			}
		}
		ch := mb.notify
		mb.mu.Unlock()

		if deadline.IsZero() {
			select {
			case <-ch:
			case <-cancel:
				return envelope.Message{}, ErrCancelled
			}
		} else {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return envelope.Message{}, ErrTimeout
			}
			timer := time.NewTimer(remaining)
			select {
			case <-ch:
				timer.Stop()
			case <-timer.C:
				return envelope.Message{}, ErrTimeout
			case <-cancel:
				timer.Stop()
				return envelope.Message{}, ErrCancelled
			}
		}
		mb.mu.Lock()
	}
}
