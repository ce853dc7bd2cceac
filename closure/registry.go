// Package closure implements the process-wide registry of spawnable
// bodies: a name a remote spawn request names, an argument decoder, and
// the body constructor it runs under.
package closure

import (
	"fmt"
	"sync"

	"github.com/ghostproc/ghostproc/id"
	"github.com/ghostproc/ghostproc/process"
)

// ErrUnknownClosure is returned by Lookup for a name nothing registered.
var ErrUnknownClosure = fmt.Errorf("closure: unknown closure")

// ErrFrozen is returned by Register once the registry has been frozen.
var ErrFrozen = fmt.Errorf("closure: registry is frozen")

// ArgDecoder reconstructs a closure's argument value from its encoded
// bytes. Closures with no arguments ignore data and return nil.
type ArgDecoder func(data []byte) (interface{}, error)

// Body is the activity a closure materializes as, given the decoded
// argument. It runs exactly like a spawnLocal body otherwise.
type Body func(p *process.Process, arg interface{})

type entry struct {
	decode ArgDecoder
	body   Body
}

// Registry is the per-node closure table. It accepts registrations until
// Freeze is called (at node startup, before the transport accepts any
// connection); after that, Register always fails.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	frozen  bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register associates name with decode and body. Both endpoints of a
// remote spawn must register the same name pointing at compatible code;
// the registry itself cannot check that.
func (r *Registry) Register(name string, decode ArgDecoder, body Body) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.entries[name] = entry{decode: decode, body: body}
	return nil
}

// Freeze stops further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Spawn decodes argData with name's registered decoder and runs the
// closure's body as a new local process on table, returning its
// ProcessId. This is what the node does on the receiving end of a
// spawn-request frame.
func (r *Registry) Spawn(table *process.Table, name string, argData []byte) (id.ProcessId, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return id.ProcessId{}, fmt.Errorf("%w: %s", ErrUnknownClosure, name)
	}

	arg, err := e.decode(argData)
	if err != nil {
		return id.ProcessId{}, fmt.Errorf("closure: decode-failed for %s: %w", name, err)
	}

	p := table.SpawnLocal(func(p *process.Process) { e.body(p, arg) })
	return p.Id, nil
}
