// Package encodable defines the "encodable" capability: the boundary
// between the runtime's mailboxes/channels (which move opaque tagged
// envelopes) and a user payload's own serialization. The framework never
// inspects payload bytes beyond the type tag; the wire codec treats the
// (tag, bytes) pair as opaque.
package encodable

import "fmt"

// Encodable is implemented by any value a caller wants to send across the
// wire. The codec never needs to know the concrete Go type: it asks the
// value for its tag and its bytes.
type Encodable interface {
	TypeTag() string
	Encode() ([]byte, error)
}

// Decoder reconstructs a value of some type from encoded bytes. Registered
// once per tag at startup; decoders are looked up by the tag carried on
// the wire frame.
type Decoder func(data []byte) (interface{}, error)

// Registry is a mapping from type tag to decoder, one per node, mirroring
// the closure registry's "agreed identifier" contract: both endpoints of
// a send must register the same tag pointing at compatible code for
// remote delivery to succeed. Unlike the closure registry it has no
// Freeze and no locking.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register associates a tag with a decoder. Re-registering the same tag
// overwrites the previous decoder; callers are expected to do this only
// during startup, before any connection accepts frames.
func (r *Registry) Register(tag string, dec Decoder) {
	r.decoders[tag] = dec
}

// Decode reconstructs a value for tag. ErrUnknownTag surfaces as a
// decode-failed error to the caller.
func (r *Registry) Decode(tag string, data []byte) (interface{}, error) {
	dec, ok := r.decoders[tag]
	if !ok {
		return nil, fmt.Errorf("encodable: %w: %s", ErrUnknownTag, tag)
	}
	return dec(data)
}

// ErrUnknownTag is returned by Decode when no decoder was registered for
// the frame's type tag.
var ErrUnknownTag = fmt.Errorf("unknown type tag")
