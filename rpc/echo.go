// Package rpc holds the small set of concrete request/reply wrapper types
// the bundled "echo" closure uses to know where to send its reply. A
// plain value carries no sender address, so a request that wants a reply
// must carry its own ReplyTo, the same convention the reference actor
// model uses ("self() ! Msg").
package rpc

import (
	"encoding/binary"

	"github.com/ghostproc/ghostproc/id"
)

// EchoInt wraps an int64 payload with the ProcessId to reply to.
type EchoInt struct {
	ReplyTo id.ProcessId
	Value   int64
}

func (e EchoInt) TypeTag() string { return "rpc.echo.int" }

func (e EchoInt) Encode() ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = appendPid(buf, e.ReplyTo)
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(e.Value))
	return append(buf, v...), nil
}

// DecodeEchoInt is EchoInt's matching encodable.Decoder.
func DecodeEchoInt(data []byte) (interface{}, error) {
	pid, rest, err := readPid(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 8 {
		return nil, ErrMalformed
	}
	return EchoInt{ReplyTo: pid, Value: int64(binary.BigEndian.Uint64(rest))}, nil
}

// EchoString wraps a string payload with the ProcessId to reply to.
type EchoString struct {
	ReplyTo id.ProcessId
	Value   string
}

func (e EchoString) TypeTag() string { return "rpc.echo.string" }

func (e EchoString) Encode() ([]byte, error) {
	buf := appendPid(nil, e.ReplyTo)
	return append(buf, []byte(e.Value)...), nil
}

// DecodeEchoString is EchoString's matching encodable.Decoder.
func DecodeEchoString(data []byte) (interface{}, error) {
	pid, rest, err := readPid(data)
	if err != nil {
		return nil, err
	}
	return EchoString{ReplyTo: pid, Value: string(rest)}, nil
}

// ErrMalformed is returned when a payload's fixed-width fields don't fit.
var ErrMalformed = echoError("rpc: malformed payload")

type echoError string

func (e echoError) Error() string { return string(e) }

// appendPid/readPid give EchoInt/EchoString a private, fixed-layout
// encoding for a ProcessId: host length + host bytes + port + epoch +
// local index. It deliberately doesn't reuse the wire package's frame
// codec, since rpc payloads travel inside a frame's already-opaque
// (tag, bytes) body, not as a frame themselves.
func appendPid(buf []byte, p id.ProcessId) []byte {
	host := []byte(p.Node.Host)
	var hdr [2 + 2 + 8 + 8]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(host)))
	binary.BigEndian.PutUint16(hdr[2:4], p.Node.Port)
	binary.BigEndian.PutUint64(hdr[4:12], p.Node.Epoch)
	binary.BigEndian.PutUint64(hdr[12:20], p.Local)
	buf = append(buf, hdr[:]...)
	buf = append(buf, host...)
	return buf
}

func readPid(data []byte) (id.ProcessId, []byte, error) {
	const hdrLen = 2 + 2 + 8 + 8
	if len(data) < hdrLen {
		return id.ProcessId{}, nil, ErrMalformed
	}
	hostLen := int(binary.BigEndian.Uint16(data[0:2]))
	port := binary.BigEndian.Uint16(data[2:4])
	epoch := binary.BigEndian.Uint64(data[4:12])
	local := binary.BigEndian.Uint64(data[12:20])
	rest := data[hdrLen:]
	if len(rest) < hostLen {
		return id.ProcessId{}, nil, ErrMalformed
	}
	host := string(rest[:hostLen])
	return id.ProcessId{Node: id.New(host, port, epoch), Local: local}, rest[hostLen:], nil
}
