// Package wire frames and serializes everything that crosses a peer
// connection: user messages, spawn requests/replies, peer-announce, and
// keepalive pings. Framing is a simple (uint32 length, uint8 tag, body)
// triple, big-endian throughout, in the style the reference codec uses
// for its own messages.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ghostproc/ghostproc/id"
)

// Tag identifies the kind of frame body that follows the length prefix.
type Tag uint8

const (
	TagUserToPid     Tag = 1
	TagUserToPort    Tag = 2
	TagSpawnRequest  Tag = 3
	TagSpawnReply    Tag = 4
	TagPeerAnnounce  Tag = 5
	TagPing          Tag = 6
	TagPong          Tag = 7
)

// MaxFrameLen bounds a single frame body so a corrupt length prefix can't
// make the reader allocate without limit; exceeding it is frame-corrupt.
const MaxFrameLen = 64 << 20

// ErrFrameCorrupt is returned for any violation of frame-length bounds or
// an unrecognized tag. This is fatal to the connection it was read from,
// never to the process.
var ErrFrameCorrupt = errors.New("wire: frame-corrupt")

// Frame is implemented by every concrete frame body.
type Frame interface {
	Tag() Tag
	marshalBody() []byte
}

// Encode serializes a frame to its (length, tag, body) wire form.
func Encode(f Frame) []byte {
	body := f.marshalBody()
	out := make([]byte, 0, 4+1+len(body))
	buf := bytes.NewBuffer(out)
	binary.Write(buf, binary.BigEndian, uint32(1+len(body)))
	binary.Write(buf, binary.BigEndian, uint8(f.Tag()))
	buf.Write(body)
	return buf.Bytes()
}

// WriteFrame writes one encoded frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(Encode(f))
	return err
}

// ReadFrame reads and decodes exactly one frame from r, blocking until a
// full frame arrives, r is closed, or the frame violates its length/tag
// bounds (ErrFrameCorrupt).
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxFrameLen {
		return nil, ErrFrameCorrupt
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	tag := Tag(body[0])
	buf := bytes.NewBuffer(body[1:])
	switch tag {
	case TagUserToPid:
		return decodeUserToPid(buf)
	case TagUserToPort:
		return decodeUserToPort(buf)
	case TagSpawnRequest:
		return decodeSpawnRequest(buf)
	case TagSpawnReply:
		return decodeSpawnReply(buf)
	case TagPeerAnnounce:
		return decodePeerAnnounce(buf)
	case TagPing:
		return decodePing(buf)
	case TagPong:
		return decodePong(buf)
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrFrameCorrupt, tag)
	}
}

// --- canonical identifier encodings ---

func putString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func getString(buf *bytes.Buffer) (string, error) {
	var n uint32
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > buf.Len() {
		return "", ErrFrameCorrupt
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func getBytes(buf *bytes.Buffer) ([]byte, error) {
	var n uint32
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if int(n) > buf.Len() {
		return nil, ErrFrameCorrupt
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func putNodeId(buf *bytes.Buffer, n id.NodeId) {
	putString(buf, n.Host)
	binary.Write(buf, binary.BigEndian, n.Port)
	binary.Write(buf, binary.BigEndian, n.Epoch)
}

func getNodeId(buf *bytes.Buffer) (id.NodeId, error) {
	host, err := getString(buf)
	if err != nil {
		return id.NodeId{}, err
	}
	var port uint16
	if err := binary.Read(buf, binary.BigEndian, &port); err != nil {
		return id.NodeId{}, err
	}
	var epoch uint64
	if err := binary.Read(buf, binary.BigEndian, &epoch); err != nil {
		return id.NodeId{}, err
	}
	return id.New(host, port, epoch), nil
}

func putProcessId(buf *bytes.Buffer, p id.ProcessId) {
	putNodeId(buf, p.Node)
	binary.Write(buf, binary.BigEndian, p.Local)
}

func getProcessId(buf *bytes.Buffer) (id.ProcessId, error) {
	n, err := getNodeId(buf)
	if err != nil {
		return id.ProcessId{}, err
	}
	var local uint64
	if err := binary.Read(buf, binary.BigEndian, &local); err != nil {
		return id.ProcessId{}, err
	}
	return id.ProcessId{Node: n, Local: local}, nil
}

func putSendPortId(buf *bytes.Buffer, s id.SendPortId) {
	putNodeId(buf, s.Owner)
	binary.Write(buf, binary.BigEndian, s.Index)
	putString(buf, s.TypeTag)
}

func getSendPortId(buf *bytes.Buffer) (id.SendPortId, error) {
	owner, err := getNodeId(buf)
	if err != nil {
		return id.SendPortId{}, err
	}
	var index uint64
	if err := binary.Read(buf, binary.BigEndian, &index); err != nil {
		return id.SendPortId{}, err
	}
	tag, err := getString(buf)
	if err != nil {
		return id.SendPortId{}, err
	}
	return id.SendPortId{Owner: owner, Index: index, TypeTag: tag}, nil
}

// EncodeSendPortId serializes a SendPort's routing identity to bytes. This
// is the only part of a SendPort that ever crosses the wire: the local
// delivery hook is rebound on the decoding side by the channel registry,
// never transmitted.
func EncodeSendPortId(s id.SendPortId) []byte {
	buf := new(bytes.Buffer)
	putSendPortId(buf, s)
	return buf.Bytes()
}

// DecodeSendPortId reconstructs a SendPort's routing identity from bytes
// produced by EncodeSendPortId.
func DecodeSendPortId(data []byte) (id.SendPortId, error) {
	return getSendPortId(bytes.NewBuffer(data))
}

func putUUID(buf *bytes.Buffer, u uuid.UUID) {
	buf.Write(u[:])
}

func getUUID(buf *bytes.Buffer) (uuid.UUID, error) {
	var raw [16]byte
	if _, err := io.ReadFull(buf, raw[:]); err != nil {
		return uuid.UUID{}, err
	}
	return uuid.UUID(raw), nil
}
