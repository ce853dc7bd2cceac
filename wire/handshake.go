package wire

import (
	"bytes"
	"io"

	"github.com/ghostproc/ghostproc/id"
)

// Handshake is exchanged by both ends immediately after the TCP connect
// completes, before any tagged frame is read. It is not itself a tagged
// frame: the length-prefixed body is just (NodeId, magic).
type Handshake struct {
	Node  id.NodeId
	Magic string
}

// WriteHandshake sends h as a length-prefixed body (no tag byte).
func WriteHandshake(w io.Writer, h Handshake) error {
	buf := new(bytes.Buffer)
	putNodeId(buf, h.Node)
	putString(buf, h.Magic)
	lenBuf := make([]byte, 4)
	body := buf.Bytes()
	putUint32(lenBuf, uint32(len(body)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadHandshake reads and decodes the peer's handshake.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Handshake{}, err
	}
	length := getUint32(lenBuf[:])
	if length == 0 || length > MaxFrameLen {
		return Handshake{}, ErrFrameCorrupt
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Handshake{}, err
	}
	buf := bytes.NewBuffer(body)
	node, err := getNodeId(buf)
	if err != nil {
		return Handshake{}, err
	}
	magic, err := getString(buf)
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{Node: node, Magic: magic}, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
