package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/ghostproc/ghostproc/id"
)

// UserToPid carries a user value addressed to a mailbox by ProcessId.
type UserToPid struct {
	Dest id.ProcessId
	Tag  string
	Data []byte
}

func (f *UserToPid) Tag() Tag { return TagUserToPid }
func (f *UserToPid) marshalBody() []byte {
	buf := new(bytes.Buffer)
	putProcessId(buf, f.Dest)
	putString(buf, f.Tag)
	putBytes(buf, f.Data)
	return buf.Bytes()
}

func decodeUserToPid(buf *bytes.Buffer) (*UserToPid, error) {
	dest, err := getProcessId(buf)
	if err != nil {
		return nil, err
	}
	tag, err := getString(buf)
	if err != nil {
		return nil, err
	}
	data, err := getBytes(buf)
	if err != nil {
		return nil, err
	}
	return &UserToPid{Dest: dest, Tag: tag, Data: data}, nil
}

// UserToPort carries a user value addressed to a channel's receive queue.
// Owner+Index identify the channel the same way a ProcessId identifies a
// mailbox; Owner is always the node hosting the ReceivePort.
type UserToPort struct {
	Owner        id.NodeId
	ChannelIndex uint64
	Tag          string
	Data         []byte
}

func (f *UserToPort) Tag() Tag { return TagUserToPort }

func (f *UserToPort) marshalBody() []byte {
	buf := new(bytes.Buffer)
	putNodeId(buf, f.Owner)
	putUint64(buf, f.ChannelIndex)
	putString(buf, f.Tag)
	putBytes(buf, f.Data)
	return buf.Bytes()
}

func decodeUserToPort(buf *bytes.Buffer) (*UserToPort, error) {
	owner, err := getNodeId(buf)
	if err != nil {
		return nil, err
	}
	idx, err := getUint64(buf)
	if err != nil {
		return nil, err
	}
	tag, err := getString(buf)
	if err != nil {
		return nil, err
	}
	data, err := getBytes(buf)
	if err != nil {
		return nil, err
	}
	return &UserToPort{Owner: owner, ChannelIndex: idx, Tag: tag, Data: data}, nil
}

// SpawnRequest asks the receiving node to materialize a registered
// closure as a new local process. ReqId correlates the eventual
// SpawnReply to the caller awaiting it.
type SpawnRequest struct {
	ReqId       uuid.UUID
	ClosureName string
	ArgTag      string
	ArgData     []byte
}

func (f *SpawnRequest) Tag() Tag { return TagSpawnRequest }

func (f *SpawnRequest) marshalBody() []byte {
	buf := new(bytes.Buffer)
	putUUID(buf, f.ReqId)
	putString(buf, f.ClosureName)
	putString(buf, f.ArgTag)
	putBytes(buf, f.ArgData)
	return buf.Bytes()
}

func decodeSpawnRequest(buf *bytes.Buffer) (*SpawnRequest, error) {
	reqID, err := getUUID(buf)
	if err != nil {
		return nil, err
	}
	name, err := getString(buf)
	if err != nil {
		return nil, err
	}
	argTag, err := getString(buf)
	if err != nil {
		return nil, err
	}
	argData, err := getBytes(buf)
	if err != nil {
		return nil, err
	}
	return &SpawnRequest{ReqId: reqID, ClosureName: name, ArgTag: argTag, ArgData: argData}, nil
}

// SpawnReply answers a SpawnRequest: either the new ProcessId, or an
// error message (set when ClosureName was unknown on the target node).
type SpawnReply struct {
	ReqId uuid.UUID
	OK    bool
	Pid   id.ProcessId
	Err   string
}

func (f *SpawnReply) Tag() Tag { return TagSpawnReply }

func (f *SpawnReply) marshalBody() []byte {
	buf := new(bytes.Buffer)
	putUUID(buf, f.ReqId)
	if f.OK {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	putProcessId(buf, f.Pid)
	putString(buf, f.Err)
	return buf.Bytes()
}

func decodeSpawnReply(buf *bytes.Buffer) (*SpawnReply, error) {
	reqID, err := getUUID(buf)
	if err != nil {
		return nil, err
	}
	okByte, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	pid, err := getProcessId(buf)
	if err != nil {
		return nil, err
	}
	errStr, err := getString(buf)
	if err != nil {
		return nil, err
	}
	return &SpawnReply{ReqId: reqID, OK: okByte == 1, Pid: pid, Err: errStr}, nil
}

// PeerAnnounce propagates the sender's view of reachable nodes, letting
// discovery converge transitively without every node probing every host.
type PeerAnnounce struct {
	Nodes []id.NodeId
}

func (f *PeerAnnounce) Tag() Tag { return TagPeerAnnounce }

func (f *PeerAnnounce) marshalBody() []byte {
	buf := new(bytes.Buffer)
	putUint64(buf, uint64(len(f.Nodes)))
	for _, n := range f.Nodes {
		putNodeId(buf, n)
	}
	return buf.Bytes()
}

// minNodeIdSize is the smallest a putNodeId encoding can ever be (empty
// host string): a 4-byte length prefix plus a 2-byte port and an 8-byte
// epoch.
const minNodeIdSize = 4 + 2 + 8

func decodePeerAnnounce(buf *bytes.Buffer) (*PeerAnnounce, error) {
	count, err := getUint64(buf)
	if err != nil {
		return nil, err
	}
	if count > uint64(buf.Len())/minNodeIdSize {
		return nil, ErrFrameCorrupt
	}
	nodes := make([]id.NodeId, 0, count)
	for i := uint64(0); i < count; i++ {
		n, err := getNodeId(buf)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return &PeerAnnounce{Nodes: nodes}, nil
}

// Ping/Pong are the connection's liveness probe. A Pong echoes its Ping's
// Nonce; the router answers Pings but does not track Pongs or measure
// latency.
type Ping struct {
	Nonce uint64
}

func (f *Ping) Tag() Tag                { return TagPing }
func (f *Ping) marshalBody() []byte {
	buf := new(bytes.Buffer)
	putUint64(buf, f.Nonce)
	return buf.Bytes()
}

func decodePing(buf *bytes.Buffer) (*Ping, error) {
	n, err := getUint64(buf)
	if err != nil {
		return nil, err
	}
	return &Ping{Nonce: n}, nil
}

type Pong struct {
	Nonce uint64
}

func (f *Pong) Tag() Tag { return TagPong }
func (f *Pong) marshalBody() []byte {
	buf := new(bytes.Buffer)
	putUint64(buf, f.Nonce)
	return buf.Bytes()
}

func decodePong(buf *bytes.Buffer) (*Pong, error) {
	n, err := getUint64(buf)
	if err != nil {
		return nil, err
	}
	return &Pong{Nonce: n}, nil
}

func putUint64(buf *bytes.Buffer, v uint64) {
	binary.Write(buf, binary.BigEndian, v)
}

func getUint64(buf *bytes.Buffer) (uint64, error) {
	var v uint64
	if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}
