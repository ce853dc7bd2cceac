package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/ghostproc/ghostproc/id"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := WriteFrame(buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return got
}

func TestUserToPidRoundTrip(t *testing.T) {
	dest := id.ProcessId{Node: id.New("h1", 40001, 0), Local: 9}
	in := &UserToPid{Dest: dest, Tag: "string", Data: []byte("hello")}
	out := roundTrip(t, in).(*UserToPid)
	if out.Dest != dest || out.Tag != "string" || string(out.Data) != "hello" {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestUserToPortRoundTrip(t *testing.T) {
	in := &UserToPort{Owner: id.New("h1", 40001, 0), ChannelIndex: 3, Tag: "int", Data: []byte{0, 0, 0, 0, 0, 0, 0, 42}}
	out := roundTrip(t, in).(*UserToPort)
	if out.Owner != in.Owner || out.ChannelIndex != 3 || out.Tag != "int" {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestSpawnRequestReplyRoundTrip(t *testing.T) {
	req := &SpawnRequest{ReqId: uuid.New(), ClosureName: "echo", ArgTag: "", ArgData: nil}
	out := roundTrip(t, req).(*SpawnRequest)
	if out.ReqId != req.ReqId || out.ClosureName != "echo" {
		t.Fatalf("round-trip mismatch: %+v", out)
	}

	rep := &SpawnReply{ReqId: req.ReqId, OK: true, Pid: id.ProcessId{Node: id.New("h2", 40002, 0), Local: 1}}
	outRep := roundTrip(t, rep).(*SpawnReply)
	if outRep.ReqId != rep.ReqId || !outRep.OK || outRep.Pid != rep.Pid {
		t.Fatalf("round-trip mismatch: %+v", outRep)
	}
}

func TestPeerAnnounceRoundTrip(t *testing.T) {
	nodes := []id.NodeId{id.New("h1", 1, 0), id.New("h2", 2, 0)}
	in := &PeerAnnounce{Nodes: nodes}
	out := roundTrip(t, in).(*PeerAnnounce)
	if len(out.Nodes) != 2 || out.Nodes[0] != nodes[0] || out.Nodes[1] != nodes[1] {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	out := roundTrip(t, &Ping{Nonce: 7}).(*Ping)
	if out.Nonce != 7 {
		t.Fatalf("ping nonce mismatch: %+v", out)
	}
	outPong := roundTrip(t, &Pong{Nonce: 7}).(*Pong)
	if outPong.Nonce != 7 {
		t.Fatalf("pong nonce mismatch: %+v", outPong)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write([]byte{0, 0, 0, 0})
	if _, err := ReadFrame(buf); err != ErrFrameCorrupt {
		t.Fatalf("expected ErrFrameCorrupt, got %v", err)
	}
}

func TestReadFrameRejectsUnknownTag(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write([]byte{0, 0, 0, 1, 200})
	if _, err := ReadFrame(buf); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	h := Handshake{Node: id.New("h1", 4000, 1), Magic: "cluster-secret"}
	if err := WriteHandshake(buf, h); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	got, err := ReadHandshake(buf)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got != h {
		t.Fatalf("handshake mismatch: %+v", got)
	}
}
