// Package id defines the two stable identifiers every node and process in
// the cluster is known by.
package id

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeId names one runtime instance on one host. Equality is structural
// over Host, Port and Epoch; two nodes on the same host differ by Port,
// and a restarted node on the same host:port differs by Epoch.
type NodeId struct {
	Host  string
	Port  uint16
	Epoch uint64
}

// New builds a NodeId. Epoch should be a value that never repeats for the
// same host:port within the process lifetime of the machine (e.g. a boot
// timestamp); callers that don't care can pass 0.
func New(host string, port uint16, epoch uint64) NodeId {
	return NodeId{Host: host, Port: port, Epoch: epoch}
}

// String renders the canonical textual form `nid://host:port/`. Epoch is
// not part of the textual form: it disambiguates in-memory identity across
// restarts but two live nodes never share a host:port at once.
func (n NodeId) String() string {
	return fmt.Sprintf("nid://%s:%d/", n.Host, n.Port)
}

// Parse reconstructs a NodeId from its textual form. Epoch is left zero;
// callers that need epoch-aware comparison must track it out of band.
func Parse(s string) (NodeId, error) {
	s = strings.TrimPrefix(s, "nid://")
	s = strings.TrimSuffix(s, "/")
	host, portStr, ok := strings.Cut(s, ":")
	if !ok {
		return NodeId{}, fmt.Errorf("id: malformed NodeId %q", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return NodeId{}, fmt.Errorf("id: malformed NodeId port %q: %w", s, err)
	}
	return NodeId{Host: host, Port: uint16(port)}, nil
}

// ProcessId names one process, local to the NodeId that hosts it. Local is
// a monotonically increasing index allocated by that node's process table
// and is never reused within the node's lifetime.
type ProcessId struct {
	Node  NodeId
	Local uint64
}

// String renders the canonical textual form `pid://host:port/<local>/`.
func (p ProcessId) String() string {
	return fmt.Sprintf("pid://%s:%d/%d/", p.Node.Host, p.Node.Port, p.Local)
}

// ParsePid reconstructs a ProcessId from its textual form.
func ParsePid(s string) (ProcessId, error) {
	s = strings.TrimPrefix(s, "pid://")
	s = strings.TrimSuffix(s, "/")
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return ProcessId{}, fmt.Errorf("id: malformed ProcessId %q", s)
	}
	nid, err := Parse("nid://" + parts[0] + "/")
	if err != nil {
		return ProcessId{}, err
	}
	local, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ProcessId{}, fmt.Errorf("id: malformed ProcessId local index %q: %w", s, err)
	}
	return ProcessId{Node: nid, Local: local}, nil
}
