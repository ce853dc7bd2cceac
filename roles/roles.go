// Package roles resolves the node's configured role to a registered
// closure and spawns it as the node's primary process. A node with no
// matching role just idles, since a node in this cluster is useful
// purely by being reachable (it can still host remotely-spawned
// processes and forward messages) even with nothing of its own running.
package roles

import (
	"github.com/ghostproc/ghostproc/closure"
	"github.com/ghostproc/ghostproc/logging"
	"github.com/ghostproc/ghostproc/process"
)

// Dispatch spawns role as the node's primary process if it names a
// registered closure, and otherwise spawns an idle process: one that
// blocks until cancelled, so the node stays reachable without doing
// anything on its own account.
func Dispatch(table *process.Table, closures *closure.Registry, role string, arg []byte, log logging.Logger) *process.Process {
	if role == "" {
		log.Infof("roles: no role configured, idling")
		return table.SpawnLocal(idle)
	}
	pid, err := closures.Spawn(table, role, arg)
	if err != nil {
		log.Warnf("roles: role %q unavailable (%v), idling", role, err)
		return table.SpawnLocal(idle)
	}
	p, ok := table.Lookup(pid.Local)
	if !ok {
		// Spawn succeeded but the body already finished and was reaped
		// (no grace window, or an instantly-returning role body); nothing
		// further for the caller to observe.
		return nil
	}
	log.Infof("roles: dispatched role %q as %s", role, pid)
	return p
}

func idle(p *process.Process) {
	p.Receive(0)
}
