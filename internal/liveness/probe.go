// Package liveness decides whether a worker process can currently receive a
// message: not exited, not killed, and OS-schedulable.
package liveness

import (
	log "github.com/sirupsen/logrus"
	"github.com/shirou/gopsutil/v3/process"
)

// SchedState is the coarse OS scheduler state of a process, abstracted away
// from any one platform's reporting so the router's "not currently running"
// rule degrades gracefully where the signal isn't available.
type SchedState int

// Known scheduler states.
const (
	Unknown SchedState = iota
	Idle
	Runnable
	Running
)

// Process is the minimal view of a child process the probe needs. It is
// satisfied by *spawn.Handle in production and by a fake in tests.
type Process interface {
	PID() int32
	Exited() bool
	Killed() bool
}

// StateProbe reports the OS scheduler state of a PID.
type StateProbe interface {
	State(pid int32) SchedState
}

// GopsutilProbe queries /proc (or the platform equivalent, via gopsutil) for
// a process's scheduler state. It is the production StateProbe.
type GopsutilProbe struct{}

// State implements StateProbe. Any query failure (process gone, permission
// denied, platform unsupported) degrades to Unknown rather than erroring,
// per the spec's instruction to "degrade gracefully".
func (GopsutilProbe) State(pid int32) SchedState {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Unknown
	}
	status, err := proc.Status()
	if err != nil || len(status) == 0 {
		return Unknown
	}
	switch status[0] {
	case process.Running:
		return Running
	case process.Sleep, process.Idle:
		return Idle
	case process.Wait, process.Lock:
		return Runnable
	default:
		return Unknown
	}
}

// IsAlive combines the three liveness signals required before a worker may
// be selected as a send target: it must not have exited, must not have been
// killed by the parent, and (advisory only) must not currently be OS-state
// "running" — a running peer is assumed to still be busy on earlier work,
// so a sleeping/idle sibling is preferred. The check is advisory: even a
// true result can race with the process exiting before the send completes,
// and callers must handle that send failure themselves.
func IsAlive(p Process, probe StateProbe) bool {
	if p.Exited() || p.Killed() {
		return false
	}
	if probe == nil {
		return true
	}
	state := probe.State(p.PID())
	if state == Running {
		log.WithFields(log.Fields{"pid": p.PID()}).Trace("liveness: process currently running, not preferred as forwarding target")
		return false
	}
	return true
}

// NotExitedOrKilled reports the first two liveness signals only, ignoring
// OS scheduler state. It is used where "can this worker be addressed at
// all" matters more than "is it the best candidate right now" — for
// example when draining pending work to a single freshly spawned
// replacement.
func NotExitedOrKilled(p Process) bool {
	return !p.Exited() && !p.Killed()
}
