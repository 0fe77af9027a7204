// Package router implements the supervisor's single inbound-message entry
// point: split by destination, fan out to peer worker types, apply
// SERVER_BUSY back-off, spawn on absence, and ack completed replies out of
// the pending table. It is the direct generalization of core/mdp/broker.go's
// message dispatch (workerMsg/clientMsg handling) from a ZeroMQ ROUTER
// socket onto typed child processes addressed through the registry.
package router

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/liveness"
	"github.com/taskforge/fleet/internal/pending"
	"github.com/taskforge/fleet/internal/registry"
)

// BackoffInterval is the fixed delay before a message is retried once every
// candidate worker of its type reported SERVER_BUSY.
const BackoffInterval = 5 * time.Second

// Sender is the narrow view of a registered worker the router needs to
// deliver an envelope to it. *spawn.Handle satisfies this.
type Sender interface {
	registry.Worker
	Send(env *envelope.Envelope) error
}

// Spawner creates additional capacity for a worker type. *spawn.Engine
// satisfies this through a small adapter in internal/supervisor that
// resolves command/env from the static descriptor table.
type Spawner interface {
	SpawnOne(workerType string) error
}

// Restarter kills a single worker by PID so the spawn engine's exit handler
// replaces and drains it. *spawn.Engine satisfies this through the same
// adapter as Spawner.
type Restarter interface {
	RestartByPID(pid int32) error
}

// Router routes inbound envelopes over the registry and pending table.
// OnWorkerMessage is called directly from each child's inbound pump
// goroutine and from busy-retry timers, so calls may run concurrently;
// envelopes are not serialized through a single queue. The router's own
// fields are not changed after construction, and the registry and pending
// table lock internally, so the router itself needs no locking.
type Router struct {
	reg     *registry.Registry
	pending *pending.Table
	probe   liveness.StateProbe
	spawner Spawner
	restart Restarter
	backoff time.Duration

	// retry re-enters routing after backoff. Exposed as a field so tests
	// can substitute a synchronous stand-in.
	retry func(env *envelope.Envelope, fromPID int32, delay time.Duration)
}

// New builds a Router. spawner and restart may be nil in tests that only
// exercise the ack/heartbeat/dedup paths. The busy-retry delay defaults to
// BackoffInterval; override it with WithBackoff.
func New(reg *registry.Registry, pendingTable *pending.Table, probe liveness.StateProbe, spawner Spawner, restart Restarter) *Router {
	r := &Router{reg: reg, pending: pendingTable, probe: probe, spawner: spawner, restart: restart, backoff: BackoffInterval}
	r.retry = r.defaultRetry
	return r
}

// WithBackoff overrides the busy-retry delay, e.g. from the supervisor's
// loaded configuration, and returns the same Router for chaining.
func (r *Router) WithBackoff(d time.Duration) *Router {
	if d > 0 {
		r.backoff = d
	}
	return r
}

func (r *Router) defaultRetry(env *envelope.Envelope, fromPID int32, delay time.Duration) {
	time.AfterFunc(delay, func() {
		r.OnWorkerMessage(env, fromPID)
	})
}

// OnWorkerMessage is the router's entry point: it splits env.Destination
// and dispatches each entry independently, per §4.4.
func (r *Router) OnWorkerMessage(env *envelope.Envelope, fromPID int32) {
	if err := env.Validate(); err != nil {
		log.WithError(err).WithFields(log.Fields{"pid": fromPID, "message_id": env.MessageID}).Error("router: dropping malformed envelope")
		return
	}

	for _, dest := range env.Destination {
		workerType, _, err := envelope.ParseDestination(dest)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"pid": fromPID, "destination": dest}).Error("router: dropping unparseable destination")
			continue
		}

		if workerType == envelope.Supervisor {
			r.handleSupervisorDestination(env, fromPID)
			continue
		}

		r.forwardToPeer(fromPID, env.WithSingleDestination(dest), workerType)
	}
}

func (r *Router) handleSupervisorDestination(env *envelope.Envelope, fromPID int32) {
	switch env.Status {
	case envelope.StatusHealthy:
		r.reg.Heartbeat(fromPID)
		log.WithFields(log.Fields{"pid": fromPID}).Trace("router: heartbeat recorded")
	case envelope.StatusCompleted:
		r.pending.RemoveAllForMessage(env.MessageID)
		log.WithFields(log.Fields{"pid": fromPID, "message_id": env.MessageID}).Info("router: acked completed message")
	default:
		log.WithFields(log.Fields{"pid": fromPID, "status": env.Status, "reason": env.Reason}).Warn("router: dropping unhandled supervisor-addressed message")
	}
}

// forwardToPeer implements §4.4's steps a-g for a single-destination copy
// of an envelope addressed at workerType.
func (r *Router) forwardToPeer(fromPID int32, env *envelope.Envelope, workerType string) {
	r.pending.Track(workerType, env)

	if env.Status == envelope.StatusError {
		log.WithFields(log.Fields{"pid": fromPID, "worker_type": workerType, "reason": env.Reason}).Error("router: worker reported fatal error, restarting")
		if r.restart != nil {
			if err := r.restart.RestartByPID(fromPID); err != nil {
				log.WithError(err).WithFields(log.Fields{"pid": fromPID}).Error("router: failed to restart errored worker")
			}
		}
		return
	}

	candidates := r.aliveCandidates(workerType)

	if len(candidates) == 0 {
		log.WithFields(log.Fields{"worker_type": workerType, "message_id": env.MessageID}).Warn("router: no live worker, spawning")
		if r.spawner != nil {
			// env is already Tracked above; SpawnOne resolves to the spawn
			// engine's CreateWorker, which drains workerType's pending
			// backlog onto the new worker once it registers, so this
			// message is replayed rather than left stranded.
			if err := r.spawner.SpawnOne(workerType); err != nil {
				log.WithError(err).WithFields(log.Fields{"worker_type": workerType}).Error("router: spawn-on-absence failed")
			}
		}
		return
	}

	if env.Status == envelope.StatusFailed && env.Reason == envelope.ReasonServerBusy {
		candidates = excludePID(candidates, fromPID)
	}

	if len(candidates) == 0 {
		log.WithFields(log.Fields{"worker_type": workerType, "message_id": env.MessageID}).Info("router: all candidates busy, scheduling retry")
		retryEnv := *env
		retryEnv.Status = envelope.StatusCompleted
		r.retry(&retryEnv, fromPID, r.backoff)
		return
	}

	target := candidates[0]
	if !liveness.IsAlive(target, r.probe) {
		log.WithFields(log.Fields{"worker_type": workerType, "pid": target.PID(), "message_id": env.MessageID}).Error("router: send to dead worker, dropping this attempt")
		return
	}
	if err := target.Send(env); err != nil {
		log.WithError(err).WithFields(log.Fields{"worker_type": workerType, "pid": target.PID(), "message_id": env.MessageID}).Error("router: send failed")
		return
	}
	log.WithFields(log.Fields{"worker_type": workerType, "pid": target.PID(), "message_id": env.MessageID}).Info("router: forwarded message")
}

// aliveCandidates returns workers of workerType passing the full liveness
// check (not exited, not killed, OS state != Running), sorted by ascending
// PID for determinism. The registry keeps no insertion order.
func (r *Router) aliveCandidates(workerType string) []Sender {
	var out []Sender
	for _, w := range r.reg.ByType(workerType) {
		s, ok := w.(Sender)
		if !ok {
			continue
		}
		if liveness.IsAlive(s, r.probe) {
			out = append(out, s)
		}
	}
	return stablePIDOrder(out)
}

func stablePIDOrder(in []Sender) []Sender {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j].PID() < in[j-1].PID(); j-- {
			in[j], in[j-1] = in[j-1], in[j]
		}
	}
	return in
}

func excludePID(in []Sender, pid int32) []Sender {
	out := make([]Sender, 0, len(in))
	for _, s := range in {
		if s.PID() != pid {
			out = append(out, s)
		}
	}
	return out
}
