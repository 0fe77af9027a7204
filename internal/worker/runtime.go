// Package worker implements the runtime contract every child process must
// satisfy (§4.5): a stable instance ID, a periodic health heartbeat,
// destination filtering by worker type, dynamic method dispatch through an
// explicit handler table (per the design note rejecting stringly-indexed
// method calls), SERVER_BUSY back-pressure, and a terminal error reply
// before exit. It plays the role core/mdp/worker.go's Worker plays on the
// ZeroMQ side, adapted onto the ipc.Channel substrate.
package worker

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/ipc"
)

// heartbeatInterval is fixed by §4.5: every worker beats every 10 seconds.
const heartbeatInterval = 10 * time.Second

// Handler implements one worker operation. arg is the opaque segment
// following the method name in the destination path (may be empty). It
// returns the reply envelope to send (destination already set to the next
// hop) or an error, which the runtime turns into a failed reply rather
// than a panic, per §9's design note.
type Handler func(arg string, env *envelope.Envelope) (*envelope.Envelope, error)

// heartbeatData is the payload shape of every health beat.
type heartbeatData struct {
	InstanceID string    `json:"instanceId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Runtime drives one worker process's side of the duplex channel: it dumbly
// pumps Recv, filters by destination, and dispatches to a registered
// Handler.
type Runtime struct {
	TypeName   string
	InstanceID string

	channel *ipc.Channel
	handlers map[string]Handler

	// Concurrent disables the single-task busy flag for workers (HTTP,
	// GraphQL) that correlate multiple in-flight messageIds through their
	// own internal dispatcher instead of processing one message at a time.
	Concurrent bool

	busy int32

	// reply is where every outbound envelope is sent. It defaults to
	// writing on channel; tests substitute a capturing func instead of
	// wiring a real pipe.
	reply func(env *envelope.Envelope)
}

// New builds a Runtime for typeName communicating over channel.
func New(typeName string, channel *ipc.Channel) *Runtime {
	r := &Runtime{
		TypeName:   typeName,
		InstanceID: fmt.Sprintf("%s-%s", typeName, uuid.NewString()),
		channel:    channel,
		handlers:   make(map[string]Handler),
	}
	r.reply = r.sendOnChannel
	return r
}

func (r *Runtime) busyNow() bool {
	return atomic.LoadInt32(&r.busy) != 0
}

// Handle registers the handler invoked for method.
func (r *Runtime) Handle(method string, h Handler) {
	r.handlers[method] = h
}

// Run starts the heartbeat loop and pumps inbound messages until a receive
// on the channel fails (for example because it closed), then returns that
// error — the caller (the worker's main) is expected to exit so the
// supervisor restarts it. A handler error becomes a failed reply and does
// not stop the loop; Run emits no error envelope itself (see Fatal).
func (r *Runtime) Run() error {
	stopHeartbeat := make(chan struct{})
	go r.heartbeatLoop(stopHeartbeat)
	defer close(stopHeartbeat)

	for {
		env, err := r.channel.Recv()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"instance_id": r.InstanceID}).Info("worker: channel closed, exiting")
			return err
		}
		r.dispatch(env)
	}
}

func (r *Runtime) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.beat()
		}
	}
}

func (r *Runtime) beat() {
	data, err := json.Marshal(heartbeatData{InstanceID: r.InstanceID, Timestamp: time.Now()})
	if err != nil {
		log.WithError(err).Warn("worker: failed to marshal heartbeat payload")
		return
	}
	r.reply(envelope.Heartbeat(data))
}

// dispatch filters env.Destination down to entries addressed at this
// worker's type and invokes the matching handler for each.
func (r *Runtime) dispatch(env *envelope.Envelope) {
	for _, dest := range env.Destination {
		workerType, remainder, err := envelope.ParseDestination(dest)
		if err != nil || workerType != r.TypeName {
			continue
		}
		method, arg := envelope.Segments(remainder)
		r.invoke(method, arg, env)
	}
}

func (r *Runtime) invoke(method, arg string, env *envelope.Envelope) {
	if !r.Concurrent {
		if !atomic.CompareAndSwapInt32(&r.busy, 0, 1) {
			r.reply(envelope.Busy(env.MessageID))
			return
		}
		defer atomic.StoreInt32(&r.busy, 0)
	}

	h, ok := r.handlers[method]
	if !ok {
		log.WithFields(log.Fields{"instance_id": r.InstanceID, "method": method}).Warn("worker: unknown method")
		r.reply(&envelope.Envelope{
			MessageID:   env.MessageID,
			Status:      envelope.StatusFailed,
			Reason:      fmt.Sprintf("unknown method %q", method),
			Destination: []string{envelope.Supervisor},
		})
		return
	}

	reply, err := h(arg, env)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"instance_id": r.InstanceID, "method": method}).Error("worker: handler failed")
		r.reply(&envelope.Envelope{
			MessageID:   env.MessageID,
			Status:      envelope.StatusFailed,
			Reason:      err.Error(),
			Destination: []string{envelope.Supervisor},
		})
		return
	}
	r.reply(reply)
}

func (r *Runtime) sendOnChannel(env *envelope.Envelope) {
	if err := r.channel.Send(env); err != nil {
		log.WithError(err).WithFields(log.Fields{"instance_id": r.InstanceID, "message_id": env.MessageID}).Error("worker: failed to send reply")
	}
}

// Fatal emits a terminal error envelope ahead of the process exiting,
// per §4.5's "non-recoverable internal error" path.
func (r *Runtime) Fatal(reason string) {
	r.reply(envelope.Errorf("fatal", reason))
}

// Send emits env on the channel outside the request/reply dispatch loop,
// for front-end workers (HTTP, GraphQL) that originate a new envelope in
// response to an external request rather than replying to one the
// supervisor routed to them.
func (r *Runtime) Send(env *envelope.Envelope) {
	r.reply(env)
}

// ChildChannel opens the worker side of the duplex message channel the
// spawn engine attached at fd 3 (reads) / fd 4 (writes).
func ChildChannel() *ipc.Channel {
	return ipc.NewFromFDs(3, 4)
}
