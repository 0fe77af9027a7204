// Package spawn launches typed worker processes, reattaches their duplex
// message channel, and replaces+drains them across restarts. It plays the
// role core/mdp/worker.go's ConnectToBroker reconnection loop and
// core/mdp/broker.go's workerRequire/Delete lazy lifecycle play for the
// ZeroMQ transport, adapted onto os/exec child processes.
package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/errs"
	"github.com/taskforge/fleet/internal/ipc"
	"github.com/taskforge/fleet/internal/pending"
	"github.com/taskforge/fleet/internal/registry"
)

// retryBackoff is how long the engine waits before the single retry attempt
// after an initial spawn failure, per §4.1's failure semantics.
const retryBackoff = 250 * time.Millisecond

// Handle is a live spawned child: its process, its duplex channel, and the
// bookkeeping the liveness probe and registry need. It satisfies both
// registry.Worker and liveness.Process.
type Handle struct {
	workerType string
	cmd        *exec.Cmd
	channel    *ipc.Channel

	mu       sync.Mutex
	exited   bool
	killed   bool
	exitCode int

	spawnedAt time.Time
}

// PID implements registry.Worker / liveness.Process.
func (h *Handle) PID() int32 { return int32(h.cmd.Process.Pid) }

// WorkerType implements registry.Worker.
func (h *Handle) WorkerType() string { return h.workerType }

// Exited implements registry.Worker / liveness.Process.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Killed implements registry.Worker / liveness.Process.
func (h *Handle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *Handle) markExited(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited = true
	h.exitCode = code
}

func (h *Handle) markKilled() {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
}

// Send writes env onto this worker's inbound pipe.
func (h *Handle) Send(env *envelope.Envelope) error {
	return h.channel.Send(env)
}

// Engine spawns and restarts worker processes and drains pending work to
// their replacements. It holds no routing logic of its own; the supervisor
// wires OnMessage/OnExit to its router.
type Engine struct {
	reg     *registry.Registry
	pending *pending.Table

	// OnMessage is invoked for every envelope a child sends, tagged with
	// the sender's PID, exactly as the router's entry point expects.
	OnMessage func(env *envelope.Envelope, fromPID int32)

	spawnCount int64
}

// New creates a spawn engine bound to reg and the pending table it drains
// into on restart.
func New(reg *registry.Registry, pendingTable *pending.Table) *Engine {
	return &Engine{reg: reg, pending: pendingTable}
}

// CreateWorker launches count instances of workerType, each running
// command with env flattened into the child's process environment. count
// must be >= 1. Each child is attached with inherited stdio plus a fourth
// duplex message channel carried over ExtraFiles(0,1) -> child fd 3 (reads
// commands from parent) and fd 4 (writes replies to parent).
func (e *Engine) CreateWorker(workerType string, count int, command []string, env map[string]string) error {
	if count < 1 {
		return errs.New(errs.CodeInvalidArgument, fmt.Sprintf("count must be >= 1, got %d", count), errs.ErrInvalidArgument)
	}
	if len(command) == 0 {
		return errs.New(errs.CodeInvalidArgument, fmt.Sprintf("no command configured for worker type %q", workerType), errs.ErrInvalidArgument)
	}

	var firstErr error
	for i := 0; i < count; i++ {
		if _, err := e.spawnWithRetry(workerType, command, env); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Anything already Tracked for workerType before this call returns — a
	// spawn-on-absence request the router just queued, or state restored
	// from the persistence store before the fleet came up — has nowhere to
	// go until a worker of this type exists. Now one does.
	e.DrainPending(workerType)

	return firstErr
}

// spawnWithRetry attempts one spawn, retrying once after retryBackoff on
// failure, matching §4.1: "the engine retries once after a short backoff,
// then surfaces an error envelope to any observer."
func (e *Engine) spawnWithRetry(workerType string, command []string, env map[string]string) (*Handle, error) {
	h, err := e.spawnOne(workerType, command, env)
	if err == nil {
		return h, nil
	}

	log.WithError(err).WithFields(log.Fields{"worker_type": workerType}).Warn("spawn failed, retrying once after backoff")
	time.Sleep(retryBackoff)

	h, err = e.spawnOne(workerType, command, env)
	if err != nil {
		wrapped := errs.NewSpawnFailed(workerType, err)
		if e.OnMessage != nil {
			e.OnMessage(envelope.Errorf(fmt.Sprintf("spawn-%s-%d", workerType, atomic.AddInt64(&e.spawnCount, 1)), wrapped.Error()), 0)
		}
		return nil, wrapped
	}
	return h, nil
}

func (e *Engine) spawnOne(workerType string, command []string, env map[string]string) (*Handle, error) {
	// Parent -> child pipe (commands) and child -> parent pipe (replies).
	toChildR, toChildW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: create inbound pipe: %w", err)
	}
	fromChildR, fromChildW, err := os.Pipe()
	if err != nil {
		toChildR.Close()
		toChildW.Close()
		return nil, fmt.Errorf("spawn: create outbound pipe: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...) //nolint:gosec
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{toChildR, fromChildW}
	cmd.Env = append(os.Environ(), flattenEnv(env)...)
	cmd.Env = append(cmd.Env, "FLEET_WORKER_TYPE="+workerType)

	if err := cmd.Start(); err != nil {
		toChildR.Close()
		toChildW.Close()
		fromChildR.Close()
		fromChildW.Close()
		return nil, fmt.Errorf("spawn: start %q: %w", workerType, err)
	}

	// The parent keeps the write end of the inbound pipe and the read end
	// of the outbound pipe; the child's copies (passed via ExtraFiles) are
	// closed here since the child process owns its own duplicates.
	_ = toChildR.Close()
	_ = fromChildW.Close()

	channel := ipc.NewWithCloser(fromChildR, toChildW, closerFunc(func() error {
		_ = toChildW.Close()
		return fromChildR.Close()
	}))

	h := &Handle{workerType: workerType, cmd: cmd, channel: channel, spawnedAt: time.Now()}
	e.reg.Add(h)

	log.WithFields(log.Fields{"worker_type": workerType, "pid": h.PID()}).Info("spawned worker")

	go e.pumpInbound(h)
	go e.awaitExit(h, command, env)

	return h, nil
}

func (e *Engine) pumpInbound(h *Handle) {
	err := ipc.Pump(h.channel, func(env *envelope.Envelope) {
		if e.OnMessage != nil {
			e.OnMessage(env, h.PID())
		}
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"worker_type": h.WorkerType(), "pid": h.PID()}).Debug("inbound channel pump ended")
	}
}

func (e *Engine) awaitExit(h *Handle, command []string, env map[string]string) {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	h.markExited(code)
	_ = h.channel.Close()

	e.reg.Remove(h.PID())
	log.WithFields(log.Fields{"worker_type": h.WorkerType(), "pid": h.PID(), "exit_code": code}).Warn("worker exited, replacing")

	replacement, spawnErr := e.spawnWithRetry(h.WorkerType(), command, env)
	if spawnErr != nil {
		log.WithError(spawnErr).WithFields(log.Fields{"worker_type": h.WorkerType()}).Error("failed to replace exited worker")
		return
	}
	_ = replacement
	e.DrainPending(h.WorkerType())
}

// RestartWorker kills child and lets the exit handler installed in
// awaitExit replace and drain it — the router calls this for the same
// effect an unexpected exit has, just operator-initiated.
func (e *Engine) RestartWorker(h *Handle) error {
	h.markKilled()
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("spawn: kill pid %d: %w", h.PID(), err)
	}
	return nil
}

// DrainPending locates the first alive worker of workerType in the registry
// and replays its pending envelopes to it in insertion order. If none are
// alive, it logs and returns — the messages remain tracked until a worker
// of that type appears. Replay does not remove entries: removal is driven
// solely by completion acks arriving through the router.
func (e *Engine) DrainPending(workerType string) {
	var target *Handle
	for _, w := range e.reg.ByType(workerType) {
		h, ok := w.(*Handle)
		if !ok {
			continue
		}
		if !h.Exited() && !h.Killed() {
			target = h
			break
		}
	}
	if target == nil {
		log.WithFields(log.Fields{"worker_type": workerType}).Debug("drain: no live worker available, pending messages remain queued")
		return
	}

	entries := e.pending.Drain(workerType)
	for _, entry := range entries {
		if err := target.Send(entry.Envelope); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"worker_type": workerType,
				"message_id":  entry.MessageID,
				"pid":         target.PID(),
			}).Error("drain: failed to replay pending message")
			continue
		}
		log.WithFields(log.Fields{
			"worker_type": workerType,
			"message_id":  entry.MessageID,
			"pid":         target.PID(),
		}).Info("drain: replayed pending message to replacement worker")
	}
}

func flattenEnv(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, fmt.Sprintf("FLEET_CONFIG_%s=%s", k, v))
	}
	return out
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
