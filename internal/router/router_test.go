package router

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/liveness"
	"github.com/taskforge/fleet/internal/pending"
	"github.com/taskforge/fleet/internal/registry"
)

// fakeWorker is a minimal registry.Worker + Sender double.
type fakeWorker struct {
	pid        int32
	workerType string
	exited     int32
	killed     int32

	mu  sync.Mutex
	got []*envelope.Envelope

	sendErr error
}

func (f *fakeWorker) PID() int32        { return f.pid }
func (f *fakeWorker) WorkerType() string { return f.workerType }
func (f *fakeWorker) Exited() bool      { return atomic.LoadInt32(&f.exited) != 0 }
func (f *fakeWorker) Killed() bool      { return atomic.LoadInt32(&f.killed) != 0 }

func (f *fakeWorker) Send(env *envelope.Envelope) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, env)
	return nil
}

func (f *fakeWorker) received() []*envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*envelope.Envelope, len(f.got))
	copy(out, f.got)
	return out
}

type fakeProbe struct {
	states map[int32]liveness.SchedState
}

func (p *fakeProbe) State(pid int32) liveness.SchedState {
	if p.states == nil {
		return liveness.Idle
	}
	return p.states[pid]
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSpawner) SpawnOne(workerType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, workerType)
	return nil
}

type fakeRestarter struct {
	mu    sync.Mutex
	calls []int32
}

func (r *fakeRestarter) RestartByPID(pid int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pid)
	return nil
}

func msg(id string, dest ...string) *envelope.Envelope {
	return &envelope.Envelope{MessageID: id, Status: envelope.StatusCompleted, Destination: dest}
}

func TestHeartbeatUpdatesRegistry(t *testing.T) {
	reg := registry.New()
	w := &fakeWorker{pid: 1, workerType: "DatabaseWorker"}
	reg.Add(w)

	r := New(reg, pending.NewTable(nil), &fakeProbe{}, nil, nil)
	r.OnWorkerMessage(&envelope.Envelope{MessageID: "hb", Status: envelope.StatusHealthy, Destination: []string{"supervisor"}}, 1)

	_, ok := reg.LastHeartbeat(1)
	assert.True(t, ok)
}

func TestCompletedAcksPendingAcrossTypes(t *testing.T) {
	reg := registry.New()
	pt := pending.NewTable(nil)
	pt.Track("DatabaseWorker", &envelope.Envelope{MessageID: "m1"})
	pt.Track("QueueWorker", &envelope.Envelope{MessageID: "m1"})

	r := New(reg, pt, &fakeProbe{}, nil, nil)
	r.OnWorkerMessage(&envelope.Envelope{MessageID: "m1", Status: envelope.StatusCompleted, Destination: []string{"supervisor"}}, 1)

	assert.Equal(t, 0, pt.Len("DatabaseWorker"))
	assert.Equal(t, 0, pt.Len("QueueWorker"))
}

func TestDedupTrackSameMessageID(t *testing.T) {
	pt := pending.NewTable(nil)
	pt.Track("DatabaseWorker", &envelope.Envelope{MessageID: "dup"})
	pt.Track("DatabaseWorker", &envelope.Envelope{MessageID: "dup"})
	assert.Equal(t, 1, pt.Len("DatabaseWorker"))
}

func TestForwardsToAliveCandidate(t *testing.T) {
	reg := registry.New()
	w := &fakeWorker{pid: 5, workerType: "DatabaseWorker"}
	reg.Add(w)

	r := New(reg, pending.NewTable(nil), &fakeProbe{}, nil, nil)
	r.OnWorkerMessage(msg("m1", "DatabaseWorker/createNewData"), 99)

	require.Len(t, w.received(), 1)
	assert.Equal(t, "m1", w.received()[0].MessageID)
}

func TestServerBusyFailsOverToOtherPeer(t *testing.T) {
	reg := registry.New()
	a := &fakeWorker{pid: 1, workerType: "DatabaseWorker"}
	b := &fakeWorker{pid: 2, workerType: "DatabaseWorker"}
	reg.Add(a)
	reg.Add(b)

	r := New(reg, pending.NewTable(nil), &fakeProbe{}, nil, nil)
	busy := &envelope.Envelope{
		MessageID:   "m1",
		Status:      envelope.StatusFailed,
		Reason:      envelope.ReasonServerBusy,
		Destination: []string{"DatabaseWorker"},
	}
	r.OnWorkerMessage(busy, a.pid)

	assert.Empty(t, a.received())
	require.Len(t, b.received(), 1)
	assert.Equal(t, "m1", b.received()[0].MessageID)
}

func TestServerBusyAllCandidatesSchedulesRetry(t *testing.T) {
	reg := registry.New()
	a := &fakeWorker{pid: 1, workerType: "DatabaseWorker"}
	reg.Add(a)

	var retried int32
	r := New(reg, pending.NewTable(nil), &fakeProbe{}, nil, nil)
	r.retry = func(env *envelope.Envelope, fromPID int32, delay time.Duration) {
		atomic.AddInt32(&retried, 1)
		assert.GreaterOrEqual(t, delay, BackoffInterval)
	}

	busy := &envelope.Envelope{
		MessageID:   "m1",
		Status:      envelope.StatusFailed,
		Reason:      envelope.ReasonServerBusy,
		Destination: []string{"DatabaseWorker"},
	}
	r.OnWorkerMessage(busy, a.pid)

	assert.Equal(t, int32(1), atomic.LoadInt32(&retried))
}

func TestDeadWorkerNeverSelected(t *testing.T) {
	reg := registry.New()
	dead := &fakeWorker{pid: 1, workerType: "DatabaseWorker", exited: 1}
	reg.Add(dead)

	spawner := &fakeSpawner{}
	r := New(reg, pending.NewTable(nil), &fakeProbe{}, spawner, nil)
	r.OnWorkerMessage(msg("m1", "DatabaseWorker/op"), 99)

	assert.Empty(t, dead.received())
	assert.Equal(t, []string{"DatabaseWorker"}, spawner.calls)
}

func TestSpawnOnAbsenceCalledOnce(t *testing.T) {
	reg := registry.New()
	spawner := &fakeSpawner{}
	r := New(reg, pending.NewTable(nil), &fakeProbe{}, spawner, nil)

	r.OnWorkerMessage(msg("m1", "DatabaseWorker/op"), 99)

	assert.Len(t, spawner.calls, 1)
}

func TestErrorStatusRestartsAndDoesNotForward(t *testing.T) {
	reg := registry.New()
	w := &fakeWorker{pid: 7, workerType: "DatabaseWorker"}
	reg.Add(w)

	restarter := &fakeRestarter{}
	r := New(reg, pending.NewTable(nil), &fakeProbe{}, nil, restarter)

	errEnv := &envelope.Envelope{
		MessageID:   "m1",
		Status:      envelope.StatusError,
		Destination: []string{"DatabaseWorker"},
	}
	r.OnWorkerMessage(errEnv, 7)

	assert.Empty(t, w.received())
	assert.Equal(t, []int32{7}, restarter.calls)
}

func TestRunningPeerExcludedFromCandidates(t *testing.T) {
	reg := registry.New()
	running := &fakeWorker{pid: 1, workerType: "DatabaseWorker"}
	idle := &fakeWorker{pid: 2, workerType: "DatabaseWorker"}
	reg.Add(running)
	reg.Add(idle)

	probe := &fakeProbe{states: map[int32]liveness.SchedState{1: liveness.Running, 2: liveness.Idle}}
	r := New(reg, pending.NewTable(nil), probe, nil, nil)
	r.OnWorkerMessage(msg("m1", "DatabaseWorker/op"), 99)

	assert.Empty(t, running.received())
	require.Len(t, idle.received(), 1)
}
