package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/fleet/internal/registry"
)

type fakeRegWorker struct {
	pid        int32
	workerType string
}

func (w *fakeRegWorker) PID() int32        { return w.pid }
func (w *fakeRegWorker) WorkerType() string { return w.workerType }
func (w *fakeRegWorker) Exited() bool      { return false }
func (w *fakeRegWorker) Killed() bool      { return false }

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

func TestSweepRestartsExpiredHeartbeat(t *testing.T) {
	reg := registry.New()
	reg.Add(&fakeRegWorker{pid: 1, workerType: "DatabaseWorker"})

	restart := &fakeRestarter{}
	s := &Supervisor{reg: reg, restart: restart}

	// Age the heartbeat past expiry by forcing time to have passed; since
	// Registry.Add stamps "now", sleep a touch and use a near-zero expiry.
	time.Sleep(5 * time.Millisecond)
	s.sweepExpiredHeartbeats(time.Millisecond)

	restart.mu.Lock()
	defer restart.mu.Unlock()
	assert.Equal(t, []int32{1}, restart.calls)
}

func TestSweepSkipsFreshHeartbeat(t *testing.T) {
	reg := registry.New()
	reg.Add(&fakeRegWorker{pid: 2, workerType: "DatabaseWorker"})

	restart := &fakeRestarter{}
	s := &Supervisor{reg: reg, restart: restart}

	s.sweepExpiredHeartbeats(time.Minute)

	restart.mu.Lock()
	defer restart.mu.Unlock()
	assert.Empty(t, restart.calls)
}
