package spawn

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/pending"
	"github.com/taskforge/fleet/internal/registry"
)

func TestCreateWorkerRejectsZeroCount(t *testing.T) {
	eng := New(registry.New(), pending.NewTable(nil))
	err := eng.CreateWorker("TestWorker", 0, []string{"sh", "-c", "true"}, nil)
	assert.Error(t, err)
}

func TestCreateWorkerRejectsEmptyCommand(t *testing.T) {
	eng := New(registry.New(), pending.NewTable(nil))
	err := eng.CreateWorker("TestWorker", 1, nil, nil)
	assert.Error(t, err)
}

// heartbeatScript writes one framed "healthy" envelope to fd 4 (the
// outbound half of the duplex channel) and then blocks reading stdin
// forever, so the process stays alive until explicitly killed.
func heartbeatScript() []string {
	msg := `{"messageId":"hb","status":"healthy","destination":["supervisor"]}`
	header := fmt.Sprintf(`\000\000\000\%03o`, len(msg))
	script := fmt.Sprintf(`printf '%s%s' >&4; cat >/dev/null`, header, msg)
	return []string{"sh", "-c", script}
}

func TestSpawnRestartReplacesAndDrains(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real-process test in short mode")
	}

	reg := registry.New()
	pt := pending.NewTable(nil)
	eng := New(reg, pt)

	var mu sync.Mutex
	var seenPIDs []int32
	eng.OnMessage = func(env *envelope.Envelope, fromPID int32) {
		if env.Status != envelope.StatusHealthy {
			return
		}
		mu.Lock()
		seenPIDs = append(seenPIDs, fromPID)
		mu.Unlock()
	}

	command := heartbeatScript()
	require.NoError(t, eng.CreateWorker("TestWorker", 1, command, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenPIDs) >= 1
	}, 2*time.Second, 10*time.Millisecond, "expected initial heartbeat")

	workers := reg.ByType("TestWorker")
	require.Len(t, workers, 1)
	original := workers[0].(*Handle)
	originalPID := original.PID()

	pt.Track("TestWorker", &envelope.Envelope{
		MessageID:   "pending-1",
		Status:      envelope.StatusCompleted,
		Destination: []string{"TestWorker"},
	})

	require.NoError(t, eng.RestartWorker(original))

	require.Eventually(t, func() bool {
		workers := reg.ByType("TestWorker")
		if len(workers) != 1 {
			return false
		}
		return workers[0].(*Handle).PID() != originalPID
	}, 3*time.Second, 10*time.Millisecond, "expected replacement worker with a new pid")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenPIDs) >= 2
	}, 2*time.Second, 10*time.Millisecond, "expected replacement worker's heartbeat")

	// Replay does not remove entries; only a completion ack does.
	assert.Equal(t, 1, pt.Len("TestWorker"))

	replacement := reg.ByType("TestWorker")[0].(*Handle)
	require.NoError(t, eng.RestartWorker(replacement))
}
