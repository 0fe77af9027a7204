package liveness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProcess struct {
	pid     int32
	exited  bool
	killed  bool
}

func (f fakeProcess) PID() int32   { return f.pid }
func (f fakeProcess) Exited() bool { return f.exited }
func (f fakeProcess) Killed() bool { return f.killed }

type fakeProbe struct{ state SchedState }

func (f fakeProbe) State(int32) SchedState { return f.state }

func TestIsAlive(t *testing.T) {
	t.Run("exited process is dead", func(t *testing.T) {
		p := fakeProcess{pid: 1, exited: true}
		assert.False(t, IsAlive(p, fakeProbe{state: Idle}))
	})

	t.Run("killed process is dead", func(t *testing.T) {
		p := fakeProcess{pid: 1, killed: true}
		assert.False(t, IsAlive(p, fakeProbe{state: Idle}))
	})

	t.Run("running process is not preferred", func(t *testing.T) {
		p := fakeProcess{pid: 1}
		assert.False(t, IsAlive(p, fakeProbe{state: Running}))
	})

	t.Run("idle process is alive", func(t *testing.T) {
		p := fakeProcess{pid: 1}
		assert.True(t, IsAlive(p, fakeProbe{state: Idle}))
	})

	t.Run("unknown state degrades to alive", func(t *testing.T) {
		p := fakeProcess{pid: 1}
		assert.True(t, IsAlive(p, fakeProbe{state: Unknown}))
	})

	t.Run("nil probe only checks exit/kill", func(t *testing.T) {
		p := fakeProcess{pid: 1}
		assert.True(t, IsAlive(p, nil))
	})
}

func TestNotExitedOrKilled(t *testing.T) {
	assert.True(t, NotExitedOrKilled(fakeProcess{pid: 1}))
	assert.False(t, NotExitedOrKilled(fakeProcess{pid: 1, exited: true}))
	assert.False(t, NotExitedOrKilled(fakeProcess{pid: 1, killed: true}))
}
