// Package supervisor wires the registry, pending table, spawn engine, and
// router into the single coordinating actor described by the core: it
// starts the declared worker fleet, pumps every child's messages through
// the router, and runs the optional heartbeat watchdog.
package supervisor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/errs"
	"github.com/taskforge/fleet/internal/liveness"
	"github.com/taskforge/fleet/internal/pending"
	"github.com/taskforge/fleet/internal/registry"
	"github.com/taskforge/fleet/internal/router"
	"github.com/taskforge/fleet/internal/spawn"
)

// Supervisor owns the registry, pending table, spawn engine and router.
// Inbound envelopes reach the router on the spawn engine's per-child pump
// goroutines, which may run concurrently; the registry and pending table
// lock internally, so the supervisor adds no locking of its own.
type Supervisor struct {
	cfg      *config.Config
	reg      *registry.Registry
	pending  *pending.Table
	engine   *spawn.Engine
	router   *router.Router
	store    pending.Store
	restart  restarter

	watchdogStop chan struct{}
}

// restarter is the narrow restart-by-PID capability the watchdog needs,
// satisfied by engineAdapter; kept separate from *spawn.Handle so the
// sweep logic is testable without spawning real processes.
type restarter interface {
	RestartByPID(pid int32) error
}

// engineAdapter exposes the spawn engine to the router through the narrow
// Spawner/Restarter interfaces, resolving each worker type's command/env
// from the static descriptor table.
type engineAdapter struct {
	cfg    *config.Config
	engine *spawn.Engine
	reg    *registry.Registry
}

func (a *engineAdapter) SpawnOne(workerType string) error {
	desc, ok := a.cfg.DescriptorFor(workerType)
	if !ok {
		return errs.NewWorkerTypeUnknown(workerType)
	}
	return a.engine.CreateWorker(workerType, 1, desc.Command, desc.Config)
}

func (a *engineAdapter) RestartByPID(pid int32) error {
	w, ok := a.reg.ByPID(pid)
	if !ok {
		return errs.New(errs.CodeNoLiveWorker, fmt.Sprintf("no worker registered for pid %d", pid), errs.ErrNoLiveWorker)
	}
	h, ok := w.(*spawn.Handle)
	if !ok {
		return fmt.Errorf("supervisor: registered worker for pid %d is not a spawn handle", pid)
	}
	return a.engine.RestartWorker(h)
}

// New builds a Supervisor from cfg, opening durable pending-table
// persistence when cfg.PersistencePath is set.
func New(cfg *config.Config) (*Supervisor, error) {
	var store pending.Store
	if cfg.PersistencePath != "" {
		bolt, err := pending.OpenBoltStore(cfg.PersistencePath)
		if err != nil {
			return nil, fmt.Errorf("supervisor: open persistence store: %w", err)
		}
		store = bolt
	}

	reg := registry.New()
	pendingTable := pending.NewTable(store)
	engine := spawn.New(reg, pendingTable)

	adapter := &engineAdapter{cfg: cfg, engine: engine, reg: reg}
	probe := liveness.GopsutilProbe{}

	backoff, err := time.ParseDuration(cfg.BackoffInterval)
	if err != nil {
		backoff = router.BackoffInterval
	}
	rtr := router.New(reg, pendingTable, probe, adapter, adapter).WithBackoff(backoff)

	engine.OnMessage = rtr.OnWorkerMessage

	return &Supervisor{cfg: cfg, reg: reg, pending: pendingTable, engine: engine, router: rtr, store: store, restart: adapter}, nil
}

// Start restores any persisted pending state, spawns every declared worker
// type at its configured count, and runs until ctx is canceled. It starts
// the heartbeat watchdog (decision: adopted per the heartbeat-expiry
// design note) unless cfg.HeartbeatLiveness is zero.
func (s *Supervisor) Start(ctx context.Context) error {
	types := make([]string, 0, len(s.cfg.Workers))
	for _, w := range s.cfg.Workers {
		types = append(types, w.Name)
	}
	if err := s.pending.Restore(types); err != nil {
		return fmt.Errorf("supervisor: restore pending state: %w", err)
	}

	for _, desc := range s.cfg.Workers {
		// CreateWorker drains whatever Restore just rehydrated for this
		// worker type onto the newly spawned instance, so persisted
		// pending messages survive the restart instead of sitting in the
		// table until some unrelated future exit.
		if err := s.engine.CreateWorker(desc.Name, desc.Count, desc.Command, desc.Config); err != nil {
			return fmt.Errorf("supervisor: create worker %q: %w", desc.Name, err)
		}
		log.WithFields(log.Fields{"worker_type": desc.Name, "count": desc.Count}).Info("supervisor: fleet member started")
	}

	if s.cfg.HeartbeatLiveness > 0 {
		s.startWatchdog()
	}

	<-ctx.Done()

	s.stopWatchdog()
	if s.store != nil {
		_ = s.store.Close()
	}
	return nil
}

// startWatchdog runs a ticker comparing each registered worker's last
// heartbeat against HeartbeatInterval * HeartbeatLiveness, restarting any
// worker that has gone silent for longer than that window.
func (s *Supervisor) startWatchdog() {
	interval, err := time.ParseDuration(s.cfg.HeartbeatInterval)
	if err != nil {
		interval = 10 * time.Second
	}
	expiry := interval * time.Duration(s.cfg.HeartbeatLiveness)

	s.watchdogStop = make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.watchdogStop:
				return
			case <-ticker.C:
				s.sweepExpiredHeartbeats(expiry)
			}
		}
	}()
}

func (s *Supervisor) sweepExpiredHeartbeats(expiry time.Duration) {
	now := time.Now()
	for _, w := range s.reg.All() {
		last, ok := s.reg.LastHeartbeat(w.PID())
		if !ok {
			continue
		}
		if now.Sub(last) <= expiry {
			continue
		}
		log.WithFields(log.Fields{"worker_type": w.WorkerType(), "pid": w.PID()}).Warn("supervisor: heartbeat expired, restarting worker")

		if err := s.restart.RestartByPID(w.PID()); err != nil {
			log.WithError(err).WithFields(log.Fields{"pid": w.PID()}).Error("supervisor: watchdog restart failed")
		}
	}
}

func (s *Supervisor) stopWatchdog() {
	if s.watchdogStop != nil {
		close(s.watchdogStop)
	}
}
