package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"weave/pkg/domain"
	"weave/pkg/eventstore"
	"weave/pkg/workflow"
)

// Supervisor keeps one workflow's actor alive. On abnormal termination
// it respawns a fresh actor with the same construction arguments; the
// new actor rebuilds its aggregate and view from the event log, so
// callers see continuity rather than a reset.
type Supervisor struct {
	id     domain.WorkflowID
	store  *eventstore.Store
	logger *slog.Logger

	// The publication channels outlive individual actor instances, so
	// subscribers survive a respawn.
	watch     *workflow.Watch
	broadcast *workflow.Broadcaster

	mu       sync.Mutex
	actor    *Actor
	restarts int
	stopped  bool
}

// NewSupervisor returns an unstarted supervisor for the workflow.
func NewSupervisor(id domain.WorkflowID, store *eventstore.Store, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		id:        id,
		store:     store,
		logger:    logger,
		watch:     workflow.NewWatch(),
		broadcast: workflow.NewBroadcaster(),
	}
}

// Start spawns the first actor instance.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actor != nil {
		return fmt.Errorf("supervisor for %s already started", s.id)
	}
	return s.spawnLocked()
}

func (s *Supervisor) spawnLocked() error {
	actor, err := NewActor(s.id, s.store, s.watch, s.broadcast, s.logger)
	if err != nil {
		return err
	}
	s.actor = actor
	actor.Run(s.handleExit)
	return nil
}

// handleExit restarts the actor when it died abnormally and the
// supervisor has not been stopped.
func (s *Supervisor) handleExit(cause error) {
	if cause == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.restarts++
	s.logger.Error("actor terminated, respawning",
		"workflow", s.id, "restarts", s.restarts, "cause", cause)
	if err := s.spawnLocked(); err != nil {
		s.logger.Error("actor respawn failed", "workflow", s.id, "error", err)
		// Back off and retry once more; a transient storage error during
		// load should not permanently kill the session.
		time.AfterFunc(time.Second, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.stopped {
				return
			}
			if err := s.spawnLocked(); err != nil {
				s.logger.Error("actor respawn retry failed", "workflow", s.id, "error", err)
			}
		})
	}
}

// Submit forwards cmd to the current actor instance.
func (s *Supervisor) Submit(ctx context.Context, cmd workflow.Command) (Result, error) {
	s.mu.Lock()
	actor := s.actor
	s.mu.Unlock()
	if actor == nil {
		return Result{}, fmt.Errorf("supervisor for %s not started", s.id)
	}
	return actor.Submit(ctx, cmd)
}

// WatchView returns a latest-value subscription that survives actor
// respawns.
func (s *Supervisor) WatchView() <-chan workflow.View {
	return s.watch.Subscribe()
}

// SubscribeEvents returns an event subscription that survives actor
// respawns.
func (s *Supervisor) SubscribeEvents() (<-chan workflow.Event, func()) {
	return s.broadcast.Subscribe()
}

// Stop shuts the actor down without respawn.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.actor != nil {
		s.actor.Stop()
	}
}

// Restarts reports how many times the actor has been respawned.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}
