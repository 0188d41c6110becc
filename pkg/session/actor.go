// Package session runs the single-writer execution context for one
// workflow: an actor that serializes commands through the aggregate and
// store, and a supervisor that restarts the actor after a crash.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"weave/pkg/domain"
	"weave/pkg/eventstore"
	"weave/pkg/workflow"
)

// inboxSize bounds queued commands per session. Senders block once the
// actor falls this far behind.
const inboxSize = 32

// Result is the actor's reply to one submitted command.
type Result struct {
	View   workflow.View
	Events []workflow.Event
	Err    error
}

type request struct {
	cmd   workflow.Command
	reply chan Result
}

// Actor owns all mutation for one workflow. Commands funnel through its
// inbox and execute strictly in submission order, so the aggregate needs
// no internal locking.
type Actor struct {
	id     domain.WorkflowID
	store  *eventstore.Store
	logger *slog.Logger

	agg      *workflow.Aggregate
	sequence uint64
	view     *workflow.View

	watch     *workflow.Watch
	broadcast *workflow.Broadcaster

	inbox chan request
	stop  chan struct{}

	nowFunc func() time.Time
}

// NewActor loads the aggregate from the store and bootstraps the view
// from the event log, so the first published view matches what a caller
// would have seen before a crash.
func NewActor(id domain.WorkflowID, store *eventstore.Store, watch *workflow.Watch, broadcast *workflow.Broadcaster, logger *slog.Logger) (*Actor, error) {
	agg, seq, err := store.LoadAggregate(id)
	if err != nil {
		return nil, fmt.Errorf("load aggregate %s: %w", id, err)
	}
	view, err := BootstrapView(store, id)
	if err != nil {
		return nil, fmt.Errorf("bootstrap view %s: %w", id, err)
	}

	return &Actor{
		id:        id,
		store:     store,
		logger:    logger,
		agg:       agg,
		sequence:  seq,
		view:      view,
		watch:     watch,
		broadcast: broadcast,
		inbox:     make(chan request, inboxSize),
		stop:      make(chan struct{}),
		nowFunc:   time.Now,
	}, nil
}

// BootstrapView rebuilds the read projection by folding the full event
// log.
func BootstrapView(store *eventstore.Store, id domain.WorkflowID) (*workflow.View, error) {
	events, err := store.ReadEvents(id, 0)
	if err != nil {
		return nil, err
	}
	view := workflow.NewView()
	for _, rec := range events {
		view.Apply(rec.Payload, rec.Sequence)
	}
	return view, nil
}

// Run processes the inbox until Stop. onExit is called exactly once when
// the loop ends: with nil on clean stop, with the recovered error when
// the loop panicked.
func (a *Actor) Run(onExit func(error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				onExit(fmt.Errorf("actor %s panicked: %v", a.id, r))
				return
			}
			onExit(nil)
		}()
		a.loop()
	}()
}

func (a *Actor) loop() {
	for {
		select {
		case <-a.stop:
			return
		case req := <-a.inbox:
			req.reply <- a.execute(req.cmd)
		}
	}
}

// Stop ends the run loop. In-flight commands complete; queued ones are
// abandoned.
func (a *Actor) Stop() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

// Submit queues cmd and waits for its result or ctx cancellation.
func (a *Actor) Submit(ctx context.Context, cmd workflow.Command) (Result, error) {
	req := request{cmd: cmd, reply: make(chan Result, 1)}

	select {
	case a.inbox <- req:
	case <-a.stop:
		return Result{}, fmt.Errorf("actor %s stopped", a.id)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// execute runs the validate, append, apply, publish pipeline for one
// command. In-memory state mutates only after the append succeeds, so a
// storage failure leaves the actor consistent for retry.
func (a *Actor) execute(cmd workflow.Command) Result {
	events, err := a.agg.Handle(cmd, a.nowFunc())
	if err != nil {
		return Result{View: a.view.Snapshot(), Err: err}
	}
	if len(events) == 0 {
		return Result{View: a.view.Snapshot()}
	}

	stored, err := a.store.Append(a.id, a.sequence, events, nil)
	if err != nil {
		return Result{View: a.view.Snapshot(), Err: err}
	}

	for _, rec := range stored {
		a.agg.Apply(rec.Payload)
		a.view.Apply(rec.Payload, rec.Sequence)
		a.sequence = rec.Sequence
	}

	if a.store.ShouldSnapshot(a.sequence) {
		if err := a.store.SaveSnapshot(a.id, a.agg, a.sequence); err != nil {
			// Snapshots only bound replay cost; the log remains the
			// source of truth.
			a.logger.Warn("snapshot failed", "workflow", a.id, "sequence", a.sequence, "error", err)
		}
	}

	snap := a.view.Snapshot()
	a.watch.Set(snap)
	for _, rec := range stored {
		a.broadcast.Publish(rec.Payload)
	}
	return Result{View: snap, Events: events}
}
