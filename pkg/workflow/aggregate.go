package workflow

import (
	"time"

	"weave/pkg/domain"
)

// WorkflowData is the aggregate's authoritative state. It is serialized
// whole into snapshots, so every field is exported and JSON-tagged.
type WorkflowData struct {
	ID            domain.WorkflowID    `json:"id"`
	Feature       string               `json:"feature"`
	Objective     string               `json:"objective,omitempty"`
	Phase         domain.Phase         `json:"phase"`
	Iteration     domain.Iteration     `json:"iteration"`
	MaxIterations domain.MaxIterations `json:"max_iterations"`

	PlanningStarted bool   `json:"planning_started"`
	PlanPath        string `json:"plan_path,omitempty"`

	Reviewers  []domain.AgentID              `json:"reviewers,omitempty"`
	ReviewMode domain.ReviewModeKind         `json:"review_mode"`
	Sequential *domain.SequentialReviewState `json:"sequential,omitempty"`

	Implementation *domain.ImplementationState `json:"implementation,omitempty"`
	Worktree       *domain.WorktreeState       `json:"worktree,omitempty"`

	Conversations map[domain.AgentID]domain.AgentConversationState `json:"conversations,omitempty"`
	Invocations   []domain.InvocationRecord                        `json:"invocations,omitempty"`
	Failures      []domain.FailureContext                          `json:"failures,omitempty"`

	LastUserFeedback *FeedbackPayload `json:"last_user_feedback,omitempty"`
	CancelReason     string           `json:"cancel_reason,omitempty"`
}

// Aggregate is the command-validating state machine for one session.
// Data is nil until a WorkflowCreated event is applied.
//
// Handle never mutates state: it validates the command against the
// current state and returns the events it would produce. Apply is the
// only mutation path, and is infallible so that replay from the log can
// never fail partway.
type Aggregate struct {
	Data *WorkflowData `json:"data"`
}

// NewAggregate returns an uninitialized aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{}
}

// Initialized reports whether a WorkflowCreated event has been applied.
func (a *Aggregate) Initialized() bool { return a.Data != nil }

// --- command handling ---

// Handle validates cmd and returns the resulting events without applying
// them. A rejected command returns a typed error and produces no events.
// An accepted no-op (idempotent re-issue) returns an empty slice.
func (a *Aggregate) Handle(cmd Command, now time.Time) ([]Event, error) {
	if cmd.Type == CmdCreateWorkflow {
		return a.handleCreate(cmd, now)
	}
	if !a.Initialized() {
		return nil, &NotInitializedError{Command: cmd.Type}
	}

	switch cmd.Type {
	case CmdRecordFailure:
		if cmd.Failure == nil {
			return nil, &MalformedCommandError{Command: cmd.Type, Missing: "failure"}
		}
		return []Event{{Type: EvFailureRecorded, At: now, Failure: cmd.Failure}}, nil
	case CmdRecordUserFeedback:
		if cmd.Feedback == nil {
			return nil, &MalformedCommandError{Command: cmd.Type, Missing: "feedback"}
		}
		return []Event{{Type: EvUserFeedbackRecorded, At: now, Feedback: cmd.Feedback}}, nil
	case CmdRecordAgentConversation:
		if cmd.Convo == nil {
			return nil, &MalformedCommandError{Command: cmd.Type, Missing: "conversation"}
		}
		return []Event{{Type: EvAgentConversationRecorded, At: now, Convo: cmd.Convo}}, nil
	case CmdRecordInvocation:
		if cmd.Invocation == nil {
			return nil, &MalformedCommandError{Command: cmd.Type, Missing: "invocation"}
		}
		return []Event{{Type: EvInvocationRecorded, At: now, Invocation: cmd.Invocation}}, nil
	case CmdAttachWorktree:
		if cmd.Worktree == nil {
			return nil, &MalformedCommandError{Command: cmd.Type, Missing: "worktree"}
		}
		return []Event{{Type: EvWorktreeAttached, At: now, Worktree: cmd.Worktree}}, nil
	}

	// Bookkeeping commands above are valid in any initialized state,
	// including Cancelled. Everything below is a lifecycle command and is
	// rejected once the workflow is cancelled.
	if a.Data.Phase == domain.PhaseCancelled {
		return nil, a.invalid(cmd.Type)
	}

	switch cmd.Type {
	case CmdStartPlanning:
		return a.handleStartPlanning(now)
	case CmdPlanFileCreated:
		return a.handlePlanFile(cmd, now)
	case CmdReviewCycleStarted:
		return a.handleReviewCycleStarted(now)
	case CmdReviewerApproved, CmdReviewerRejected:
		return a.handleReviewerVerdict(cmd, now)
	case CmdReviewCycleCompleted:
		return a.handleReviewCycleCompleted(cmd, now)
	case CmdRevisingStarted:
		return a.handleRevisingStarted(cmd, now)
	case CmdRevisionCompleted:
		return a.handleRevisionCompleted(now)
	case CmdUserRequestedImplementation:
		return a.handleRequestImplementation(now)
	case CmdImplementationStarted:
		// Event-only: always produced alongside the user-intent command,
		// never accepted directly.
		return nil, a.invalid(cmd.Type)
	case CmdImplementationReviewCompleted:
		return a.handleImplementationReview(cmd, now)
	case CmdImplementationRevisingStarted:
		return a.handleImplementationRevising(cmd, now)
	case CmdImplementationRevisionCompleted:
		return a.handleImplementationRevisionCompleted(now)
	case CmdUserOverrideApproval:
		return a.handleOverrideApproval(cmd, now)
	case CmdUserAborted:
		return a.handleAbort(cmd, now)
	default:
		return nil, a.invalid(cmd.Type)
	}
}

func (a *Aggregate) invalid(cmd CommandType) error {
	phase := domain.Phase("uninitialized")
	if a.Data != nil {
		phase = a.Data.Phase
	}
	return &InvalidTransitionError{Command: cmd, Phase: phase}
}

func (a *Aggregate) handleCreate(cmd Command, now time.Time) ([]Event, error) {
	if a.Initialized() {
		return nil, a.invalid(cmd.Type)
	}
	if cmd.Create == nil {
		return nil, &MalformedCommandError{Command: cmd.Type, Missing: "create"}
	}

	p := *cmd.Create
	if p.MaxIterations == 0 {
		p.MaxIterations = domain.DefaultMaxIterations
	}
	if p.ReviewMode == "" {
		p.ReviewMode = domain.ReviewSequential
	}
	return []Event{{Type: EvWorkflowCreated, At: now, Create: &p}}, nil
}

func (a *Aggregate) handleStartPlanning(now time.Time) ([]Event, error) {
	d := a.Data
	if d.Phase != domain.PhasePlanning {
		return nil, a.invalid(CmdStartPlanning)
	}
	if d.PlanningStarted {
		return []Event{}, nil
	}
	return []Event{{Type: EvPlanningStarted, At: now}}, nil
}

func (a *Aggregate) handlePlanFile(cmd Command, now time.Time) ([]Event, error) {
	if cmd.Plan == nil || cmd.Plan.Path == "" {
		return nil, &MalformedCommandError{Command: cmd.Type, Missing: "plan"}
	}
	switch a.Data.Phase {
	case domain.PhasePlanning, domain.PhaseRevising:
		return []Event{{Type: EvPlanFileCreated, At: now, Plan: cmd.Plan}}, nil
	default:
		return nil, a.invalid(cmd.Type)
	}
}

func (a *Aggregate) handleReviewCycleStarted(now time.Time) ([]Event, error) {
	d := a.Data
	if d.Phase != domain.PhasePlanning && d.Phase != domain.PhaseReviewing {
		return nil, a.invalid(CmdReviewCycleStarted)
	}

	payload := &ReviewCyclePayload{
		Iteration: d.Iteration,
		Reviewers: d.Reviewers,
		Mode:      d.ReviewMode,
	}
	if d.ReviewMode == domain.ReviewSequential && d.Sequential != nil {
		payload.Order = d.Sequential.PlanCycle(d.Reviewers)
	}
	return []Event{{Type: EvReviewCycleStarted, At: now, ReviewCycle: payload}}, nil
}

func (a *Aggregate) handleReviewerVerdict(cmd Command, now time.Time) ([]Event, error) {
	if cmd.Reviewer == nil {
		return nil, &MalformedCommandError{Command: cmd.Type, Missing: "reviewer"}
	}
	if a.Data.Phase != domain.PhaseReviewing {
		return nil, a.invalid(cmd.Type)
	}
	typ := EvReviewerApproved
	if cmd.Type == CmdReviewerRejected {
		typ = EvReviewerRejected
	}
	return []Event{{Type: typ, At: now, Reviewer: cmd.Reviewer}}, nil
}

func (a *Aggregate) handleReviewCycleCompleted(cmd Command, now time.Time) ([]Event, error) {
	if cmd.CycleResult == nil {
		return nil, &MalformedCommandError{Command: cmd.Type, Missing: "cycle_result"}
	}
	d := a.Data
	if d.Phase != domain.PhaseReviewing {
		return nil, a.invalid(cmd.Type)
	}

	events := []Event{{Type: EvReviewCycleCompleted, At: now, CycleResult: cmd.CycleResult}}
	if !cmd.CycleResult.Approved && d.Iteration >= domain.Iteration(d.MaxIterations) {
		// A rejected cycle at the limit pauses for a user decision rather
		// than looping into a revision that would exceed the budget.
		events = append(events, Event{Type: EvPlanningMaxIterationsReached, At: now})
	}
	return events, nil
}

func (a *Aggregate) handleRevisingStarted(cmd Command, now time.Time) ([]Event, error) {
	if cmd.Revising == nil {
		return nil, &MalformedCommandError{Command: cmd.Type, Missing: "revising"}
	}
	d := a.Data

	add := cmd.Revising.AdditionalIterations
	if add != nil {
		// An extension is only meaningful as the user's answer to the
		// "limit reached" pause.
		if d.Phase != domain.PhaseAwaitingPlanningDecision || *add == 0 {
			return nil, a.invalid(cmd.Type)
		}
	} else if d.Phase != domain.PhaseRevising && d.Phase != domain.PhaseAwaitingPlanningDecision {
		return nil, a.invalid(cmd.Type)
	}

	var events []Event
	if add != nil {
		// Extension precedes the revision start so downstream consumers
		// see the raised limit before the next iteration begins.
		events = append(events, Event{Type: EvMaxIterationsExtended, At: now, Extension: &ExtensionPayload{
			NewMax: d.MaxIterations + domain.MaxIterations(*add),
		}})
	}
	events = append(events, Event{Type: EvRevisingStarted, At: now, Revising: cmd.Revising})
	return events, nil
}

func (a *Aggregate) handleRevisionCompleted(now time.Time) ([]Event, error) {
	if a.Data.Phase != domain.PhaseRevising {
		return nil, a.invalid(CmdRevisionCompleted)
	}
	return []Event{{Type: EvRevisionCompleted, At: now}}, nil
}

func (a *Aggregate) handleRequestImplementation(now time.Time) ([]Event, error) {
	d := a.Data
	if d.Phase != domain.PhaseComplete || d.Implementation != nil {
		return nil, a.invalid(CmdUserRequestedImplementation)
	}
	// Dual intent: the user's request and the phase start are one
	// transaction, so replay can never observe the first without the
	// second.
	return []Event{
		{Type: EvUserRequestedImplementation, At: now},
		{Type: EvImplementationStarted, At: now, ImplStart: &ImplementationStartedPayload{
			MaxIterations: d.MaxIterations,
		}},
	}, nil
}

func (a *Aggregate) handleImplementationReview(cmd Command, now time.Time) ([]Event, error) {
	if cmd.ImplReview == nil {
		return nil, &MalformedCommandError{Command: cmd.Type, Missing: "impl_review"}
	}
	impl := a.Data.Implementation
	if !impl.Active() || impl.Phase == domain.ImplPhaseAwaitingDecision {
		return nil, a.invalid(cmd.Type)
	}

	events := []Event{{Type: EvImplementationReviewCompleted, At: now, ImplReview: cmd.ImplReview}}
	if cmd.ImplReview.Verdict == domain.VerdictNeedsChanges &&
		impl.Iteration >= domain.Iteration(impl.MaxIterations) {
		events = append(events, Event{Type: EvImplementationLimitReached, At: now})
	}
	return events, nil
}

func (a *Aggregate) handleImplementationRevising(cmd Command, now time.Time) ([]Event, error) {
	if cmd.Revising == nil {
		return nil, &MalformedCommandError{Command: cmd.Type, Missing: "revising"}
	}
	impl := a.Data.Implementation
	if !impl.Active() || impl.Phase != domain.ImplPhaseAwaitingDecision {
		return nil, a.invalid(cmd.Type)
	}
	add := cmd.Revising.AdditionalIterations
	if add == nil || *add == 0 {
		return nil, a.invalid(cmd.Type)
	}

	return []Event{
		{Type: EvMaxIterationsExtended, At: now, Extension: &ExtensionPayload{
			NewMax: impl.MaxIterations + domain.MaxIterations(*add),
		}},
		{Type: EvImplementationRevisingStarted, At: now, Revising: cmd.Revising},
	}, nil
}

func (a *Aggregate) handleImplementationRevisionCompleted(now time.Time) ([]Event, error) {
	impl := a.Data.Implementation
	if !impl.Active() || impl.Phase != domain.ImplPhaseImplementing {
		return nil, a.invalid(CmdImplementationRevisionCompleted)
	}
	return []Event{{Type: EvImplementationRevisionCompleted, At: now}}, nil
}

func (a *Aggregate) handleOverrideApproval(cmd Command, now time.Time) ([]Event, error) {
	d := a.Data
	awaitingPlanning := d.Phase == domain.PhaseAwaitingPlanningDecision
	awaitingImpl := d.Implementation.Active() && d.Implementation.Phase == domain.ImplPhaseAwaitingDecision
	if !awaitingPlanning && !awaitingImpl {
		return nil, a.invalid(cmd.Type)
	}
	ev := Event{Type: EvUserOverrideApproval, At: now}
	if cmd.Reason != nil {
		ev.Reason = cmd.Reason
	}
	return []Event{ev}, nil
}

func (a *Aggregate) handleAbort(cmd Command, now time.Time) ([]Event, error) {
	ev := Event{Type: EvWorkflowCancelled, At: now}
	if cmd.Reason != nil {
		ev.Reason = cmd.Reason
	}
	return []Event{ev}, nil
}

// --- event application ---

// Apply folds one event into the aggregate state. It is total: unknown
// or stale event shapes are ignored rather than rejected, because the
// log is the source of truth and replay must always succeed.
func (a *Aggregate) Apply(ev Event) {
	if ev.Type == EvWorkflowCreated {
		a.applyCreated(ev)
		return
	}
	d := a.Data
	if d == nil {
		return
	}

	switch ev.Type {
	case EvPlanningStarted:
		d.PlanningStarted = true
	case EvPlanFileCreated:
		if ev.Plan != nil {
			d.PlanPath = ev.Plan.Path
		}
	case EvReviewCycleStarted:
		d.Phase = domain.PhaseReviewing
		if ev.ReviewCycle != nil && d.Sequential != nil && len(ev.ReviewCycle.Order) > 0 {
			d.Sequential.BeginCycle(ev.ReviewCycle.Order)
		}
	case EvReviewerApproved:
		if ev.Reviewer != nil && d.Sequential != nil {
			d.Sequential.RecordApproval(ev.Reviewer.Reviewer)
		}
	case EvReviewerRejected:
		if ev.Reviewer != nil && d.Sequential != nil {
			d.Sequential.RecordRejection(ev.Reviewer.Reviewer)
		}
	case EvReviewCycleCompleted:
		if ev.CycleResult != nil && ev.CycleResult.Approved {
			d.Phase = domain.PhaseComplete
		} else {
			// A companion limit-reached event, when present, overrides
			// this to the awaiting-decision pause.
			d.Phase = domain.PhaseRevising
		}
	case EvPlanningMaxIterationsReached:
		d.Phase = domain.PhaseAwaitingPlanningDecision
	case EvMaxIterationsExtended:
		if ev.Extension != nil {
			if d.Implementation.Active() {
				d.Implementation.MaxIterations = ev.Extension.NewMax
			} else {
				d.MaxIterations = ev.Extension.NewMax
			}
		}
	case EvRevisingStarted:
		d.Phase = domain.PhaseRevising
	case EvRevisionCompleted:
		d.Iteration = d.Iteration.Next()
		d.Phase = domain.PhaseReviewing
		if d.Sequential != nil {
			d.Sequential.IncrementVersion()
			d.Sequential.ClearCycleOrder()
		}
	case EvUserRequestedImplementation:
		// Intent only; the paired ImplementationStarted event carries the
		// state change.
	case EvImplementationStarted:
		max := d.MaxIterations
		if ev.ImplStart != nil && ev.ImplStart.MaxIterations > 0 {
			max = ev.ImplStart.MaxIterations
		}
		d.Implementation = domain.NewImplementationState(max)
		d.Phase = domain.PhaseImplementing
	case EvImplementationReviewCompleted:
		a.applyImplementationReview(ev)
	case EvImplementationLimitReached:
		if d.Implementation != nil {
			d.Implementation.Phase = domain.ImplPhaseAwaitingDecision
			d.Phase = domain.PhaseAwaitingImplementationDecision
		}
	case EvImplementationRevisingStarted:
		if d.Implementation != nil {
			d.Implementation.Phase = domain.ImplPhaseImplementing
			d.Phase = domain.PhaseImplementing
		}
	case EvImplementationRevisionCompleted:
		if d.Implementation != nil {
			d.Implementation.Iteration = d.Implementation.Iteration.Next()
			d.Implementation.Phase = domain.ImplPhaseReview
			d.Phase = domain.PhaseImplementationReview
		}
	case EvUserOverrideApproval:
		if d.Implementation.Active() {
			d.Implementation.Phase = domain.ImplPhaseComplete
		}
		d.Phase = domain.PhaseComplete
	case EvWorkflowCancelled:
		d.Phase = domain.PhaseCancelled
		if ev.Reason != nil {
			d.CancelReason = ev.Reason.Reason
		}
	case EvFailureRecorded:
		if ev.Failure != nil {
			d.Failures = append(d.Failures, ev.Failure.Failure)
			if len(d.Failures) > domain.MaxFailureHistory {
				d.Failures = d.Failures[len(d.Failures)-domain.MaxFailureHistory:]
			}
		}
	case EvUserFeedbackRecorded:
		if ev.Feedback != nil {
			fb := *ev.Feedback
			d.LastUserFeedback = &fb
		}
	case EvAgentConversationRecorded:
		if ev.Convo != nil {
			if d.Conversations == nil {
				d.Conversations = make(map[domain.AgentID]domain.AgentConversationState)
			}
			d.Conversations[ev.Convo.Agent] = domain.AgentConversationState{
				ResumeStrategy: ev.Convo.ResumeStrategy,
				ConversationID: ev.Convo.ConversationID,
				LastUsedAt:     ev.At,
			}
		}
	case EvInvocationRecorded:
		if ev.Invocation != nil {
			d.Invocations = append(d.Invocations, ev.Invocation.Record)
		}
	case EvWorktreeAttached:
		if ev.Worktree != nil {
			wt := ev.Worktree.Worktree
			d.Worktree = &wt
		}
	}
}

func (a *Aggregate) applyCreated(ev Event) {
	if a.Data != nil || ev.Create == nil {
		return
	}
	p := ev.Create
	d := &WorkflowData{
		ID:            p.WorkflowID,
		Feature:       p.Feature,
		Objective:     p.Objective,
		Phase:         domain.PhasePlanning,
		Iteration:     domain.FirstIteration,
		MaxIterations: p.MaxIterations,
		Reviewers:     p.Reviewers,
		ReviewMode:    p.ReviewMode,
	}
	if d.MaxIterations == 0 {
		d.MaxIterations = domain.DefaultMaxIterations
	}
	if d.ReviewMode == "" {
		d.ReviewMode = domain.ReviewSequential
	}
	if d.ReviewMode == domain.ReviewSequential {
		d.Sequential = domain.NewSequentialReviewState()
	}
	a.Data = d
}

func (a *Aggregate) applyImplementationReview(ev Event) {
	d := a.Data
	impl := d.Implementation
	if impl == nil || ev.ImplReview == nil {
		return
	}
	impl.LastVerdict = ev.ImplReview.Verdict
	impl.LastFeedback = ev.ImplReview.Feedback
	if ev.ImplReview.Verdict == domain.VerdictApproved {
		impl.Phase = domain.ImplPhaseComplete
		d.Phase = domain.PhaseComplete
		return
	}
	// A companion limit-reached event, when present, overrides this to
	// the awaiting-decision pause.
	impl.Phase = domain.ImplPhaseImplementing
	d.Phase = domain.PhaseImplementing
}
