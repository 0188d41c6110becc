// Package domain defines the value types shared by the workflow aggregate,
// the event store, and the session daemon. These types carry no behavior
// beyond validation and formatting.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowID uniquely identifies a work session. It is the aggregate ID in
// the event store and the registry key in the session daemon.
type WorkflowID string

// NewWorkflowID returns a fresh random workflow ID.
func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.NewString())
}

// ParseWorkflowID validates s as a workflow ID.
func ParseWorkflowID(s string) (WorkflowID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse workflow id %q: %w", s, err)
	}
	return WorkflowID(id.String()), nil
}

func (id WorkflowID) String() string { return string(id) }

// AgentID identifies an agent or reviewer, in "provider:name" form
// (e.g. "claude:architect"). The bare name form is accepted and maps to
// the default provider.
type AgentID string

func (a AgentID) String() string { return string(a) }

// Iteration is a 1-indexed revision counter.
type Iteration uint32

// FirstIteration is the iteration a workflow starts at.
const FirstIteration Iteration = 1

// Next returns the following iteration.
func (i Iteration) Next() Iteration { return i + 1 }

// MaxIterations bounds how many revision rounds run before the workflow
// pauses for a user decision. It only ever grows, via an explicit
// extension event.
type MaxIterations uint32

// DefaultMaxIterations is used when a workflow is created without an
// explicit limit.
const DefaultMaxIterations MaxIterations = 3

// Phase is the planning-side lifecycle phase of a workflow.
type Phase string

// Phase constants, in rough lifecycle order.
const (
	PhasePlanning                       Phase = "planning"
	PhaseReviewing                      Phase = "reviewing"
	PhaseRevising                       Phase = "revising"
	PhaseAwaitingPlanningDecision       Phase = "awaiting_planning_decision"
	PhaseImplementing                   Phase = "implementing"
	PhaseImplementationReview           Phase = "implementation_review"
	PhaseAwaitingImplementationDecision Phase = "awaiting_implementation_decision"
	PhaseComplete                       Phase = "complete"
	PhaseCancelled                      Phase = "cancelled" // terminal; reached only via user abort
)

// ImplementationPhase is the implementation-side lifecycle phase, active
// once the user requests implementation.
type ImplementationPhase string

// Implementation phase constants.
const (
	ImplPhaseImplementing     ImplementationPhase = "implementing"
	ImplPhaseReview           ImplementationPhase = "implementation_review"
	ImplPhaseAwaitingDecision ImplementationPhase = "awaiting_decision"
	ImplPhaseComplete         ImplementationPhase = "complete"
)

// PhaseLabel is a display-oriented phase tag recorded on invocations.
type PhaseLabel string

// Phase label constants.
const (
	LabelPlanning             PhaseLabel = "planning"
	LabelReviewing            PhaseLabel = "reviewing"
	LabelRevising             PhaseLabel = "revising"
	LabelAwaitingDecision     PhaseLabel = "awaiting_decision"
	LabelImplementing         PhaseLabel = "implementing"
	LabelImplementationReview PhaseLabel = "implementation_review"
	LabelComplete             PhaseLabel = "complete"
)

// Short returns a compact label for status lines.
func (l PhaseLabel) Short() string {
	switch l {
	case LabelPlanning:
		return "Plan"
	case LabelReviewing:
		return "Review"
	case LabelRevising:
		return "Revise"
	case LabelAwaitingDecision:
		return "Decide"
	case LabelImplementing:
		return "Impl"
	case LabelImplementationReview:
		return "ImplRev"
	case LabelComplete:
		return "Done"
	default:
		return string(l)
	}
}

// ResumeStrategy describes how an agent conversation is resumed across
// invocations.
type ResumeStrategy string

// Resume strategy constants.
const (
	ResumeStateless    ResumeStrategy = "stateless"
	ResumeConversation ResumeStrategy = "conversation_resume"
	ResumeLatest       ResumeStrategy = "resume_latest"
)

// ImplementationVerdict is the outcome of an implementation review round.
type ImplementationVerdict string

// Implementation verdict constants.
const (
	VerdictApproved     ImplementationVerdict = "approved"
	VerdictNeedsChanges ImplementationVerdict = "needs_changes"
)

// FeedbackStatus summarizes the latest review cycle outcome.
type FeedbackStatus string

// Feedback status constants.
const (
	FeedbackApproved      FeedbackStatus = "approved"
	FeedbackNeedsRevision FeedbackStatus = "needs_revision"
)

// ImplementationState tracks progress through implementation rounds.
type ImplementationState struct {
	Phase         ImplementationPhase   `json:"phase"`
	Iteration     Iteration             `json:"iteration"`
	MaxIterations MaxIterations         `json:"max_iterations"`
	LastVerdict   ImplementationVerdict `json:"last_verdict,omitempty"`
	LastFeedback  string                `json:"last_feedback,omitempty"`
}

// NewImplementationState returns the state for a freshly started
// implementation phase.
func NewImplementationState(maxIterations MaxIterations) *ImplementationState {
	return &ImplementationState{
		Phase:         ImplPhaseImplementing,
		Iteration:     FirstIteration,
		MaxIterations: maxIterations,
	}
}

// Active reports whether the implementation phase is still in flight.
func (s *ImplementationState) Active() bool {
	return s != nil && s.Phase != ImplPhaseComplete
}

// WorktreeState describes an isolated working copy attached to a session.
type WorktreeState struct {
	Path         string `json:"path"`
	Branch       string `json:"branch"`
	SourceBranch string `json:"source_branch,omitempty"`
	OriginalDir  string `json:"original_dir"`
}

// AgentConversationState is the per-agent last-known conversation,
// overwritten on each recorded conversation.
type AgentConversationState struct {
	ResumeStrategy ResumeStrategy `json:"resume_strategy"`
	ConversationID string         `json:"conversation_id,omitempty"`
	LastUsedAt     time.Time      `json:"last_used_at"`
}

// InvocationRecord is one entry in the append-only "what ran when" list.
type InvocationRecord struct {
	Agent          AgentID        `json:"agent"`
	Phase          PhaseLabel     `json:"phase"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ResumeStrategy ResumeStrategy `json:"resume_strategy"`
}
