// Package workflow implements the event-sourced state machine for one
// work session: the command vocabulary, the event vocabulary, the
// aggregate that validates commands and applies events, and the derived
// view projection.
package workflow

import (
	"weave/pkg/domain"
)

// CommandType discriminates the command envelope.
type CommandType string

// Command type constants.
const (
	CmdCreateWorkflow                  CommandType = "create_workflow"
	CmdStartPlanning                   CommandType = "start_planning"
	CmdPlanFileCreated                 CommandType = "plan_file_created"
	CmdReviewCycleStarted              CommandType = "review_cycle_started"
	CmdReviewerApproved                CommandType = "reviewer_approved"
	CmdReviewerRejected                CommandType = "reviewer_rejected"
	CmdReviewCycleCompleted            CommandType = "review_cycle_completed"
	CmdRevisingStarted                 CommandType = "revising_started"
	CmdRevisionCompleted               CommandType = "revision_completed"
	CmdUserRequestedImplementation     CommandType = "user_requested_implementation"
	CmdImplementationStarted           CommandType = "implementation_started"
	CmdImplementationReviewCompleted   CommandType = "implementation_review_completed"
	CmdImplementationRevisingStarted   CommandType = "implementation_revising_started"
	CmdImplementationRevisionCompleted CommandType = "implementation_revision_completed"
	CmdUserOverrideApproval            CommandType = "user_override_approval"
	CmdUserAborted                     CommandType = "user_aborted"
	CmdRecordFailure                   CommandType = "record_failure"
	CmdRecordUserFeedback              CommandType = "record_user_feedback"
	CmdRecordAgentConversation         CommandType = "record_agent_conversation"
	CmdRecordInvocation                CommandType = "record_invocation"
	CmdAttachWorktree                  CommandType = "attach_worktree"
)

// Command is the intent envelope submitted to an actor. Exactly the
// payload field matching Type is set; the rest stay nil.
type Command struct {
	Type CommandType `json:"type"`

	Create      *CreatePayload               `json:"create,omitempty"`
	Plan        *PlanPayload                 `json:"plan,omitempty"`
	ReviewCycle *ReviewCyclePayload          `json:"review_cycle,omitempty"`
	Reviewer    *ReviewerPayload             `json:"reviewer,omitempty"`
	CycleResult *CycleResultPayload          `json:"cycle_result,omitempty"`
	Revising    *RevisingPayload             `json:"revising,omitempty"`
	ImplReview  *ImplementationReviewPayload `json:"impl_review,omitempty"`
	Reason      *ReasonPayload               `json:"reason,omitempty"`
	Failure     *FailurePayload              `json:"failure,omitempty"`
	Feedback    *FeedbackPayload             `json:"feedback,omitempty"`
	Convo       *ConversationPayload         `json:"conversation,omitempty"`
	Invocation  *InvocationPayload           `json:"invocation,omitempty"`
	Worktree    *WorktreePayload             `json:"worktree,omitempty"`
}

// --- payloads (shared between commands and events) ---

// CreatePayload initializes a workflow.
type CreatePayload struct {
	WorkflowID    domain.WorkflowID     `json:"workflow_id"`
	Feature       string                `json:"feature"`
	Objective     string                `json:"objective,omitempty"`
	MaxIterations domain.MaxIterations  `json:"max_iterations"`
	Reviewers     []domain.AgentID      `json:"reviewers,omitempty"`
	ReviewMode    domain.ReviewModeKind `json:"review_mode,omitempty"`
}

// PlanPayload records where the plan artifact lives.
type PlanPayload struct {
	Path string `json:"path"`
}

// ReviewCyclePayload describes one review cycle. Order is filled in by
// the aggregate when the cycle starts in sequential mode.
type ReviewCyclePayload struct {
	Iteration domain.Iteration      `json:"iteration"`
	Reviewers []domain.AgentID      `json:"reviewers,omitempty"`
	Mode      domain.ReviewModeKind `json:"mode,omitempty"`
	Order     []domain.AgentID      `json:"order,omitempty"`
}

// ReviewerPayload carries one reviewer's verdict detail.
type ReviewerPayload struct {
	Reviewer domain.AgentID `json:"reviewer"`
	Feedback string         `json:"feedback,omitempty"`
}

// CycleResultPayload is the aggregated cycle verdict. The review policy
// computes Approved; the aggregate records it as authoritative without
// re-deriving it from individual reviewer votes.
type CycleResultPayload struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// RevisingPayload starts a revision round. AdditionalIterations, when
// set, extends the iteration limit and is only valid while awaiting a
// user decision.
type RevisingPayload struct {
	FeedbackSummary      string  `json:"feedback_summary,omitempty"`
	AdditionalIterations *uint32 `json:"additional_iterations,omitempty"`
}

// ExtensionPayload carries the new iteration limit after an extension.
type ExtensionPayload struct {
	NewMax domain.MaxIterations `json:"new_max"`
}

// ImplementationStartedPayload carries the iteration budget for the
// implementation phase.
type ImplementationStartedPayload struct {
	MaxIterations domain.MaxIterations `json:"max_iterations"`
}

// ImplementationReviewPayload is one implementation review verdict.
type ImplementationReviewPayload struct {
	Verdict  domain.ImplementationVerdict `json:"verdict"`
	Feedback string                       `json:"feedback,omitempty"`
}

// ReasonPayload carries a free-form user-supplied reason.
type ReasonPayload struct {
	Reason string `json:"reason,omitempty"`
}

// FailurePayload wraps one failure context for the bounded history.
type FailurePayload struct {
	Failure domain.FailureContext `json:"failure"`
}

// FeedbackPayload records direct user feedback on the current artifact.
type FeedbackPayload struct {
	Status  domain.FeedbackStatus `json:"status"`
	Summary string                `json:"summary,omitempty"`
}

// ConversationPayload records how to resume an agent's conversation.
type ConversationPayload struct {
	Agent          domain.AgentID        `json:"agent"`
	ResumeStrategy domain.ResumeStrategy `json:"resume_strategy"`
	ConversationID string                `json:"conversation_id,omitempty"`
}

// InvocationPayload wraps one agent invocation record.
type InvocationPayload struct {
	Record domain.InvocationRecord `json:"record"`
}

// WorktreePayload wraps the worktree attached to a session.
type WorktreePayload struct {
	Worktree domain.WorktreeState `json:"worktree"`
}

// --- constructors ---

// CreateWorkflow builds the initialization command. Zero maxIterations
// and empty mode fall back to defaults at handling time.
func CreateWorkflow(id domain.WorkflowID, feature, objective string, maxIterations domain.MaxIterations, reviewers []domain.AgentID, mode domain.ReviewModeKind) Command {
	return Command{Type: CmdCreateWorkflow, Create: &CreatePayload{
		WorkflowID:    id,
		Feature:       feature,
		Objective:     objective,
		MaxIterations: maxIterations,
		Reviewers:     reviewers,
		ReviewMode:    mode,
	}}
}

// StartPlanning builds the idempotent planning kickoff command.
func StartPlanning() Command {
	return Command{Type: CmdStartPlanning}
}

// StartReviewCycle builds the command that opens a review cycle over the
// workflow's configured reviewers.
func StartReviewCycle() Command {
	return Command{Type: CmdReviewCycleStarted, ReviewCycle: &ReviewCyclePayload{}}
}

// ReviewerApproved builds a per-reviewer approval record.
func ReviewerApproved(reviewer domain.AgentID, feedback string) Command {
	return Command{Type: CmdReviewerApproved, Reviewer: &ReviewerPayload{Reviewer: reviewer, Feedback: feedback}}
}

// ReviewerRejected builds a per-reviewer rejection record.
func ReviewerRejected(reviewer domain.AgentID, feedback string) Command {
	return Command{Type: CmdReviewerRejected, Reviewer: &ReviewerPayload{Reviewer: reviewer, Feedback: feedback}}
}

// CompleteReviewCycle builds the aggregated cycle verdict command.
func CompleteReviewCycle(approved bool, feedback string) Command {
	return Command{Type: CmdReviewCycleCompleted, CycleResult: &CycleResultPayload{Approved: approved, Feedback: feedback}}
}

// StartRevising builds the revision kickoff command. additional, when
// non-nil, requests an iteration limit extension.
func StartRevising(feedbackSummary string, additional *uint32) Command {
	return Command{Type: CmdRevisingStarted, Revising: &RevisingPayload{
		FeedbackSummary:      feedbackSummary,
		AdditionalIterations: additional,
	}}
}

// CompleteRevision builds the command closing a revision round.
func CompleteRevision() Command {
	return Command{Type: CmdRevisionCompleted}
}

// RequestImplementation builds the user-intent command that also starts
// the implementation phase.
func RequestImplementation() Command {
	return Command{Type: CmdUserRequestedImplementation}
}

// Abort builds the terminal cancellation command.
func Abort(reason string) Command {
	return Command{Type: CmdUserAborted, Reason: &ReasonPayload{Reason: reason}}
}

// RecordFailure builds the failure history append command.
func RecordFailure(f domain.FailureContext) Command {
	return Command{Type: CmdRecordFailure, Failure: &FailurePayload{Failure: f}}
}
