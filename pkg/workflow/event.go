package workflow

import (
	"time"
)

// EventType discriminates the event envelope.
type EventType string

// Event type constants.
const (
	EvWorkflowCreated                 EventType = "workflow_created"
	EvPlanningStarted                 EventType = "planning_started"
	EvPlanFileCreated                 EventType = "plan_file_created"
	EvReviewCycleStarted              EventType = "review_cycle_started"
	EvReviewerApproved                EventType = "reviewer_approved"
	EvReviewerRejected                EventType = "reviewer_rejected"
	EvReviewCycleCompleted            EventType = "review_cycle_completed"
	EvPlanningMaxIterationsReached    EventType = "planning_max_iterations_reached"
	EvMaxIterationsExtended           EventType = "max_iterations_extended"
	EvRevisingStarted                 EventType = "revising_started"
	EvRevisionCompleted               EventType = "revision_completed"
	EvUserRequestedImplementation     EventType = "user_requested_implementation"
	EvImplementationStarted           EventType = "implementation_started"
	EvImplementationReviewCompleted   EventType = "implementation_review_completed"
	EvImplementationLimitReached      EventType = "implementation_max_iterations_reached"
	EvImplementationRevisingStarted   EventType = "implementation_revising_started"
	EvImplementationRevisionCompleted EventType = "implementation_revision_completed"
	EvUserOverrideApproval            EventType = "user_override_approval"
	EvWorkflowCancelled               EventType = "workflow_cancelled"
	EvFailureRecorded                 EventType = "failure_recorded"
	EvUserFeedbackRecorded            EventType = "user_feedback_recorded"
	EvAgentConversationRecorded       EventType = "agent_conversation_recorded"
	EvInvocationRecorded              EventType = "invocation_recorded"
	EvWorktreeAttached                EventType = "worktree_attached"
)

// Event is a fact the aggregate has accepted. Events are immutable once
// appended to the log; Apply must treat every recorded event as valid.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	Create      *CreatePayload                `json:"create,omitempty"`
	Plan        *PlanPayload                  `json:"plan,omitempty"`
	ReviewCycle *ReviewCyclePayload           `json:"review_cycle,omitempty"`
	Reviewer    *ReviewerPayload              `json:"reviewer,omitempty"`
	CycleResult *CycleResultPayload           `json:"cycle_result,omitempty"`
	Revising    *RevisingPayload              `json:"revising,omitempty"`
	Extension   *ExtensionPayload             `json:"extension,omitempty"`
	ImplStart   *ImplementationStartedPayload `json:"impl_start,omitempty"`
	ImplReview  *ImplementationReviewPayload  `json:"impl_review,omitempty"`
	Reason      *ReasonPayload                `json:"reason,omitempty"`
	Failure     *FailurePayload               `json:"failure,omitempty"`
	Feedback    *FeedbackPayload              `json:"feedback,omitempty"`
	Convo       *ConversationPayload          `json:"conversation,omitempty"`
	Invocation  *InvocationPayload            `json:"invocation,omitempty"`
	Worktree    *WorktreePayload              `json:"worktree,omitempty"`
}
