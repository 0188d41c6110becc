package workflow

import (
	"time"

	"weave/pkg/domain"
)

// ReviewEntry is one reviewer verdict in the current cycle, as seen by
// the view.
type ReviewEntry struct {
	Reviewer domain.AgentID `json:"reviewer"`
	Approved bool           `json:"approved"`
	Feedback string         `json:"feedback,omitempty"`
	At       time.Time      `json:"at"`
}

// View is the read-optimized projection of one workflow. It is derived
// and disposable: rebuilding it by folding the event log from scratch
// yields the same value.
type View struct {
	Workflow            WorkflowData      `json:"workflow"`
	CurrentCycleReviews []ReviewEntry     `json:"current_cycle_reviews,omitempty"`
	UserFeedbackHistory []FeedbackPayload `json:"user_feedback_history,omitempty"`
	LastEventSequence   uint64            `json:"last_event_sequence"`
	UpdatedAt           time.Time         `json:"updated_at"`

	agg *Aggregate
}

// NewView returns an empty projection.
func NewView() *View {
	return &View{agg: NewAggregate()}
}

// Apply folds one persisted event into the projection.
func (v *View) Apply(ev Event, sequence uint64) {
	v.agg.Apply(ev)
	if v.agg.Data != nil {
		v.Workflow = *v.agg.Data
	}
	v.LastEventSequence = sequence
	v.UpdatedAt = ev.At

	switch ev.Type {
	case EvReviewCycleStarted, EvRevisionCompleted:
		v.CurrentCycleReviews = nil
	case EvReviewerApproved:
		if ev.Reviewer != nil {
			v.CurrentCycleReviews = append(v.CurrentCycleReviews, ReviewEntry{
				Reviewer: ev.Reviewer.Reviewer,
				Approved: true,
				Feedback: ev.Reviewer.Feedback,
				At:       ev.At,
			})
		}
	case EvReviewerRejected:
		if ev.Reviewer != nil {
			v.CurrentCycleReviews = append(v.CurrentCycleReviews, ReviewEntry{
				Reviewer: ev.Reviewer.Reviewer,
				Approved: false,
				Feedback: ev.Reviewer.Feedback,
				At:       ev.At,
			})
		}
	case EvUserFeedbackRecorded:
		if ev.Feedback != nil {
			v.UserFeedbackHistory = append(v.UserFeedbackHistory, *ev.Feedback)
		}
	}
}

// Initialized reports whether the projection has seen a created workflow.
func (v *View) Initialized() bool { return v.agg.Initialized() }

// Snapshot returns a self-contained copy safe to publish to subscribers
// while the view keeps mutating.
func (v *View) Snapshot() View {
	out := View{
		Workflow:          v.Workflow,
		LastEventSequence: v.LastEventSequence,
		UpdatedAt:         v.UpdatedAt,
	}
	if len(v.CurrentCycleReviews) > 0 {
		out.CurrentCycleReviews = append([]ReviewEntry(nil), v.CurrentCycleReviews...)
	}
	if len(v.UserFeedbackHistory) > 0 {
		out.UserFeedbackHistory = append([]FeedbackPayload(nil), v.UserFeedbackHistory...)
	}
	return out
}
