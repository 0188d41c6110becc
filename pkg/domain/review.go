package domain

import "sort"

// ReviewModeKind selects how reviewers are invoked within a cycle.
type ReviewModeKind string

// Review mode constants.
const (
	ReviewParallel   ReviewModeKind = "parallel"
	ReviewSequential ReviewModeKind = "sequential"
)

// SequentialReviewState tracks progress through a round-robin reviewer
// queue. Each configured reviewer is invoked exactly once per cycle, in
// cycle order; the index advances only after a completed (approved or
// rejected) review.
type SequentialReviewState struct {
	CurrentIndex int `json:"current_index"`
	// PlanVersion increments on every revision; approvals recorded against
	// an older version are stale.
	PlanVersion uint32             `json:"plan_version"`
	Approvals   map[AgentID]uint32 `json:"approvals,omitempty"`
	RunCounts   map[AgentID]uint32 `json:"run_counts,omitempty"`
	CycleOrder  []AgentID          `json:"cycle_order,omitempty"`
	// LastRejecting is the reviewer that rejected the previous plan
	// version; it goes first in the next cycle.
	LastRejecting AgentID `json:"last_rejecting,omitempty"`
}

// NewSequentialReviewState returns the state for a fresh review cycle.
func NewSequentialReviewState() *SequentialReviewState {
	return &SequentialReviewState{
		PlanVersion: 1,
		Approvals:   make(map[AgentID]uint32),
		RunCounts:   make(map[AgentID]uint32),
	}
}

// PlanCycle computes the reviewer order for the next cycle without
// mutating state: ascending run count, with the last rejecting reviewer
// breaking ties toward the front so it re-checks its feedback first.
func (s *SequentialReviewState) PlanCycle(reviewers []AgentID) []AgentID {
	order := make([]AgentID, len(reviewers))
	copy(order, reviewers)
	rejector := s.LastRejecting

	sort.SliceStable(order, func(i, j int) bool {
		ci, cj := s.RunCount(order[i]), s.RunCount(order[j])
		if ci != cj {
			return ci < cj
		}
		if order[i] == rejector {
			return true
		}
		return false
	})

	return order
}

// BeginCycle installs a previously planned order and resets the index.
func (s *SequentialReviewState) BeginCycle(order []AgentID) {
	s.CycleOrder = order
	s.CurrentIndex = 0
	s.LastRejecting = ""
}

// StartCycle plans and begins a new cycle in one step.
func (s *SequentialReviewState) StartCycle(reviewers []AgentID) {
	s.BeginCycle(s.PlanCycle(reviewers))
}

// CurrentReviewer returns the reviewer whose turn it is, or "" when the
// cycle order is exhausted or not yet computed.
func (s *SequentialReviewState) CurrentReviewer() AgentID {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.CycleOrder) {
		return ""
	}
	return s.CycleOrder[s.CurrentIndex]
}

// RecordApproval notes that reviewer approved the current plan version
// and advances to the next reviewer.
func (s *SequentialReviewState) RecordApproval(reviewer AgentID) {
	if s.Approvals == nil {
		s.Approvals = make(map[AgentID]uint32)
	}
	s.Approvals[reviewer] = s.PlanVersion
	s.bumpRunCount(reviewer)
	s.CurrentIndex++
}

// RecordRejection notes the rejecting reviewer and advances; the cycle
// verdict is aggregated by the caller once the cycle completes.
func (s *SequentialReviewState) RecordRejection(reviewer AgentID) {
	s.LastRejecting = reviewer
	s.bumpRunCount(reviewer)
	s.CurrentIndex++
}

// CycleComplete reports whether every reviewer in the cycle order has
// completed a review.
func (s *SequentialReviewState) CycleComplete() bool {
	return len(s.CycleOrder) > 0 && s.CurrentIndex >= len(s.CycleOrder)
}

// AllApproved reports whether every given reviewer approved the current
// plan version.
func (s *SequentialReviewState) AllApproved(reviewers []AgentID) bool {
	for _, r := range reviewers {
		if s.Approvals[r] != s.PlanVersion {
			return false
		}
	}
	return len(reviewers) > 0
}

// IncrementVersion bumps the plan version after a revision and drops
// stale approvals.
func (s *SequentialReviewState) IncrementVersion() {
	s.PlanVersion++
	s.Approvals = make(map[AgentID]uint32)
}

// ClearCycleOrder forces the next cycle to recompute reviewer order.
func (s *SequentialReviewState) ClearCycleOrder() {
	s.CycleOrder = nil
	s.CurrentIndex = 0
}

// RunCount returns how many reviews the reviewer has run in total.
func (s *SequentialReviewState) RunCount(reviewer AgentID) uint32 {
	return s.RunCounts[reviewer]
}

func (s *SequentialReviewState) bumpRunCount(reviewer AgentID) {
	if s.RunCounts == nil {
		s.RunCounts = make(map[AgentID]uint32)
	}
	s.RunCounts[reviewer]++
}
