package domain

import "time"

// MaxFailureHistory bounds the per-workflow failure history. Oldest
// entries are evicted first.
const MaxFailureHistory = 50

// FailureKind classifies agent and workflow failures.
type FailureKind string

// Failure kind constants.
const (
	FailureTimeout            FailureKind = "timeout"
	FailureNetwork            FailureKind = "network"
	FailureProcessExit        FailureKind = "process_exit"
	FailureParse              FailureKind = "parse_failure"
	FailureEmptyOutput        FailureKind = "empty_output"
	FailureAllReviewersFailed FailureKind = "all_reviewers_failed"
	FailureUnknown            FailureKind = "unknown"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureNetwork, FailureEmptyOutput, FailureAllReviewersFailed:
		return true
	default:
		return false
	}
}

// RecoveryAction is what the orchestration layer should do about a failure.
type RecoveryAction string

// Recovery action constants.
const (
	RecoveryRetry                 RecoveryAction = "retry"
	RecoveryEscalate              RecoveryAction = "escalate"
	RecoveryAbort                 RecoveryAction = "abort"
	RecoveryContinueWithoutReview RecoveryAction = "continue_without_review"
)

// FailureContext captures one failure for the bounded history.
type FailureContext struct {
	Kind       FailureKind    `json:"kind"`
	Phase      PhaseLabel     `json:"phase"`
	Agent      AgentID        `json:"agent,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	ExitCode   int            `json:"exit_code,omitempty"`
	RetryCount uint32         `json:"retry_count"`
	MaxRetries uint32         `json:"max_retries"`
	FailedAt   time.Time      `json:"failed_at"`
	Recovery   RecoveryAction `json:"recovery,omitempty"` // set after the user decides
}

// CanRetry reports whether another attempt is allowed by the kind and the
// retry budget.
func (f FailureContext) CanRetry() bool {
	return f.Kind.Retryable() && f.RetryCount < f.MaxRetries
}

// AllReviewersFailedAction is the configured policy response when every
// reviewer fails after retries.
type AllReviewersFailedAction string

// All-reviewers-failed action constants.
const (
	OnAllReviewersAbort    AllReviewersFailedAction = "abort"
	OnAllReviewersEscalate AllReviewersFailedAction = "escalate"
	OnAllReviewersContinue AllReviewersFailedAction = "continue_without_review"
)

// FailurePolicy maps failures to recovery actions.
type FailurePolicy struct {
	MaxRetries           uint32                   `json:"max_retries" yaml:"max_retries"`
	BackoffSecs          uint32                   `json:"backoff_secs" yaml:"backoff_secs"`
	OnAllReviewersFailed AllReviewersFailedAction `json:"on_all_reviewers_failed" yaml:"on_all_reviewers_failed"`
}

// DefaultFailurePolicy returns the stock policy: two retries with a 5s
// backoff base, aborting when all reviewers fail.
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{
		MaxRetries:           2,
		BackoffSecs:          5,
		OnAllReviewersFailed: OnAllReviewersAbort,
	}
}

// Decide recommends a recovery action for the failure. The aggregate only
// records failures; acting on the recommendation is the caller's job.
func (p FailurePolicy) Decide(f FailureContext) RecoveryAction {
	if f.CanRetry() {
		return RecoveryRetry
	}
	if f.Kind == FailureAllReviewersFailed {
		switch p.OnAllReviewersFailed {
		case OnAllReviewersContinue:
			return RecoveryContinueWithoutReview
		case OnAllReviewersEscalate:
			return RecoveryEscalate
		default:
			return RecoveryAbort
		}
	}
	return RecoveryEscalate
}

// Backoff returns the wait before retry attempt n (1-indexed), scaling
// linearly with the attempt number.
func (p FailurePolicy) Backoff(attempt uint32) time.Duration {
	if attempt == 0 {
		attempt = 1
	}
	return time.Duration(p.BackoffSecs) * time.Duration(attempt) * time.Second
}
