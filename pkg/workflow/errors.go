package workflow

import (
	"fmt"

	"weave/pkg/domain"
)

// InvalidTransitionError reports a command the state machine rejected.
// The aggregate is unchanged; the caller may retry with a different
// command.
type InvalidTransitionError struct {
	Command CommandType
	Phase   domain.Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: command %s not allowed in phase %s", e.Command, e.Phase)
}

// NotInitializedError reports a command issued before CreateWorkflow.
type NotInitializedError struct {
	Command CommandType
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("workflow not initialized: command %s requires a created workflow", e.Command)
}

// MalformedCommandError reports a command missing its required payload.
type MalformedCommandError struct {
	Command CommandType
	Missing string
}

func (e *MalformedCommandError) Error() string {
	return fmt.Sprintf("malformed command %s: missing %s payload", e.Command, e.Missing)
}

// StorageError wraps an I/O failure in the durability layer. In-memory
// state is unchanged when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConflictError reports an optimistic concurrency violation: the log has
// advanced past the sequence the writer expected. The caller should
// reload and retry.
type ConflictError struct {
	AggregateID domain.WorkflowID
	Expected    uint64
	Found       uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s: expected sequence %d, log is at %d",
		e.AggregateID, e.Expected, e.Found)
}
