package daemon

import (
	"fmt"

	"weave/pkg/domain"
)

// Wire error codes. Responses carry one of these alongside the message
// so clients can branch without string matching.
const (
	CodeSessionNotFound      = "session_not_found"
	CodeAlreadyRegistered    = "already_registered"
	CodeShuttingDown         = "shutting_down"
	CodeAuthenticationFailed = "authentication_failed"
	CodeFileNotFound         = "file_not_found"
	CodePermissionDenied     = "permission_denied"
	CodeInternal             = "internal"
)

// SessionNotFoundError reports an operation against an unknown session.
type SessionNotFoundError struct {
	SessionID domain.WorkflowID
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// AlreadyRegisteredError reports a registration collision: the session
// id is held by a different live process.
type AlreadyRegisteredError struct {
	SessionID   domain.WorkflowID
	ExistingPID int
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("session %s already registered by pid %d", e.SessionID, e.ExistingPID)
}

// ShuttingDownError reports a request that arrived during shutdown.
type ShuttingDownError struct{}

func (e *ShuttingDownError) Error() string { return "daemon is shutting down" }

// AuthenticationFailedError reports a missing or wrong token.
type AuthenticationFailedError struct{}

func (e *AuthenticationFailedError) Error() string { return "authentication failed" }

// FileNotFoundError reports a missing session file.
type FileNotFoundError struct {
	Name string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("session file %q not found", e.Name)
}

// PermissionDeniedError reports a file name that escapes the session's
// directory or is otherwise malformed.
type PermissionDeniedError struct {
	Name string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("access to %q denied", e.Name)
}

// errorCode maps a service error to its wire code.
func errorCode(err error) string {
	switch err.(type) {
	case *SessionNotFoundError:
		return CodeSessionNotFound
	case *AlreadyRegisteredError:
		return CodeAlreadyRegistered
	case *ShuttingDownError:
		return CodeShuttingDown
	case *AuthenticationFailedError:
		return CodeAuthenticationFailed
	case *FileNotFoundError:
		return CodeFileNotFound
	case *PermissionDeniedError:
		return CodePermissionDenied
	default:
		return CodeInternal
	}
}
