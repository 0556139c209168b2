package engine

import (
	"errors"
	"fmt"

	"github.com/ferangarita01/rentman-sub000/internal/repo"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidState         = errors.New("invalid state")
	ErrProofsIncomplete     = errors.New("proofs incomplete")
	ErrProofsRejected       = errors.New("proofs rejected")
	ErrPayoutAccountMissing = errors.New("payout account missing")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthorizationError indicates the caller is not a party allowed to act.
type AuthorizationError struct {
	Message string
}

func (e AuthorizationError) Error() string { return e.Message }

func (e AuthorizationError) Unwrap() error { return ErrUnauthorized }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// StateConflictError means the operation is not valid for the current
// state. Reason is one of the sentinel errors above or a lifecycle error.
type StateConflictError struct {
	Reason  error
	Message string
}

func (e StateConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Reason.Error()
}

func (e StateConflictError) Unwrap() error { return e.Reason }

// PaymentProcessorError wraps a gateway failure.
type PaymentProcessorError struct {
	Op   string
	Code string
	Type string
	Err  error
}

func (e PaymentProcessorError) Error() string {
	return fmt.Sprintf("payment %s failed: %v", e.Op, e.Err)
}

func (e PaymentProcessorError) Unwrap() error { return e.Err }

// SignatureError records why an agent task was rejected at intake.
type SignatureError struct {
	TaskID string
	Err    error
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("task %s rejected: %v", e.TaskID, e.Err)
}

func (e SignatureError) Unwrap() error { return e.Err }

// AIAnalysisError is recorded when viability analysis gives up on a task.
// It never reaches an HTTP caller.
type AIAnalysisError struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e AIAnalysisError) Error() string {
	return fmt.Sprintf("analysis of task %s failed after %d attempt(s): %v", e.TaskID, e.Attempts, e.Err)
}

func (e AIAnalysisError) Unwrap() error { return e.Err }

func conflict(reason error, format string, args ...any) error {
	return StateConflictError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
