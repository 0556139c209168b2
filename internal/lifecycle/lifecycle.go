// Package lifecycle owns the allowed moves of a task's status field.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

type Event string

const (
	SignatureVerified Event = "signature_verified"
	SignatureRejected Event = "signature_rejected"
	AnalysisViable    Event = "analysis_viable"
	AnalysisFlagged   Event = "analysis_flagged"
	AnalysisFailed    Event = "analysis_failed"
	FundsLocked       Event = "funds_locked"
	WorkStarted       Event = "work_started"
	ProofSubmitted    Event = "proof_submitted"
	ProofRejected     Event = "proof_rejected"
	ProofApproved     Event = "proof_approved"
	FundsReleased     Event = "funds_released"
	DisputeOpened     Event = "dispute_opened"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

// TransitionError names the rejected (status, event) pair.
type TransitionError struct {
	From  string
	Event Event
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition: %s on %s", e.Event, e.From)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

// Next returns the status reached from current on event.
func Next(current string, event Event) (string, error) {
	switch event {
	case SignatureVerified:
		if current == domain.TaskOpen {
			return domain.TaskVerifying, nil
		}
	case SignatureRejected:
		if current == domain.TaskOpen {
			return domain.TaskRejected, nil
		}
	case AnalysisViable:
		if current == domain.TaskVerifying {
			return domain.TaskMatching, nil
		}
	case AnalysisFlagged:
		if current == domain.TaskVerifying {
			return domain.TaskFlagged, nil
		}
	case AnalysisFailed:
		if current == domain.TaskVerifying {
			return domain.TaskManualReview, nil
		}
	case FundsLocked:
		if IsLockable(current) {
			return domain.TaskAssigned, nil
		}
	case WorkStarted:
		if current == domain.TaskAssigned || current == domain.TaskInProgress {
			return domain.TaskInProgress, nil
		}
	case ProofSubmitted:
		if isWorking(current) {
			return domain.TaskReview, nil
		}
	case ProofRejected:
		if current == domain.TaskReview {
			return domain.TaskInProgress, nil
		}
	case ProofApproved:
		if current == domain.TaskReview {
			return domain.TaskReview, nil
		}
	case FundsReleased:
		if isWorking(current) {
			return domain.TaskCompleted, nil
		}
	case DisputeOpened:
		if !IsTerminal(current) && isKnown(current) {
			return domain.TaskDisputed, nil
		}
	}
	return "", TransitionError{From: current, Event: event}
}

// IsLockable reports whether funds may be locked for a task in status.
func IsLockable(status string) bool {
	return status == domain.TaskOpen || status == domain.TaskMatching
}

// IsTerminal reports whether no further transitions leave status.
func IsTerminal(status string) bool {
	return status == domain.TaskRejected || status == domain.TaskCompleted
}

func isWorking(status string) bool {
	switch status {
	case domain.TaskAssigned, domain.TaskInProgress, domain.TaskReview:
		return true
	}
	return false
}

func isKnown(status string) bool {
	switch status {
	case domain.TaskOpen, domain.TaskVerifying, domain.TaskMatching, domain.TaskFlagged, domain.TaskManualReview,
		domain.TaskRejected, domain.TaskAssigned, domain.TaskInProgress, domain.TaskReview, domain.TaskCompleted,
		domain.TaskDisputed:
		return true
	}
	return false
}
