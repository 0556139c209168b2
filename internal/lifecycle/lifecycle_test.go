package lifecycle

import (
	"errors"
	"testing"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

func TestIngestionPath(t *testing.T) {
	cases := []struct {
		from  string
		event Event
		want  string
	}{
		{domain.TaskOpen, SignatureVerified, domain.TaskVerifying},
		{domain.TaskOpen, SignatureRejected, domain.TaskRejected},
		{domain.TaskVerifying, AnalysisViable, domain.TaskMatching},
		{domain.TaskVerifying, AnalysisFlagged, domain.TaskFlagged},
		{domain.TaskVerifying, AnalysisFailed, domain.TaskManualReview},
		{domain.TaskMatching, FundsLocked, domain.TaskAssigned},
		{domain.TaskOpen, FundsLocked, domain.TaskAssigned},
		{domain.TaskAssigned, WorkStarted, domain.TaskInProgress},
		{domain.TaskAssigned, ProofSubmitted, domain.TaskReview},
		{domain.TaskReview, ProofRejected, domain.TaskInProgress},
		{domain.TaskReview, ProofApproved, domain.TaskReview},
		{domain.TaskReview, FundsReleased, domain.TaskCompleted},
		{domain.TaskInProgress, DisputeOpened, domain.TaskDisputed},
		{domain.TaskDisputed, DisputeOpened, domain.TaskDisputed},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.event)
		if err != nil {
			t.Fatalf("%s on %s: %v", tc.event, tc.from, err)
		}
		if got != tc.want {
			t.Fatalf("%s on %s: got %s want %s", tc.event, tc.from, got, tc.want)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	cases := []struct {
		from  string
		event Event
	}{
		{domain.TaskVerifying, SignatureVerified},
		{domain.TaskMatching, AnalysisViable},
		{domain.TaskFlagged, FundsLocked},
		{domain.TaskManualReview, FundsLocked},
		{domain.TaskOpen, FundsReleased},
		{domain.TaskMatching, FundsReleased},
		{domain.TaskCompleted, DisputeOpened},
		{domain.TaskRejected, DisputeOpened},
		{domain.TaskCompleted, ProofSubmitted},
		{"unknown", DisputeOpened},
	}
	for _, tc := range cases {
		_, err := Next(tc.from, tc.event)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s on %s: expected ErrInvalidTransition, got %v", tc.event, tc.from, err)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	events := []Event{SignatureVerified, SignatureRejected, AnalysisViable, AnalysisFlagged, AnalysisFailed, FundsLocked,
		WorkStarted, ProofSubmitted, ProofRejected, ProofApproved, FundsReleased, DisputeOpened}
	for _, status := range []string{domain.TaskRejected, domain.TaskCompleted} {
		if !IsTerminal(status) {
			t.Fatalf("%s should be terminal", status)
		}
		for _, evt := range events {
			if next, err := Next(status, evt); err == nil {
				t.Fatalf("%s left terminal %s for %s", evt, status, next)
			}
		}
	}
}
