package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

const (
	disputeMarker = "ESCROW DISPUTE SUMMARY"

	DefaultDisputeTimeout = 20 * time.Second
)

// DisputeInput carries what the summarizer sees about a dispute.
type DisputeInput struct {
	Task        domain.Task
	Escrow      domain.EscrowTransaction
	Proofs      []domain.TaskProof
	InitiatorID string
	Reason      string
}

// DisputeSummarizer produces advisory output for human mediators.
type DisputeSummarizer struct {
	Client  Client
	Timeout time.Duration
}

func (s DisputeSummarizer) Summarize(ctx context.Context, in DisputeInput) (*domain.DisputeSummary, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultDisputeTimeout
	}
	text, err := generateWithTimeout(ctx, s.Client, DisputePrompt(in), timeout)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAIResponse, err)
	}
	var out domain.DisputeSummary
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAIResponse, err)
	}
	if out.Severity == "" || out.RecommendedAction == "" {
		return nil, fmt.Errorf("%w: severity and recommended_action required", ErrInvalidAIResponse)
	}
	if out.KeyPoints == nil {
		out.KeyPoints = []string{}
	}
	return &out, nil
}

func DisputePrompt(in DisputeInput) string {
	var b strings.Builder
	b.WriteString(disputeMarker)
	b.WriteString("\nSummarize this escrow dispute for a human mediator.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", in.Task.Title)
	fmt.Fprintf(&b, "Description: %s\n", in.Task.Description)
	fmt.Fprintf(&b, "Amount held: %.2f %s\n", float64(in.Escrow.GrossAmount)/100, strings.ToUpper(in.Escrow.Currency))
	role := "worker"
	if in.InitiatorID == in.Task.RequesterID {
		role = "requester"
	}
	fmt.Fprintf(&b, "Opened by: %s\n", role)
	fmt.Fprintf(&b, "Reason: %s\n", in.Reason)
	fmt.Fprintf(&b, "Proofs submitted: %d\n", len(in.Proofs))
	for _, p := range in.Proofs {
		fmt.Fprintf(&b, "- [%s] %s (%s)", p.Status, p.Title, p.ProofType)
		if p.AIValidation != nil {
			fmt.Fprintf(&b, " ai_valid=%t confidence=%d", p.AIValidation.Valid, p.AIValidation.Confidence)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with strict JSON only:\n")
	b.WriteString(`{"severity": "low"|"medium"|"high", "recommended_action": string, "key_points": array of strings, "evidence_quality": "strong"|"partial"|"weak"|"none"}`)
	b.WriteString("\n")
	return b.String()
}
