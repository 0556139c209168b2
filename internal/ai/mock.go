package ai

import (
	"context"
	"strings"
	"time"
)

// MockClient answers prompts without a network call. Respond overrides the
// canned answers; Delay simulates a slow model and honours cancellation.
type MockClient struct {
	Respond func(prompt string) (string, error)
	Delay   time.Duration
}

func (m *MockClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Respond != nil {
		return m.Respond(prompt)
	}
	switch {
	case strings.Contains(prompt, viabilityMarker):
		return `{"viable": true, "safety_score": 85, "complexity": "low", "reasoning": "Routine errand", "tags": ["errand", "local"]}`, nil
	case strings.Contains(prompt, proofMarker):
		return `{"valid": true, "confidence": 60, "issues": [], "summary": "Evidence appears consistent with the task"}`, nil
	case strings.Contains(prompt, disputeMarker):
		return `{"severity": "medium", "recommended_action": "review_evidence", "key_points": ["Parties disagree on completion"], "evidence_quality": "partial"}`, nil
	}
	return "{}", nil
}
