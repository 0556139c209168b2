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
	viabilityMarker = "TASK VIABILITY ANALYSIS"

	DefaultViabilityTimeout = 30 * time.Second
	DefaultSafetyThreshold  = 70
)

// Viability is the model's assessment of a new task.
type Viability struct {
	Viable      bool     `json:"viable"`
	SafetyScore float64  `json:"safety_score"`
	Complexity  string   `json:"complexity,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Approved reports whether the task may be offered to workers.
func (v Viability) Approved(threshold int) bool {
	return v.Viable && v.SafetyScore > float64(threshold)
}

// ViabilityAnalyzer scores a task for safety and feasibility.
type ViabilityAnalyzer struct {
	Client    Client
	Timeout   time.Duration
	Threshold int
}

// Analyze asks the model for a viability verdict. Timeouts, transport
// errors and malformed output are all returned as errors.
func (a ViabilityAnalyzer) Analyze(ctx context.Context, t domain.Task) (Viability, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultViabilityTimeout
	}
	text, err := generateWithTimeout(ctx, a.Client, ViabilityPrompt(t), timeout)
	if err != nil {
		return Viability{}, err
	}
	return ParseViability(text)
}

// ParseViability decodes model output, requiring a boolean viable and a
// numeric safety_score.
func ParseViability(text string) (Viability, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return Viability{}, fmt.Errorf("%w: %v", ErrInvalidAIResponse, err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Viability{}, fmt.Errorf("%w: %v", ErrInvalidAIResponse, err)
	}
	viable, ok := fields["viable"].(bool)
	if !ok {
		return Viability{}, fmt.Errorf("%w: viable must be a boolean", ErrInvalidAIResponse)
	}
	score, ok := fields["safety_score"].(float64)
	if !ok {
		return Viability{}, fmt.Errorf("%w: safety_score must be a number", ErrInvalidAIResponse)
	}
	v := Viability{Viable: viable, SafetyScore: score}
	if s, ok := fields["complexity"].(string); ok {
		v.Complexity = s
	}
	if s, ok := fields["reasoning"].(string); ok {
		v.Reasoning = s
	}
	if tags, ok := fields["tags"].([]any); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				v.Tags = append(v.Tags, s)
			}
		}
	}
	return v, nil
}

// ViabilityPrompt renders the fixed-schema analysis prompt for t.
func ViabilityPrompt(t domain.Task) string {
	var b strings.Builder
	b.WriteString(viabilityMarker)
	b.WriteString("\nYou screen tasks that people will perform in the physical world for an automated requester.\n")
	b.WriteString("Assess legality, physical safety and feasibility of the task below.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", t.Title)
	fmt.Fprintf(&b, "Description: %s\n", t.Description)
	fmt.Fprintf(&b, "Type: %s\n", t.TaskType)
	fmt.Fprintf(&b, "Budget: %.2f %s\n\n", t.BudgetAmount, strings.ToUpper(t.BudgetCurrency))
	b.WriteString("Respond with strict JSON only, no prose, matching:\n")
	b.WriteString(`{"viable": boolean, "safety_score": integer 0-100, "complexity": "low"|"medium"|"high", "reasoning": string of at most 100 characters, "tags": array of 2 to 4 short strings}`)
	b.WriteString("\n")
	return b.String()
}
