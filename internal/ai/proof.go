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
	proofMarker = "PROOF OF WORK VALIDATION"

	DefaultProofTimeout = 20 * time.Second
)

// FallbackValidation is attached whenever the model cannot be used.
func FallbackValidation() *domain.AIValidation {
	return &domain.AIValidation{
		Valid:      true,
		Confidence: 0,
		Issues:     []string{"AI validation failed"},
		Summary:    "Manual review required",
	}
}

// ProofValidator annotates media proofs with an advisory model verdict.
// It never rejects a proof.
type ProofValidator struct {
	Client  Client
	Timeout time.Duration
}

// Applies reports whether p is eligible for model validation.
func (v ProofValidator) Applies(p domain.TaskProof) bool {
	if p.ProofType != domain.ProofPhoto && p.ProofType != domain.ProofVideo {
		return false
	}
	return p.FileURL != nil && strings.TrimSpace(*p.FileURL) != ""
}

// Validate returns nil for ineligible proofs and the safe fallback on any failure.
func (v ProofValidator) Validate(ctx context.Context, t domain.Task, p domain.TaskProof) *domain.AIValidation {
	if !v.Applies(p) {
		return nil
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultProofTimeout
	}
	text, err := generateWithTimeout(ctx, v.Client, ProofPrompt(t, p), timeout)
	if err != nil {
		return FallbackValidation()
	}
	res, err := ParseValidation(text)
	if err != nil {
		return FallbackValidation()
	}
	return res
}

func ParseValidation(text string) (*domain.AIValidation, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var out struct {
		Valid      *bool    `json:"valid"`
		Confidence float64  `json:"confidence"`
		Issues     []string `json:"issues"`
		Summary    string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out.Valid == nil {
		return nil, fmt.Errorf("%w: valid missing", ErrInvalidAIResponse)
	}
	confidence := int(out.Confidence)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	issues := out.Issues
	if issues == nil {
		issues = []string{}
	}
	return &domain.AIValidation{
		Valid:      *out.Valid,
		Confidence: confidence,
		Issues:     issues,
		Summary:    out.Summary,
	}, nil
}

func ProofPrompt(t domain.Task, p domain.TaskProof) string {
	var b strings.Builder
	b.WriteString(proofMarker)
	b.WriteString("\nA worker submitted evidence that they completed a task. Judge whether the evidence matches the requirements.\n\n")
	fmt.Fprintf(&b, "Task title: %s\n", t.Title)
	fmt.Fprintf(&b, "Task description: %s\n", t.Description)
	fmt.Fprintf(&b, "Task type: %s\n", t.TaskType)
	fmt.Fprintf(&b, "Proof type: %s\n", p.ProofType)
	fmt.Fprintf(&b, "Proof title: %s\n", p.Title)
	fmt.Fprintf(&b, "Proof description: %s\n", p.Description)
	fmt.Fprintf(&b, "File URL: %s\n\n", strings.TrimSpace(*p.FileURL))
	b.WriteString("Respond with strict JSON only:\n")
	b.WriteString(`{"valid": boolean, "confidence": integer 0-100, "issues": array of strings, "summary": string}`)
	b.WriteString("\n")
	return b.String()
}
