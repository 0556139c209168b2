package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

func fixed(text string, err error) *MockClient {
	return &MockClient{Respond: func(string) (string, error) { return text, err }}
}

func TestParseViability(t *testing.T) {
	v, err := ParseViability("Analysis follows:\n```json\n{\"viable\": true, \"safety_score\": 71, \"complexity\": \"low\", \"reasoning\": \"ok\", \"tags\": [\"a\", \"b\"]}\n```")
	if err != nil {
		t.Fatalf("ParseViability: %v", err)
	}
	if !v.Viable || v.SafetyScore != 71 || len(v.Tags) != 2 {
		t.Fatalf("unexpected viability: %+v", v)
	}
	if !v.Approved(70) {
		t.Fatalf("71 should pass threshold 70")
	}
	v.SafetyScore = 70
	if v.Approved(70) {
		t.Fatalf("threshold is exclusive")
	}

	for _, bad := range []string{
		"I cannot help with that.",
		`{"safety_score": 90}`,
		`{"viable": "yes", "safety_score": 90}`,
		`{"viable": true, "safety_score": "90"}`,
		`{"viable": true}`,
	} {
		if _, err := ParseViability(bad); !errors.Is(err, ErrInvalidAIResponse) {
			t.Fatalf("%q: expected ErrInvalidAIResponse, got %v", bad, err)
		}
	}
}

func TestViabilityAnalyzerTimeout(t *testing.T) {
	a := ViabilityAnalyzer{Client: &MockClient{Delay: 500 * time.Millisecond}, Timeout: 20 * time.Millisecond}
	start := time.Now()
	_, err := a.Analyze(context.Background(), domain.Task{Title: "slow"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Fatalf("analyzer waited for the late result")
	}
}

func TestViabilityAnalyzerUsesModelOutput(t *testing.T) {
	var seen string
	client := &MockClient{Respond: func(p string) (string, error) {
		seen = p
		return `{"viable": false, "safety_score": 95}`, nil
	}}
	a := ViabilityAnalyzer{Client: client, Timeout: time.Second}
	v, err := a.Analyze(context.Background(), domain.Task{Title: "Walk my dog", TaskType: "errand", BudgetAmount: 12, BudgetCurrency: "usd"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if v.Approved(70) {
		t.Fatalf("non-viable task must not be approved")
	}
	if !strings.Contains(seen, "Title: Walk my dog") || !strings.Contains(seen, "safety_score") {
		t.Fatalf("prompt missing task details: %s", seen)
	}
}

func TestProofValidator(t *testing.T) {
	url := "https://cdn.example.com/p.jpg"
	photo := domain.TaskProof{ProofType: domain.ProofPhoto, Title: "Front door", FileURL: &url}

	v := ProofValidator{Client: fixed(`{"valid": false, "confidence": 140, "issues": ["blurry"], "summary": "Unclear"}`, nil), Timeout: time.Second}
	res := v.Validate(context.Background(), domain.Task{Title: "Photo"}, photo)
	if res == nil || res.Valid || res.Confidence != 100 || res.Issues[0] != "blurry" {
		t.Fatalf("unexpected validation: %+v", res)
	}

	failing := ProofValidator{Client: fixed("", errors.New("network down")), Timeout: time.Second}
	res = failing.Validate(context.Background(), domain.Task{}, photo)
	if res == nil || !res.Valid || res.Confidence != 0 || res.Summary != "Manual review required" {
		t.Fatalf("expected fallback, got %+v", res)
	}

	garbled := ProofValidator{Client: fixed("looks fine to me", nil), Timeout: time.Second}
	if res := garbled.Validate(context.Background(), domain.Task{}, photo); res.Issues[0] != "AI validation failed" {
		t.Fatalf("expected fallback for prose, got %+v", res)
	}

	slow := ProofValidator{Client: &MockClient{Delay: time.Second}, Timeout: 10 * time.Millisecond}
	if res := slow.Validate(context.Background(), domain.Task{}, photo); res.Confidence != 0 || !res.Valid {
		t.Fatalf("expected fallback on timeout, got %+v", res)
	}

	text := domain.TaskProof{ProofType: domain.ProofText, Title: "Done"}
	if res := v.Validate(context.Background(), domain.Task{}, text); res != nil {
		t.Fatalf("text proofs are not validated")
	}
	empty := ""
	video := domain.TaskProof{ProofType: domain.ProofVideo, FileURL: &empty}
	if v.Applies(video) {
		t.Fatalf("empty file url should not apply")
	}
}

func TestDisputeSummarizer(t *testing.T) {
	s := DisputeSummarizer{Client: &MockClient{}, Timeout: time.Second}
	sum, err := s.Summarize(context.Background(), DisputeInput{
		Task:   domain.Task{Title: "Fix fence", RequesterID: "req"},
		Escrow: domain.EscrowTransaction{GrossAmount: 11000, Currency: "usd"},
		Reason: "work incomplete",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Severity == "" || len(sum.KeyPoints) == 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	bad := DisputeSummarizer{Client: fixed(`{"severity": ""}`, nil), Timeout: time.Second}
	if _, err := bad.Summarize(context.Background(), DisputeInput{}); !errors.Is(err, ErrInvalidAIResponse) {
		t.Fatalf("expected ErrInvalidAIResponse, got %v", err)
	}
}

func TestNewClientFactory(t *testing.T) {
	c, err := New(context.Background(), "gemini", "", "")
	if !errors.Is(err, ErrMissingAPIKey) || c != nil {
		t.Fatalf("gemini without api key: client=%T err=%v", c, err)
	}
	c, err = New(context.Background(), "mock", "", "")
	if err != nil {
		t.Fatalf("New mock: %v", err)
	}
	if _, ok := c.(*MockClient); !ok {
		t.Fatalf("expected mock, got %T", c)
	}
	if _, err := New(context.Background(), "other", "", ""); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
