package signature

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
)

type agentMap map[string]domain.Agent

func (m agentMap) GetAgent(_ context.Context, id string) (domain.Agent, error) {
	a, ok := m[id]
	if !ok {
		return domain.Agent{}, repo.ErrNotFound
	}
	return a, nil
}

func strPtr(s string) *string { return &s }

func signedTask(t *testing.T) (domain.Task, agentMap) {
	t.Helper()
	pub, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := CanonicalMessage("Deliver package", "agent-7", "1714557600123", "abc123")
	sig, err := Sign(priv, []byte(msg))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	task := domain.Task{
		ID:        "task-1",
		Title:     "Deliver package",
		AgentID:   strPtr("agent-7"),
		Signature: strPtr(sig),
		Metadata:  map[string]any{"timestamp": float64(1714557600123), "nonce": "abc123"},
	}
	return task, agentMap{"agent-7": {ID: "agent-7", PublicKey: pub}}
}

func TestVerifyTaskHappyPathIsDeterministic(t *testing.T) {
	task, agents := signedTask(t)
	for i := 0; i < 3; i++ {
		if err := VerifyTask(context.Background(), agents, task); err != nil {
			t.Fatalf("VerifyTask run %d: %v", i, err)
		}
	}
}

func TestVerifyTaskAcceptsStringTimestamp(t *testing.T) {
	task, agents := signedTask(t)
	task.Metadata["timestamp"] = "1714557600123"
	if err := VerifyTask(context.Background(), agents, task); err != nil {
		t.Fatalf("VerifyTask: %v", err)
	}
}

func flipFirstByte(s string) string {
	b := []byte(s)
	b[0] ^= 0x01
	return string(b)
}

func TestVerifyTaskSingleByteTamper(t *testing.T) {
	cases := map[string]func(task *domain.Task, agents agentMap){
		"title": func(task *domain.Task, _ agentMap) { task.Title = flipFirstByte(task.Title) },
		"agent_id": func(task *domain.Task, agents agentMap) {
			tampered := flipFirstByte(*task.AgentID)
			agents[tampered] = agents[*task.AgentID]
			task.AgentID = &tampered
		},
		"timestamp": func(task *domain.Task, _ agentMap) { task.Metadata["timestamp"] = "0714557600123" },
		"nonce":     func(task *domain.Task, _ agentMap) { task.Metadata["nonce"] = flipFirstByte("abc123") },
		"signature": func(task *domain.Task, _ agentMap) {
			raw, _ := base64.StdEncoding.DecodeString(*task.Signature)
			raw[10] ^= 0x01
			sig := base64.StdEncoding.EncodeToString(raw)
			task.Signature = &sig
		},
	}
	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			task, agents := signedTask(t)
			tamper(&task, agents)
			err := VerifyTask(context.Background(), agents, task)
			if !errors.Is(err, ErrSignatureVerificationFailed) {
				t.Fatalf("expected verification failure, got %v", err)
			}
		})
	}
}

func TestVerifyTaskErrors(t *testing.T) {
	task, agents := signedTask(t)

	unknown := task
	unknown.AgentID = strPtr("agent-unknown")
	if err := VerifyTask(context.Background(), agents, unknown); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}

	keyless := agentMap{"agent-7": {ID: "agent-7"}}
	if err := VerifyTask(context.Background(), keyless, task); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound for missing key, got %v", err)
	}

	unsigned := task
	unsigned.Signature = nil
	if err := VerifyTask(context.Background(), agents, unsigned); !errors.Is(err, ErrMissingSignaturePayload) {
		t.Fatalf("expected ErrMissingSignaturePayload, got %v", err)
	}

	noNonce := task
	noNonce.Metadata = map[string]any{"timestamp": "1714557600123"}
	if err := VerifyTask(context.Background(), agents, noNonce); !errors.Is(err, ErrMissingSignaturePayload) {
		t.Fatalf("expected ErrMissingSignaturePayload, got %v", err)
	}

	garbage := task
	garbage.Signature = strPtr("not base64!!")
	if err := VerifyTask(context.Background(), agents, garbage); !errors.Is(err, ErrSignatureVerificationFailed) {
		t.Fatalf("expected ErrSignatureVerificationFailed, got %v", err)
	}
}

func TestValidatePublicKey(t *testing.T) {
	pub, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := ValidatePublicKey(pub); err != nil {
		t.Fatalf("generated key rejected: %v", err)
	}
	if err := ValidatePublicKey(priv); err == nil {
		t.Fatalf("private key accepted as public key")
	}
	if err := ValidatePublicKey("%%%"); err == nil {
		t.Fatalf("garbage accepted")
	}
}
