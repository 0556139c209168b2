package signature

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
)

var (
	ErrAgentNotFound               = errors.New("agent not found or has no public key")
	ErrMissingSignaturePayload     = errors.New("missing signature or metadata (timestamp, nonce)")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
)

// AgentStore resolves registered agents. repo.Repo satisfies it.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (domain.Agent, error)
}

// CanonicalMessage builds the signed string title:agent_id:timestamp:nonce.
// Values are used verbatim.
func CanonicalMessage(title, agentID, timestamp, nonce string) string {
	return title + ":" + agentID + ":" + timestamp + ":" + nonce
}

// VerifyTask checks that the task was signed by the agent it names. It has
// no side effects; callers decide how the task moves on.
func VerifyTask(ctx context.Context, agents AgentStore, t domain.Task) error {
	agentID := ""
	if t.AgentID != nil {
		agentID = strings.TrimSpace(*t.AgentID)
	}
	if agentID == "" {
		return ErrAgentNotFound
	}
	agent, err := agents.GetAgent(ctx, agentID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup agent %s: %w", agentID, err)
	}
	if strings.TrimSpace(agent.PublicKey) == "" {
		return ErrAgentNotFound
	}
	timestamp := t.MetaString("timestamp")
	nonce := t.MetaString("nonce")
	if t.Signature == nil || strings.TrimSpace(*t.Signature) == "" || timestamp == "" || nonce == "" {
		return ErrMissingSignaturePayload
	}
	msg := CanonicalMessage(t.Title, *t.AgentID, timestamp, nonce)
	return Verify(agent.PublicKey, []byte(msg), *t.Signature)
}

// Verify checks a detached Ed25519 signature. Keys and signatures are std base64.
func Verify(publicKeyB64 string, message []byte, sigB64 string) error {
	publicKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(publicKeyB64))
	if err != nil {
		return fmt.Errorf("%w: decode public key", ErrSignatureVerificationFailed)
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigB64))
	if err != nil {
		return fmt.Errorf("%w: decode signature", ErrSignatureVerificationFailed)
	}
	if len(publicKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad key or signature length", ErrSignatureVerificationFailed)
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, sig) {
		return ErrSignatureVerificationFailed
	}
	return nil
}

// Sign returns the std base64 Ed25519 signature of message.
func Sign(privateKeyB64 string, message []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(privateKeyB64))
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return "", fmt.Errorf("private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message)), nil
}

// GenerateKey returns a new key pair, both std base64 encoded.
func GenerateKey() (publicKeyB64, privateKeyB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv), nil
}

// ValidatePublicKey checks that key is a std base64 Ed25519 public key.
func ValidatePublicKey(publicKeyB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(publicKeyB64))
	if err != nil {
		return errors.New("public key is not valid base64")
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
	}
	return nil
}
