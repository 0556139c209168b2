package webhooks

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	TasksSecretHeader  = "X-Webhook-Secret"
	sharedSecretScheme = "shared-secret"
)

type sharedSecretVerifier struct {
	channel string
	header  string
	secrets []string
}

// NewSharedSecretVerifier accepts deliveries whose header equals one of
// secrets. Comparison is constant time.
func NewSharedSecretVerifier(channel, header string, secrets ...string) Verifier {
	return &sharedSecretVerifier{
		channel: strings.TrimSpace(channel),
		header:  header,
		secrets: nonEmpty(secrets),
	}
}

func (v *sharedSecretVerifier) Channel() string {
	return v.channel
}

func (v *sharedSecretVerifier) Verify(headers http.Header, _ []byte, _ time.Time) (VerificationResult, error) {
	if len(v.secrets) == 0 {
		return VerificationResult{}, fmt.Errorf("webhook verifier secret is empty")
	}
	provided := headers.Get(v.header)
	res := VerificationResult{
		Scheme: sharedSecretScheme,
		Details: map[string]any{
			"used_header":    v.header,
			"header_present": provided != "",
		},
		EventType: "unknown",
	}
	if provided == "" {
		return res, nil
	}
	for i, secret := range v.secrets {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1 {
			res.Valid = true
			res.Details["secret_index"] = i
			break
		}
	}
	return res, nil
}
