// Package webhooks authenticates inbound webhook deliveries per channel.
package webhooks

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Channel names.
const (
	ChannelStripe = "stripe"
	ChannelTasks  = "tasks"
)

type VerificationResult struct {
	Valid           bool           `json:"valid"`
	Scheme          string         `json:"scheme"`
	Details         map[string]any `json:"details"`
	ProviderEventID string         `json:"provider_event_id,omitempty"`
	EventType       string         `json:"event_type,omitempty"`
}

// Verifier checks a raw delivery. Secrets are bound when the verifier is
// built; a non-nil error means the verifier itself is misconfigured.
type Verifier interface {
	Channel() string
	Verify(headers http.Header, rawBody []byte, receivedAt time.Time) (VerificationResult, error)
}

// Registry resolves the verifier for a channel.
type Registry map[string]Verifier

func NewRegistry(verifiers ...Verifier) Registry {
	r := Registry{}
	for _, v := range verifiers {
		r[v.Channel()] = v
	}
	return r
}

func (r Registry) Verify(channel string, headers http.Header, rawBody []byte, receivedAt time.Time) (VerificationResult, error) {
	v, ok := r[channel]
	if !ok {
		return VerificationResult{}, fmt.Errorf("no verifier for channel %q", channel)
	}
	return v.Verify(headers, rawBody, receivedAt)
}

func nonEmpty(secrets []string) []string {
	out := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
