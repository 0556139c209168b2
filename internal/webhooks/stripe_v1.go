package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	stripeSignatureHeader  = "Stripe-Signature"
	stripeScheme           = "stripe-v1"
	DefaultStripeTolerance = 300
)

type stripeV1Verifier struct {
	channel          string
	secrets          []string
	toleranceSeconds int
}

// NewStripeV1Verifier checks Stripe-Signature headers against each secret in
// order, so a rotated secret can be listed after the current one.
func NewStripeV1Verifier(channel string, toleranceSeconds int, secrets ...string) Verifier {
	return &stripeV1Verifier{
		channel:          strings.TrimSpace(channel),
		secrets:          nonEmpty(secrets),
		toleranceSeconds: toleranceSeconds,
	}
}

func (v *stripeV1Verifier) Channel() string {
	return v.channel
}

func (v *stripeV1Verifier) Verify(headers http.Header, rawBody []byte, receivedAt time.Time) (VerificationResult, error) {
	if len(v.secrets) == 0 {
		return VerificationResult{}, fmt.Errorf("webhook verifier secret is empty")
	}

	timestamp, signatures := parseStripeSignatureHeader(headers.Values(stripeSignatureHeader))
	timestampUnix, parseErr := strconv.ParseInt(timestamp, 10, 64)
	if parseErr != nil {
		timestampUnix = 0
	}
	skew := 0
	if timestampUnix > 0 {
		skew = int(receivedAt.UTC().Unix() - timestampUnix)
		if skew < 0 {
			skew = -skew
		}
	}

	result := VerificationResult{
		Valid:  false,
		Scheme: stripeScheme,
		Details: map[string]any{
			"signature_header_present": len(strings.TrimSpace(strings.Join(headers.Values(stripeSignatureHeader), ","))) > 0,
			"parsed_timestamp":         timestampUnix,
			"tolerance_seconds":        v.toleranceSeconds,
			"skew_seconds":             skew,
			"v1_present":               len(signatures) > 0,
		},
		EventType: "unknown",
	}
	if !result.Details["signature_header_present"].(bool) || timestampUnix <= 0 || len(signatures) == 0 {
		return result, nil
	}

	matched := -1
	for i, secret := range v.secrets {
		expected := stripeMAC(secret, timestamp, rawBody)
		for _, sigHex := range signatures {
			decoded, err := hex.DecodeString(sigHex)
			if err != nil {
				continue
			}
			if hmac.Equal(expected, decoded) {
				matched = i
				break
			}
		}
		if matched >= 0 {
			break
		}
	}
	if matched < 0 {
		return result, nil
	}
	result.Details["secret_index"] = matched
	if v.toleranceSeconds > 0 && skew > v.toleranceSeconds {
		return result, nil
	}

	result.Valid = true
	var evt struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(rawBody, &evt); err == nil {
		result.ProviderEventID = strings.TrimSpace(evt.ID)
		if t := strings.TrimSpace(evt.Type); t != "" {
			result.EventType = t
		}
	}
	return result, nil
}

func stripeMAC(secret, timestamp string, rawBody []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	signedPayload := append([]byte(timestamp), '.')
	signedPayload = append(signedPayload, rawBody...)
	_, _ = mac.Write(signedPayload)
	return mac.Sum(nil)
}

// StripeSignature renders a Stripe-Signature header value for body.
func StripeSignature(secret string, ts int64, rawBody []byte) string {
	t := strconv.FormatInt(ts, 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(stripeMAC(secret, t, rawBody))
}

func parseStripeSignatureHeader(values []string) (string, []string) {
	joined := strings.TrimSpace(strings.Join(values, ","))
	if joined == "" {
		return "", nil
	}
	var t string
	v1 := make([]string, 0, 2)
	for _, part := range strings.Split(joined, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if k == "t" && t == "" {
			t = val
			continue
		}
		if k == "v1" && val != "" {
			v1 = append(v1, val)
		}
	}
	return t, v1
}
