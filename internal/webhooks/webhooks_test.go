package webhooks

import (
	"net/http"
	"testing"
	"time"
)

func TestStripeV1VerifierPrimaryAndFallback(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"payment_intent.succeeded"}`)
	ts := int64(1_700_000_000)
	v := NewStripeV1Verifier(ChannelStripe, DefaultStripeTolerance, "whsec_primary", "whsec_old")

	for _, secret := range []string{"whsec_primary", "whsec_old"} {
		headers := http.Header{}
		headers.Set("Stripe-Signature", StripeSignature(secret, ts, body))
		got, err := v.Verify(headers, body, time.Unix(ts+2, 0))
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !got.Valid {
			t.Fatalf("secret %s should verify", secret)
		}
		if got.ProviderEventID != "evt_123" || got.EventType != "payment_intent.succeeded" {
			t.Fatalf("unexpected event metadata: %#v", got)
		}
	}

	headers := http.Header{}
	headers.Set("Stripe-Signature", StripeSignature("whsec_other", ts, body))
	if got, _ := v.Verify(headers, body, time.Unix(ts, 0)); got.Valid {
		t.Fatalf("unknown secret must not verify")
	}
}

func TestStripeV1VerifierRejectsTamperAndStale(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	ts := int64(1_700_000_000)
	v := NewStripeV1Verifier(ChannelStripe, 300, "whsec")
	headers := http.Header{}
	headers.Set("Stripe-Signature", StripeSignature("whsec", ts, body))

	if got, _ := v.Verify(headers, []byte(`{"id":"evt_2"}`), time.Unix(ts, 0)); got.Valid {
		t.Fatalf("tampered body must not verify")
	}
	if got, _ := v.Verify(headers, body, time.Unix(ts+301, 0)); got.Valid {
		t.Fatalf("stale timestamp must not verify")
	}
	if got, _ := v.Verify(http.Header{}, body, time.Unix(ts, 0)); got.Valid {
		t.Fatalf("missing header must not verify")
	}
	if _, err := NewStripeV1Verifier(ChannelStripe, 300, "", " ").Verify(headers, body, time.Unix(ts, 0)); err == nil {
		t.Fatalf("expected error without secrets")
	}
}

func TestSharedSecretVerifier(t *testing.T) {
	v := NewSharedSecretVerifier(ChannelTasks, TasksSecretHeader, "hook-secret")
	reg := NewRegistry(v, NewStripeV1Verifier(ChannelStripe, 300, "whsec"))

	ok := http.Header{}
	ok.Set("x-webhook-secret", "hook-secret")
	got, err := reg.Verify(ChannelTasks, ok, nil, time.Now())
	if err != nil || !got.Valid {
		t.Fatalf("expected valid, got %+v %v", got, err)
	}

	bad := http.Header{}
	bad.Set(TasksSecretHeader, "hook-secreT")
	if got, _ := reg.Verify(ChannelTasks, bad, nil, time.Now()); got.Valid {
		t.Fatalf("wrong secret must not verify")
	}
	if got, _ := reg.Verify(ChannelTasks, http.Header{}, nil, time.Now()); got.Valid {
		t.Fatalf("missing header must not verify")
	}
	if _, err := reg.Verify("unknown", ok, nil, time.Now()); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}
