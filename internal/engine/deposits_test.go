package engine_test

import (
	"errors"
	"testing"

	"github.com/ferangarita01/rentman-sub000/internal/engine"
)

func TestHandleStripeEventRecordsDepositOnce(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","amount":2500,"currency":"usd","metadata":{"type":"wallet_deposit","user_id":"user-9"}}}}`)

	got, err := env.Engine.HandleStripeEvent(env.Ctx, body)
	if err != nil || got != engine.StripeDeposited {
		t.Fatalf("first delivery: %q %v", got, err)
	}
	got, err = env.Engine.HandleStripeEvent(env.Ctx, body)
	if err != nil || got != engine.StripeDuplicate {
		t.Fatalf("redelivery: %q %v", got, err)
	}
	txs, err := env.Engine.Repo.ListWalletTransactions(env.Ctx, "user-9")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 1 || txs[0].Amount != 2500 || txs[0].Status != "completed" || txs[0].StripePaymentIntentID != "pi_1" {
		t.Fatalf("unexpected wallet rows: %+v", txs)
	}
}

func TestHandleStripeEventIgnoresOtherEvents(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{
		`{"id":"evt_2","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`,
		`{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi_2","amount":100,"metadata":{"type":"task_escrow"}}}}`,
		`{"id":"evt_4","type":"payment_intent.succeeded","data":{"object":{"id":"pi_3","amount":100,"metadata":{"type":"wallet_deposit"}}}}`,
	} {
		got, err := env.Engine.HandleStripeEvent(env.Ctx, []byte(body))
		if err != nil || got != engine.StripeIgnored {
			t.Fatalf("%s: %q %v", body, got, err)
		}
	}
	var ve engine.ValidationError
	if _, err := env.Engine.HandleStripeEvent(env.Ctx, []byte(`not json`)); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
