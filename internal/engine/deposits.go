package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/events"
)

// Stripe event outcomes.
const (
	StripeDeposited = "deposited"
	StripeDuplicate = "duplicate"
	StripeIgnored   = "ignored"
)

const walletDepositType = "wallet_deposit"

// HandleStripeEvent applies a verified payment event. Only succeeded
// payment intents tagged as wallet deposits change state; every event id
// is processed at most once. Persistence failures are returned.
func (e Engine) HandleStripeEvent(ctx context.Context, raw []byte) (string, error) {
	var evt stripe.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return "", ValidationError{Field: "body", Message: "not a payment event: " + err.Error()}
	}
	if evt.Type != stripe.EventTypePaymentIntentSucceeded || evt.Data == nil {
		return StripeIgnored, e.markProcessed(ctx, evt.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return "", ValidationError{Field: "data.object", Message: err.Error()}
	}
	if pi.Metadata["type"] != walletDepositType {
		return StripeIgnored, e.markProcessed(ctx, evt.ID)
	}
	userID := strings.TrimSpace(pi.Metadata["user_id"])
	if userID == "" {
		e.logger().Printf("webhook: deposit %s has no user_id; ignored", pi.ID)
		return StripeIgnored, e.markProcessed(ctx, evt.ID)
	}

	outcome := StripeDeposited
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		now := e.timestamp()
		if evt.ID != "" {
			fresh, err := e.Repo.MarkWebhookProcessed(ctx, tx, "stripe", evt.ID, now)
			if err != nil {
				return fmt.Errorf("mark event: %w", err)
			}
			if !fresh {
				outcome = StripeDuplicate
				return nil
			}
		}
		w := domain.WalletTransaction{
			ID:                    uuid.NewString(),
			UserID:                userID,
			Type:                  "deposit",
			Amount:                pi.Amount,
			Currency:              string(pi.Currency),
			Status:                "completed",
			StripePaymentIntentID: pi.ID,
			CreatedAt:             now,
		}
		inserted, err := e.Repo.InsertWalletTransaction(ctx, tx, w)
		if err != nil {
			return fmt.Errorf("insert deposit: %w", err)
		}
		if !inserted {
			outcome = StripeDuplicate
			return nil
		}
		return e.Events.Append(ctx, tx, events.WalletDeposit, "wallet", w.ID, userID, events.EventPayload{
			"amount":            w.Amount,
			"currency":          w.Currency,
			"payment_intent_id": pi.ID,
		})
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (e Engine) markProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		_, err := e.Repo.MarkWebhookProcessed(ctx, tx, "stripe", eventID, e.timestamp())
		return err
	})
}
