package repo

import (
	"context"
	"database/sql"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

// InsertWalletTransaction stores a deposit once per payment intent.
// It reports false when the payment intent was already recorded.
func (r Repo) InsertWalletTransaction(ctx context.Context, tx *sql.Tx, w domain.WalletTransaction) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO wallet_transactions(id,user_id,type,amount,currency,status,stripe_payment_intent_id,created_at)
VALUES (?,?,?,?,?,?,?,?) ON CONFLICT(stripe_payment_intent_id) DO NOTHING`),
		w.ID, w.UserID, w.Type, w.Amount, w.Currency, w.Status, nullable(w.StripePaymentIntentID), w.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) ListWalletTransactions(ctx context.Context, userID string) ([]domain.WalletTransaction, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,user_id,type,amount,currency,status,COALESCE(stripe_payment_intent_id,''),created_at
FROM wallet_transactions WHERE user_id=? ORDER BY created_at DESC, id`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WalletTransaction
	for rows.Next() {
		var w domain.WalletTransaction
		if err := rows.Scan(&w.ID, &w.UserID, &w.Type, &w.Amount, &w.Currency, &w.Status, &w.StripePaymentIntentID, &w.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// MarkWebhookProcessed records a delivered event id for a channel.
// It reports false when the event was seen before.
func (r Repo) MarkWebhookProcessed(ctx context.Context, tx *sql.Tx, channel, eventID, processedAt string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO processed_webhook_events(channel,event_id,processed_at) VALUES (?,?,?) ON CONFLICT(channel,event_id) DO NOTHING`),
		channel, eventID, processedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
