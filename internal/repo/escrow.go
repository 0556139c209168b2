package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

const escrowColumns = `id,task_id,requester_id,human_id,gross_amount,platform_fee_amount,net_amount,dispute_fee_amount,currency,status,stripe_payment_intent_id,stripe_transfer_id,captured_at,dispute_reason,disputed_by,ai_dispute_summary_json,held_at,released_at,disputed_at`

func scanEscrow(row rowScanner) (domain.EscrowTransaction, error) {
	var (
		e                           domain.EscrowTransaction
		transferID, capturedAt      sql.NullString
		reason, disputedBy, summary sql.NullString
		releasedAt, disputedAt      sql.NullString
	)
	err := row.Scan(&e.ID, &e.TaskID, &e.RequesterID, &e.HumanID, &e.GrossAmount, &e.PlatformFeeAmount, &e.NetAmount,
		&e.DisputeFeeAmount, &e.Currency, &e.Status, &e.StripePaymentIntentID, &transferID, &capturedAt, &reason,
		&disputedBy, &summary, &e.HeldAt, &releasedAt, &disputedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.StripeTransferID = ptrFromNull(transferID)
	e.CapturedAt = ptrFromNull(capturedAt)
	e.DisputeReason = ptrFromNull(reason)
	e.DisputedBy = ptrFromNull(disputedBy)
	e.ReleasedAt = ptrFromNull(releasedAt)
	e.DisputedAt = ptrFromNull(disputedAt)
	if summary.Valid && summary.String != "" {
		var s domain.DisputeSummary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return e, fmt.Errorf("decode dispute summary: %w", err)
		}
		e.AIDisputeSummary = &s
	}
	return e, nil
}

func (r Repo) InsertEscrow(ctx context.Context, tx *sql.Tx, e domain.EscrowTransaction) error {
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO escrow_transactions(id,task_id,requester_id,human_id,gross_amount,platform_fee_amount,net_amount,dispute_fee_amount,currency,status,stripe_payment_intent_id,held_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		e.ID, e.TaskID, e.RequesterID, e.HumanID, e.GrossAmount, e.PlatformFeeAmount, e.NetAmount, e.DisputeFeeAmount,
		e.Currency, e.Status, e.StripePaymentIntentID, e.HeldAt)
	return err
}

// GetEscrowByTask returns the live escrow row of a task.
func (r Repo) GetEscrowByTask(ctx context.Context, tx *sql.Tx, taskID string, forUpdate bool) (domain.EscrowTransaction, error) {
	return scanEscrow(r.conn(tx).QueryRowContext(ctx, r.q(`SELECT `+escrowColumns+` FROM escrow_transactions WHERE task_id=?`+r.lockSuffix(forUpdate && tx != nil)), taskID))
}

// MarkEscrowCaptured records the capture timestamp on a held escrow.
func (r Repo) MarkEscrowCaptured(ctx context.Context, tx *sql.Tx, id, capturedAt string) error {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE escrow_transactions SET captured_at=? WHERE id=? AND status=? AND captured_at IS NULL`),
		capturedAt, id, domain.EscrowHeld)
	return expectOne(res, err, ErrConflict)
}

func (r Repo) MarkEscrowReleased(ctx context.Context, tx *sql.Tx, id, transferID, releasedAt string) error {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE escrow_transactions SET status=?, stripe_transfer_id=?, released_at=? WHERE id=? AND status=?`),
		domain.EscrowReleased, transferID, releasedAt, id, domain.EscrowHeld)
	return expectOne(res, err, ErrConflict)
}

func (r Repo) MarkEscrowDisputed(ctx context.Context, tx *sql.Tx, id, reason, disputedBy, disputedAt string) error {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE escrow_transactions SET status=?, dispute_reason=?, disputed_by=?, disputed_at=? WHERE id=? AND status=?`),
		domain.EscrowDisputed, reason, disputedBy, disputedAt, id, domain.EscrowHeld)
	return expectOne(res, err, ErrConflict)
}

// SetDisputeSummary attaches the advisory summary once it is available.
func (r Repo) SetDisputeSummary(ctx context.Context, tx *sql.Tx, id string, summary *domain.DisputeSummary) error {
	data, err := encodeJSON(summary)
	if err != nil {
		return err
	}
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE escrow_transactions SET ai_dispute_summary_json=? WHERE id=?`), data, id)
	return expectOne(res, err, ErrNotFound)
}
