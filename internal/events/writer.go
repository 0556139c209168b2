package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ferangarita01/rentman-sub000/internal/db"
)

// Event types appended by the engine and the webhook handlers.
const (
	TaskCreated          = "task.created"
	TaskStatusChanged    = "task.status.changed"
	AnalysisEnqueued     = "analysis.enqueued"
	AnalysisAttemptError = "analysis.attempt_failed"
	ProofSubmitted       = "proof.submitted"
	ProofReviewed        = "proof.reviewed"
	EscrowLocked         = "escrow.locked"
	EscrowCaptured       = "escrow.captured"
	EscrowReleased       = "escrow.released"
	EscrowTransferFailed = "escrow.transfer_failed"
	EscrowDisputed       = "escrow.disputed"
	WalletDeposit        = "wallet.deposit"
	WebhookFailed        = "webhook.failed"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
