package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ferangarita01/rentman-sub000/internal/ai"
	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/events"
	"github.com/ferangarita01/rentman-sub000/internal/lifecycle"
	"github.com/ferangarita01/rentman-sub000/internal/payments"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
)

type LockResult struct {
	Escrow       domain.EscrowTransaction
	ClientSecret string
	Amounts      Amounts
}

// LockFunds places a manual-capture hold for the task budget plus the
// platform fee and assigns the worker.
func (e Engine) LockFunds(ctx context.Context, taskID, humanID, requesterID string) (LockResult, error) {
	if strings.TrimSpace(taskID) == "" || strings.TrimSpace(humanID) == "" {
		return LockResult{}, ValidationError{Message: "taskId and humanId are required"}
	}
	if e.Gateway == nil {
		return LockResult{}, errors.New("payment gateway not configured")
	}
	unlock := e.Locks.Lock(taskID)
	defer unlock()

	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return LockResult{}, err
	}
	if requesterID != t.RequesterID {
		return LockResult{}, AuthorizationError{Message: "only the requester can lock funds"}
	}
	if humanID == t.RequesterID {
		return LockResult{}, ValidationError{Field: "humanId", Message: "requester cannot be assigned to their own task"}
	}
	if !lifecycle.IsLockable(t.Status) {
		return LockResult{}, conflict(ErrInvalidState, "task %s cannot be funded in status %s", t.ID, t.Status)
	}
	if awaitsSignatureCheck(t) {
		return LockResult{}, conflict(ErrInvalidState, "task %s is awaiting agent signature verification", t.ID)
	}
	if _, err := e.Repo.GetEscrowByTask(ctx, nil, taskID, false); err == nil {
		return LockResult{}, conflict(ErrInvalidState, "task %s already has an escrow", t.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return LockResult{}, err
	}
	amounts, err := fundableAmounts(t.BudgetAmount, e.feeRate())
	if err != nil {
		return LockResult{}, err
	}
	currency := t.BudgetCurrency
	if currency == "" {
		currency = e.Config.Escrow.Currency
	}

	hold, err := e.Gateway.CreateHold(ctx, payments.HoldRequest{
		Amount:      amounts.ClientPays,
		Currency:    currency,
		Description: "Escrow for task: " + t.Title,
		Metadata: map[string]string{
			"task_id":      t.ID,
			"human_id":     humanID,
			"requester_id": t.RequesterID,
			"type":         "task_escrow",
		},
		IdempotencyKey: "escrow-hold-" + t.ID + "-" + humanID,
	})
	if err != nil {
		e.Metrics.Escrow("lock", "processor_error")
		return LockResult{}, processorError("hold", err)
	}

	now := e.timestamp()
	esc := domain.EscrowTransaction{
		ID:                    uuid.NewString(),
		TaskID:                t.ID,
		RequesterID:           t.RequesterID,
		HumanID:               humanID,
		GrossAmount:           amounts.ClientPays,
		PlatformFeeAmount:     amounts.PlatformFee,
		NetAmount:             amounts.WorkerAmount,
		Currency:              currency,
		Status:                domain.EscrowHeld,
		StripePaymentIntentID: hold.PaymentIntentID,
		HeldAt:                now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return LockResult{}, err
	}
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID, true)
	if err != nil {
		return LockResult{}, err
	}
	if err := e.Repo.InsertEscrow(ctx, tx, esc); err != nil {
		return LockResult{}, fmt.Errorf("insert escrow: %w", err)
	}
	if awaitsSignatureCheck(t) {
		return LockResult{}, conflict(ErrInvalidState, "task %s is awaiting agent signature verification", t.ID)
	}
	if _, err := e.applyTransition(ctx, tx, t, requesterID, transition{
		Event:           lifecycle.FundsLocked,
		PaymentStatus:   strPtr(domain.PaymentEscrowed),
		AssignedHumanID: strPtr(humanID),
	}); err != nil {
		return LockResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.EscrowLocked, "escrow", esc.ID, requesterID, events.EventPayload{
		"task_id":           t.ID,
		"human_id":          humanID,
		"gross_amount":      esc.GrossAmount,
		"payment_intent_id": esc.StripePaymentIntentID,
	}); err != nil {
		return LockResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return LockResult{}, err
	}
	unlock()
	e.Metrics.Escrow("lock", "ok")
	e.notify(ctx, humanID, "New task assigned", fmt.Sprintf("You were assigned %q. Funds are held in escrow.", t.Title), map[string]any{
		"task_id":   t.ID,
		"escrow_id": esc.ID,
	})
	return LockResult{Escrow: esc, ClientSecret: hold.ClientSecret, Amounts: amounts}, nil
}

// awaitsSignatureCheck reports an agent task still in open, whose intake has
// not run yet.
func awaitsSignatureCheck(t domain.Task) bool {
	return t.Status == domain.TaskOpen && t.AgentID != nil && strings.TrimSpace(*t.AgentID) != ""
}

type ReleaseResult struct {
	Escrow     domain.EscrowTransaction
	TransferID string
}

// ReleaseFunds captures the hold and pays the worker once every proof is
// approved. A failed payout leaves the escrow held with captured_at set;
// calling again retries only the transfer.
func (e Engine) ReleaseFunds(ctx context.Context, taskID, approverID string) (ReleaseResult, error) {
	if e.Gateway == nil {
		return ReleaseResult{}, errors.New("payment gateway not configured")
	}
	unlock := e.Locks.Lock(taskID)
	defer unlock()

	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if approverID != t.RequesterID {
		return ReleaseResult{}, AuthorizationError{Message: "only the requester can release funds"}
	}
	proofs, err := e.Repo.ListProofs(ctx, nil, taskID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if err := checkProofsApproved(proofs); err != nil {
		return ReleaseResult{}, err
	}
	esc, err := e.Repo.GetEscrowByTask(ctx, nil, taskID, false)
	if errors.Is(err, repo.ErrNotFound) {
		return ReleaseResult{}, conflict(ErrInvalidState, "task %s has no escrow", taskID)
	}
	if err != nil {
		return ReleaseResult{}, err
	}
	if esc.Status != domain.EscrowHeld {
		return ReleaseResult{}, conflict(ErrInvalidState, "escrow is %s", esc.Status)
	}
	profile, err := e.Repo.GetProfile(ctx, nil, esc.HumanID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ReleaseResult{}, err
	}
	if strings.TrimSpace(profile.StripeAccountID) == "" {
		return ReleaseResult{}, conflict(ErrPayoutAccountMissing, "worker %s has no payout account", esc.HumanID)
	}

	if esc.CapturedAt == nil {
		if err := e.Gateway.Capture(ctx, esc.StripePaymentIntentID, "escrow-capture-"+esc.ID); err != nil {
			e.Metrics.Escrow("capture", "processor_error")
			return ReleaseResult{}, processorError("capture", err)
		}
		capturedAt := e.timestamp()
		if err := e.inTx(ctx, func(tx *sql.Tx) error {
			if err := e.Repo.MarkEscrowCaptured(ctx, tx, esc.ID, capturedAt); err != nil {
				return err
			}
			return e.Events.Append(ctx, tx, events.EscrowCaptured, "escrow", esc.ID, approverID, events.EventPayload{"task_id": taskID})
		}); err != nil {
			return ReleaseResult{}, fmt.Errorf("record capture: %w", err)
		}
		esc.CapturedAt = &capturedAt
	}

	transfer, err := e.Gateway.Transfer(ctx, payments.TransferRequest{
		Amount:        esc.NetAmount,
		Currency:      esc.Currency,
		Destination:   profile.StripeAccountID,
		TransferGroup: "task_" + taskID,
		Metadata: map[string]string{
			"task_id":   taskID,
			"escrow_id": esc.ID,
		},
		IdempotencyKey: "escrow-transfer-" + esc.ID,
	})
	if err != nil {
		perr := processorError("transfer", err)
		e.Metrics.TransferFailed()
		e.logger().Printf("escrow: transfer for %s failed after capture: %v", esc.ID, err)
		bg := context.WithoutCancel(ctx)
		if recErr := e.inTx(bg, func(tx *sql.Tx) error {
			return e.Events.Append(bg, tx, events.EscrowTransferFailed, "escrow", esc.ID, approverID, events.EventPayload{
				"task_id": taskID,
				"error":   err.Error(),
				"code":    perr.Code,
			})
		}); recErr != nil {
			e.logger().Printf("escrow: record transfer failure: %v", recErr)
		}
		return ReleaseResult{Escrow: esc}, perr
	}

	releasedAt := e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetTaskTx(ctx, tx, taskID, true)
		if err != nil {
			return err
		}
		if err := e.Repo.MarkEscrowReleased(ctx, tx, esc.ID, transfer.ID, releasedAt); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return conflict(ErrInvalidState, "escrow %s changed concurrently", esc.ID)
			}
			return err
		}
		if _, err := e.applyTransition(ctx, tx, cur, approverID, transition{
			Event:         lifecycle.FundsReleased,
			PaymentStatus: strPtr(domain.PaymentReleased),
			CompletedAt:   strPtr(releasedAt),
		}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.EscrowReleased, "escrow", esc.ID, approverID, events.EventPayload{
			"task_id":     taskID,
			"transfer_id": transfer.ID,
			"net_amount":  esc.NetAmount,
		})
	})
	if err != nil {
		return ReleaseResult{Escrow: esc}, err
	}
	esc.Status = domain.EscrowReleased
	esc.StripeTransferID = strPtr(transfer.ID)
	esc.ReleasedAt = strPtr(releasedAt)
	unlock()
	e.Metrics.Escrow("release", "ok")
	e.notify(ctx, esc.HumanID, "Payment released", fmt.Sprintf("%.2f %s is on its way for %q", Major(esc.NetAmount), strings.ToUpper(esc.Currency), t.Title), map[string]any{
		"task_id":     taskID,
		"transfer_id": transfer.ID,
	})
	return ReleaseResult{Escrow: esc, TransferID: transfer.ID}, nil
}

func checkProofsApproved(proofs []domain.TaskProof) error {
	if len(proofs) == 0 {
		return conflict(ErrProofsIncomplete, "no proofs submitted")
	}
	for _, p := range proofs {
		if p.Status == domain.ProofPending {
			return conflict(ErrProofsIncomplete, "proof %s is still pending review", p.ID)
		}
	}
	for _, p := range proofs {
		if p.Status == domain.ProofRejected {
			return conflict(ErrProofsRejected, "proof %s was rejected", p.ID)
		}
	}
	return nil
}

type DisputeResult struct {
	Escrow          domain.EscrowTransaction
	Summary         *domain.DisputeSummary
	AlreadyDisputed bool
}

// InitiateDispute freezes a held escrow for mediation. Repeating it returns
// the existing dispute unchanged.
func (e Engine) InitiateDispute(ctx context.Context, taskID, initiatorID, reason string) (DisputeResult, error) {
	if strings.TrimSpace(reason) == "" {
		return DisputeResult{}, ValidationError{Field: "reason", Message: "is required"}
	}
	unlock := e.Locks.Lock(taskID)
	defer unlock()

	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return DisputeResult{}, err
	}
	if !isParticipant(t, initiatorID) {
		return DisputeResult{}, AuthorizationError{Message: "only task participants can open a dispute"}
	}
	esc, err := e.Repo.GetEscrowByTask(ctx, nil, taskID, false)
	if errors.Is(err, repo.ErrNotFound) {
		return DisputeResult{}, conflict(ErrInvalidState, "task %s has no escrow", taskID)
	}
	if err != nil {
		return DisputeResult{}, err
	}
	switch esc.Status {
	case domain.EscrowDisputed:
		return DisputeResult{Escrow: esc, Summary: esc.AIDisputeSummary, AlreadyDisputed: true}, nil
	case domain.EscrowReleased:
		return DisputeResult{}, conflict(ErrInvalidState, "escrow already released")
	}

	now := e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetTaskTx(ctx, tx, taskID, true)
		if err != nil {
			return err
		}
		if err := e.Repo.MarkEscrowDisputed(ctx, tx, esc.ID, reason, initiatorID, now); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return conflict(ErrInvalidState, "escrow %s changed concurrently", esc.ID)
			}
			return err
		}
		if _, err := e.applyTransition(ctx, tx, cur, initiatorID, transition{
			Event:         lifecycle.DisputeOpened,
			PaymentStatus: strPtr(domain.PaymentDisputed),
			DisputedAt:    strPtr(now),
		}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.EscrowDisputed, "escrow", esc.ID, initiatorID, events.EventPayload{
			"task_id": taskID,
			"reason":  reason,
		})
	})
	if err != nil {
		return DisputeResult{}, err
	}
	esc.Status = domain.EscrowDisputed
	esc.DisputeReason = strPtr(reason)
	esc.DisputedBy = strPtr(initiatorID)
	esc.DisputedAt = strPtr(now)
	unlock()
	e.Metrics.Escrow("dispute", "ok")

	esc.AIDisputeSummary = e.summarizeDispute(ctx, t, esc, initiatorID, reason)

	counterparty := t.RequesterID
	if initiatorID == t.RequesterID {
		counterparty = esc.HumanID
	}
	e.notify(ctx, counterparty, "Dispute opened", fmt.Sprintf("A dispute was opened on %q: %s", t.Title, reason), map[string]any{
		"task_id":   taskID,
		"escrow_id": esc.ID,
	})
	return DisputeResult{Escrow: esc, Summary: esc.AIDisputeSummary}, nil
}

// summarizeDispute asks the model for mediator notes. Failures leave the
// dispute without a summary.
func (e Engine) summarizeDispute(ctx context.Context, t domain.Task, esc domain.EscrowTransaction, initiatorID, reason string) *domain.DisputeSummary {
	if e.Disputes.Client == nil {
		return nil
	}
	proofs, err := e.Repo.ListProofs(ctx, nil, t.ID)
	if err != nil {
		e.logger().Printf("escrow: list proofs for dispute summary: %v", err)
	}
	sum, err := e.Disputes.Summarize(ctx, ai.DisputeInput{
		Task:        t,
		Escrow:      esc,
		Proofs:      proofs,
		InitiatorID: initiatorID,
		Reason:      reason,
	})
	if err != nil {
		e.Metrics.AI("dispute", aiOutcome(err))
		e.logger().Printf("escrow: dispute summary for %s unavailable: %v", esc.ID, err)
		return nil
	}
	e.Metrics.AI("dispute", "summarized")
	if err := e.Repo.SetDisputeSummary(ctx, nil, esc.ID, sum); err != nil {
		e.logger().Printf("escrow: store dispute summary: %v", err)
	}
	return sum
}

// EscrowStatus is the read model of an escrow in major units.
type EscrowStatus struct {
	EscrowID    string
	TaskID      string
	Status      string
	Currency    string
	GrossAmount float64
	NetAmount   float64
	PlatformFee float64
	DisputeFee  float64
	HeldAt      string
	ReleasedAt  *string
	DisputedAt  *string
}

func (e Engine) GetEscrowStatus(ctx context.Context, taskID string) (EscrowStatus, error) {
	esc, err := e.Repo.GetEscrowByTask(ctx, nil, taskID, false)
	if errors.Is(err, repo.ErrNotFound) {
		return EscrowStatus{}, NotFoundError{Kind: "escrow for task", ID: taskID}
	}
	if err != nil {
		return EscrowStatus{}, err
	}
	return EscrowStatus{
		EscrowID:    esc.ID,
		TaskID:      esc.TaskID,
		Status:      esc.Status,
		Currency:    esc.Currency,
		GrossAmount: Major(esc.GrossAmount),
		NetAmount:   Major(esc.NetAmount),
		PlatformFee: Major(esc.PlatformFeeAmount),
		DisputeFee:  Major(esc.DisputeFeeAmount),
		HeldAt:      esc.HeldAt,
		ReleasedAt:  esc.ReleasedAt,
		DisputedAt:  esc.DisputedAt,
	}, nil
}

func processorError(op string, err error) PaymentProcessorError {
	out := PaymentProcessorError{Op: op, Err: err}
	if pe, ok := payments.AsProcessorError(err); ok {
		out.Code = pe.Code
		out.Type = pe.Type
	}
	return out
}
