package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/events"
	"github.com/ferangarita01/rentman-sub000/internal/lifecycle"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
)

// AutoApproveReviewer is recorded as the reviewer of swept proofs.
const AutoApproveReviewer = "system:auto-approve"

// StartWork lets the assigned worker mark an assigned task as in progress.
// Repeating it on a task already in progress is a no-op.
func (e Engine) StartWork(ctx context.Context, taskID, humanID string) (domain.Task, error) {
	if strings.TrimSpace(taskID) == "" || strings.TrimSpace(humanID) == "" {
		return domain.Task{}, ValidationError{Message: "task_id and human_id are required"}
	}
	unlock := e.Locks.Lock(taskID)
	defer unlock()

	var started domain.Task
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetTaskTx(ctx, tx, taskID, true)
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError{Kind: "task", ID: taskID}
		}
		if err != nil {
			return err
		}
		if t.AssignedHumanID == nil || *t.AssignedHumanID != humanID {
			return AuthorizationError{Message: "only the assigned worker can start work"}
		}
		if t.Status == domain.TaskInProgress {
			started = t
			return nil
		}
		if _, err := lifecycle.Next(t.Status, lifecycle.WorkStarted); err != nil {
			return conflict(ErrInvalidState, "task %s cannot start in status %s", t.ID, t.Status)
		}
		started, err = e.applyTransition(ctx, tx, t, humanID, transition{Event: lifecycle.WorkStarted})
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	return started, nil
}

type ProofSubmitOptions struct {
	TaskID       string
	HumanID      string
	ProofType    string
	Title        string
	Description  string
	FileURL      string
	LocationData map[string]any
}

// SubmitProof stores evidence from the assigned worker and moves the task
// to review. Media proofs carry an advisory model verdict that never blocks
// the submission.
func (e Engine) SubmitProof(ctx context.Context, opts ProofSubmitOptions) (domain.TaskProof, error) {
	switch opts.ProofType {
	case domain.ProofPhoto, domain.ProofVideo, domain.ProofLocation, domain.ProofText:
	default:
		return domain.TaskProof{}, ValidationError{Field: "proof_type", Message: "must be photo, video, location or text"}
	}
	if strings.TrimSpace(opts.TaskID) == "" || strings.TrimSpace(opts.HumanID) == "" {
		return domain.TaskProof{}, ValidationError{Message: "task_id and human_id are required"}
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.TaskProof{}, ValidationError{Field: "title", Message: "is required"}
	}
	if opts.ProofType == domain.ProofLocation && len(opts.LocationData) == 0 {
		return domain.TaskProof{}, ValidationError{Field: "location_data", Message: "is required for location proofs"}
	}

	t, err := e.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskProof{}, err
	}
	if t.AssignedHumanID == nil || *t.AssignedHumanID != opts.HumanID {
		return domain.TaskProof{}, AuthorizationError{Message: "only the assigned worker can submit proof"}
	}
	if _, err := lifecycle.Next(t.Status, lifecycle.ProofSubmitted); err != nil {
		return domain.TaskProof{}, conflict(ErrInvalidState, "task %s does not accept proofs in status %s", t.ID, t.Status)
	}

	p := domain.TaskProof{
		ID:           uuid.NewString(),
		TaskID:       t.ID,
		HumanID:      opts.HumanID,
		ProofType:    opts.ProofType,
		Title:        opts.Title,
		Description:  opts.Description,
		FileURL:      optionalString(strings.TrimSpace(opts.FileURL)),
		LocationData: opts.LocationData,
		Status:       domain.ProofPending,
	}
	if e.Proofs.Applies(p) {
		p.AIValidation = e.Proofs.Validate(ctx, t, p)
		outcome := "validated"
		if p.AIValidation != nil && p.AIValidation.Confidence == 0 {
			outcome = "fallback"
		}
		e.Metrics.AI("proof", outcome)
	}

	unlock := e.Locks.Lock(t.ID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskProof{}, err
	}
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, t.ID, true)
	if err != nil {
		return domain.TaskProof{}, err
	}
	p.CreatedAt = e.timestamp()
	if err := e.Repo.InsertProof(ctx, tx, p); err != nil {
		return domain.TaskProof{}, fmt.Errorf("insert proof: %w", err)
	}
	if _, err := e.applyTransition(ctx, tx, t, opts.HumanID, transition{Event: lifecycle.ProofSubmitted}); err != nil {
		return domain.TaskProof{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProofSubmitted, "proof", p.ID, opts.HumanID, events.EventPayload{
		"task_id":    t.ID,
		"proof_type": p.ProofType,
	}); err != nil {
		return domain.TaskProof{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskProof{}, err
	}
	unlock()
	e.notify(ctx, t.RequesterID, "New proof submitted", fmt.Sprintf("A worker submitted proof for %q", t.Title), map[string]any{
		"task_id":  t.ID,
		"proof_id": p.ID,
	})
	return p, nil
}

// Review actions.
const (
	ReviewApprove = "approve"
	ReviewReject  = "reject"
)

type ProofReviewOptions struct {
	ProofID         string
	Action          string
	ReviewerID      string
	RejectionReason string
}

// ReviewProof lets the requester approve or reject a pending proof. A
// rejection sends the task back to in_progress.
func (e Engine) ReviewProof(ctx context.Context, opts ProofReviewOptions) (domain.TaskProof, error) {
	if opts.Action != ReviewApprove && opts.Action != ReviewReject {
		return domain.TaskProof{}, ValidationError{Field: "action", Message: "must be approve or reject"}
	}
	p, err := e.Repo.GetProof(ctx, nil, opts.ProofID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, NotFoundError{Kind: "proof", ID: opts.ProofID}
	}
	if err != nil {
		return p, err
	}
	t, err := e.GetTask(ctx, p.TaskID)
	if err != nil {
		return p, err
	}
	if opts.ReviewerID != t.RequesterID {
		return p, AuthorizationError{Message: "only the requester can review proofs"}
	}
	return e.reviewProof(ctx, p, opts)
}

func (e Engine) reviewProof(ctx context.Context, p domain.TaskProof, opts ProofReviewOptions) (domain.TaskProof, error) {
	if p.Status != domain.ProofPending {
		return p, conflict(ErrInvalidState, "proof %s already %s", p.ID, p.Status)
	}
	status, event := domain.ProofApproved, lifecycle.ProofApproved
	var reason *string
	if opts.Action == ReviewReject {
		status, event = domain.ProofRejected, lifecycle.ProofRejected
		reason = optionalString(strings.TrimSpace(opts.RejectionReason))
	}

	unlock := e.Locks.Lock(p.TaskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, p.TaskID, true)
	if err != nil {
		return p, err
	}
	now := e.timestamp()
	if err := e.Repo.ReviewProof(ctx, tx, p.ID, status, opts.ReviewerID, now, reason); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return p, conflict(ErrInvalidState, "proof %s was already reviewed", p.ID)
		}
		return p, err
	}
	// A task already back in progress after an earlier rejection keeps its
	// status while the remaining proofs are reviewed.
	if t.Status != domain.TaskInProgress {
		if _, err := e.applyTransition(ctx, tx, t, opts.ReviewerID, transition{Event: event}); err != nil {
			return p, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ProofReviewed, "proof", p.ID, opts.ReviewerID, events.EventPayload{
		"task_id": p.TaskID,
		"status":  status,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	unlock()
	p.Status = status
	p.ReviewedBy = strPtr(opts.ReviewerID)
	p.ReviewedAt = strPtr(now)
	p.RejectionReason = reason

	title := "Proof approved"
	body := fmt.Sprintf("Your proof for %q was approved", t.Title)
	if status == domain.ProofRejected {
		title = "Proof rejected"
		body = fmt.Sprintf("Your proof for %q was rejected", t.Title)
		if reason != nil {
			body += ": " + *reason
		}
	}
	e.notify(ctx, p.HumanID, title, body, map[string]any{"task_id": p.TaskID, "proof_id": p.ID})
	return p, nil
}

// ListProofs returns a task's proofs for one of its participants.
func (e Engine) ListProofs(ctx context.Context, taskID, userID string) ([]domain.TaskProof, error) {
	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(t, userID) {
		return nil, AuthorizationError{Message: "only task participants can list proofs"}
	}
	return e.Repo.ListProofs(ctx, nil, taskID)
}

// AutoApproveStaleProofs approves proofs left pending longer than the
// configured window. Disputed tasks are skipped.
func (e Engine) AutoApproveStaleProofs(ctx context.Context) (int, error) {
	after := e.Config.Proofs.AutoApproveAfter
	if after <= 0 {
		after = 72 * time.Hour
	}
	cutoff := e.now().Add(-after).UTC().Format(time.RFC3339)
	stale, err := e.Repo.ListStaleProofs(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}
	approved := 0
	for _, p := range stale {
		if _, err := e.reviewProof(ctx, p, ProofReviewOptions{ProofID: p.ID, Action: ReviewApprove, ReviewerID: AutoApproveReviewer}); err != nil {
			e.logger().Printf("proofs: auto-approve %s: %v", p.ID, err)
			continue
		}
		approved++
	}
	if approved > 0 {
		e.logger().Printf("proofs: auto-approved %d stale proof(s)", approved)
	}
	return approved, nil
}

// RunProofSweeper runs AutoApproveStaleProofs on the configured interval.
func (e Engine) RunProofSweeper(ctx context.Context) {
	interval := e.Config.Proofs.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.AutoApproveStaleProofs(ctx); err != nil && ctx.Err() == nil {
				e.logger().Printf("proofs: sweep: %v", err)
			}
		}
	}
}

func isParticipant(t domain.Task, userID string) bool {
	if userID == "" {
		return false
	}
	return userID == t.RequesterID || (t.AssignedHumanID != nil && *t.AssignedHumanID == userID)
}
