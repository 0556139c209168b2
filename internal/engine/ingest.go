package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/events"
	"github.com/ferangarita01/rentman-sub000/internal/lifecycle"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
	"github.com/ferangarita01/rentman-sub000/internal/signature"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID             string
	Title          string
	Description    string
	BudgetAmount   float64
	BudgetCurrency string
	TaskType       string
	RequesterID    string
	AgentID        string
	Signature      string
	Metadata       map[string]any
}

// CreateTask stores a new open task and runs intake on it. A task rejected
// for a bad signature is returned without error.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, ValidationError{Field: "title", Message: "is required"}
	}
	if strings.TrimSpace(opts.RequesterID) == "" {
		return domain.Task{}, ValidationError{Field: "requester_id", Message: "is required"}
	}
	if _, err := fundableAmounts(opts.BudgetAmount, e.feeRate()); err != nil {
		return domain.Task{}, err
	}
	if opts.TaskType == "" {
		opts.TaskType = "general"
	}
	if opts.BudgetCurrency == "" {
		opts.BudgetCurrency = e.Config.Escrow.Currency
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.timestamp()
	t := domain.Task{
		ID:             id,
		Title:          opts.Title,
		Description:    opts.Description,
		BudgetAmount:   opts.BudgetAmount,
		BudgetCurrency: strings.ToLower(opts.BudgetCurrency),
		TaskType:       opts.TaskType,
		RequesterID:    opts.RequesterID,
		AgentID:        optionalString(opts.AgentID),
		Signature:      optionalString(opts.Signature),
		Status:         domain.TaskOpen,
		PaymentStatus:  domain.PaymentPending,
		Metadata:       opts.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID, t.RequesterID, events.EventPayload{
		"title":    t.Title,
		"agent_id": opts.AgentID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	res, err := e.IngestTask(ctx, t.ID)
	var sigErr SignatureError
	if errors.As(err, &sigErr) {
		return res.Task, nil
	}
	if err != nil {
		return t, err
	}
	return res.Task, nil
}

// Intake outcomes.
const (
	IngestVerified = "verified"
	IngestRejected = "rejected"
	IngestSkipped  = "skipped"
)

type IngestResult struct {
	Task    domain.Task
	Outcome string
}

// IngestTask authenticates a newly inserted task and queues its viability
// analysis. Tasks without an agent are requester-authored and skip the
// signature check. A rejected signature moves the task to rejected and is
// reported as a SignatureError. Tasks no longer open are left alone.
func (e Engine) IngestTask(ctx context.Context, taskID string) (IngestResult, error) {
	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return IngestResult{}, err
	}
	if t.Status != domain.TaskOpen {
		return IngestResult{Task: t, Outcome: IngestSkipped}, nil
	}

	var sigErr error
	if t.AgentID != nil && strings.TrimSpace(*t.AgentID) != "" {
		sigErr = signature.VerifyTask(ctx, e.Repo, t)
		if sigErr != nil && !isSignatureFailure(sigErr) {
			return IngestResult{Task: t}, sigErr
		}
	}

	unlock := e.Locks.Lock(taskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{Task: t}, err
	}
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID, true)
	if err != nil {
		return IngestResult{Task: t}, err
	}
	if t.Status != domain.TaskOpen {
		return IngestResult{Task: t, Outcome: IngestSkipped}, nil
	}

	if sigErr != nil {
		t, err = e.applyTransition(ctx, tx, t, "system", transition{
			Event:    lifecycle.SignatureRejected,
			Metadata: map[string]any{"error": sigErr.Error()},
		})
		if err != nil {
			return IngestResult{Task: t}, err
		}
		if err := tx.Commit(); err != nil {
			return IngestResult{Task: t}, err
		}
		e.logger().Printf("intake: task %s rejected: %v", taskID, sigErr)
		return IngestResult{Task: t, Outcome: IngestRejected}, SignatureError{TaskID: taskID, Err: sigErr}
	}

	t, err = e.applyTransition(ctx, tx, t, "system", transition{Event: lifecycle.SignatureVerified})
	if err != nil {
		return IngestResult{Task: t}, err
	}
	now := e.timestamp()
	if _, err := e.Repo.EnqueueAnalysis(ctx, tx, taskID, now); err != nil {
		return IngestResult{Task: t}, fmt.Errorf("enqueue analysis: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.AnalysisEnqueued, "task", taskID, "system", nil); err != nil {
		return IngestResult{Task: t}, err
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{Task: t}, err
	}
	e.WakeAnalysis()
	return IngestResult{Task: t, Outcome: IngestVerified}, nil
}

func isSignatureFailure(err error) bool {
	return errors.Is(err, signature.ErrAgentNotFound) ||
		errors.Is(err, signature.ErrMissingSignaturePayload) ||
		errors.Is(err, signature.ErrSignatureVerificationFailed)
}

// Change-feed responses. They are written verbatim as the response body.
const (
	FeedProcessed          = "Processed"
	FeedIgnored            = "Ignored"
	FeedProcessedWithError = "Processed with Error"
)

// TaskChange is a row change notification from the database.
type TaskChange struct {
	Type   string          `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// HandleTaskChange runs intake for inserted task rows. It never returns an
// error; failures are recorded and reported through the outcome.
func (e Engine) HandleTaskChange(ctx context.Context, body []byte) string {
	var change TaskChange
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&change); err != nil {
		e.RecordWebhookFailure(ctx, "tasks", "", fmt.Errorf("decode change: %w", err))
		return FeedProcessedWithError
	}
	if !strings.EqualFold(change.Type, "INSERT") || change.Table != "tasks" {
		return FeedIgnored
	}
	var record struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(change.Record, &record); err != nil || strings.TrimSpace(record.ID) == "" {
		e.RecordWebhookFailure(ctx, "tasks", "", errors.New("record id missing"))
		return FeedProcessedWithError
	}
	_, err := e.IngestTask(ctx, record.ID)
	if err != nil {
		e.RecordWebhookFailure(ctx, "tasks", record.ID, err)
		return FeedProcessedWithError
	}
	return FeedProcessed
}

// RecordWebhookFailure appends a webhook.failed event so operators can
// replay the delivery.
func (e Engine) RecordWebhookFailure(ctx context.Context, channel, entityID string, cause error) {
	e.Metrics.WebhookFailed(channel)
	e.logger().Printf("webhook: %s delivery failed (entity=%s): %v", channel, entityID, cause)
	ctx = context.WithoutCancel(ctx)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logger().Printf("webhook: record failure: %v", err)
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.WebhookFailed, "webhook", entityID, "system", events.EventPayload{
		"channel": channel,
		"error":   cause.Error(),
	}); err != nil {
		e.logger().Printf("webhook: record failure: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger().Printf("webhook: record failure: %v", err)
	}
}

func (e Engine) feeRate() float64 {
	if e.Config == nil {
		return DefaultPlatformFeeRate
	}
	return e.Config.Escrow.PlatformFeeRate
}

// RegisterAgent stores an agent's Ed25519 public key.
func (e Engine) RegisterAgent(ctx context.Context, id, name, publicKey string) (domain.Agent, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Agent{}, ValidationError{Field: "id", Message: "is required"}
	}
	if err := signature.ValidatePublicKey(publicKey); err != nil {
		return domain.Agent{}, ValidationError{Field: "public_key", Message: err.Error()}
	}
	a := domain.Agent{ID: id, Name: name, PublicKey: strings.TrimSpace(publicKey), CreatedAt: e.timestamp()}
	if err := e.Repo.InsertAgent(ctx, nil, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	return a, nil
}

// SetPayoutAccount records the destination account for a worker's payouts.
func (e Engine) SetPayoutAccount(ctx context.Context, userID, accountID, displayName string) (domain.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Profile{}, ValidationError{Field: "user_id", Message: "is required"}
	}
	now := e.timestamp()
	p := domain.Profile{UserID: userID, DisplayName: displayName, StripeAccountID: accountID, CreatedAt: now, UpdatedAt: now}
	if err := e.Repo.UpsertProfile(ctx, nil, p); err != nil {
		return domain.Profile{}, err
	}
	return e.Repo.GetProfile(ctx, nil, userID)
}

// CreateAPIKey issues a key for userID and returns its plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if strings.TrimSpace(userID) == "" {
		return "", domain.APIKey{}, ValidationError{Field: "user_id", Message: "is required"}
	}
	plain := "rk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	k := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, k); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, k, nil
}
