package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ferangarita01/rentman-sub000/internal/ai"
	"github.com/ferangarita01/rentman-sub000/internal/config"
	"github.com/ferangarita01/rentman-sub000/internal/db"
	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/events"
	"github.com/ferangarita01/rentman-sub000/internal/lifecycle"
	"github.com/ferangarita01/rentman-sub000/internal/metrics"
	"github.com/ferangarita01/rentman-sub000/internal/notify"
	"github.com/ferangarita01/rentman-sub000/internal/payments"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Gateway   payments.Gateway
	Notifier  notify.Notifier
	Viability ai.ViabilityAnalyzer
	Proofs    ai.ProofValidator
	Disputes  ai.DisputeSummarizer
	Metrics   *metrics.Metrics
	Logger    *log.Logger
	Locks     *KeyedMutex
	Now       func() time.Time

	wake chan struct{}
}

// New wires an Engine over conn. Gateway, Notifier and the AI client are
// left for the caller to set; see WithAI.
func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        conn,
		Repo:      repo.Repo{DB: conn, Dialect: dialect},
		Events:    events.Writer{Dialect: dialect},
		Config:    cfg,
		Notifier:  notify.LogNotifier{},
		Viability: ai.ViabilityAnalyzer{Timeout: cfg.AI.ViabilityTimeout, Threshold: cfg.AI.SafetyThreshold},
		Proofs:    ai.ProofValidator{Timeout: cfg.AI.ProofTimeout},
		Disputes:  ai.DisputeSummarizer{Timeout: cfg.AI.DisputeTimeout},
		Locks:     NewKeyedMutex(),
		Now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// WithAI points every analyzer at client.
func (e Engine) WithAI(client ai.Client) Engine {
	e.Viability.Client = client
	e.Proofs.Client = client
	e.Disputes.Client = client
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) notify(ctx context.Context, userID, title, body string, data map[string]any) {
	if e.Notifier == nil || userID == "" {
		return
	}
	e.Notifier.Notify(ctx, userID, title, body, data)
}

// GetTask returns a task or a NotFoundError.
func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, NotFoundError{Kind: "task", ID: id}
	}
	return t, err
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// transition describes a status move plus the columns written with it.
type transition struct {
	Event           lifecycle.Event
	Metadata        map[string]any
	PaymentStatus   *string
	AssignedHumanID *string
	CompletedAt     *string
	DisputedAt      *string
}

// applyTransition moves t inside tx. The update only lands if the row still
// carries the status t was read with.
func (e Engine) applyTransition(ctx context.Context, tx *sql.Tx, t domain.Task, actorID string, tr transition) (domain.Task, error) {
	next, err := lifecycle.Next(t.Status, tr.Event)
	if err != nil {
		return t, StateConflictError{Reason: err, Message: err.Error()}
	}
	u := repo.TaskUpdate{
		Status:          next,
		PaymentStatus:   tr.PaymentStatus,
		AssignedHumanID: tr.AssignedHumanID,
		CompletedAt:     tr.CompletedAt,
		DisputedAt:      tr.DisputedAt,
		UpdatedAt:       e.timestamp(),
	}
	if tr.Metadata != nil {
		u.Metadata = domain.MergeMetadata(t.Metadata, tr.Metadata)
	}
	if err := e.Repo.UpdateTask(ctx, tx, t.ID, t.Status, u); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return t, StateConflictError{Reason: ErrInvalidState, Message: fmt.Sprintf("task %s changed concurrently", t.ID)}
		}
		if errors.Is(err, repo.ErrNotFound) {
			return t, NotFoundError{Kind: "task", ID: t.ID}
		}
		return t, fmt.Errorf("update task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskStatusChanged, "task", t.ID, actorID, events.EventPayload{
		"from":  t.Status,
		"to":    next,
		"event": string(tr.Event),
	}); err != nil {
		return t, err
	}
	prev := t.Status
	t.Status = next
	t.UpdatedAt = u.UpdatedAt
	if u.Metadata != nil {
		t.Metadata = u.Metadata
	}
	if tr.PaymentStatus != nil {
		t.PaymentStatus = *tr.PaymentStatus
	}
	if tr.AssignedHumanID != nil {
		t.AssignedHumanID = tr.AssignedHumanID
	}
	if tr.CompletedAt != nil {
		t.CompletedAt = tr.CompletedAt
	}
	if tr.DisputedAt != nil {
		t.DisputedAt = tr.DisputedAt
	}
	if prev != next {
		e.Metrics.Transition(next)
	}
	return t, nil
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string {
	return &s
}
