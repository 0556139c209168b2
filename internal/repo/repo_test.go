package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/ferangarita01/rentman-sub000/internal/db"
	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/migrate"
)

const ts = "2024-05-01T10:00:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn, Dialect: dialect}
}

func seedTask(t *testing.T, r Repo, id string) domain.Task {
	t.Helper()
	task := domain.Task{
		ID:             id,
		Title:          "Photograph storefront",
		BudgetAmount:   25.5,
		BudgetCurrency: "usd",
		TaskType:       "photo",
		RequesterID:    "req-1",
		Status:         domain.TaskOpen,
		PaymentStatus:  domain.PaymentPending,
		Metadata:       map[string]any{"timestamp": 1714557600123, "nonce": "n-1"},
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if err := r.InsertTask(context.Background(), nil, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return task
}

func TestTaskRoundTripKeepsMetadataNumbers(t *testing.T) {
	r := newTestRepo(t)
	seedTask(t, r, "task-1")
	got, err := r.GetTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.MetaString("timestamp") != "1714557600123" {
		t.Fatalf("timestamp rendered as %q", got.MetaString("timestamp"))
	}
	if got.BudgetAmount != 25.5 || got.AssignedHumanID != nil {
		t.Fatalf("unexpected task: %+v", got)
	}
	if _, err := r.GetTask(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskCompareAndSet(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "task-1")
	if err := r.UpdateTask(ctx, nil, "task-1", domain.TaskOpen, TaskUpdate{Status: domain.TaskVerifying, UpdatedAt: ts}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	err := r.UpdateTask(ctx, nil, "task-1", domain.TaskOpen, TaskUpdate{Status: domain.TaskRejected, UpdatedAt: ts})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	err = r.UpdateTask(ctx, nil, "missing", domain.TaskOpen, TaskUpdate{Status: domain.TaskRejected, UpdatedAt: ts})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWalletAndWebhookDedupe(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	w := domain.WalletTransaction{ID: "w1", UserID: "u1", Type: "deposit", Amount: 500, Currency: "usd", Status: "completed", StripePaymentIntentID: "pi_1", CreatedAt: ts}
	inserted, err := r.InsertWalletTransaction(ctx, nil, w)
	if err != nil || !inserted {
		t.Fatalf("first insert: %v %v", inserted, err)
	}
	w.ID = "w2"
	inserted, err = r.InsertWalletTransaction(ctx, nil, w)
	if err != nil || inserted {
		t.Fatalf("duplicate insert: %v %v", inserted, err)
	}
	first, err := r.MarkWebhookProcessed(ctx, nil, "stripe", "evt_1", ts)
	if err != nil || !first {
		t.Fatalf("mark processed: %v %v", first, err)
	}
	again, err := r.MarkWebhookProcessed(ctx, nil, "stripe", "evt_1", ts)
	if err != nil || again {
		t.Fatalf("mark processed twice: %v %v", again, err)
	}
}

func TestClaimDueJobs(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "task-1")
	seedTask(t, r, "task-2")
	if _, err := r.EnqueueAnalysis(ctx, nil, "task-1", "2024-05-01T10:00:00Z"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := r.EnqueueAnalysis(ctx, nil, "task-2", "2024-05-01T11:00:00Z"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	again, err := r.EnqueueAnalysis(ctx, nil, "task-1", ts)
	if err != nil || again {
		t.Fatalf("duplicate enqueue: %v %v", again, err)
	}
	jobs, err := r.ClaimDueJobs(ctx, "2024-05-01T10:30:00Z", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].TaskID != "task-1" || jobs[0].Attempts != 1 || jobs[0].Status != JobRunning {
		t.Fatalf("unexpected claim: %+v", jobs)
	}
	if more, _ := r.ClaimDueJobs(ctx, "2024-05-01T10:30:00Z", 10); len(more) != 0 {
		t.Fatalf("job claimed twice: %+v", more)
	}
	if err := r.RetryJob(ctx, "task-1", "boom", "2024-05-01T10:31:00Z", ts); err != nil {
		t.Fatalf("retry: %v", err)
	}
	jobs, err = r.ClaimDueJobs(ctx, "2024-05-01T10:31:00Z", 10)
	if err != nil || len(jobs) != 1 || jobs[0].Attempts != 2 {
		t.Fatalf("reclaim: %+v %v", jobs, err)
	}
	if err := r.FinishJob(ctx, nil, "task-1", JobDone, nil, ts); err != nil {
		t.Fatalf("finish: %v", err)
	}
}
