package engine_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ferangarita01/rentman-sub000/internal/ai"
	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/engine"
	"github.com/ferangarita01/rentman-sub000/internal/events"
	"github.com/ferangarita01/rentman-sub000/internal/payments"
)

const (
	requester = "req-1"
	worker    = "human-1"
)

// matchedTask creates a requester task and runs its analysis to matching.
func matchedTask(t *testing.T, env testEnv, title string, budget float64) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: title, BudgetAmount: budget, RequesterID: requester})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.ProcessDueAnalyses(env.Ctx); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	task = mustTask(t, env, task.ID)
	if task.Status != domain.TaskMatching {
		t.Fatalf("status = %s, want matching", task.Status)
	}
	return task
}

func lockedTask(t *testing.T, env testEnv, title string) (domain.Task, engine.LockResult) {
	t.Helper()
	task := matchedTask(t, env, title, 100)
	res, err := env.Engine.LockFunds(env.Ctx, task.ID, worker, requester)
	if err != nil {
		t.Fatalf("lock funds: %v", err)
	}
	return mustTask(t, env, task.ID), res
}

func submitPhoto(t *testing.T, env testEnv, taskID, title string) domain.TaskProof {
	t.Helper()
	p, err := env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		TaskID: taskID, HumanID: worker, ProofType: domain.ProofPhoto, Title: title,
		FileURL: "https://cdn.example.com/" + title + ".jpg",
	})
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	return p
}

func review(t *testing.T, env testEnv, proofID, action string) {
	t.Helper()
	if _, err := env.Engine.ReviewProof(env.Ctx, engine.ProofReviewOptions{ProofID: proofID, Action: action, ReviewerID: requester}); err != nil {
		t.Fatalf("review %s: %v", action, err)
	}
}

func setPayout(t *testing.T, env testEnv) {
	t.Helper()
	if _, err := env.Engine.SetPayoutAccount(env.Ctx, worker, "acct_worker", "Worker"); err != nil {
		t.Fatalf("set payout: %v", err)
	}
}

func TestComputeAmounts(t *testing.T) {
	cases := []struct {
		budget                 float64
		worker, fee, clientPay int64
	}{
		{100, 10000, 1000, 11000},
		{19.99, 1999, 200, 2199},
		{0.05, 5, 1, 6},
		{0.04, 4, 0, 4},
	}
	for _, tc := range cases {
		got, err := engine.ComputeAmounts(tc.budget, 0.10)
		if err != nil {
			t.Fatalf("%v: %v", tc.budget, err)
		}
		if got.WorkerAmount != tc.worker || got.PlatformFee != tc.fee || got.ClientPays != tc.clientPay {
			t.Fatalf("%v: got %+v", tc.budget, got)
		}
	}
	for cents := 1; cents < 5000; cents += 7 {
		got, err := engine.ComputeAmounts(float64(cents)/100, 0.10)
		if err != nil {
			t.Fatalf("%d: %v", cents, err)
		}
		if got.ClientPays != got.WorkerAmount+got.PlatformFee || got.WorkerAmount != int64(cents) {
			t.Fatalf("%d cents: inconsistent %+v", cents, got)
		}
	}
	for _, zero := range []float64{0, 0.001} {
		got, err := engine.ComputeAmounts(zero, 0.10)
		if err != nil || got != (engine.Amounts{}) {
			t.Fatalf("%v: got %+v err=%v, want zero breakdown", zero, got, err)
		}
	}
	for _, bad := range []float64{-5, -0.01, math.NaN(), math.Inf(1)} {
		var ve engine.ValidationError
		if _, err := engine.ComputeAmounts(bad, 0.10); !errors.As(err, &ve) {
			t.Fatalf("%v: expected ValidationError, got %v", bad, err)
		}
	}
}

func TestZeroBudgetCannotBeFunded(t *testing.T) {
	env := newTestEnv(t)
	for _, budget := range []float64{0, 0.001} {
		var ve engine.ValidationError
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Free", BudgetAmount: budget, RequesterID: requester}); !errors.As(err, &ve) {
			t.Fatalf("budget %v: expected ValidationError, got %v", budget, err)
		}
	}
}

func TestFullEscrowHappyPath(t *testing.T) {
	env := newTestEnv(t)
	task, lock := lockedTask(t, env, "Deliver flowers")

	if lock.Amounts != (engine.Amounts{WorkerAmount: 10000, PlatformFee: 1000, ClientPays: 11000}) {
		t.Fatalf("unexpected amounts: %+v", lock.Amounts)
	}
	if lock.ClientSecret == "" || lock.Escrow.Status != domain.EscrowHeld {
		t.Fatalf("unexpected lock result: %+v", lock)
	}
	hold := env.Gateway.Holds[0]
	if hold.Amount != 11000 || hold.Metadata["task_id"] != task.ID || hold.Metadata["human_id"] != worker || hold.IdempotencyKey == "" {
		t.Fatalf("unexpected hold request: %+v", hold)
	}
	if task.Status != domain.TaskAssigned || task.PaymentStatus != domain.PaymentEscrowed || *task.AssignedHumanID != worker {
		t.Fatalf("unexpected task after lock: %+v", task)
	}
	if titles := env.Notifier.titlesFor(worker); len(titles) != 1 || titles[0] != "New task assigned" {
		t.Fatalf("worker notifications = %v", titles)
	}

	proof := submitPhoto(t, env, task.ID, "door")
	if proof.AIValidation == nil || proof.AIValidation.Confidence != 60 {
		t.Fatalf("expected model validation on photo proof, got %+v", proof.AIValidation)
	}
	if got := mustTask(t, env, task.ID).Status; got != domain.TaskReview {
		t.Fatalf("status = %s, want review", got)
	}

	if _, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester); !errors.Is(err, engine.ErrProofsIncomplete) {
		t.Fatalf("expected ErrProofsIncomplete while pending, got %v", err)
	}
	review(t, env, proof.ID, engine.ReviewApprove)
	if _, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester); !errors.Is(err, engine.ErrPayoutAccountMissing) {
		t.Fatalf("expected ErrPayoutAccountMissing, got %v", err)
	}
	setPayout(t, env)

	res, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.TransferID == "" || res.Escrow.Status != domain.EscrowReleased {
		t.Fatalf("unexpected release: %+v", res)
	}
	tr := env.Gateway.Transfers[0]
	if tr.Amount != 10000 || tr.Destination != "acct_worker" || tr.IdempotencyKey != "escrow-transfer-"+lock.Escrow.ID {
		t.Fatalf("unexpected transfer: %+v", tr)
	}
	task = mustTask(t, env, task.ID)
	if task.Status != domain.TaskCompleted || task.PaymentStatus != domain.PaymentReleased || task.CompletedAt == nil {
		t.Fatalf("unexpected task after release: %+v", task)
	}
	status, err := env.Engine.GetEscrowStatus(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.EscrowReleased || status.GrossAmount != 110 || status.NetAmount != 100 || status.PlatformFee != 10 || status.ReleasedAt == nil {
		t.Fatalf("unexpected status: %+v", status)
	}
	if _, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("second release: expected ErrInvalidState, got %v", err)
	}
}

func TestReleaseGating(t *testing.T) {
	env := newTestEnv(t)
	setPayout(t, env)
	task, _ := lockedTask(t, env, "Paint fence")

	if _, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, "stranger"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester); !errors.Is(err, engine.ErrProofsIncomplete) {
		t.Fatalf("no proofs: expected ErrProofsIncomplete, got %v", err)
	}
	first := submitPhoto(t, env, task.ID, "before")
	second := submitPhoto(t, env, task.ID, "after")
	review(t, env, first.ID, engine.ReviewReject)
	if got := mustTask(t, env, task.ID).Status; got != domain.TaskInProgress {
		t.Fatalf("status after rejection = %s, want in_progress", got)
	}
	review(t, env, second.ID, engine.ReviewApprove)
	if _, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester); !errors.Is(err, engine.ErrProofsRejected) {
		t.Fatalf("expected ErrProofsRejected, got %v", err)
	}
	if env.Gateway.CaptureCount() != 0 {
		t.Fatalf("gated release must not touch the processor")
	}
	if _, err := env.Engine.ReviewProof(env.Ctx, engine.ProofReviewOptions{ProofID: first.ID, Action: engine.ReviewApprove, ReviewerID: requester}); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("re-review: expected ErrInvalidState, got %v", err)
	}
}

func TestTransferFailureKeepsCaptureAndRetries(t *testing.T) {
	env := newTestEnv(t)
	setPayout(t, env)
	task, lock := lockedTask(t, env, "Assemble desk")
	review(t, env, submitPhoto(t, env, task.ID, "desk").ID, engine.ReviewApprove)

	env.Gateway.SetTransferErr(&payments.ProcessorError{Op: "transfer", Code: "balance_insufficient", Message: "insufficient funds"})
	_, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester)
	var pe engine.PaymentProcessorError
	if !errors.As(err, &pe) || pe.Code != "balance_insufficient" {
		t.Fatalf("expected PaymentProcessorError, got %v", err)
	}
	esc, err := env.Engine.Repo.GetEscrowByTask(env.Ctx, nil, task.ID, false)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if esc.Status != domain.EscrowHeld || esc.CapturedAt == nil {
		t.Fatalf("escrow should stay held with capture recorded: %+v", esc)
	}
	if n, _ := env.Engine.Repo.CountEvents(env.Ctx, events.EscrowTransferFailed, lock.Escrow.ID); n != 1 {
		t.Fatalf("transfer_failed events = %d", n)
	}
	if got := testutil.ToFloat64(env.Engine.Metrics.TransferFailures); got != 1 {
		t.Fatalf("transfer failure metric = %v", got)
	}

	env.Gateway.SetTransferErr(nil)
	res, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester)
	if err != nil {
		t.Fatalf("retry release: %v", err)
	}
	if env.Gateway.CaptureCount() != 1 || env.Gateway.TransferCount() != 1 {
		t.Fatalf("captures=%d transfers=%d, want 1/1", env.Gateway.CaptureCount(), env.Gateway.TransferCount())
	}
	if res.Escrow.Status != domain.EscrowReleased {
		t.Fatalf("unexpected escrow: %+v", res.Escrow)
	}
}

func TestConcurrentReleaseTransfersOnce(t *testing.T) {
	env := newTestEnv(t)
	setPayout(t, env)
	task, _ := lockedTask(t, env, "Move boxes")
	review(t, env, submitPhoto(t, env, task.ID, "boxes").ID, engine.ReviewApprove)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, engine.ErrInvalidState):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != 4 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}
	if env.Gateway.TransferCount() != 1 {
		t.Fatalf("transfers = %d, want 1", env.Gateway.TransferCount())
	}
}

func TestLockFundsGuards(t *testing.T) {
	env := newTestEnv(t)
	task := matchedTask(t, env, "Mow lawn", 30)

	if _, err := env.Engine.LockFunds(env.Ctx, task.ID, worker, "someone-else"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	env.Gateway.HoldErr = errors.New("card declined")
	var pe engine.PaymentProcessorError
	if _, err := env.Engine.LockFunds(env.Ctx, task.ID, worker, requester); !errors.As(err, &pe) {
		t.Fatalf("expected PaymentProcessorError, got %v", err)
	}
	if got := mustTask(t, env, task.ID).Status; got != domain.TaskMatching {
		t.Fatalf("failed hold must not move the task, status = %s", got)
	}
	env.Gateway.HoldErr = nil
	if _, err := env.Engine.LockFunds(env.Ctx, task.ID, worker, requester); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.Engine.LockFunds(env.Ctx, task.ID, worker, requester); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("second lock: expected ErrInvalidState, got %v", err)
	}

	flagged, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Pending", BudgetAmount: 5, RequesterID: requester})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.LockFunds(env.Ctx, flagged.ID, worker, requester); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("verifying task: expected ErrInvalidState, got %v", err)
	}
}

func TestDisputeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	setPayout(t, env)
	task, lock := lockedTask(t, env, "Fix sink")
	review(t, env, submitPhoto(t, env, task.ID, "sink").ID, engine.ReviewApprove)

	if _, err := env.Engine.InitiateDispute(env.Ctx, task.ID, "stranger", "no"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	first, err := env.Engine.InitiateDispute(env.Ctx, task.ID, worker, "requester unreachable")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if first.AlreadyDisputed || first.Summary == nil || first.Summary.Severity != "medium" {
		t.Fatalf("unexpected first dispute: %+v", first)
	}
	second, err := env.Engine.InitiateDispute(env.Ctx, task.ID, requester, "different reason")
	if err != nil {
		t.Fatalf("second dispute: %v", err)
	}
	if !second.AlreadyDisputed || second.Escrow.ID != lock.Escrow.ID || *second.Escrow.DisputeReason != "requester unreachable" {
		t.Fatalf("second dispute should return the existing record: %+v", second.Escrow)
	}
	if n, _ := env.Engine.Repo.CountEvents(env.Ctx, events.EscrowDisputed, lock.Escrow.ID); n != 1 {
		t.Fatalf("escrow.disputed events = %d, want 1", n)
	}
	task = mustTask(t, env, task.ID)
	if task.Status != domain.TaskDisputed || task.PaymentStatus != domain.PaymentDisputed || task.DisputedAt == nil {
		t.Fatalf("unexpected task: %+v", task)
	}
	if _, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("release after dispute: expected ErrInvalidState, got %v", err)
	}
	if titles := env.Notifier.titlesFor(requester); len(titles) == 0 || titles[len(titles)-1] != "Dispute opened" {
		t.Fatalf("requester notifications = %v", titles)
	}
}

func TestDisputeSummaryFailureDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	task, _ := lockedTask(t, env, "Clean garage")
	env.Engine = env.Engine.WithAI(&ai.MockClient{Respond: func(string) (string, error) {
		return "", errors.New("model unavailable")
	}})
	res, err := env.Engine.InitiateDispute(env.Ctx, task.ID, requester, "no show")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if res.Summary != nil || res.Escrow.Status != domain.EscrowDisputed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAutoApproveStaleProofs(t *testing.T) {
	env := newTestEnv(t)
	task, _ := lockedTask(t, env, "Hang shelf")
	stale := submitPhoto(t, env, task.ID, "shelf")

	env.Clock.Advance(71 * time.Hour)
	if n, err := env.Engine.AutoApproveStaleProofs(env.Ctx); err != nil || n != 0 {
		t.Fatalf("early sweep: n=%d err=%v", n, err)
	}
	env.Clock.Advance(2 * time.Hour)
	if n, err := env.Engine.AutoApproveStaleProofs(env.Ctx); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	proofs, err := env.Engine.ListProofs(env.Ctx, task.ID, requester)
	if err != nil {
		t.Fatalf("list proofs: %v", err)
	}
	if len(proofs) != 1 || proofs[0].ID != stale.ID || proofs[0].Status != domain.ProofApproved || *proofs[0].ReviewedBy != engine.AutoApproveReviewer {
		t.Fatalf("unexpected proofs: %+v", proofs)
	}
}

func TestSubmitProofGuards(t *testing.T) {
	env := newTestEnv(t)
	task, _ := lockedTask(t, env, "Buy milk")

	_, err := env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{TaskID: task.ID, HumanID: "intruder", ProofType: domain.ProofText, Title: "done"})
	if !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var ve engine.ValidationError
	_, err = env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{TaskID: task.ID, HumanID: worker, ProofType: "audio", Title: "done"})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	text, err := env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{TaskID: task.ID, HumanID: worker, ProofType: domain.ProofText, Title: "done"})
	if err != nil {
		t.Fatalf("text proof: %v", err)
	}
	if text.AIValidation != nil {
		t.Fatalf("text proofs are not model validated")
	}
}

func TestTextProofReleaseCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	setPayout(t, env)
	task, lock := lockedTask(t, env, "Write a note")

	proof, err := env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		TaskID: task.ID, HumanID: worker, ProofType: domain.ProofText, Title: "Note delivered",
		Description: "Left it at the front desk",
	})
	if err != nil {
		t.Fatalf("text proof: %v", err)
	}
	if proof.AIValidation != nil {
		t.Fatalf("text proof carries a model verdict: %+v", proof.AIValidation)
	}
	review(t, env, proof.ID, engine.ReviewApprove)

	res, err := env.Engine.ReleaseFunds(env.Ctx, task.ID, requester)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Escrow.ID != lock.Escrow.ID || res.Escrow.Status != domain.EscrowReleased || res.TransferID == "" {
		t.Fatalf("unexpected release: %+v", res)
	}
	status, err := env.Engine.GetEscrowStatus(env.Ctx, task.ID)
	if err != nil || status.Status != domain.EscrowReleased {
		t.Fatalf("escrow status: %+v %v", status, err)
	}
	task = mustTask(t, env, task.ID)
	if task.Status != domain.TaskCompleted || task.PaymentStatus != domain.PaymentReleased || task.CompletedAt == nil {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestLockRefusedBeforeSignatureCheck(t *testing.T) {
	env := newTestEnv(t)
	opts := signedTask(t, env, "agent-1", "Feed cat")
	row := domain.Task{
		ID: "forged-1", Title: "Feed tiger", BudgetAmount: 20, BudgetCurrency: "usd", TaskType: "errand",
		RequesterID: requester, AgentID: &opts.AgentID, Signature: &opts.Signature,
		Status: domain.TaskOpen, PaymentStatus: domain.PaymentPending, Metadata: opts.Metadata,
		CreatedAt: "2024-05-01T10:00:00Z", UpdatedAt: "2024-05-01T10:00:00Z",
	}
	if err := env.Engine.Repo.InsertTask(env.Ctx, nil, row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := env.Engine.LockFunds(env.Ctx, row.ID, worker, requester); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("lock before intake: expected ErrInvalidState, got %v", err)
	}
	if env.Gateway.HoldCount() != 0 {
		t.Fatalf("a hold was placed for an unverified task")
	}
	got := env.Engine.HandleTaskChange(env.Ctx, []byte(`{"type":"INSERT","table":"tasks","record":{"id":"forged-1"}}`))
	if got != engine.FeedProcessedWithError {
		t.Fatalf("feed = %q, want %q", got, engine.FeedProcessedWithError)
	}
	if status := mustTask(t, env, row.ID).Status; status != domain.TaskRejected {
		t.Fatalf("status = %s, want rejected", status)
	}
}

func TestStartWork(t *testing.T) {
	env := newTestEnv(t)
	task, _ := lockedTask(t, env, "Assemble desk")

	if _, err := env.Engine.StartWork(env.Ctx, task.ID, requester); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("requester start: expected ErrUnauthorized, got %v", err)
	}
	started, err := env.Engine.StartWork(env.Ctx, task.ID, worker)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.TaskInProgress {
		t.Fatalf("status = %s, want in_progress", started.Status)
	}
	if _, err := env.Engine.StartWork(env.Ctx, task.ID, worker); err != nil {
		t.Fatalf("repeat start: %v", err)
	}
	// verifying, matching, ASSIGNED, in_progress
	if n, _ := env.Engine.Repo.CountEvents(env.Ctx, events.TaskStatusChanged, task.ID); n != 4 {
		t.Fatalf("status change events = %d, want 4", n)
	}

	review(t, env, submitPhoto(t, env, task.ID, "desk").ID, engine.ReviewApprove)
	if _, err := env.Engine.StartWork(env.Ctx, task.ID, worker); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("start during review: expected ErrInvalidState, got %v", err)
	}
}

func TestDisputeSummaryDoesNotHoldTaskLock(t *testing.T) {
	env := newTestEnv(t)
	task, _ := lockedTask(t, env, "Paint door")

	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce, releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()
	env.Engine = env.Engine.WithAI(&ai.MockClient{Respond: func(string) (string, error) {
		enterOnce.Do(func() { close(entered) })
		<-release
		return `{"severity": "high", "recommended_action": "refund", "key_points": ["no show"], "evidence_quality": "weak"}`, nil
	}})

	first := make(chan error, 1)
	go func() {
		_, err := env.Engine.InitiateDispute(env.Ctx, task.ID, requester, "no show")
		first <- err
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispute summary never requested")
	}

	second := make(chan engine.DisputeResult, 1)
	go func() {
		res, err := env.Engine.InitiateDispute(env.Ctx, task.ID, worker, "again")
		if err != nil {
			t.Errorf("second dispute: %v", err)
		}
		second <- res
	}()
	select {
	case res := <-second:
		if !res.AlreadyDisputed {
			t.Fatalf("second dispute should see the first: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("second dispute blocked behind the summary call")
	}

	unblock()
	if err := <-first; err != nil {
		t.Fatalf("first dispute: %v", err)
	}
}
