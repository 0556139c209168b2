package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ferangarita01/rentman-sub000/internal/ai"
	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/events"
	"github.com/ferangarita01/rentman-sub000/internal/lifecycle"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
)

// WakeAnalysis nudges the worker to poll now instead of waiting for the ticker.
func (e Engine) WakeAnalysis() {
	if e.wake == nil {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// RunAnalysisWorker processes queued viability analyses until ctx is done.
func (e Engine) RunAnalysisWorker(ctx context.Context) error {
	if n, err := e.Repo.RequeueRunningJobs(ctx, e.timestamp()); err != nil {
		return fmt.Errorf("requeue running jobs: %w", err)
	} else if n > 0 {
		e.logger().Printf("analysis: requeued %d interrupted job(s)", n)
	}
	poll := e.Config.Analysis.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if _, err := e.ProcessDueAnalyses(ctx); err != nil && ctx.Err() == nil {
			e.logger().Printf("analysis: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

// ProcessDueAnalyses claims the jobs that are due and runs them with bounded
// concurrency. It returns the number of jobs claimed.
func (e Engine) ProcessDueAnalyses(ctx context.Context) (int, error) {
	limit := e.Config.Analysis.Concurrency
	if limit < 1 {
		limit = 1
	}
	jobs, err := e.Repo.ClaimDueJobs(ctx, e.timestamp(), limit*2)
	if err != nil {
		return len(jobs), fmt.Errorf("claim jobs: %w", err)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			err := e.analyze(ctx, job)
			if err != nil {
				e.releaseJob(job, err)
			}
			return err
		})
	}
	return len(jobs), g.Wait()
}

func (e Engine) analyze(ctx context.Context, job domain.AnalysisJob) error {
	t, err := e.Repo.GetTask(ctx, job.TaskID)
	if errors.Is(err, repo.ErrNotFound) {
		msg := "task not found"
		return e.Repo.FinishJob(ctx, nil, job.TaskID, repo.JobFailed, &msg, e.timestamp())
	}
	if err != nil {
		return err
	}
	if t.Status != domain.TaskVerifying {
		return e.Repo.FinishJob(ctx, nil, job.TaskID, repo.JobDone, nil, e.timestamp())
	}

	verdict, aerr := e.Viability.Analyze(ctx, t)
	if aerr != nil {
		e.Metrics.AI("viability", aiOutcome(aerr))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.analysisFailed(ctx, job, aerr)
	}

	event := lifecycle.AnalysisFlagged
	if verdict.Approved(e.Viability.Threshold) {
		event = lifecycle.AnalysisViable
	}
	e.Metrics.AI("viability", string(event))

	unlock := e.Locks.Lock(t.ID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err = e.Repo.GetTaskTx(ctx, tx, job.TaskID, true)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskVerifying {
		if _, err := e.applyTransition(ctx, tx, t, "system", transition{
			Event:    event,
			Metadata: map[string]any{"ai_analysis": verdict},
		}); err != nil {
			return err
		}
	}
	if err := e.Repo.FinishJob(ctx, tx, job.TaskID, repo.JobDone, nil, e.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}

// analysisFailed schedules a retry or, once attempts are exhausted, hands the
// task to a human.
func (e Engine) analysisFailed(ctx context.Context, job domain.AnalysisJob, cause error) error {
	e.logger().Printf("analysis: task %s attempt %d failed: %v", job.TaskID, job.Attempts, cause)
	maxAttempts := e.Config.Analysis.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	unlock := e.Locks.Lock(job.TaskID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.AnalysisAttemptError, "task", job.TaskID, "system", events.EventPayload{
		"attempt": job.Attempts,
		"error":   cause.Error(),
	}); err != nil {
		return err
	}

	// A malformed answer is final; only timeouts and transport errors retry.
	retryable := !errors.Is(cause, ai.ErrInvalidAIResponse)
	if retryable && job.Attempts < maxAttempts {
		if err := tx.Commit(); err != nil {
			return err
		}
		next := e.now().Add(e.backoff(job.Attempts)).UTC().Format(time.RFC3339)
		return e.Repo.RetryJob(ctx, job.TaskID, cause.Error(), next, e.timestamp())
	}

	final := AIAnalysisError{TaskID: job.TaskID, Attempts: job.Attempts, Err: cause}
	t, err := e.Repo.GetTaskTx(ctx, tx, job.TaskID, true)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskVerifying {
		if _, err := e.applyTransition(ctx, tx, t, "system", transition{
			Event: lifecycle.AnalysisFailed,
			Metadata: map[string]any{
				"ai_error":              cause.Error(),
				"requires_human_review": true,
			},
		}); err != nil {
			return err
		}
	}
	msg := final.Error()
	if err := e.Repo.FinishJob(ctx, tx, job.TaskID, repo.JobFailed, &msg, e.timestamp()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger().Printf("analysis: %v; task sent to manual review", final)
	return nil
}

// releaseJob puts a job left running by an error back in the queue for the
// next poll. It uses its own context so a cancelled worker still requeues.
func (e Engine) releaseJob(job domain.AnalysisJob, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := e.now().Add(e.backoff(job.Attempts)).UTC().Format(time.RFC3339)
	err := e.Repo.RetryJob(ctx, job.TaskID, cause.Error(), next, e.timestamp())
	switch {
	case err == nil:
		e.logger().Printf("analysis: task %s returned to queue after error: %v", job.TaskID, cause)
	case errors.Is(err, repo.ErrConflict):
		// Already finished or requeued.
	default:
		e.logger().Printf("analysis: task %s requeue failed: %v", job.TaskID, err)
	}
}

func (e Engine) backoff(attempt int) time.Duration {
	base := e.Config.Analysis.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d <= 0 || d > time.Hour {
		d = time.Hour
	}
	return d
}

func aiOutcome(err error) string {
	switch {
	case errors.Is(err, ai.ErrTimeout):
		return "timeout"
	case errors.Is(err, ai.ErrInvalidAIResponse):
		return "invalid_response"
	default:
		return "error"
	}
}
