package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/expensio/expensio/internal/auth"
	"github.com/expensio/expensio/internal/expense"
	"github.com/expensio/expensio/internal/expense/analysis"
	jobmetrics "github.com/expensio/expensio/internal/jobs"
	"github.com/expensio/expensio/internal/rbac"
	"github.com/expensio/expensio/internal/shared"
)

var _ analysis.Enqueuer = (*Client)(nil)

// IdempotencyRetention is how long processed idempotency keys are kept.
const IdempotencyRetention = 24 * time.Hour

// SessionPruneJob removes expired session rows from postgres.
type SessionPruneJob struct {
	Auth    *auth.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the session prune.
func (j *SessionPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Auth == nil {
		return errors.New("session prune: handler not configured")
	}
	tracker := j.Metrics.Track(TaskSessionPrune)
	removed, err := j.Auth.PruneSessions(ctx)
	if err != nil {
		j.logger().Error("session prune failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("session prune completed", slog.Int64("removed", removed))
	return tracker.End(nil)
}

func (j *SessionPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// IdempotencyPruneJob removes idempotency keys past the retention window.
type IdempotencyPruneJob struct {
	Store   *shared.IdempotencyStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the idempotency prune.
func (j *IdempotencyPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency prune: handler not configured")
	}
	tracker := j.Metrics.Track(TaskIdempotencyPrune)
	if err := j.Store.Cleanup(ctx, IdempotencyRetention); err != nil {
		if j.Logger != nil {
			j.Logger.Error("idempotency prune failed", slog.Any("error", err))
		}
		return tracker.End(err)
	}
	return tracker.End(nil)
}

// ReanalyzeJob resets an expense for a fresh analysis batch on behalf of
// a manager. The actor's roles are resolved at execution time, so a
// revoked manager cannot ride a queued task.
type ReanalyzeJob struct {
	Orchestrator *analysis.Orchestrator
	RBAC         *rbac.Service
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
}

// Handle executes the reset.
func (j *ReanalyzeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Orchestrator == nil || j.RBAC == nil {
		return errors.New("reanalyze: handler not configured")
	}
	var payload ReanalyzePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	expenseID, err := uuid.Parse(payload.ExpenseID)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskExpenseReanalyze)
	actor, err := j.RBAC.Resolve(ctx, payload.ActorID)
	if err != nil {
		return tracker.End(err)
	}
	err = j.Orchestrator.ResetForReanalysis(ctx, actor, expenseID)
	switch {
	case err == nil:
	case errors.Is(err, expense.ErrNotFound),
		errors.Is(err, expense.ErrForbidden),
		errors.Is(err, expense.ErrInvalidTransition):
		// not retryable; the world moved on since the task was queued
		if j.Logger != nil {
			j.Logger.Warn("reanalyze skipped",
				slog.String("expense_id", payload.ExpenseID),
				slog.Any("error", err),
			)
		}
		_ = tracker.End(err)
		return asynq.SkipRetry
	default:
		return tracker.End(err)
	}
	if j.Logger != nil {
		j.Logger.Info("expense reset for reanalysis", slog.String("expense_id", payload.ExpenseID))
	}
	return tracker.End(nil)
}
