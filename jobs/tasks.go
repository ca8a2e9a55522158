package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpenseReanalyze resets an expense so a fresh analysis batch can run.
	TaskExpenseReanalyze = "expense:reanalyze"
	// TaskSessionPrune removes expired session rows.
	TaskSessionPrune = "maintenance:session_prune"
	// TaskIdempotencyPrune removes stale idempotency keys.
	TaskIdempotencyPrune = "maintenance:idempotency_prune"
)

// ReanalyzePayload identifies the expense to reset and who asked for it.
type ReanalyzePayload struct {
	ExpenseID string `json:"expense_id"`
	ActorID   int64  `json:"actor_id"`
}

// NewReanalyzeTask constructs an Asynq task for an expense reset.
func NewReanalyzeTask(payload ReanalyzePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpenseReanalyze, data), nil
}

// NewSessionPruneTask constructs the periodic session prune task.
func NewSessionPruneTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPrune, nil)
}

// NewIdempotencyPruneTask constructs the periodic idempotency prune task.
func NewIdempotencyPruneTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPrune, nil)
}
