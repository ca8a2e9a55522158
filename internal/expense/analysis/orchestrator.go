package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/expensio/expensio/internal/expense"
	"github.com/expensio/expensio/internal/rbac"
	"github.com/expensio/expensio/internal/vision"
)

// ReceiptFile is one uploaded receipt to analyze.
type ReceiptFile struct {
	ReceiptID string
	Image     vision.Image
}

// Result summarizes a committed batch.
type Result struct {
	Expense   *expense.Expense `json:"expense"`
	LineItems int              `json:"line_items"`
	Receipts  int              `json:"receipts"`
}

// BatchError aggregates per-file extraction failures. The batch is
// all-or-nothing, so any BatchError means no rows were committed.
type BatchError struct {
	Failures map[string]error
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return "analysis: batch failed: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match the underlying extraction error class.
func (e *BatchError) Unwrap() error {
	return vision.ErrExtraction
}

// MaxConcurrentExtractions bounds the fan-out across receipt files.
const MaxConcurrentExtractions = 4

// ExtractionObserver records the outcome and duration of one model call.
// *observability.Metrics satisfies it.
type ExtractionObserver interface {
	ObserveExtraction(outcome string, elapsed time.Duration)
}

// Orchestrator runs the receipt analysis pipeline for one expense:
// fan-out extraction per file, normalization, and a single transactional
// commit that also moves the expense NEW -> ANALYZED. Receipt files are
// independent documents, so extraction runs concurrently; the status
// transition is the fan-in barrier.
type Orchestrator struct {
	vision          vision.Client
	repo            expense.RepositoryPort
	guard           *expense.Guard
	defaultCurrency string
	logger          *slog.Logger
	observer        ExtractionObserver
}

// NewOrchestrator constructs the orchestrator. The observer may be nil.
func NewOrchestrator(client vision.Client, repo expense.RepositoryPort, guard *expense.Guard, defaultCurrency string, logger *slog.Logger, observer ExtractionObserver) *Orchestrator {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Orchestrator{vision: client, repo: repo, guard: guard, defaultCurrency: defaultCurrency, logger: logger, observer: observer}
}

// AnalyzeReceipts processes the batch all-or-nothing: every file must
// extract and persist, or nothing is committed and the expense stays NEW.
// If the caller's context is cancelled mid-flight, in-flight model calls
// finish or abort on their own, but no partial state becomes visible
// because the commit never happens.
func (o *Orchestrator) AnalyzeReceipts(ctx context.Context, actor rbac.Actor, expenseID uuid.UUID, files []ReceiptFile) (*Result, error) {
	exp, err := o.guard.Authorize(ctx, actor, expenseID, expense.CapabilityOwner)
	if err != nil {
		return nil, err
	}
	if exp.Status != expense.StatusNew {
		return nil, fmt.Errorf("%w: analysis requires status %s, expense is %s", expense.ErrInvalidTransition, expense.StatusNew, exp.Status)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one receipt required", expense.ErrValidation)
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if f.ReceiptID == "" {
			return nil, fmt.Errorf("%w: receipt id required", expense.ErrValidation)
		}
		if _, dup := seen[f.ReceiptID]; dup {
			return nil, fmt.Errorf("%w: duplicate receipt id %q", expense.ErrValidation, f.ReceiptID)
		}
		seen[f.ReceiptID] = struct{}{}
	}

	analyses := make([]*vision.ReceiptAnalysis, len(files))
	failures := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentExtractions)
	for i, file := range files {
		g.Go(func() error {
			start := time.Now()
			a, err := o.vision.Analyze(gctx, file.Image)
			o.observe(err, time.Since(start))
			if err != nil {
				failures[i] = err
				return nil
			}
			analyses[i] = a
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batchErr := &BatchError{Failures: make(map[string]error)}
	for i, ferr := range failures {
		if ferr != nil {
			batchErr.Failures[files[i].ReceiptID] = ferr
		}
	}
	if len(batchErr.Failures) > 0 {
		o.logError(ctx, actor, expenseID, batchErr)
		return nil, batchErr
	}

	var totalItems int
	err = o.repo.WithTx(ctx, func(ctx context.Context, tx expense.TxRepository) error {
		for i, file := range files {
			normalized := Normalize(analyses[i], expenseID, file.ReceiptID, o.defaultCurrency)
			for _, li := range normalized.LineItems {
				if err := tx.InsertLineItem(ctx, li); err != nil {
					return err
				}
				totalItems++
			}
			if err := tx.InsertMetadata(ctx, normalized.Metadata); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, expenseID, expense.StatusNew, expense.StatusAnalyzed)
	})
	if err != nil {
		o.logError(ctx, actor, expenseID, err)
		return nil, err
	}

	updated, err := o.repo.GetWithDetails(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	return &Result{Expense: updated, LineItems: totalItems, Receipts: len(files)}, nil
}

// AuthorizeReset checks that the actor may reset the expense, without
// performing the reset. Producers of queued resets call this before
// enqueueing; the worker re-checks when the task runs.
func (o *Orchestrator) AuthorizeReset(ctx context.Context, actor rbac.Actor, expenseID uuid.UUID) error {
	_, err := o.resettable(ctx, actor, expenseID)
	return err
}

func (o *Orchestrator) resettable(ctx context.Context, actor rbac.Actor, expenseID uuid.UUID) (*expense.Expense, error) {
	exp, err := o.guard.Authorize(ctx, actor, expenseID, expense.CapabilityManager)
	if err != nil {
		return nil, err
	}
	if exp.Status != expense.StatusAnalyzed && exp.Status != expense.StatusPending {
		return nil, fmt.Errorf("%w: cannot reset from %s", expense.ErrInvalidTransition, exp.Status)
	}
	return exp, nil
}

// ResetForReanalysis soft-deletes prior AI rows and moves the expense
// back to NEW so a fresh batch can run. Manager-only.
func (o *Orchestrator) ResetForReanalysis(ctx context.Context, actor rbac.Actor, expenseID uuid.UUID) error {
	exp, err := o.resettable(ctx, actor, expenseID)
	if err != nil {
		return err
	}
	return o.repo.WithTx(ctx, func(ctx context.Context, tx expense.TxRepository) error {
		if err := tx.DeleteAnalysisRows(ctx, expenseID); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, expenseID, exp.Status, expense.StatusNew)
	})
}

func (o *Orchestrator) observe(err error, elapsed time.Duration) {
	if o.observer == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	o.observer.ObserveExtraction(outcome, elapsed)
}

func (o *Orchestrator) logError(ctx context.Context, actor rbac.Actor, expenseID uuid.UUID, err error) {
	if o.logger == nil {
		return
	}
	o.logger.Error("receipt analysis failed",
		slog.String("expense_id", expenseID.String()),
		slog.Int64("actor_id", actor.UserID),
		slog.Any("error", err),
	)
}
