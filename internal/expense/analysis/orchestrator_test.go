package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/expensio/expensio/internal/expense"
	"github.com/expensio/expensio/internal/rbac"
	"github.com/expensio/expensio/internal/vision"
)

type memoryRepo struct {
	expenses  map[uuid.UUID]expense.Expense
	lineItems map[uuid.UUID]expense.LineItem
	metadata  map[uuid.UUID]expense.ReceiptMetadata
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		expenses:  make(map[uuid.UUID]expense.Expense),
		lineItems: make(map[uuid.UUID]expense.LineItem),
		metadata:  make(map[uuid.UUID]expense.ReceiptMetadata),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, expense.TxRepository) error) error {
	// mimic transactional behavior: mutate a copy, swap in on success
	snapshot := &memoryRepo{
		expenses:  cloneMap(r.expenses),
		lineItems: cloneMap(r.lineItems),
		metadata:  cloneMap(r.metadata),
	}
	if err := fn(ctx, &memoryTx{repo: snapshot}); err != nil {
		return err
	}
	r.expenses = snapshot.expenses
	r.lineItems = snapshot.lineItems
	r.metadata = snapshot.metadata
	return nil
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (*expense.Expense, error) {
	exp, ok := r.expenses[id]
	if !ok {
		return nil, expense.ErrNotFound
	}
	return &exp, nil
}

func (r *memoryRepo) GetWithDetails(ctx context.Context, id uuid.UUID) (*expense.Expense, error) {
	exp, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, li := range r.lineItems {
		if li.ExpenseID == id && !li.Deleted {
			exp.LineItems = append(exp.LineItems, li)
		}
	}
	for _, md := range r.metadata {
		if md.ExpenseID == id {
			exp.Receipts = append(exp.Receipts, md)
		}
	}
	return exp, nil
}

func (r *memoryRepo) List(ctx context.Context, filters expense.ListFilters) ([]expense.Expense, int, error) {
	return nil, 0, nil
}

func (r *memoryRepo) GetLineItem(ctx context.Context, id uuid.UUID) (*expense.LineItem, error) {
	li, ok := r.lineItems[id]
	if !ok || li.Deleted {
		return nil, expense.ErrNotFound
	}
	return &li, nil
}

func (tx *memoryTx) CreateExpense(ctx context.Context, e expense.Expense) error {
	tx.repo.expenses[e.ID] = e
	return nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, userID int64) (int64, error) {
	return 1, nil
}

func (tx *memoryTx) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to expense.Status) error {
	exp, ok := tx.repo.expenses[id]
	if !ok {
		return expense.ErrNotFound
	}
	if exp.Status != from {
		return expense.ErrConflict
	}
	exp.Status = to
	tx.repo.expenses[id] = exp
	return nil
}

func (tx *memoryTx) InsertLineItem(ctx context.Context, li expense.LineItem) error {
	tx.repo.lineItems[li.ID] = li
	return nil
}

func (tx *memoryTx) SoftDeleteLineItem(ctx context.Context, id uuid.UUID) error {
	li, ok := tx.repo.lineItems[id]
	if !ok {
		return expense.ErrNotFound
	}
	li.Deleted = true
	tx.repo.lineItems[id] = li
	return nil
}

func (tx *memoryTx) InsertMetadata(ctx context.Context, md expense.ReceiptMetadata) error {
	for _, existing := range tx.repo.metadata {
		if existing.ExpenseID == md.ExpenseID && existing.ReceiptID == md.ReceiptID {
			return expense.ErrDuplicateReceipt
		}
	}
	tx.repo.metadata[md.ID] = md
	return nil
}

func (tx *memoryTx) DeleteAnalysisRows(ctx context.Context, expenseID uuid.UUID) error {
	for id, li := range tx.repo.lineItems {
		if li.ExpenseID == expenseID && li.IsAIGenerated {
			li.Deleted = true
			tx.repo.lineItems[id] = li
		}
	}
	for id, md := range tx.repo.metadata {
		if md.ExpenseID == expenseID {
			delete(tx.repo.metadata, id)
		}
	}
	return nil
}

// fakeVision keys its behavior on the image payload.
type fakeVision struct {
	failOn map[string]bool
}

func (f *fakeVision) Analyze(ctx context.Context, img vision.Image) (*vision.ReceiptAnalysis, error) {
	key := string(img.Data)
	if f.failOn[key] {
		return nil, fmt.Errorf("%w: model returned no JSON object", vision.ErrExtraction)
	}
	return &vision.ReceiptAnalysis{
		VendorName:  "Yellow Cab Co. " + key,
		ReceiptDate: "2024-05-01",
		TotalAmount: 42.50,
		Currency:    "USD",
		LineItems: []vision.AnalysisLineItem{
			{Description: "Taxi fare " + key, TotalAmount: 42.50},
		},
		ConfidenceScore: 0.92,
	}, nil
}

func (f *fakeVision) Close() error { return nil }

func seedNew(repo *memoryRepo, userID int64, status expense.Status) uuid.UUID {
	id := uuid.New()
	repo.expenses[id] = expense.Expense{
		ID:       id,
		Title:    "Trip to client site",
		Currency: "USD",
		Status:   status,
		UserID:   userID,
	}
	return id
}

func receiptFiles(ids ...string) []ReceiptFile {
	files := make([]ReceiptFile, 0, len(ids))
	for _, id := range ids {
		files = append(files, ReceiptFile{
			ReceiptID: id,
			Image:     vision.Image{Data: []byte(id), MIMEType: "image/png"},
		})
	}
	return files
}

func TestAnalyzeReceiptsSuccess(t *testing.T) {
	repo := newMemoryRepo()
	orch := NewOrchestrator(&fakeVision{}, repo, expense.NewGuard(repo), "USD", nil, nil)
	owner := rbac.NewActor(1, nil)
	expID := seedNew(repo, 1, expense.StatusNew)

	result, err := orch.AnalyzeReceipts(context.Background(), owner, expID, receiptFiles("r1", "r2", "r3"))
	require.NoError(t, err)
	require.Equal(t, 3, result.Receipts)
	require.Equal(t, 3, result.LineItems)
	require.Equal(t, expense.StatusAnalyzed, result.Expense.Status)
	require.Len(t, result.Expense.Receipts, 3)

	for _, li := range result.Expense.LineItems {
		require.True(t, li.IsAIGenerated)
		require.NotEqual(t, expense.ManualEntryReceiptID, li.ReceiptID)
	}
	for _, md := range result.Expense.Receipts {
		require.Equal(t, 0.92, md.ConfidenceScore)
		require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), md.ReceiptDate)
	}
}

func TestAnalyzeReceiptsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	client := &fakeVision{failOn: map[string]bool{"r2": true}}
	orch := NewOrchestrator(client, repo, expense.NewGuard(repo), "USD", nil, nil)
	owner := rbac.NewActor(1, nil)
	expID := seedNew(repo, 1, expense.StatusNew)

	_, err := orch.AnalyzeReceipts(context.Background(), owner, expID, receiptFiles("r1", "r2", "r3"))
	require.Error(t, err)
	require.ErrorIs(t, err, vision.ErrExtraction)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failures, 1)
	require.Contains(t, batchErr.Failures, "r2")

	// nothing committed, expense still analyzable
	require.Empty(t, repo.lineItems)
	require.Empty(t, repo.metadata)
	got, getErr := repo.Get(context.Background(), expID)
	require.NoError(t, getErr)
	require.Equal(t, expense.StatusNew, got.Status)
}

func TestAnalyzeReceiptsRequiresStatusNew(t *testing.T) {
	repo := newMemoryRepo()
	orch := NewOrchestrator(&fakeVision{}, repo, expense.NewGuard(repo), "USD", nil, nil)
	owner := rbac.NewActor(1, nil)

	for _, status := range []expense.Status{expense.StatusAnalyzed, expense.StatusPending, expense.StatusApproved, expense.StatusRejected} {
		expID := seedNew(repo, 1, status)
		_, err := orch.AnalyzeReceipts(context.Background(), owner, expID, receiptFiles("r1"))
		require.ErrorIs(t, err, expense.ErrInvalidTransition, "status=%s", status)
	}
}

func TestAnalyzeReceiptsInputValidation(t *testing.T) {
	repo := newMemoryRepo()
	orch := NewOrchestrator(&fakeVision{}, repo, expense.NewGuard(repo), "USD", nil, nil)
	owner := rbac.NewActor(1, nil)
	expID := seedNew(repo, 1, expense.StatusNew)

	_, err := orch.AnalyzeReceipts(context.Background(), owner, expID, nil)
	require.ErrorIs(t, err, expense.ErrValidation)

	_, err = orch.AnalyzeReceipts(context.Background(), owner, expID, receiptFiles("r1", "r1"))
	require.ErrorIs(t, err, expense.ErrValidation)
}

func TestAnalyzeReceiptsOwnerOnly(t *testing.T) {
	repo := newMemoryRepo()
	orch := NewOrchestrator(&fakeVision{}, repo, expense.NewGuard(repo), "USD", nil, nil)
	expID := seedNew(repo, 1, expense.StatusNew)

	_, err := orch.AnalyzeReceipts(context.Background(), rbac.NewActor(2, nil), expID, receiptFiles("r1"))
	require.ErrorIs(t, err, expense.ErrNotFound)
}

func TestAnalyzeReceiptsCancelledContext(t *testing.T) {
	repo := newMemoryRepo()
	orch := NewOrchestrator(&fakeVision{}, repo, expense.NewGuard(repo), "USD", nil, nil)
	owner := rbac.NewActor(1, nil)
	expID := seedNew(repo, 1, expense.StatusNew)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := orch.AnalyzeReceipts(ctx, owner, expID, receiptFiles("r1"))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, repo.lineItems)
}

func TestResetForReanalysis(t *testing.T) {
	repo := newMemoryRepo()
	orch := NewOrchestrator(&fakeVision{}, repo, expense.NewGuard(repo), "USD", nil, nil)
	orgID := int64(7)
	expID := uuid.New()
	repo.expenses[expID] = expense.Expense{
		ID:       expID,
		Title:    "Conference travel",
		Currency: "USD",
		Status:   expense.StatusAnalyzed,
		UserID:   1,
		OrgID:    &orgID,
	}
	aiItem := expense.LineItem{ID: uuid.New(), ExpenseID: expID, ReceiptID: "r1", Description: "Flight", TotalAmount: 300, IsAIGenerated: true}
	manualItem := expense.LineItem{ID: uuid.New(), ExpenseID: expID, ReceiptID: expense.ManualEntryReceiptID, Description: "Tip", TotalAmount: 5}
	repo.lineItems[aiItem.ID] = aiItem
	repo.lineItems[manualItem.ID] = manualItem
	repo.metadata[uuid.New()] = expense.ReceiptMetadata{ID: uuid.New(), ExpenseID: expID, ReceiptID: "r1"}

	employee := rbac.NewActor(1, []rbac.Membership{{OrgID: orgID, UserID: 1, Role: rbac.RoleEmployee}})
	err := orch.ResetForReanalysis(context.Background(), employee, expID)
	require.ErrorIs(t, err, expense.ErrForbidden)

	manager := rbac.NewActor(3, []rbac.Membership{{OrgID: orgID, UserID: 3, Role: rbac.RoleManager}})
	require.NoError(t, orch.ResetForReanalysis(context.Background(), manager, expID))

	got, err := repo.GetWithDetails(context.Background(), expID)
	require.NoError(t, err)
	require.Equal(t, expense.StatusNew, got.Status)
	require.Empty(t, got.Receipts)
	require.Len(t, got.LineItems, 1, "manual entries survive a reset")
	require.Equal(t, "Tip", got.LineItems[0].Description)

	err = orch.ResetForReanalysis(context.Background(), manager, expID)
	require.ErrorIs(t, err, expense.ErrInvalidTransition, "NEW cannot be reset")
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingObserver) ObserveExtraction(outcome string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

func TestAnalyzeReceiptsRecordsExtractionOutcomes(t *testing.T) {
	repo := newMemoryRepo()
	observer := &countingObserver{}
	client := &fakeVision{failOn: map[string]bool{"r3": true}}
	orch := NewOrchestrator(client, repo, expense.NewGuard(repo), "USD", nil, observer)
	owner := rbac.NewActor(1, nil)
	expID := seedNew(repo, 1, expense.StatusNew)

	_, err := orch.AnalyzeReceipts(context.Background(), owner, expID, receiptFiles("r1", "r2", "r3"))
	require.ErrorIs(t, err, vision.ErrExtraction)
	require.Equal(t, 2, observer.outcomes["success"])
	require.Equal(t, 1, observer.outcomes["failure"])

	expID = seedNew(repo, 1, expense.StatusNew)
	_, err = orch.AnalyzeReceipts(context.Background(), owner, expID, receiptFiles("r1", "r2"))
	require.NoError(t, err)
	require.Equal(t, 4, observer.outcomes["success"])
	require.Equal(t, 1, observer.outcomes["failure"])
}
