package expense

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

type memoryExpenseRepo struct {
	expenses   map[uuid.UUID]Expense
	lineItems  map[uuid.UUID]LineItem
	metadata   map[uuid.UUID]ReceiptMetadata
	counters   map[int64]int64
	statusErrs []error
}

type memoryExpenseTx struct {
	repo *memoryExpenseRepo
}

func newMemoryExpenseRepo() *memoryExpenseRepo {
	return &memoryExpenseRepo{
		expenses:  make(map[uuid.UUID]Expense),
		lineItems: make(map[uuid.UUID]LineItem),
		metadata:  make(map[uuid.UUID]ReceiptMetadata),
		counters:  make(map[int64]int64),
	}
}

func (r *memoryExpenseRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryExpenseTx{repo: r})
}

func (r *memoryExpenseRepo) Get(ctx context.Context, id uuid.UUID) (*Expense, error) {
	exp, ok := r.expenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &exp, nil
}

func (r *memoryExpenseRepo) GetWithDetails(ctx context.Context, id uuid.UUID) (*Expense, error) {
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

func (r *memoryExpenseRepo) List(ctx context.Context, filters ListFilters) ([]Expense, int, error) {
	var out []Expense
	for _, exp := range r.expenses {
		if exp.UserID != filters.UserID {
			if filters.OrgID == nil || exp.OrgID == nil || *exp.OrgID != *filters.OrgID {
				continue
			}
		}
		if filters.Status != nil && exp.Status != *filters.Status {
			continue
		}
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	total := len(out)
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			out = nil
		} else {
			out = out[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

func (r *memoryExpenseRepo) GetLineItem(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	li, ok := r.lineItems[id]
	if !ok || li.Deleted {
		return nil, ErrNotFound
	}
	return &li, nil
}

func (tx *memoryExpenseTx) CreateExpense(ctx context.Context, e Expense) error {
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	tx.repo.expenses[e.ID] = e
	return nil
}

func (tx *memoryExpenseTx) NextNumber(ctx context.Context, userID int64) (int64, error) {
	tx.repo.counters[userID]++
	return tx.repo.counters[userID], nil
}

func (tx *memoryExpenseTx) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	exp, ok := tx.repo.expenses[id]
	if !ok {
		return ErrNotFound
	}
	if v, ok := updates["title"]; ok {
		exp.Title = v.(string)
	}
	if v, ok := updates["description"]; ok {
		desc := v.(string)
		exp.Description = &desc
	}
	if v, ok := updates["amount"]; ok {
		exp.Amount = v.(float64)
	}
	exp.UpdatedAt = time.Now()
	tx.repo.expenses[id] = exp
	return nil
}

func (tx *memoryExpenseTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	if len(tx.repo.statusErrs) > 0 {
		err := tx.repo.statusErrs[0]
		tx.repo.statusErrs = tx.repo.statusErrs[1:]
		if err != nil {
			return err
		}
	}
	exp, ok := tx.repo.expenses[id]
	if !ok {
		return ErrNotFound
	}
	if exp.Status != from {
		return ErrConflict
	}
	exp.Status = to
	exp.UpdatedAt = time.Now()
	tx.repo.expenses[id] = exp
	return nil
}

func (tx *memoryExpenseTx) InsertLineItem(ctx context.Context, li LineItem) error {
	li.CreatedAt = time.Now()
	tx.repo.lineItems[li.ID] = li
	return nil
}

func (tx *memoryExpenseTx) SoftDeleteLineItem(ctx context.Context, id uuid.UUID) error {
	li, ok := tx.repo.lineItems[id]
	if !ok {
		return ErrNotFound
	}
	li.Deleted = true
	tx.repo.lineItems[id] = li
	return nil
}

func (tx *memoryExpenseTx) InsertMetadata(ctx context.Context, md ReceiptMetadata) error {
	for _, existing := range tx.repo.metadata {
		if existing.ExpenseID == md.ExpenseID && existing.ReceiptID == md.ReceiptID {
			return ErrDuplicateReceipt
		}
	}
	md.CreatedAt = time.Now()
	tx.repo.metadata[md.ID] = md
	return nil
}

func (tx *memoryExpenseTx) DeleteAnalysisRows(ctx context.Context, expenseID uuid.UUID) error {
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
