package expense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expensio/expensio/internal/platform/db"
)

// ErrDuplicateReceipt indicates a metadata row already exists for the
// receipt within the expense.
var ErrDuplicateReceipt = errors.New("expense: duplicate receipt metadata")

// RepositoryPort describes repository operations used by services.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Expense, error)
	GetWithDetails(ctx context.Context, id uuid.UUID) (*Expense, error)
	List(ctx context.Context, filters ListFilters) ([]Expense, int, error)
	GetLineItem(ctx context.Context, id uuid.UUID) (*LineItem, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateExpense(ctx context.Context, e Expense) error
	NextNumber(ctx context.Context, userID int64) (int64, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// UpdateStatus performs a compare-and-swap on the status column and
	// returns ErrConflict when the current status no longer matches.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	InsertLineItem(ctx context.Context, li LineItem) error
	SoftDeleteLineItem(ctx context.Context, id uuid.UUID) error
	InsertMetadata(ctx context.Context, md ReceiptMetadata) error
	// DeleteAnalysisRows soft-deletes AI line items and removes metadata
	// ahead of a re-analysis.
	DeleteAnalysisRows(ctx context.Context, expenseID uuid.UUID) error
}

// ListFilters narrows expense listings.
type ListFilters struct {
	UserID   int64
	OrgID    *int64
	Status   *Status
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
	Offset   int
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type txRepo struct {
	db dbtx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const expenseColumns = `id, number, title, description, amount, currency, status, user_id, org_id, created_at, updated_at`

// Get returns the expense header.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Expense, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, id)
	exp, err := scanExpense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return exp, nil
}

// GetWithDetails returns the expense with line items and receipt metadata.
func (r *Repository) GetWithDetails(ctx context.Context, id uuid.UUID) (*Expense, error) {
	exp, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, expense_id, receipt_id, description, quantity, unit_price, total_amount, category, is_ai_generated, deleted, created_at
FROM expense_line_items WHERE expense_id = $1 AND NOT deleted ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		exp.LineItems = append(exp.LineItems, *li)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metaRows, err := r.pool.Query(ctx, `SELECT id, expense_id, receipt_id, vendor_name, vendor_address, receipt_date, receipt_total, tax_amount, confidence_score, currency, created_at
FROM receipt_metadata WHERE expense_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer metaRows.Close()
	for metaRows.Next() {
		md, err := scanMetadata(metaRows)
		if err != nil {
			return nil, err
		}
		exp.Receipts = append(exp.Receipts, *md)
	}
	if err := metaRows.Err(); err != nil {
		return nil, err
	}

	return exp, nil
}

// List returns expenses visible to the filters along with a total count.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Expense, int, error) {
	// Visibility is user-owned rows plus rows in a shared organization.
	conditions := []string{"user_id = $1"}
	args := []any{filters.UserID}
	argPos := 2
	if filters.OrgID != nil {
		conditions[0] = "(user_id = $1 OR org_id = $2)"
		args = append(args, *filters.OrgID)
		argPos = 3
	}

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*filters.Status))
		argPos++
	}
	if filters.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filters.DateFrom)
		argPos++
	}
	if filters.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *filters.DateTo)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM expenses "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT "+expenseColumns+" FROM expenses %s ORDER BY created_at DESC, number DESC LIMIT $%d OFFSET $%d", whereClause, argPos, argPos+1)
	args = append(args, filters.Limit, filters.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var expenses []Expense
	for rows.Next() {
		exp, err := scanExpense(rows)
		if err != nil {
			return nil, 0, err
		}
		expenses = append(expenses, *exp)
	}
	return expenses, total, rows.Err()
}

// GetLineItem returns one line item regardless of soft-delete state.
func (r *Repository) GetLineItem(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, expense_id, receipt_id, description, quantity, unit_price, total_amount, category, is_ai_generated, deleted, created_at
FROM expense_line_items WHERE id = $1`, id)
	li, err := scanLineItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return li, nil
}

// Transactional operations

func (t *txRepo) CreateExpense(ctx context.Context, e Expense) error {
	_, err := t.db.Exec(ctx, `INSERT INTO expenses (id, number, title, description, amount, currency, status, user_id, org_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		e.ID, e.Number, e.Title, textPtr(e.Description), e.Amount, e.Currency, string(e.Status), e.UserID, int8Ptr(e.OrgID))
	return err
}

// NextNumber allocates the next human-facing sequential number for the
// account. The counter row is locked for the duration of the tx.
func (t *txRepo) NextNumber(ctx context.Context, userID int64) (int64, error) {
	var number int64
	err := t.db.QueryRow(ctx, `INSERT INTO expense_counters (user_id, last_number)
VALUES ($1, 1)
ON CONFLICT (user_id) DO UPDATE SET last_number = expense_counters.last_number + 1
RETURNING last_number`, userID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("allocate expense number: %w", err)
	}
	return number, nil
}

func (t *txRepo) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	set := ""
	args := []any{id}
	argPos := 2
	for _, column := range []string{"title", "description", "amount"} {
		value, ok := updates[column]
		if !ok {
			continue
		}
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", column, argPos)
		args = append(args, value)
		argPos++
	}
	if set == "" {
		return nil
	}
	tag, err := t.db.Exec(ctx, fmt.Sprintf("UPDATE expenses SET %s, updated_at = NOW() WHERE id = $1", set), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := t.db.Exec(ctx, `UPDATE expenses SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *txRepo) InsertLineItem(ctx context.Context, li LineItem) error {
	_, err := t.db.Exec(ctx, `INSERT INTO expense_line_items (id, expense_id, receipt_id, description, quantity, unit_price, total_amount, category, is_ai_generated, deleted, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, NOW())`,
		li.ID, li.ExpenseID, li.ReceiptID, li.Description, floatPtr(li.Quantity), floatPtr(li.UnitPrice), li.TotalAmount, textPtr(li.Category), li.IsAIGenerated)
	return err
}

func (t *txRepo) SoftDeleteLineItem(ctx context.Context, id uuid.UUID) error {
	tag, err := t.db.Exec(ctx, `UPDATE expense_line_items SET deleted = true WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertMetadata(ctx context.Context, md ReceiptMetadata) error {
	_, err := t.db.Exec(ctx, `INSERT INTO receipt_metadata (id, expense_id, receipt_id, vendor_name, vendor_address, receipt_date, receipt_total, tax_amount, confidence_score, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		md.ID, md.ExpenseID, md.ReceiptID, md.VendorName, textPtr(md.VendorAddress), md.ReceiptDate, md.ReceiptTotal, floatPtr(md.TaxAmount), md.ConfidenceScore, md.Currency)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReceipt
		}
		return err
	}
	return nil
}

func (t *txRepo) DeleteAnalysisRows(ctx context.Context, expenseID uuid.UUID) error {
	if _, err := t.db.Exec(ctx, `UPDATE expense_line_items SET deleted = true WHERE expense_id = $1 AND is_ai_generated`, expenseID); err != nil {
		return err
	}
	_, err := t.db.Exec(ctx, `DELETE FROM receipt_metadata WHERE expense_id = $1`, expenseID)
	return err
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*Expense, error) {
	var e Expense
	var description pgtype.Text
	var orgID pgtype.Int8
	if err := row.Scan(&e.ID, &e.Number, &e.Title, &description, &e.Amount, &e.Currency, &e.Status, &e.UserID, &orgID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		e.Description = &description.String
	}
	if orgID.Valid {
		e.OrgID = &orgID.Int64
	}
	return &e, nil
}

func scanLineItem(row rowScanner) (*LineItem, error) {
	var li LineItem
	var quantity, unitPrice pgtype.Float8
	var category pgtype.Text
	if err := row.Scan(&li.ID, &li.ExpenseID, &li.ReceiptID, &li.Description, &quantity, &unitPrice, &li.TotalAmount, &category, &li.IsAIGenerated, &li.Deleted, &li.CreatedAt); err != nil {
		return nil, err
	}
	if quantity.Valid {
		li.Quantity = &quantity.Float64
	}
	if unitPrice.Valid {
		li.UnitPrice = &unitPrice.Float64
	}
	if category.Valid {
		li.Category = &category.String
	}
	return &li, nil
}

func scanMetadata(row rowScanner) (*ReceiptMetadata, error) {
	var md ReceiptMetadata
	var vendorAddress pgtype.Text
	var taxAmount pgtype.Float8
	var receiptDate pgtype.Date
	if err := row.Scan(&md.ID, &md.ExpenseID, &md.ReceiptID, &md.VendorName, &vendorAddress, &receiptDate, &md.ReceiptTotal, &taxAmount, &md.ConfidenceScore, &md.Currency, &md.CreatedAt); err != nil {
		return nil, err
	}
	if vendorAddress.Valid {
		md.VendorAddress = &vendorAddress.String
	}
	if taxAmount.Valid {
		md.TaxAmount = &taxAmount.Float64
	}
	if receiptDate.Valid {
		md.ReceiptDate = receiptDate.Time
	}
	return &md, nil
}

func textPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func int8Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func floatPtr(v *float64) pgtype.Float8 {
	if v == nil {
		return pgtype.Float8{}
	}
	return pgtype.Float8{Float64: *v, Valid: true}
}
