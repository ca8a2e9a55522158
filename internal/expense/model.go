package expense

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an expense.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusAnalyzed Status = "ANALYZED"
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ManualEntryReceiptID marks line items entered by hand rather than
// extracted from a receipt image.
const ManualEntryReceiptID = "manual-entry"

// Expense is the aggregate root of a reimbursement request.
type Expense struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Number      int64      `json:"number" db:"number"`
	Title       string     `json:"title" db:"title"`
	Description *string    `json:"description,omitempty" db:"description"`
	Amount      float64    `json:"amount" db:"amount"`
	Currency    string     `json:"currency" db:"currency"`
	Status      Status     `json:"status" db:"status"`
	UserID      int64      `json:"user_id" db:"user_id"`
	OrgID       *int64     `json:"org_id,omitempty" db:"org_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	LineItems []LineItem        `json:"line_items,omitempty" db:"-"`
	Receipts  []ReceiptMetadata `json:"receipts,omitempty" db:"-"`
}

// LineItem is one itemized charge, AI-extracted or manually entered.
// Provenance is immutable after creation.
type LineItem struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ExpenseID     uuid.UUID `json:"expense_id" db:"expense_id"`
	ReceiptID     string    `json:"receipt_id" db:"receipt_id"`
	Description   string    `json:"description" db:"description"`
	Quantity      *float64  `json:"quantity,omitempty" db:"quantity"`
	UnitPrice     *float64  `json:"unit_price,omitempty" db:"unit_price"`
	TotalAmount   float64   `json:"total_amount" db:"total_amount"`
	Category      *string   `json:"category,omitempty" db:"category"`
	IsAIGenerated bool      `json:"is_ai_generated" db:"is_ai_generated"`
	Deleted       bool      `json:"-" db:"deleted"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ReceiptMetadata is the per-receipt analysis summary, one row per
// uploaded receipt file per expense.
type ReceiptMetadata struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ExpenseID       uuid.UUID `json:"expense_id" db:"expense_id"`
	ReceiptID       string    `json:"receipt_id" db:"receipt_id"`
	VendorName      string    `json:"vendor_name" db:"vendor_name"`
	VendorAddress   *string   `json:"vendor_address,omitempty" db:"vendor_address"`
	ReceiptDate     time.Time `json:"receipt_date" db:"receipt_date"`
	ReceiptTotal    float64   `json:"receipt_total" db:"receipt_total"`
	TaxAmount       *float64  `json:"tax_amount,omitempty" db:"tax_amount"`
	ConfidenceScore float64   `json:"confidence_score" db:"confidence_score"`
	Currency        string    `json:"currency" db:"currency"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
