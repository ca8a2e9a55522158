// Package analysis turns vision output into persistable expense rows and
// coordinates the per-receipt extraction batch.
package analysis

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expensio/expensio/internal/expense"
	"github.com/expensio/expensio/internal/vision"
)

// Normalized bundles the rows produced from one receipt analysis.
type Normalized struct {
	LineItems []expense.LineItem
	Metadata  expense.ReceiptMetadata
}

// Normalize maps a receipt analysis onto persistable line items and one
// metadata record. It performs no I/O; apart from freshly generated row
// ids its output is fully determined by its inputs. Missing optional
// fields stay absent rather than defaulting to zero.
func Normalize(a *vision.ReceiptAnalysis, expenseID uuid.UUID, receiptID, defaultCurrency string) Normalized {
	items := make([]expense.LineItem, 0, len(a.LineItems))
	for _, raw := range a.LineItems {
		items = append(items, expense.LineItem{
			ID:            uuid.New(),
			ExpenseID:     expenseID,
			ReceiptID:     receiptID,
			Description:   strings.TrimSpace(raw.Description),
			Quantity:      raw.Quantity,
			UnitPrice:     raw.UnitPrice,
			TotalAmount:   raw.TotalAmount,
			Category:      raw.Category,
			IsAIGenerated: true,
		})
	}

	curr := a.Currency
	if curr == "" {
		curr = defaultCurrency
	}

	md := expense.ReceiptMetadata{
		ID:              uuid.New(),
		ExpenseID:       expenseID,
		ReceiptID:       receiptID,
		VendorName:      strings.TrimSpace(a.VendorName),
		VendorAddress:   a.VendorAddress,
		ReceiptDate:     parseReceiptDate(a.ReceiptDate),
		ReceiptTotal:    a.TotalAmount,
		TaxAmount:       a.TaxAmount,
		ConfidenceScore: a.ConfidenceScore,
		Currency:        curr,
	}

	return Normalized{LineItems: items, Metadata: md}
}

// parseReceiptDate expects the ISO form produced by vision.ParseAnalysis.
func parseReceiptDate(raw string) time.Time {
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d
	}
	return time.Now().UTC().Truncate(24 * time.Hour)
}
