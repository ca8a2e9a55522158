// Package vision wraps the multimodal model call that turns a receipt
// image into a structured analysis. It performs no retries and no
// persistence; orchestration policy lives with the caller.
package vision

import (
	"context"
	"errors"
)

// ErrExtraction indicates the remote call failed, returned no content,
// or returned content that is not parseable as a receipt analysis.
var ErrExtraction = errors.New("vision: extraction failed")

// Image is one receipt image to analyze.
type Image struct {
	Data     []byte
	MIMEType string
}

// AnalysisLineItem is one extracted charge on the receipt.
type AnalysisLineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	TotalAmount float64  `json:"total_amount"`
	Category    *string  `json:"category,omitempty"`
}

// ReceiptAnalysis is the structured result of analyzing one receipt.
// ConfidenceScore is always on the 0..1 scale.
type ReceiptAnalysis struct {
	VendorName      string             `json:"vendor_name"`
	VendorAddress   *string            `json:"vendor_address,omitempty"`
	ReceiptDate     string             `json:"receipt_date"`
	TotalAmount     float64            `json:"total_amount"`
	TaxAmount       *float64           `json:"tax_amount,omitempty"`
	Currency        string             `json:"currency,omitempty"`
	LineItems       []AnalysisLineItem `json:"line_items"`
	ConfidenceScore float64            `json:"confidence_score"`
}

// Client analyzes receipt images.
type Client interface {
	Analyze(ctx context.Context, img Image) (*ReceiptAnalysis, error)
	Close() error
}
