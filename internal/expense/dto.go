package expense

import "time"

type CreateExpenseRequest struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Amount      float64 `json:"amount" validate:"gte=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	OrgID       *int64  `json:"org_id,omitempty" validate:"omitempty,gt=0"`
}

type UpdateExpenseRequest struct {
	Title       *string  `json:"title,omitempty" validate:"omitempty,max=200"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=2000"`
	Amount      *float64 `json:"amount,omitempty" validate:"omitempty,gte=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note,omitempty" validate:"max=500"`
}

type AddLineItemRequest struct {
	Description string   `json:"description" validate:"required,max=500"`
	Quantity    *float64 `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	UnitPrice   *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	TotalAmount float64  `json:"total_amount" validate:"required,gt=0"`
	Category    *string  `json:"category,omitempty" validate:"omitempty,max=100"`
}

type ListExpensesRequest struct {
	Status   *Status    `json:"status,omitempty"`
	OrgID    *int64     `json:"org_id,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Limit    int        `json:"limit" validate:"gte=0,lte=200"`
	Offset   int        `json:"offset" validate:"gte=0"`
}
