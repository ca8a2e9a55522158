package expense

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/expensio/expensio/internal/rbac"
	"github.com/expensio/expensio/internal/shared"
)

const approvalModule = "expenses"

// AuditPort records mutations for operational diagnosis.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history rows.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Service orchestrates the expense lifecycle: creation, updates, the
// status machine, and manual line items.
type Service struct {
	repo      RepositoryPort
	guard     *Guard
	approvals ApprovalPort
	audit     AuditPort
}

// NewService constructs the expense service.
func NewService(repo RepositoryPort, guard *Guard, approvals ApprovalPort, audit AuditPort) *Service {
	return &Service{repo: repo, guard: guard, approvals: approvals, audit: audit}
}

// Create persists a new expense in status NEW with the next sequential
// number for the submitting account.
func (s *Service) Create(ctx context.Context, actor rbac.Actor, req CreateExpenseRequest) (*Expense, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Currency))
	if _, err := currency.ParseISO(code); err != nil {
		return nil, fmt.Errorf("%w: unknown currency %q", ErrValidation, req.Currency)
	}
	if req.OrgID != nil && !actor.IsMemberOf(*req.OrgID) {
		return nil, fmt.Errorf("%w: not a member of organization", ErrForbidden)
	}

	exp := Expense{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    code,
		Status:      StatusNew,
		UserID:      actor.UserID,
		OrgID:       req.OrgID,
	}
	if exp.Title == "" {
		return nil, fmt.Errorf("%w: title required", ErrValidation)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, actor.UserID)
		if err != nil {
			return err
		}
		exp.Number = number
		return tx.CreateExpense(ctx, exp)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "CREATE", exp.ID, map[string]any{"number": exp.Number})
	return s.repo.Get(ctx, exp.ID)
}

// Get returns an expense with details, subject to visibility.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, id uuid.UUID) (*Expense, error) {
	if _, err := s.guard.Authorize(ctx, actor, id, CapabilityMember); err != nil {
		return nil, err
	}
	return s.repo.GetWithDetails(ctx, id)
}

// DefaultPageSize applies when a listing request carries no limit.
const DefaultPageSize = 20

// List returns expenses visible to the actor.
func (s *Service) List(ctx context.Context, actor rbac.Actor, req ListExpensesRequest) ([]Expense, int, error) {
	if req.OrgID != nil && !actor.IsMemberOf(*req.OrgID) {
		return nil, 0, fmt.Errorf("%w: not a member of organization", ErrForbidden)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return s.repo.List(ctx, ListFilters{
		UserID:   actor.UserID,
		OrgID:    req.OrgID,
		Status:   req.Status,
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
		Limit:    limit,
		Offset:   req.Offset,
	})
}

// Update mutates title/description/amount of a not-yet-finalized expense.
func (s *Service) Update(ctx context.Context, actor rbac.Actor, id uuid.UUID, req UpdateExpenseRequest) (*Expense, error) {
	exp, err := s.guard.Authorize(ctx, actor, id, CapabilityOwner)
	if err != nil {
		return nil, err
	}
	if exp.Status.Terminal() {
		return nil, fmt.Errorf("%w: expense is finalized", ErrInvalidTransition)
	}

	updates := make(map[string]any)
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title required", ErrValidation)
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Amount != nil {
		if *req.Amount < 0 {
			return nil, fmt.Errorf("%w: amount must be non-negative", ErrValidation)
		}
		updates["amount"] = *req.Amount
	}

	if len(updates) > 0 {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateFields(ctx, id, updates)
		})
		if err != nil {
			return nil, err
		}
		s.recordAudit(ctx, actor, "UPDATE", id, nil)
	}
	return s.repo.GetWithDetails(ctx, id)
}

// Transition validates and applies a status change. Manager-only targets
// are gated before transition validity is considered, so a non-manager
// probing an invalid approve still sees forbidden, not invalid.
func (s *Service) Transition(ctx context.Context, actor rbac.Actor, id uuid.UUID, targetRaw, note string) (*Expense, error) {
	target, err := ParseStatus(targetRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, targetRaw)
	}

	capability := CapabilityOwner
	if RequiresManager(target) {
		capability = CapabilityManager
	}
	exp, err := s.guard.Authorize(ctx, actor, id, capability)
	if err != nil {
		return nil, err
	}

	if target == StatusAnalyzed {
		// ANALYZED is only ever entered by the analysis pipeline.
		return nil, fmt.Errorf("%w: %s is set by receipt analysis", ErrInvalidTransition, StatusAnalyzed)
	}
	if !CanTransition(exp.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exp.Status, target)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, exp.Status, target)
	})
	if err != nil {
		return nil, err
	}

	s.recordApproval(ctx, actor, id, target, note)
	s.recordAudit(ctx, actor, "STATUS_"+string(target), id, map[string]any{"from": string(exp.Status)})
	return s.repo.Get(ctx, id)
}

// AddLineItem inserts a manually entered line item.
func (s *Service) AddLineItem(ctx context.Context, actor rbac.Actor, id uuid.UUID, req AddLineItemRequest) (*LineItem, error) {
	exp, err := s.guard.Authorize(ctx, actor, id, CapabilityOwner)
	if err != nil {
		return nil, err
	}
	if exp.Status.Terminal() {
		return nil, fmt.Errorf("%w: expense is finalized", ErrInvalidTransition)
	}

	li := LineItem{
		ID:            uuid.New(),
		ExpenseID:     id,
		ReceiptID:     ManualEntryReceiptID,
		Description:   strings.TrimSpace(req.Description),
		Quantity:      req.Quantity,
		UnitPrice:     req.UnitPrice,
		TotalAmount:   req.TotalAmount,
		Category:      req.Category,
		IsAIGenerated: false,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertLineItem(ctx, li)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "LINE_ITEM_ADD", id, map[string]any{"line_item_id": li.ID.String()})
	return s.repo.GetLineItem(ctx, li.ID)
}

// DeleteLineItem soft-deletes a line item. Ownership is re-derived from
// the parent expense; a line item is never independently authorized.
func (s *Service) DeleteLineItem(ctx context.Context, actor rbac.Actor, lineItemID uuid.UUID) error {
	li, err := s.repo.GetLineItem(ctx, lineItemID)
	if err != nil {
		return err
	}
	exp, err := s.guard.Authorize(ctx, actor, li.ExpenseID, CapabilityOwner)
	if err != nil {
		return err
	}
	if exp.Status.Terminal() {
		return fmt.Errorf("%w: expense is finalized", ErrInvalidTransition)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDeleteLineItem(ctx, lineItemID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "LINE_ITEM_DELETE", li.ExpenseID, map[string]any{"line_item_id": lineItemID.String()})
	return nil
}

// Approvals lists the approval history of an expense.
func (s *Service) Approvals(ctx context.Context, actor rbac.Actor, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.guard.Authorize(ctx, actor, id, CapabilityMember); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, approvalModule, id)
}

func (s *Service) recordApproval(ctx context.Context, actor rbac.Actor, id uuid.UUID, target Status, note string) {
	if s.approvals == nil {
		return
	}
	var action shared.ApprovalAction
	switch target {
	case StatusPending:
		action = shared.ApprovalSubmit
	case StatusApproved:
		action = shared.ApprovalApprove
	case StatusRejected:
		action = shared.ApprovalReject
	default:
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   id,
		ActorID: actor.UserID,
		Action:  action,
		Note:    note,
	})
}

func (s *Service) recordAudit(ctx context.Context, actor rbac.Actor, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "expense",
		EntityID: id.String(),
		Meta:     meta,
	})
}
