package expense

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/expensio/expensio/internal/rbac"
	"github.com/expensio/expensio/internal/shared"
)

type recordingApprovals struct {
	logs []shared.ApprovalLog
}

func (a *recordingApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range a.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(repo *memoryExpenseRepo) (*Service, *recordingApprovals, *recordingAudit) {
	approvals := &recordingApprovals{}
	audit := &recordingAudit{}
	return NewService(repo, NewGuard(repo), approvals, audit), approvals, audit
}

func TestServiceCreate(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, _, audit := newTestService(repo)
	actor := rbac.NewActor(1, nil)

	first, err := svc.Create(context.Background(), actor, CreateExpenseRequest{
		Title:    "  Client dinner  ",
		Amount:   120.40,
		Currency: "usd",
	})
	require.NoError(t, err)
	require.Equal(t, "Client dinner", first.Title)
	require.Equal(t, "USD", first.Currency)
	require.Equal(t, StatusNew, first.Status)
	require.Equal(t, int64(1), first.Number)

	second, err := svc.Create(context.Background(), actor, CreateExpenseRequest{
		Title:    "Taxi",
		Amount:   18,
		Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Number, "numbers are sequential per user")

	other, err := svc.Create(context.Background(), rbac.NewActor(2, nil), CreateExpenseRequest{
		Title:    "Taxi",
		Amount:   18,
		Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), other.Number, "counters are independent per user")

	require.Len(t, audit.logs, 3)
}

func TestServiceCreateValidation(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, _, _ := newTestService(repo)
	actor := rbac.NewActor(1, nil)

	_, err := svc.Create(context.Background(), actor, CreateExpenseRequest{Title: "x", Amount: 1, Currency: "ZZZ"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), actor, CreateExpenseRequest{Title: "   ", Amount: 1, Currency: "USD"})
	require.ErrorIs(t, err, ErrValidation)

	orgID := int64(9)
	_, err = svc.Create(context.Background(), actor, CreateExpenseRequest{Title: "x", Amount: 1, Currency: "USD", OrgID: &orgID})
	require.ErrorIs(t, err, ErrForbidden, "cannot file into an org the actor is not part of")
}

func TestServiceTransitionSubmit(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, approvals, _ := newTestService(repo)
	owner := rbac.NewActor(1, nil)
	expID := seedExpense(repo, 1, nil, StatusAnalyzed)

	exp, err := svc.Transition(context.Background(), owner, expID, "PENDING", "please review")
	require.NoError(t, err)
	require.Equal(t, StatusPending, exp.Status)

	require.Len(t, approvals.logs, 1)
	logs, err := svc.Approvals(context.Background(), owner, expID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, shared.ApprovalSubmit, logs[0].Action)
	require.Equal(t, "please review", logs[0].Note)
}

func TestServiceTransitionApproveRequiresManager(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, _, _ := newTestService(repo)
	orgID := int64(7)
	expID := seedExpense(repo, 1, &orgID, StatusPending)

	owner := memberOf(1, orgID, rbac.RoleEmployee)
	_, err := svc.Transition(context.Background(), owner, expID, "APPROVED", "")
	require.ErrorIs(t, err, ErrForbidden)

	manager := memberOf(3, orgID, rbac.RoleManager)
	exp, err := svc.Transition(context.Background(), manager, expID, "APPROVED", "ok")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, exp.Status)
}

func TestServiceTransitionRejections(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, _, _ := newTestService(repo)
	owner := rbac.NewActor(1, nil)

	expID := seedExpense(repo, 1, nil, StatusNew)

	_, err := svc.Transition(context.Background(), owner, expID, "SHIPPED", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Transition(context.Background(), owner, expID, "ANALYZED", "")
	require.ErrorIs(t, err, ErrInvalidTransition, "ANALYZED is reserved for the analysis pipeline")

	doneID := seedExpense(repo, 1, nil, StatusApproved)
	_, err = svc.Transition(context.Background(), owner, doneID, "PENDING", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestServiceTransitionConflict(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, _, _ := newTestService(repo)
	owner := rbac.NewActor(1, nil)
	expID := seedExpense(repo, 1, nil, StatusAnalyzed)

	repo.statusErrs = []error{ErrConflict}
	_, err := svc.Transition(context.Background(), owner, expID, "PENDING", "")
	require.ErrorIs(t, err, ErrConflict)

	got, err := repo.Get(context.Background(), expID)
	require.NoError(t, err)
	require.Equal(t, StatusAnalyzed, got.Status)
}

func TestServiceUpdateBlockedOnTerminal(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, _, _ := newTestService(repo)
	owner := rbac.NewActor(1, nil)
	expID := seedExpense(repo, 1, nil, StatusApproved)

	title := "Edited"
	_, err := svc.Update(context.Background(), owner, expID, UpdateExpenseRequest{Title: &title})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestServiceLineItems(t *testing.T) {
	repo := newMemoryExpenseRepo()
	svc, _, _ := newTestService(repo)
	owner := rbac.NewActor(1, nil)
	expID := seedExpense(repo, 1, nil, StatusNew)

	li, err := svc.AddLineItem(context.Background(), owner, expID, AddLineItemRequest{
		Description: "Parking",
		TotalAmount: 12.50,
	})
	require.NoError(t, err)
	require.Equal(t, ManualEntryReceiptID, li.ReceiptID)
	require.False(t, li.IsAIGenerated)

	// another user cannot touch it, and must not learn it exists
	err = svc.DeleteLineItem(context.Background(), rbac.NewActor(2, nil), li.ID)
	require.ErrorIs(t, err, ErrNotFound)

	err = svc.DeleteLineItem(context.Background(), owner, li.ID)
	require.NoError(t, err)

	_, err = repo.GetLineItem(context.Background(), li.ID)
	require.ErrorIs(t, err, ErrNotFound, "deleted items are invisible")
}
