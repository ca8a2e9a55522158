package analysis

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/expensio/expensio/internal/expense"
	"github.com/expensio/expensio/internal/rbac"
)

type recordingEnqueuer struct {
	expenseIDs []uuid.UUID
	actorIDs   []int64
}

func (e *recordingEnqueuer) EnqueueReanalyze(ctx context.Context, expenseID uuid.UUID, actorID int64) error {
	e.expenseIDs = append(e.expenseIDs, expenseID)
	e.actorIDs = append(e.actorIDs, actorID)
	return nil
}

func newResetFixture(enqueuer Enqueuer) (*chi.Mux, *memoryRepo, uuid.UUID) {
	repo := newMemoryRepo()
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

	orch := NewOrchestrator(&fakeVision{}, repo, expense.NewGuard(repo), "USD", nil, nil)
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), orch, nil, enqueuer)
	router := chi.NewRouter()
	handler.MountRoutes(router)
	return router, repo, expID
}

func postReset(router *chi.Mux, actor rbac.Actor, expenseID uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/expenses/"+expenseID.String()+"/reanalyze", nil)
	req = req.WithContext(rbac.ContextWithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestResetEnqueuesForManager(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	router, repo, expID := newResetFixture(enqueuer)
	manager := rbac.NewActor(3, []rbac.Membership{{OrgID: 7, UserID: 3, Role: rbac.RoleManager}})

	rec := postReset(router, manager, expID)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []uuid.UUID{expID}, enqueuer.expenseIDs)
	require.Equal(t, []int64{3}, enqueuer.actorIDs)

	// the reset itself happens when the worker picks up the task
	got, err := repo.Get(context.Background(), expID)
	require.NoError(t, err)
	require.Equal(t, expense.StatusAnalyzed, got.Status)
}

func TestResetRejectsEmployeeBeforeEnqueueing(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	router, _, expID := newResetFixture(enqueuer)
	employee := rbac.NewActor(1, []rbac.Membership{{OrgID: 7, UserID: 1, Role: rbac.RoleEmployee}})

	rec := postReset(router, employee, expID)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, enqueuer.expenseIDs)
}

func TestResetRunsInlineWithoutQueue(t *testing.T) {
	router, repo, expID := newResetFixture(nil)
	manager := rbac.NewActor(3, []rbac.Membership{{OrgID: 7, UserID: 3, Role: rbac.RoleManager}})

	rec := postReset(router, manager, expID)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := repo.Get(context.Background(), expID)
	require.NoError(t, err)
	require.Equal(t, expense.StatusNew, got.Status)
}
