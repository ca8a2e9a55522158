package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/expensio/expensio/internal/expense"
	"github.com/expensio/expensio/internal/platform/httpx"
	"github.com/expensio/expensio/internal/rbac"
	"github.com/expensio/expensio/internal/shared"
	"github.com/expensio/expensio/internal/vision"
)

const idempotencyModule = "expense-analysis"

// AnalyzeReceiptsRequest is the analyze endpoint payload.
type AnalyzeReceiptsRequest struct {
	Receipts []ReceiptUpload `json:"receipts" validate:"required,min=1,max=20,dive"`
}

// ReceiptUpload carries one receipt image, base64 encoded.
type ReceiptUpload struct {
	ReceiptID string `json:"receipt_id" validate:"required,max=100"`
	ImageData string `json:"image_data" validate:"required"`
	MIMEType  string `json:"mime_type,omitempty"`
}

// Enqueuer hands a reset off to the background queue. jobs.Client
// satisfies it.
type Enqueuer interface {
	EnqueueReanalyze(ctx context.Context, expenseID uuid.UUID, actorID int64) error
}

// Handler exposes the analysis endpoints.
type Handler struct {
	logger       *slog.Logger
	orchestrator *Orchestrator
	idempotency  *shared.IdempotencyStore
	enqueuer     Enqueuer
	validate     *validator.Validate
}

// NewHandler builds a Handler instance. A nil enqueuer makes resets run
// inline instead of through the queue.
func NewHandler(logger *slog.Logger, orchestrator *Orchestrator, idempotency *shared.IdempotencyStore, enqueuer Enqueuer) *Handler {
	return &Handler{
		logger:       logger,
		orchestrator: orchestrator,
		idempotency:  idempotency,
		enqueuer:     enqueuer,
		validate:     validator.New(),
	}
}

// MountRoutes registers the analysis endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/expenses/{id}/analyze", h.Analyze)
	r.Post("/expenses/{id}/reanalyze", h.Reset)
}

// Analyze runs the extraction batch for an expense.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	expenseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}

	var req AnalyzeReceiptsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	files := make([]ReceiptFile, 0, len(req.Receipts))
	for _, upload := range req.Receipts {
		data, err := expense.DecodeReceiptImage(upload.ImageData)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fmt.Sprintf("receipt %s: %v", upload.ReceiptID, err))
			return
		}
		mimeType := upload.MIMEType
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		files = append(files, ReceiptFile{
			ReceiptID: upload.ReceiptID,
			Image:     vision.Image{Data: data, MIMEType: mimeType},
		})
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), idemKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "request already processed")
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	}

	result, err := h.orchestrator.AnalyzeReceipts(r.Context(), actor, expenseID, files)
	if err != nil {
		// Release the key so the client may retry a failed batch.
		if idemKey != "" && h.idempotency != nil {
			_ = h.idempotency.Delete(r.Context(), idemKey)
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// Reset clears prior AI rows so the expense can be analyzed again.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	expenseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}

	if h.enqueuer != nil {
		if err := h.orchestrator.AuthorizeReset(r.Context(), actor, expenseID); err != nil {
			h.respondError(w, err)
			return
		}
		if err := h.enqueuer.EnqueueReanalyze(r.Context(), expenseID, actor.UserID); err != nil {
			h.logger.Error("enqueue reanalyze", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := h.orchestrator.ResetForReanalysis(r.Context(), actor, expenseID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var batchErr *BatchError
	switch {
	case errors.As(err, &batchErr):
		detail := make(map[string]string, len(batchErr.Failures))
		for id, ferr := range batchErr.Failures {
			detail[id] = ferr.Error()
		}
		httpx.JSON(w, http.StatusBadGateway, map[string]any{
			"title":    "Extraction Failed",
			"status":   http.StatusBadGateway,
			"detail":   "one or more receipts could not be analyzed; nothing was saved",
			"failures": detail,
		})
	case errors.Is(err, expense.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, expense.ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, expense.ErrInvalidTransition):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrInvalidTransition, err.Error()))
	case errors.Is(err, expense.ErrValidation):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	case errors.Is(err, expense.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "status changed concurrently, reload and retry")
	case errors.Is(err, vision.ErrExtraction):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrExtraction, err.Error()))
	default:
		if h.logger != nil {
			h.logger.Error("analysis request failed", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
