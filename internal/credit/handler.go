package credit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/platform/httpx"
	"github.com/tallybook/tallybook/internal/shared"
)

// Handler wires HTTP endpoints for the credit ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers credit routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/credits", h.openCredit)
	r.Get("/credits", h.listCredits)
	r.Get("/credits/overdue", h.listOverdue)
	r.Get("/credits/summary", h.summary)
	r.Get("/credits/{id}", h.getCredit)
	r.Post("/credits/{id}/payments", h.recordPayment)
	r.Get("/payments", h.listPayments)
}

type openCreditRequest struct {
	CustomerID  int64  `json:"customer_id" validate:"required,gt=0"`
	TotalAmount string `json:"total_amount" validate:"required"`
	DueDate     string `json:"due_date" validate:"required,datetime=2006-01-02"`
}

type recordPaymentRequest struct {
	Amount string `json:"amount" validate:"required"`
	Method string `json:"method" validate:"omitempty,oneof=cash card upi other"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type paymentResponse struct {
	ID             int64  `json:"id"`
	CreditRecordID int64  `json:"credit_record_id"`
	Amount         string `json:"amount"`
	Method         string `json:"method"`
	Notes          string `json:"notes,omitempty"`
	PaymentDate    string `json:"payment_date"`
}

type creditResponse struct {
	ID              int64             `json:"id"`
	CustomerID      int64             `json:"customer_id"`
	ShopkeeperID    int64             `json:"shopkeeper_id"`
	TotalAmount     string            `json:"total_amount"`
	PaidAmount      string            `json:"paid_amount"`
	RemainingAmount string            `json:"remaining_amount"`
	DueDate         string            `json:"due_date"`
	Status          string            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	Payments        []paymentResponse `json:"payments,omitempty"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		CreditRecordID: p.CreditRecordID,
		Amount:         p.Amount.StringFixed(2),
		Method:         string(p.Method),
		Notes:          p.Notes,
		PaymentDate:    p.PaymentDate.UTC().Format(time.RFC3339),
	}
}

func toCreditResponse(rec CreditRecord) creditResponse {
	resp := creditResponse{
		ID:              rec.ID,
		CustomerID:      rec.CustomerID,
		ShopkeeperID:    rec.ShopkeeperID,
		TotalAmount:     rec.TotalAmount.StringFixed(2),
		PaidAmount:      rec.PaidAmount.StringFixed(2),
		RemainingAmount: rec.RemainingAmount.StringFixed(2),
		DueDate:         rec.DueDate.Format("2006-01-02"),
		Status:          string(rec.Status),
		CreatedAt:       rec.CreatedAt,
	}
	for _, p := range rec.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}
	return resp
}

func (h *Handler) openCredit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	var req openCreditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	total, err := parseAmount(req.TotalAmount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueDate, _ := time.Parse("2006-01-02", req.DueDate)

	rec, err := h.service.OpenCredit(r.Context(), actor, req.CustomerID, total, dueDate)
	if err != nil {
		h.logger.Error("open credit", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCreditResponse(*rec))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid credit record id")
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	rec, err := h.service.RecordPayment(r.Context(), actor, id, amount, Method(req.Method), req.Notes)
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("record payment", slog.Int64("credit_record_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCreditResponse(*rec))
}

func (h *Handler) getCredit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid credit record id")
		return
	}
	rec, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCreditResponse(*rec))
}

func (h *Handler) listCredits(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	var status *Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := Status(raw)
		if s != StatusPending && s != StatusOverdue && s != StatusPaid {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown status filter")
			return
		}
		status = &s
	}
	records, err := h.service.List(r.Context(), actor, status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]creditResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toCreditResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listOverdue(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	records, err := h.service.ListOverdue(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]creditResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toCreditResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	summary, err := h.service.ShopkeeperSummary(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit: malformed amount %q: %w", raw, shared.ErrInvalidAmount)
	}
	return amount, nil
}
