package reminders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tallybook/tallybook/internal/platform/httpx"
	"github.com/tallybook/tallybook/internal/shared"
)

// Handler wires HTTP endpoints for reminders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers reminder routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reminders", h.schedule)
	r.Get("/reminders", h.list)
	r.Post("/reminders/dispatch-overdue", h.dispatchOverdue)
	r.Post("/reminders/{id}/send", h.markSent)
}

type scheduleReminderRequest struct {
	CreditRecordID int64  `json:"credit_record_id" validate:"required,gt=0"`
	Message        string `json:"message" validate:"required,max=2000"`
	ScheduledDate  string `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
}

type reminderResponse struct {
	ID             int64      `json:"id"`
	CreditRecordID int64      `json:"credit_record_id"`
	CustomerID     int64      `json:"customer_id"`
	ShopkeeperID   int64      `json:"shopkeeper_id"`
	Message        string     `json:"message"`
	ScheduledDate  string     `json:"scheduled_date"`
	Sent           bool       `json:"sent"`
	SentDate       *time.Time `json:"sent_date,omitempty"`
	BatchRef       string     `json:"batch_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toReminderResponse(rem Reminder) reminderResponse {
	resp := reminderResponse{
		ID:             rem.ID,
		CreditRecordID: rem.CreditRecordID,
		CustomerID:     rem.CustomerID,
		ShopkeeperID:   rem.ShopkeeperID,
		Message:        rem.Message,
		ScheduledDate:  rem.ScheduledDate.Format("2006-01-02"),
		Sent:           rem.Sent,
		SentDate:       rem.SentDate,
		CreatedAt:      rem.CreatedAt,
	}
	if rem.BatchRef != nil {
		resp.BatchRef = rem.BatchRef.String()
	}
	return resp
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	var req scheduleReminderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	scheduledDate, _ := time.Parse("2006-01-02", req.ScheduledDate)

	rem, err := h.service.Schedule(r.Context(), actor, req.CreditRecordID, req.Message, scheduledDate)
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("schedule reminder", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReminderResponse(*rem))
}

func (h *Handler) dispatchOverdue(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	if actor.Role != shared.RoleShopkeeper {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	created, err := h.service.DispatchOverdue(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("dispatch overdue reminders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]reminderResponse, 0, len(created))
	for _, rem := range created {
		out = append(out, toReminderResponse(rem))
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) markSent(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid reminder id")
		return
	}
	rem, err := h.service.MarkSent(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReminderResponse(*rem))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	rems, err := h.service.List(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]reminderResponse, 0, len(rems))
	for _, rem := range rems {
		out = append(out, toReminderResponse(rem))
	}
	httpx.JSON(w, http.StatusOK, out)
}
