package orders

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tallybook/tallybook/internal/platform/httpx"
	"github.com/tallybook/tallybook/internal/shared"
)

// Handler wires HTTP endpoints for the order engine.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers order routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/confirm", h.confirmOrder)
	r.Post("/orders/{id}/deliver", h.deliverOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Put("/orders/{id}/payment-status", h.setPaymentStatus)
}

type orderLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type placeOrderRequest struct {
	Items []orderLineRequest `json:"items" validate:"required,min=1,dive"`
	Notes string             `json:"notes" validate:"max=2000"`
}

type setPaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=unpaid partial paid"`
}

type orderItemResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price"`
	TotalPrice  string `json:"total_price"`
}

type orderResponse struct {
	ID            int64               `json:"id"`
	CustomerID    int64               `json:"customer_id"`
	ShopkeeperID  int64               `json:"shopkeeper_id"`
	TotalAmount   string              `json:"total_amount"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	Notes         string              `json:"notes,omitempty"`
	OrderDate     time.Time           `json:"order_date"`
	DeliveryDate  *time.Time          `json:"delivery_date,omitempty"`
	Items         []orderItemResponse `json:"items,omitempty"`
}

func toOrderResponse(o Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		ShopkeeperID:  o.ShopkeeperID,
		TotalAmount:   o.TotalAmount.StringFixed(2),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Notes:         o.Notes,
		OrderDate:     o.OrderDate,
		DeliveryDate:  o.DeliveryDate,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price.StringFixed(2),
			TotalPrice:  it.TotalPrice.StringFixed(2),
		})
	}
	return resp
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]LineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.service.PlaceOrder(r.Context(), actor, lines, req.Notes)
	if err != nil {
		if errors.Is(err, ErrMixedShopkeepers) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		if !shared.IsDomainError(err) {
			h.logger.Error("place order", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(*order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(*order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	var status *Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := Status(raw)
		if s != StatusPending && s != StatusConfirmed && s != StatusDelivered && s != StatusCancelled {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown status filter")
			return
		}
		status = &s
	}
	out, err := h.service.List(r.Context(), actor, status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]orderResponse, 0, len(out))
	for _, o := range out {
		resp = append(resp, toOrderResponse(o))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ConfirmOrder)
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.DeliverOrder)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelOrder)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor shared.Actor, orderID int64) (*Order, error)) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := fn(r.Context(), actor, id)
	if err != nil {
		if !shared.IsDomainError(err) {
			h.logger.Error("order transition", slog.Int64("order_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(*order))
}

func (h *Handler) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req setPaymentStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	order, err := h.service.SetPaymentStatus(r.Context(), actor, id, PaymentStatus(req.PaymentStatus))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(*order))
}
